package indi_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"astrobridge/pkg/device"
	"astrobridge/pkg/indi"
	"astrobridge/pkg/indiclient"
	"astrobridge/pkg/indiclient/inditest"
)

const focuserName = "Focuser Simulator"

func TestConnectSwitchesConnection(t *testing.T) {
	info := texts(focuserName, "DRIVER_INFO", map[string]string{
		"DRIVER_NAME": "Focuser Simulator", "DRIVER_EXEC": "indi_simulator_focus", "DRIVER_VERSION": "1.0", "DRIVER_INTERFACE": "8",
	})
	srv, c := newSession(t, connection(focuserName), info)
	f := indi.NewFocuser(c, focuserName, nil)
	defer f.Close()
	var rec recorder
	f.SetEventCallback(rec.record)

	require.NoError(t, f.Connect(testTimeout))
	assert.Equal(t, device.Connected, f.ConnectionState())
	sent := srv.ReceivedFor(focuserName, "CONNECTION")
	require.Len(t, sent, 1)
	assert.True(t, sent[0].Switch("CONNECT"))
	assert.Len(t, rec.ofType(device.EventDeviceConnected), 1)

	got := f.Info()
	assert.Equal(t, "Focuser Simulator", got.Description)
	assert.Equal(t, "indi_simulator_focus", got.DriverInfo)
	assert.Equal(t, "1.0", got.DriverVersion)
	assert.Equal(t, device.BackendINDI, got.Backend)
	assert.Equal(t, indi.UniqueID(srv.Addr(), focuserName), got.UniqueID)
	assert.NotEqual(t, indi.UniqueID(srv.Addr(), "Other"), got.UniqueID)

	require.NoError(t, f.Disconnect())
	assert.Equal(t, device.Disconnected, f.ConnectionState())
	require.True(t, srv.WaitForReceived(focuserName, "CONNECTION", 2, testTimeout))
	sent = srv.ReceivedFor(focuserName, "CONNECTION")
	require.Len(t, sent, 2)
	assert.True(t, sent[1].Switch("DISCONNECT"))
}

func TestConnectRefusedByDriver(t *testing.T) {
	srv, c := newSession(t, connection(focuserName))
	srv.OnNew(func(s *inditest.Server, p *indiclient.Property) {
		s.SetSwitch(p.Device, p.Name, device.PropertyAlert, map[string]bool{"CONNECT": false, "DISCONNECT": true})
	})
	f := indi.NewFocuser(c, focuserName, nil)
	defer f.Close()

	err := f.Connect(testTimeout)
	require.Error(t, err)
	assert.True(t, errors.Is(err, device.ErrUnspecified))
	assert.Equal(t, device.ConnectionError, f.ConnectionState())
	assert.True(t, errors.Is(f.LastError(), device.ErrUnspecified))
}

func TestConnectWithoutConnectionProperty(t *testing.T) {
	_, c := newSession(t, numbers("Ghost", "FOO", indiclient.Element{Name: "BAR"}))
	f := indi.NewFocuser(c, "Missing", nil)
	defer f.Close()

	err := f.Connect(200 * time.Millisecond)
	assert.True(t, errors.Is(err, device.ErrTimeout))
	assert.Equal(t, device.ConnectionError, f.ConnectionState())
}

func TestConnectNeedsServer(t *testing.T) {
	f := indi.NewFocuser(indiclient.NewClient(), focuserName, nil)
	defer f.Close()
	assert.True(t, errors.Is(f.Connect(testTimeout), device.ErrNotConnected))
}

func TestServerLossDisconnectsDevice(t *testing.T) {
	srv, c := newSession(t, connection(focuserName))
	f := indi.NewFocuser(c, focuserName, nil)
	defer f.Close()
	var rec recorder
	f.SetEventCallback(rec.record)
	require.NoError(t, f.Connect(testTimeout))

	srv.DropClients()
	eventually(t, func() bool { return f.ConnectionState() == device.Disconnected }, "device follows the server")
	assert.True(t, errors.Is(f.LastError(), device.ErrTransport))
	assert.NotEmpty(t, rec.ofType(device.EventError))
}

func TestEventsAreForwardedPerDevice(t *testing.T) {
	srv, c := newSession(t, connection(focuserName), connection("Other"))
	f := indi.NewFocuser(c, focuserName, nil)
	defer f.Close()
	var rec recorder
	f.SetEventCallback(rec.record)

	srv.Message(focuserName, "hello")
	srv.Message("Other", "not for us")
	srv.Define(numbers(focuserName, "FOCUS_SPEED", indiclient.Element{Name: "FOCUS_SPEED_VALUE", Number: 1, Min: 1, Max: 5}))
	srv.Delete(focuserName, "FOCUS_SPEED")

	eventually(t, func() bool { return len(rec.ofType(device.EventPropertyDeleted)) == 1 }, "delete forwarded")
	msgs := rec.ofType(device.EventMessageReceived)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Message)
	var defined []string
	for _, e := range rec.ofType(device.EventPropertyDefined) {
		defined = append(defined, e.PropertyName)
	}
	assert.Contains(t, defined, "FOCUS_SPEED")
}

func TestExecuteActionSetsProperty(t *testing.T) {
	speed := numbers(focuserName, "FOCUS_SPEED", indiclient.Element{Name: "FOCUS_SPEED_VALUE", Number: 1, Min: 1, Max: 5})
	srv, c := newSession(t, connection(focuserName), speed)
	f := indi.NewFocuser(c, focuserName, nil)
	defer f.Close()
	require.NoError(t, f.Connect(testTimeout))

	state, err := f.ExecuteAction("FOCUS_SPEED", "FOCUS_SPEED_VALUE=3")
	require.NoError(t, err)
	assert.Equal(t, "Ok", state)
	p, _ := srv.Property(focuserName, "FOCUS_SPEED")
	v, _ := p.Number("FOCUS_SPEED_VALUE")
	assert.Equal(t, 3.0, v)

	_, err = f.ExecuteAction("NO_SUCH", "A=1")
	assert.True(t, errors.Is(err, device.ErrActionNotImplemented))
	_, err = f.ExecuteAction("FOCUS_SPEED", "garbage")
	assert.True(t, errors.Is(err, device.ErrInvalidValue))
	_, err = f.ExecuteAction("FOCUS_SPEED", "FOCUS_SPEED_VALUE=fast")
	assert.True(t, errors.Is(err, device.ErrInvalidValue))
}

func TestSetPropertyConvertsValues(t *testing.T) {
	srv, c := newSession(t,
		connection(focuserName),
		switches(focuserName, "DEBUG", indiclient.OneOfMany, "DISABLE", "ENABLE", "DISABLE"),
		numbers(focuserName, "POLLING_PERIOD", indiclient.Element{Name: "PERIOD_MS", Number: 1000, Min: 10, Max: 60000}),
		texts(focuserName, "NOTE", map[string]string{"TEXT": ""}),
	)
	f := indi.NewFocuser(c, focuserName, nil)
	defer f.Close()
	require.NoError(t, f.Connect(testTimeout))

	require.NoError(t, f.SetDebug(true))
	require.NoError(t, f.SetPollingPeriod(250*time.Millisecond))
	require.NoError(t, f.SetProperty("NOTE", map[string]string{"TEXT": "clear skies"}))
	require.True(t, srv.WaitForReceived(focuserName, "NOTE", 1, testTimeout))

	dbg := srv.ReceivedFor(focuserName, "DEBUG")
	require.Len(t, dbg, 1)
	assert.True(t, dbg[0].Switch("ENABLE"))
	assert.False(t, dbg[0].Switch("DISABLE"))
	poll := srv.ReceivedFor(focuserName, "POLLING_PERIOD")
	require.Len(t, poll, 1)
	v, _ := poll[0].Number("PERIOD_MS")
	assert.Equal(t, 250.0, v)

	assert.True(t, errors.Is(f.SetPollingPeriod(0), device.ErrInvalidValue))
	assert.True(t, errors.Is(f.SetProperty("NOPE", map[string]string{"A": "1"}), device.ErrNotImplemented))
}

func TestCommandsRequireConnection(t *testing.T) {
	srv, c := newSession(t, connection(focuserName), switches(focuserName, "DEBUG", indiclient.OneOfMany, "DISABLE", "ENABLE", "DISABLE"))
	f := indi.NewFocuser(c, focuserName, nil)
	defer f.Close()

	assert.True(t, errors.Is(f.SetDebug(true), device.ErrNotConnected))
	assert.True(t, errors.Is(f.Refresh(), device.ErrNotConnected))
	assert.Empty(t, srv.ReceivedFor(focuserName, "DEBUG"))
}

func TestKindFromInterface(t *testing.T) {
	tests := []struct {
		mask int
		want device.Kind
	}{
		{indi.InterfaceTelescope, device.KindTelescope},
		{indi.InterfaceCCD | indi.InterfaceGuider, device.KindCamera},
		{indi.InterfaceFocuser, device.KindFocuser},
		{indi.InterfaceFilter, device.KindFilterWheel},
		{indi.InterfaceFocuser | indi.InterfaceFilter, device.KindFocuser},
		{indi.InterfaceDome, device.KindDome},
		{indi.InterfaceRotator, device.KindRotator},
		{indi.InterfaceWeather, device.KindObservingConditions},
		{indi.InterfaceGPS, device.KindGPS},
		{0, device.KindUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, indi.KindFromInterface(tt.mask), "mask %d", tt.mask)
	}
}

func TestDeviceKindReadsDriverInfo(t *testing.T) {
	_, c := newSession(t, texts("Wheel", "DRIVER_INFO", map[string]string{"DRIVER_INTERFACE": "16"}))
	assert.Equal(t, device.KindFilterWheel, indi.DeviceKind(c, "Wheel"))
	assert.Equal(t, device.KindUnknown, indi.DeviceKind(c, "Nobody"))
}

func TestNewDeviceCoversKinds(t *testing.T) {
	c := indiclient.NewClient()
	for _, k := range indi.Kinds() {
		d, err := indi.NewDevice(k, c, "dev", nil)
		require.NoError(t, err, k.String())
		assert.Equal(t, k, d.Kind())
		assert.Equal(t, device.BackendINDI, d.Backend())
	}
	_, err := indi.NewDevice(device.KindUnknown, c, "dev", nil)
	assert.True(t, errors.Is(err, device.ErrNotImplemented))
}
