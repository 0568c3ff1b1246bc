package ascom_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"astrobridge/pkg/alpaca"
	"astrobridge/pkg/alpaca/alpacatest"
	"astrobridge/pkg/ascom"
	"astrobridge/pkg/device"
)

func TestConnectLoadsInfo(t *testing.T) {
	srv := newServer(t)
	srv.Values(device.KindFocuser, 1, "description", "Test focuser")
	srv.Values(device.KindFocuser, 1, "driverversion", "2.1")
	srv.Values(device.KindFocuser, 1, "interfaceversion", 3)

	f := ascom.NewFocuser(srv.Client(), 1, "", nil)
	assert.Equal(t, "Focuser 1", f.Name())
	assert.Equal(t, device.Disconnected, f.ConnectionState())

	rec := &recorder{}
	f.SetEventCallback(rec.record)
	require.NoError(t, f.Connect(testTimeout))

	req, ok := srv.Last(device.KindFocuser, 1, "connected")
	require.True(t, ok)
	assert.Equal(t, "PUT", req.Verb)
	assert.Equal(t, "true", req.Param("Connected"))

	info := f.Info()
	assert.Equal(t, "Test focuser", info.Description)
	assert.Equal(t, "2.1", info.DriverVersion)
	assert.Equal(t, 3, info.InterfaceVersion)
	assert.Equal(t, device.BackendASCOM, info.Backend)
	assert.Equal(t, srv.Address(), info.Server)
	assert.Equal(t, device.Connected, info.State)
	assert.Len(t, rec.ofType(device.EventDeviceConnected), 1)

	require.NoError(t, f.Disconnect())
	req, _ = srv.Last(device.KindFocuser, 1, "connected")
	assert.Equal(t, "false", req.Param("Connected"))
	assert.Equal(t, device.Disconnected, f.ConnectionState())
	assert.Len(t, rec.ofType(device.EventDeviceDisconnected), 1)
}

func TestConnectFailureLeavesError(t *testing.T) {
	srv := newServer(t)
	srv.Script(device.KindCamera, 0, "connected", alpacatest.Fail(alpaca.CodeUnspecified, "camera is powered off"))

	cam := ascom.NewCamera(srv.Client(), 0, "cam", nil)
	rec := &recorder{}
	cam.SetEventCallback(rec.record)

	err := cam.Connect(testTimeout)
	require.Error(t, err)
	assert.Equal(t, alpaca.CodeUnspecified, device.CodeOf(err))
	assert.Equal(t, device.ConnectionError, cam.ConnectionState())
	assert.Equal(t, err, cam.LastError())

	errs := rec.ofType(device.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "connected", errs[0].PropertyName)
}

func TestConnectUnreachableServer(t *testing.T) {
	srv := alpacatest.NewServer()
	client := srv.Client()
	srv.Close()

	dome := ascom.NewDome(client, 0, "dome", nil)
	err := dome.Connect(testTimeout)
	require.Error(t, err)
	assert.ErrorIs(t, err, device.ErrTransport)
	assert.Equal(t, device.ConnectionError, dome.ConnectionState())
}

func TestExecuteAction(t *testing.T) {
	srv := newServer(t)
	srv.Values(device.KindTelescope, 0, "action", "pong")
	srv.Values(device.KindTelescope, 0, "supportedactions", []string{"ping", "lamp"})

	scope := ascom.NewTelescope(srv.Client(), 0, "scope", nil)
	_, err := scope.ExecuteAction("ping", "")
	assert.ErrorIs(t, err, device.ErrNotConnected)
	assert.Zero(t, srv.Count(device.KindTelescope, 0, "action"))

	connect(t, srv, scope)
	out, err := scope.ExecuteAction("ping", "now")
	require.NoError(t, err)
	assert.Equal(t, "pong", out)
	req, _ := srv.Last(device.KindTelescope, 0, "action")
	assert.Equal(t, "ping", req.Param("Action"))
	assert.Equal(t, "now", req.Param("Parameters"))

	actions, err := scope.SupportedActions()
	require.NoError(t, err)
	assert.Equal(t, []string{"ping", "lamp"}, actions)
}

func TestNewDevice(t *testing.T) {
	client := alpaca.NewClient("localhost", 11111)
	for _, kind := range ascom.Kinds() {
		d, err := ascom.NewDevice(kind, client, 0, "", nil)
		require.NoError(t, err, kind)
		assert.Equal(t, kind, d.Kind())
		assert.Equal(t, device.BackendASCOM, d.Backend())
	}

	_, err := ascom.NewDevice(device.KindGPS, client, 0, "", nil)
	assert.ErrorIs(t, err, device.ErrNotImplemented)
}
