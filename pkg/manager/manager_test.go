package manager_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"astrobridge/pkg/alpaca"
	"astrobridge/pkg/alpaca/alpacatest"
	"astrobridge/pkg/ascom"
	"astrobridge/pkg/device"
	"astrobridge/pkg/manager"
)

const testTimeout = 2 * time.Second

// stub is a device without a transport.
type stub struct {
	*device.Base
	connectErr  error
	disconnects atomic.Int32
	closed      atomic.Bool
}

func newStub(name string, kind device.Kind, connectErr error) *stub {
	return &stub{
		Base:       device.NewBase(name, kind, device.BackendASCOM, nil),
		connectErr: connectErr,
	}
}

func (s *stub) Info() device.Info {
	return device.Info{Name: s.Name(), Kind: s.Kind(), Backend: s.Backend(), State: s.ConnectionState()}
}

func (s *stub) Connect(time.Duration) error {
	if s.connectErr != nil {
		s.SetConnectionState(device.ConnectionError)
		return s.Fail("connected", s.connectErr)
	}
	s.SetConnectionState(device.Connected)
	return nil
}

func (s *stub) Disconnect() error {
	s.disconnects.Add(1)
	s.SetConnectionState(device.Disconnected)
	return nil
}

func (s *stub) Refresh() error { return nil }
func (s *stub) Close()         { s.closed.Store(true) }

func (s *stub) ExecuteAction(string, string) (string, error) {
	return "", device.ErrActionNotImplemented
}

func TestAddRefusesDuplicates(t *testing.T) {
	m := manager.New(nil)
	first := newStub("cam", device.KindCamera, nil)
	require.True(t, m.Add(first))
	assert.False(t, m.Add(newStub("cam", device.KindFocuser, nil)))

	d, ok := m.Get("cam")
	require.True(t, ok)
	assert.Same(t, first, d)
	assert.Equal(t, 1, m.Len())
}

func TestLookups(t *testing.T) {
	srv := alpacatest.NewServer()
	t.Cleanup(srv.Close)
	client := srv.Client()

	m := manager.New(nil)
	m.Add(ascom.NewCamera(client, 0, "main", nil))
	m.Add(ascom.NewFocuser(client, 0, "focus", nil))
	m.Add(ascom.NewCamera(client, 1, "guide", nil))
	m.Add(ascom.NewDome(client, 0, "dome", nil))

	names := func(ds []device.Device) []string {
		var out []string
		for _, d := range ds {
			out = append(out, d.Name())
		}
		return out
	}
	assert.Equal(t, []string{"main", "focus", "guide", "dome"}, names(m.Devices()))
	assert.Equal(t, []string{"main", "guide"}, names(m.ByKind(device.KindCamera)))
	assert.Empty(t, m.ByKind(device.KindRotator))

	assert.Len(t, m.Cameras(), 2)
	assert.Len(t, m.Focusers(), 1)
	assert.Len(t, m.Domes(), 1)
	assert.Empty(t, m.Telescopes())
	assert.Empty(t, m.GPSs())

	_, ok := m.Get("nope")
	assert.False(t, ok)
}

func TestRemoveDisconnectsFirst(t *testing.T) {
	m := manager.New(nil)
	s := newStub("f", device.KindFocuser, nil)
	m.Add(s)
	require.NoError(t, s.Connect(testTimeout))

	assert.True(t, m.Remove("f"))
	assert.Equal(t, int32(1), s.disconnects.Load())
	assert.True(t, s.closed.Load())
	assert.False(t, m.Remove("f"))
	assert.Zero(t, m.Len())
}

func TestConnectAllPartialFailure(t *testing.T) {
	live := alpacatest.NewServer()
	t.Cleanup(live.Close)
	down := alpacatest.NewServer()
	downClient := down.Client(alpaca.WithTimeout(500 * time.Millisecond))
	down.Close()

	m := manager.New(nil)
	good := ascom.NewFocuser(live.Client(), 0, "good", nil)
	bad := ascom.NewFocuser(downClient, 0, "bad", nil)
	require.True(t, m.Add(good))
	require.True(t, m.Add(bad))

	assert.Equal(t, 1, m.ConnectAll(testTimeout))
	assert.Equal(t, device.Connected, good.ConnectionState())
	assert.Equal(t, device.ConnectionError, bad.ConnectionState())
	assert.ErrorIs(t, bad.LastError(), device.ErrTransport)

	assert.Equal(t, 1, m.DisconnectAll())
	assert.Equal(t, device.Disconnected, good.ConnectionState())
	req, ok := live.Last(device.KindFocuser, 0, "connected")
	require.True(t, ok)
	assert.Equal(t, "false", req.Param("Connected"))
}

func TestConnectBackend(t *testing.T) {
	m := manager.New(nil)
	a := newStub("a", device.KindCamera, nil)
	m.Add(a)

	indi := device.BackendINDI
	assert.Zero(t, m.ConnectBackend(&indi, testTimeout))
	assert.False(t, a.IsConnected())

	ascomBackend := device.BackendASCOM
	assert.Equal(t, 1, m.ConnectBackend(&ascomBackend, 0))
	assert.True(t, a.IsConnected())
}

func TestClear(t *testing.T) {
	m := manager.New(nil)
	a := newStub("a", device.KindCamera, nil)
	b := newStub("b", device.KindTelescope, device.ErrTransport)
	m.Add(a)
	m.Add(b)
	assert.Equal(t, 1, m.ConnectAll(testTimeout))

	m.Clear()
	assert.Zero(t, m.Len())
	assert.Empty(t, m.Devices())
	assert.Equal(t, device.Disconnected, a.ConnectionState())
	assert.True(t, a.closed.Load())
	assert.True(t, b.closed.Load())
	assert.True(t, m.Add(newStub("a", device.KindCamera, nil)), "names are free again")
}
