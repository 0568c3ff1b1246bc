package alpaca_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"astrobridge/pkg/alpaca"
	"astrobridge/pkg/alpaca/alpacatest"
	"astrobridge/pkg/device"
)

func TestClientURL(t *testing.T) {
	c := alpaca.NewClient("10.0.0.5", 11111)
	assert.Equal(t, "http://10.0.0.5:11111/api/v1/filterwheel/0/position", c.URL(device.KindFilterWheel, 0, "Position"))
	assert.Equal(t, "http://10.0.0.5:11111/api/v1/telescope/2/slewtocoordinatesasync", c.URL(device.KindTelescope, 2, "SlewToCoordinatesAsync"))
	assert.Equal(t, "10.0.0.5:11111", c.Address())
}

func TestNewClientFromAddress(t *testing.T) {
	c, err := alpaca.NewClientFromAddress("localhost:32323")
	require.NoError(t, err)
	assert.Equal(t, "localhost", c.Host())
	assert.Equal(t, 32323, c.Port())

	_, err = alpaca.NewClientFromAddress("localhost")
	assert.Error(t, err)
	_, err = alpaca.NewClientFromAddress("localhost:http")
	assert.Error(t, err)
}

func TestTransactionIDsIncrease(t *testing.T) {
	srv := alpacatest.NewServer()
	defer srv.Close()
	srv.Values(device.KindFocuser, 0, "position", 100)

	c := srv.Client()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		resp := c.Get(ctx, device.KindFocuser, 0, "position", nil)
		require.True(t, resp.OK())
		assert.Equal(t, uint32(i+1), resp.ClientTransactionID)
	}

	reqs := srv.Requests()
	require.Len(t, reqs, 5)
	for i, r := range reqs {
		assert.Equal(t, uint32(i+1), r.ClientTransactionID)
		assert.Equal(t, alpaca.DefaultClientID, r.ClientID)
	}
	assert.Equal(t, uint32(5), c.LastTransactionID())
}

func TestTransactionIDsConcurrent(t *testing.T) {
	srv := alpacatest.NewServer()
	defer srv.Close()
	srv.Values(device.KindCamera, 0, "camerastate", 0)

	c := srv.Client(alpaca.WithClientID(42))
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Get(context.Background(), device.KindCamera, 0, "camerastate", nil)
		}()
	}
	wg.Wait()

	seen := map[uint32]bool{}
	for _, r := range srv.Requests() {
		assert.False(t, seen[r.ClientTransactionID], "duplicate id %d", r.ClientTransactionID)
		seen[r.ClientTransactionID] = true
		assert.Equal(t, 42, r.ClientID)
	}
	assert.Len(t, seen, 20)
}

func TestPutSendsFormParameters(t *testing.T) {
	srv := alpacatest.NewServer()
	defer srv.Close()

	c := srv.Client()
	resp := c.Put(context.Background(), device.KindTelescope, 0, "SlewToCoordinatesAsync", url.Values{
		"RightAscension": {"12.5"},
		"Declination":    {"45"},
	})
	require.NoError(t, resp.Err())

	req, ok := srv.Last(device.KindTelescope, 0, "slewtocoordinatesasync")
	require.True(t, ok)
	assert.Equal(t, http.MethodPut, req.Verb)
	assert.Equal(t, "12.5", req.Param("RightAscension"))
	assert.Equal(t, "45", req.Param("declination"))
	assert.Equal(t, "1", req.Param("ClientTransactionID"))
}

func TestResponseErrors(t *testing.T) {
	srv := alpacatest.NewServer()
	defer srv.Close()

	tests := []struct {
		name string
		code int
		kind error
	}{
		{"not implemented", alpaca.CodeNotImplemented, device.ErrNotImplemented},
		{"invalid value", alpaca.CodeInvalidValue, device.ErrInvalidValue},
		{"value not set", alpaca.CodeValueNotSet, device.ErrValueNotSet},
		{"not connected", alpaca.CodeNotConnected, device.ErrNotConnected},
		{"parked", alpaca.CodeInvalidWhileParked, device.ErrInvalidWhileParked},
		{"slaved", alpaca.CodeInvalidWhileSlaved, device.ErrInvalidWhileSlaved},
		{"invalid operation", alpaca.CodeInvalidOperation, device.ErrInvalidOperation},
		{"action", alpaca.CodeActionNotImplemented, device.ErrActionNotImplemented},
		{"unspecified", alpaca.CodeUnspecified, device.ErrUnspecified},
		{"driver specific", 0x555, device.ErrUnspecified},
	}

	c := srv.Client()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv.Script(device.KindDome, 0, "slewtoazimuth", alpacatest.Fail(tt.code, tt.name))
			resp := c.Put(context.Background(), device.KindDome, 0, "slewtoazimuth", nil)

			assert.False(t, resp.OK())
			assert.Equal(t, tt.code, resp.ErrorNumber)
			err := resp.Err()
			assert.ErrorIs(t, err, tt.kind)
			assert.Equal(t, tt.code, alpaca.CodeOf(err), "code must survive verbatim")
			assert.Contains(t, err.Error(), tt.name)
		})
	}
}

func TestCodeOfKinds(t *testing.T) {
	assert.Equal(t, alpaca.CodeInvalidValue, alpaca.CodeOf(device.Errorf(device.ErrInvalidValue, "x")))
	assert.Equal(t, alpaca.CodeInvalidWhileParked, alpaca.CodeOf(device.ErrInvalidWhileParked))
	assert.Equal(t, alpaca.CodeUnspecified, alpaca.CodeOf(device.ErrTimeout))
	assert.Equal(t, 0, alpaca.CodeOf(nil))
	assert.True(t, alpaca.IsDriverError(0x500))
	assert.False(t, alpaca.IsDriverError(0x4FF))
}

func TestHTTPFailuresSurfaceAsUnspecified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/camera/0/badjson":
			w.Write([]byte("{not json"))
		default:
			http.Error(w, "bad parameter", http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	c, err := alpaca.NewClientFromAddress(srv.Listener.Addr().String())
	require.NoError(t, err)

	resp := c.Get(context.Background(), device.KindCamera, 0, "badjson", nil)
	assert.Equal(t, alpaca.CodeUnspecified, resp.ErrorNumber)
	assert.Contains(t, resp.ErrorMessage, "Failed to parse response")
	assert.ErrorIs(t, resp.Err(), device.ErrTransport)
	assert.Equal(t, uint32(1), resp.ClientTransactionID)

	resp = c.Get(context.Background(), device.KindCamera, 0, "other", nil)
	assert.Equal(t, alpaca.CodeUnspecified, resp.ErrorNumber)
	assert.Contains(t, resp.ErrorMessage, "HTTP 400")

	down := alpaca.NewClient("127.0.0.1", 1, alpaca.WithTimeout(200*time.Millisecond))
	resp = down.Get(context.Background(), device.KindCamera, 0, "connected", nil)
	assert.Equal(t, alpaca.CodeUnspecified, resp.ErrorNumber)
	assert.True(t, alpaca.IsTransportError(resp.Err()))
}

func TestResponseDecoding(t *testing.T) {
	srv := alpacatest.NewServer()
	defer srv.Close()
	srv.Values(device.KindCamera, 0, "canabortexposure", true)
	srv.Values(device.KindCamera, 0, "binx", 2.0)
	srv.Values(device.KindCamera, 0, "ccdtemperature", -10.5)
	srv.Values(device.KindCamera, 0, "sensorname", "IMX571")
	srv.Values(device.KindCamera, 0, "readoutmodes", []string{"Normal", "Fast"})

	c := srv.Client()
	ctx := context.Background()

	b, err := c.Get(ctx, device.KindCamera, 0, "canabortexposure", nil).Bool()
	require.NoError(t, err)
	assert.True(t, b)

	i, err := c.Get(ctx, device.KindCamera, 0, "binx", nil).Int()
	require.NoError(t, err)
	assert.Equal(t, 2, i)

	f, err := c.Get(ctx, device.KindCamera, 0, "ccdtemperature", nil).Float()
	require.NoError(t, err)
	assert.Equal(t, -10.5, f)

	s, err := c.Get(ctx, device.KindCamera, 0, "sensorname", nil).Text()
	require.NoError(t, err)
	assert.Equal(t, "IMX571", s)

	modes, err := c.Get(ctx, device.KindCamera, 0, "readoutmodes", nil).Strings()
	require.NoError(t, err)
	assert.Equal(t, []string{"Normal", "Fast"}, modes)

	_, err = c.Get(ctx, device.KindCamera, 0, "sensorname", nil).Bool()
	assert.ErrorIs(t, err, device.ErrTransport)

	_, err = c.Get(ctx, device.KindCamera, 0, "unscripted", nil).Float()
	assert.ErrorIs(t, err, device.ErrNotImplemented)
}

func TestResponseRoundTrip(t *testing.T) {
	in := alpaca.Response{
		ClientTransactionID: 7,
		ServerTransactionID: 99,
		ErrorNumber:         alpaca.CodeInvalidValue,
		ErrorMessage:        "bad",
		Value:               json.RawMessage(`[1,2,3]`),
	}
	b, err := json.Marshal(in)
	require.NoError(t, err)

	var out alpaca.Response
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, in, out)
}

func TestAction(t *testing.T) {
	srv := alpacatest.NewServer()
	defer srv.Close()
	srv.Values(device.KindTelescope, 0, "action", "pong")

	c := srv.Client()
	out, err := c.Action(context.Background(), device.KindTelescope, 0, "ping", "now")
	require.NoError(t, err)
	assert.Equal(t, "pong", out)

	req, _ := srv.Last(device.KindTelescope, 0, "action")
	assert.Equal(t, "ping", req.Param("Action"))
	assert.Equal(t, "now", req.Param("Parameters"))

	srv.Script(device.KindTelescope, 0, "action", alpacatest.Fail(alpaca.CodeActionNotImplemented, "no such action"))
	_, err = c.Action(context.Background(), device.KindTelescope, 0, "bogus", "")
	assert.ErrorIs(t, err, device.ErrActionNotImplemented)
}

func TestManagement(t *testing.T) {
	srv := alpacatest.NewServer()
	defer srv.Close()
	srv.AddDevice(alpaca.DeviceDescription{Name: "Main Camera", Type: "Camera", Number: 0, UniqueID: "abc"})
	srv.AddDevice(alpaca.DeviceDescription{Name: "Wheel", Type: "FilterWheel", Number: 1, UniqueID: "def"})

	c := srv.Client()
	ctx := context.Background()
	require.NoError(t, c.Connect(ctx, time.Second))
	assert.True(t, c.IsConnected())
	assert.Equal(t, time.Second, c.Timeout())

	versions, err := c.APIVersions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, versions)

	desc, err := c.ServerInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Alpaca Test Server", desc.Name)

	devices, err := c.ConfiguredDevices(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, device.KindFilterWheel, devices[1].Kind())
	assert.Equal(t, 1, devices[1].Number)

	c.Disconnect()
	assert.False(t, c.IsConnected())
}

func TestConnectFailure(t *testing.T) {
	c := alpaca.NewClient("127.0.0.1", 1)
	err := c.Connect(context.Background(), 200*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, device.ErrTransport)
	assert.False(t, c.IsConnected())
}

type countingObserver struct {
	mu    sync.Mutex
	calls []string
}

func (o *countingObserver) ObserveRequest(kind, method, verb string, elapsed time.Duration, errorNumber int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, verb+" "+kind+"/"+method+" "+strconv.Itoa(errorNumber))
}

func TestObserver(t *testing.T) {
	srv := alpacatest.NewServer()
	defer srv.Close()

	obs := &countingObserver{}
	c := srv.Client(alpaca.WithObserver(obs))
	c.Put(context.Background(), device.KindFocuser, 0, "move", url.Values{"Position": {"10"}})
	c.Get(context.Background(), device.KindFocuser, 0, "ismoving", nil)

	assert.Equal(t, []string{"PUT focuser/move 0", "GET focuser/ismoving 1024"}, obs.calls)
}
