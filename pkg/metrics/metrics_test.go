package metrics_test

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"astrobridge/pkg/alpaca"
	"astrobridge/pkg/alpaca/alpacatest"
	"astrobridge/pkg/device"
	"astrobridge/pkg/metrics"
)

func TestAlpacaRequests(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	srv := alpacatest.NewServer()
	defer srv.Close()
	srv.Values(device.KindFocuser, 0, "position", 100)
	client := srv.Client(alpaca.WithObserver(m))

	ctx := context.Background()
	require.NoError(t, client.Get(ctx, device.KindFocuser, 0, "position", nil).Err())
	assert.Error(t, client.Get(ctx, device.KindFocuser, 0, "temperature", nil).Err())
	require.NoError(t, client.Put(ctx, device.KindFocuser, 0, "halt", nil).Err())

	expected := `
# HELP astrobridge_alpaca_requests_total Alpaca requests by device type, method, verb and ASCOM error number.
# TYPE astrobridge_alpaca_requests_total counter
astrobridge_alpaca_requests_total{error="0",kind="focuser",method="halt",verb="PUT"} 1
astrobridge_alpaca_requests_total{error="0",kind="focuser",method="position",verb="GET"} 1
astrobridge_alpaca_requests_total{error="1024",kind="focuser",method="temperature",verb="GET"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "astrobridge_alpaca_requests_total"))
	assert.Equal(t, 2, testutil.CollectAndCount(reg, "astrobridge_alpaca_request_duration_seconds"))
}

func TestINDIMessages(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.ObserveMessage("in", "defNumberVector")
	m.ObserveMessage("in", "defNumberVector")
	m.ObserveMessage("out", "newSwitchVector")

	expected := `
# HELP astrobridge_indi_messages_total INDI XML elements by direction and tag.
# TYPE astrobridge_indi_messages_total counter
astrobridge_indi_messages_total{direction="in",tag="defNumberVector"} 2
astrobridge_indi_messages_total{direction="out",tag="newSwitchVector"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "astrobridge_indi_messages_total"))
}

func TestEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.ObserveEvent(device.Event{Type: device.EventDeviceConnected, DeviceName: "Camera"})
	m.ObserveEvent(device.Event{Type: device.EventDeviceConnected, DeviceName: "Focuser"})
	m.ObserveEvent(device.Event{Type: device.EventDeviceConnected, DeviceName: "Focuser"})
	m.ObserveEvent(device.Event{Type: device.EventDeviceDisconnected, DeviceName: "Camera"})
	m.ObserveEvent(device.Event{Type: device.EventError, Data: device.ErrorData{Kind: "InvalidValue", Code: 0x401}})
	m.ObserveEvent(device.Event{Type: device.EventError})

	expected := `
# HELP astrobridge_devices_connected Devices currently connected.
# TYPE astrobridge_devices_connected gauge
astrobridge_devices_connected 1
# HELP astrobridge_device_errors_total Error events by error kind.
# TYPE astrobridge_device_errors_total counter
astrobridge_device_errors_total{kind="InvalidValue"} 1
astrobridge_device_errors_total{kind="Unknown"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"astrobridge_devices_connected", "astrobridge_device_errors_total"))

	srv := httptest.NewServer(metrics.Handler(reg))
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `astrobridge_events_total{type="DeviceConnected"} 3`)
}
