// Package metrics exposes Prometheus collectors fed by the Alpaca and INDI
// transports and by the façade's event stream.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"astrobridge/pkg/alpaca"
	"astrobridge/pkg/device"
	"astrobridge/pkg/indiclient"
)

const namespace = "astrobridge"

type Metrics struct {
	alpacaRequests *prometheus.CounterVec
	alpacaLatency  *prometheus.HistogramVec
	indiMessages   *prometheus.CounterVec
	events         *prometheus.CounterVec
	errors         *prometheus.CounterVec
	connected      prometheus.Gauge

	mu      sync.Mutex
	devices map[string]bool
}

var (
	_ alpaca.Observer     = (*Metrics)(nil)
	_ indiclient.Observer = (*Metrics)(nil)
)

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		alpacaRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alpaca_requests_total",
			Help:      "Alpaca requests by device type, method, verb and ASCOM error number.",
		}, []string{"kind", "method", "verb", "error"}),
		alpacaLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "alpaca_request_duration_seconds",
			Help:      "Alpaca request round trip time.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"kind", "verb"}),
		indiMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "indi_messages_total",
			Help:      "INDI XML elements by direction and tag.",
		}, []string{"direction", "tag"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Normalized events by type.",
		}, []string{"type"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_errors_total",
			Help:      "Error events by error kind.",
		}, []string{"kind"}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices_connected",
			Help:      "Devices currently connected.",
		}),
		devices: make(map[string]bool),
	}
	reg.MustRegister(m.alpacaRequests, m.alpacaLatency, m.indiMessages, m.events, m.errors, m.connected)
	return m
}

func (m *Metrics) ObserveRequest(kind, method, verb string, elapsed time.Duration, errorNumber int) {
	m.alpacaRequests.WithLabelValues(kind, method, verb, strconv.Itoa(errorNumber)).Inc()
	m.alpacaLatency.WithLabelValues(kind, verb).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveMessage(direction, tag string) {
	m.indiMessages.WithLabelValues(direction, tag).Inc()
}

// ObserveEvent counts e and tracks connected devices. It has the shape of a
// device.EventCallback.
func (m *Metrics) ObserveEvent(e device.Event) {
	m.events.WithLabelValues(e.Type.String()).Inc()

	switch e.Type {
	case device.EventError:
		kind := "Unknown"
		if data, ok := e.Data.(device.ErrorData); ok && data.Kind != "" {
			kind = data.Kind
		}
		m.errors.WithLabelValues(kind).Inc()
	case device.EventDeviceConnected, device.EventDeviceDisconnected:
		m.mu.Lock()
		if e.Type == device.EventDeviceConnected {
			m.devices[e.DeviceName] = true
		} else {
			delete(m.devices, e.DeviceName)
		}
		m.connected.Set(float64(len(m.devices)))
		m.mu.Unlock()
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
