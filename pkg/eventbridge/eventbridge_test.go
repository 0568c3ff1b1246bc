package eventbridge_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"astrobridge/pkg/device"
	"astrobridge/pkg/eventbridge"
	"astrobridge/pkg/store"
)

type token struct{ err error }

func (t token) Wait() bool                     { return true }
func (t token) WaitTimeout(time.Duration) bool { return true }
func (t token) Error() error                   { return t.err }
func (t token) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type message struct {
	topic   string
	payload []byte
}

func (m message) Duplicate() bool   { return false }
func (m message) Qos() byte         { return 0 }
func (m message) Retained() bool    { return false }
func (m message) Topic() string     { return m.topic }
func (m message) MessageID() uint16 { return 1 }
func (m message) Payload() []byte   { return m.payload }
func (m message) Ack()              {}

type published struct {
	topic   string
	retain  bool
	payload []byte
}

// broker records publications and hands out subscription handlers.
type broker struct {
	mu        sync.Mutex
	connected bool
	published []published
	handlers  map[string]mqtt.MessageHandler
}

func newBroker() *broker {
	return &broker{connected: true, handlers: make(map[string]mqtt.MessageHandler)}
}

func (b *broker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *broker) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	var data []byte
	switch p := payload.(type) {
	case string:
		data = []byte(p)
	case []byte:
		data = p
	}
	b.published = append(b.published, published{topic, retained, data})
	return token{}
}

func (b *broker) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = cb
	return token{}
}

func (b *broker) Unsubscribe(topics ...string) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range topics {
		delete(b.handlers, t)
	}
	return token{}
}

func (b *broker) deliver(filter, topic, payload string) {
	b.mu.Lock()
	cb := b.handlers[filter]
	b.mu.Unlock()
	cb(nil, message{topic, []byte(payload)})
}

func (b *broker) on(topic string) []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []published
	for _, p := range b.published {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

type write struct {
	device, property string
	value            any
}

// target stands in for the façade.
type target struct {
	mu     sync.Mutex
	cb     device.EventCallback
	writes []write
}

func (t *target) RegisterEventCallback(cb device.EventCallback) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cb = cb
	return func() {
		t.mu.Lock()
		t.cb = nil
		t.mu.Unlock()
	}
}

func (t *target) SetProperty(dev, property string, value any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writes = append(t.writes, write{dev, property, value})
	if dev != "Focuser" {
		return device.Errorf(device.ErrInvalidValue, "unknown device %q", dev)
	}
	return nil
}

func (t *target) emit(e device.Event) {
	t.mu.Lock()
	cb := t.cb
	t.mu.Unlock()
	if cb != nil {
		cb(e)
	}
}

func newBridge(t *testing.T) (*eventbridge.MQTTBridge, *broker, *target) {
	t.Helper()
	b := newBroker()
	tg := &target{}
	cfg := store.DefaultMQTTConfig
	cfg.TopicRoot = "obs"
	bridge := eventbridge.NewMQTTBridge(b, tg, cfg, log.StandardLogger())
	require.NoError(t, bridge.Start())
	t.Cleanup(bridge.Stop)
	return bridge, b, tg
}

func TestMQTTPublishesEvents(t *testing.T) {
	bridge, b, tg := newBridge(t)
	assert.Len(t, b.on("obs/status"), 1)

	tg.emit(device.Event{Type: device.EventPropertyChanged, DeviceName: "Main Camera", PropertyName: "ccdtemperature", Data: -10.5})
	tg.emit(device.Event{Type: device.EventServerConnected, DeviceName: "host/1"})

	msgs := b.on("obs/events/Main Camera")
	require.Len(t, msgs, 1)
	var got device.Event
	require.NoError(t, json.Unmarshal(msgs[0].payload, &got))
	assert.Equal(t, device.EventPropertyChanged, got.Type)
	assert.Equal(t, "ccdtemperature", got.PropertyName)
	assert.Equal(t, -10.5, got.Data)

	assert.Equal(t, "obs/events/host_1", bridge.EventTopic("host/1"))
	assert.Len(t, b.on("obs/events/host_1"), 1)
	assert.Equal(t, "obs/events/_", bridge.EventTopic(""))
}

func TestMQTTCommands(t *testing.T) {
	_, b, tg := newBridge(t)

	b.deliver("obs/set/+/+", "obs/set/Focuser/position", "1500")
	b.deliver("obs/set/+/+", "obs/set/Focuser/frametype", "Dark")
	b.deliver("obs/set/+/+", "obs/set/Nope/position", "1")
	b.deliver("obs/set/+/+", "obs/set/Focuser", "1")

	require.Len(t, tg.writes, 3)
	assert.Equal(t, write{"Focuser", "position", float64(1500)}, tg.writes[0])
	assert.Equal(t, write{"Focuser", "frametype", "Dark"}, tg.writes[1])

	var res eventbridge.Result
	require.Len(t, b.on("obs/result/Focuser/position"), 1)
	require.NoError(t, json.Unmarshal(b.on("obs/result/Focuser/position")[0].payload, &res))
	assert.True(t, res.OK)

	require.Len(t, b.on("obs/result/Nope/position"), 1)
	require.NoError(t, json.Unmarshal(b.on("obs/result/Nope/position")[0].payload, &res))
	assert.False(t, res.OK)
	assert.Equal(t, "InvalidValue", res.Kind)
}

func TestMQTTStop(t *testing.T) {
	bridge, b, tg := newBridge(t)
	bridge.Stop()
	bridge.Stop()

	tg.emit(device.Event{Type: device.EventDeviceConnected, DeviceName: "Focuser"})
	assert.Empty(t, b.on("obs/events/Focuser"))
	assert.Empty(t, b.handlers)
	statuses := b.on("obs/status")
	require.Len(t, statuses, 2)
	assert.Equal(t, "offline", string(statuses[1].payload))
	assert.True(t, statuses[1].retain)
}

func TestMQTTStartNeedsConnection(t *testing.T) {
	b := newBroker()
	b.connected = false
	bridge := eventbridge.NewMQTTBridge(b, &target{}, store.DefaultMQTTConfig, log.StandardLogger())
	assert.ErrorIs(t, bridge.Start(), device.ErrNotConnected)
}

func TestWSHubStreamsEvents(t *testing.T) {
	hub := eventbridge.NewWSHub(log.StandardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)
	defer hub.Stop()

	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	hub.Publish(device.Event{Type: device.EventDeviceConnected, DeviceName: "Focuser", Message: "connected"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var got device.Event
	require.NoError(t, json.Unmarshal(msg, &got))
	assert.Equal(t, device.EventDeviceConnected, got.Type)
	assert.Equal(t, "Focuser", got.DeviceName)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestWSHubStopClosesClients(t *testing.T) {
	hub := eventbridge.NewWSHub(log.StandardLogger())
	done := make(chan struct{})
	go func() {
		hub.Run(context.Background())
		close(done)
	}()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	hub.Stop()
	<-done
	assert.Equal(t, 0, hub.ClientCount())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)

	// Publishing after Stop does not block.
	hub.Publish(device.Event{Type: device.EventError})
}
