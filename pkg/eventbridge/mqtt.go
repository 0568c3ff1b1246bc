// Package eventbridge republishes the façade's event stream to MQTT and
// WebSocket subscribers and accepts property writes over MQTT.
package eventbridge

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"astrobridge/pkg/device"
	"astrobridge/pkg/store"
)

const publishTimeout = 5 * time.Second

// Target is the part of the façade the bridges talk to.
type Target interface {
	RegisterEventCallback(cb device.EventCallback) (unregister func())
	SetProperty(deviceName, property string, value any) error
}

// Publisher is the subset of mqtt.Client used by the bridge.
type Publisher interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
}

var _ Publisher = mqtt.Client(nil)

// NewMQTTClient connects to the broker described by cfg.
func NewMQTTClient(cfg store.MQTTConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.SetClientID(cfg.ClientID)
	opts.AddBroker(cfg.Broker)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetWill(statusTopic(cfg.TopicRoot), "offline", cfg.QoS, true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %v", token.Error())
	}
	return client, nil
}

// Result is published after each write received on the command topic.
type Result struct {
	Device   string `json:"device"`
	Property string `json:"property"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
	Kind     string `json:"kind,omitempty"`
}

// MQTTBridge publishes every event to <root>/events/<device> and applies
// payloads received on <root>/set/<device>/<property> with SetProperty.
// Outcomes of writes go to <root>/result/<device>/<property>.
type MQTTBridge struct {
	client Publisher
	target Target
	cfg    store.MQTTConfig
	logger log.FieldLogger

	mu         sync.Mutex
	unregister func()
}

func NewMQTTBridge(client Publisher, target Target, cfg store.MQTTConfig, logger log.FieldLogger) *MQTTBridge {
	if cfg.TopicRoot == "" {
		cfg.TopicRoot = store.DefaultMQTTConfig.TopicRoot
	}
	return &MQTTBridge{
		client: client,
		target: target,
		cfg:    cfg,
		logger: logger.WithField("component", "mqtt-bridge"),
	}
}

func statusTopic(root string) string { return root + "/status" }

func (b *MQTTBridge) commandTopic() string { return b.cfg.TopicRoot + "/set/+/+" }

// EventTopic is the topic events of deviceName are published on.
func (b *MQTTBridge) EventTopic(deviceName string) string {
	return b.cfg.TopicRoot + "/events/" + topicLevel(deviceName)
}

// topicLevel makes name usable as a single topic level.
func topicLevel(name string) string {
	if name == "" {
		return "_"
	}
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(name)
}

func (b *MQTTBridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unregister != nil {
		return nil
	}
	if !b.client.IsConnected() {
		return device.Errorf(device.ErrNotConnected, "MQTT client is not connected")
	}

	topic := b.commandTopic()
	if token := b.client.Subscribe(topic, b.cfg.QoS, b.commandHandler); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, token.Error())
	}
	b.unregister = b.target.RegisterEventCallback(b.publishEvent)
	b.publish(statusTopic(b.cfg.TopicRoot), true, "online")
	b.logger.Infof("Bridging events to %s/events", b.cfg.TopicRoot)
	return nil
}

func (b *MQTTBridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unregister == nil {
		return
	}
	b.unregister()
	b.unregister = nil
	if b.client.IsConnected() {
		b.client.Unsubscribe(b.commandTopic()).WaitTimeout(publishTimeout)
		b.publish(statusTopic(b.cfg.TopicRoot), true, "offline")
	}
	b.logger.Info("MQTT bridge stopped")
}

func (b *MQTTBridge) publishEvent(e device.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		b.logger.Errorf("Failed to encode %s event: %v", e.Type, err)
		return
	}
	b.publish(b.EventTopic(e.DeviceName), b.cfg.Retain, payload)
}

func (b *MQTTBridge) publish(topic string, retain bool, payload any) {
	if !b.client.IsConnected() {
		b.logger.Debugf("Dropping message for %s: not connected", topic)
		return
	}
	token := b.client.Publish(topic, b.cfg.QoS, retain, payload)
	// Waiting here would stall the device emitting the event.
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			b.logger.Warnf("Publish to %s timed out", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warnf("Publish to %s failed: %v", topic, err)
		}
	}()
}

// commandHandler applies a write. The payload is decoded as JSON, falling
// back to the raw text.
func (b *MQTTBridge) commandHandler(_ mqtt.Client, msg mqtt.Message) {
	levels := strings.Split(strings.TrimPrefix(msg.Topic(), b.cfg.TopicRoot+"/set/"), "/")
	if len(levels) != 2 || levels[0] == "" || levels[1] == "" {
		b.logger.Warnf("Ignoring command on %s", msg.Topic())
		return
	}
	dev, property := levels[0], levels[1]

	var value any
	if err := json.Unmarshal(msg.Payload(), &value); err != nil {
		value = string(msg.Payload())
	}
	b.logger.WithField("device", dev).Debugf("MQTT set %s = %v", property, value)

	res := Result{Device: dev, Property: property, OK: true}
	if err := b.target.SetProperty(dev, property, value); err != nil {
		b.logger.WithField("device", dev).Warnf("MQTT set %s failed: %v", property, err)
		res.OK = false
		res.Error = err.Error()
		res.Kind = device.KindName(err)
	}
	payload, _ := json.Marshal(res)
	b.publish(b.cfg.TopicRoot+"/result/"+dev+"/"+property, false, payload)
}
