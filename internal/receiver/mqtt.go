// ABOUTME: Receiver that publishes events to an MQTT broker
// ABOUTME: Messages go to <topic>/<data_type>, inactivity to <topic>/inactive

package receiver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/2389/beacon-gateway/internal/message"
)

// MQTTOptions configures an MQTT receiver.
type MQTTOptions struct {
	Name     string
	Broker   string
	Topic    string
	ClientID string
	QoS      byte
	Username string
	Password string
}

// mqttPublisher is the part of mqtt.Client the receiver uses.
type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTT publishes events to a broker.
type MQTT struct {
	name   string
	topic  string
	qos    byte
	client mqttPublisher
}

// DialMQTT creates the client and starts connecting in the background.
// The client retries and reconnects on its own; deliveries made while it
// is down fail and are logged by the dispatcher.
func DialMQTT(o MQTTOptions, logger *slog.Logger) (*MQTT, error) {
	if o.Broker == "" || o.Topic == "" {
		return nil, fmt.Errorf("mqtt receiver needs broker and topic")
	}
	if o.ClientID == "" {
		o.ClientID = "beacon-" + o.Name
	}
	logger = logger.With("component", "receiver", "receiver", o.Name)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(o.Broker)
	opts.SetClientID(o.ClientID)
	opts.SetUsername(o.Username)
	opts.SetPassword(o.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		logger.Info("connected to MQTT", "broker", o.Broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", "broker", o.Broker, "error", err)
	}

	client := mqtt.NewClient(opts)
	client.Connect()

	return newMQTT(o.Name, o.Topic, o.QoS, client), nil
}

func newMQTT(name, topic string, qos byte, client mqttPublisher) *MQTT {
	return &MQTT{name: name, topic: strings.TrimSuffix(topic, "/"), qos: qos, client: client}
}

func (m *MQTT) Name() string { return m.name }

// TopicFor returns the topic an event is published on.
func (m *MQTT) TopicFor(ev message.Event) string {
	if msg, ok := ev.(*message.Message); ok {
		return m.topic + "/" + msg.DataType
	}
	return m.topic + "/" + string(ev.Kind())
}

func (m *MQTT) Deliver(ctx context.Context, ev message.Event) error {
	payload, err := json.Marshal(NewEnvelope(ev))
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	token := m.client.Publish(m.TopicFor(ev), m.qos, false, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("publishing to mqtt: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close disconnects from the broker, allowing 250ms for in-flight publishes.
func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}
