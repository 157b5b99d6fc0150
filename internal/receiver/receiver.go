// ABOUTME: Builds dispatch receivers from configuration and defines their wire envelope
// ABOUTME: Every receiver that serializes events uses the same Envelope shape

package receiver

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/beacon-gateway/internal/config"
	"github.com/2389/beacon-gateway/internal/dispatch"
	"github.com/2389/beacon-gateway/internal/message"
)

// Envelope is the JSON form of an event sent to external systems.
type Envelope struct {
	Kind       message.Kind   `json:"kind"`
	ID         string         `json:"id,omitempty"`
	AgentID    string         `json:"agent_id"`
	DataType   string         `json:"data_type,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	ReceivedAt time.Time      `json:"received_at"`
}

// NewEnvelope flattens an event for serialization.
func NewEnvelope(ev message.Event) Envelope {
	switch e := ev.(type) {
	case *message.Message:
		return Envelope{
			Kind:       e.Kind(),
			ID:         e.ID,
			AgentID:    e.AgentID,
			DataType:   e.DataType,
			Payload:    e.Payload,
			ReceivedAt: e.ReceivedAt,
		}
	case *message.Inactive:
		return Envelope{Kind: e.Kind(), AgentID: e.AgentID, ReceivedAt: e.At}
	default:
		return Envelope{Kind: ev.Kind(), AgentID: ev.Agent(), ReceivedAt: time.Now().UTC()}
	}
}

// Build constructs one receiver per config entry, in order. Receivers that
// hold connections (mqtt) are connected here; callers should Close the
// returned receivers that implement io.Closer on shutdown.
func Build(cfgs []config.ReceiverConfig, logger *slog.Logger) ([]dispatch.Receiver, error) {
	if logger == nil {
		logger = slog.Default()
	}

	out := make([]dispatch.Receiver, 0, len(cfgs))
	for _, c := range cfgs {
		r, err := build(c, logger)
		if err != nil {
			closeAll(out)
			return nil, fmt.Errorf("building receiver %q: %w", c.Name, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func build(c config.ReceiverConfig, logger *slog.Logger) (dispatch.Receiver, error) {
	switch c.Type {
	case "log":
		return NewLog(c.Name, logger), nil
	case "webhook":
		return NewWebhook(c.Name, c.URL, c.Timeout), nil
	case "mqtt":
		return DialMQTT(MQTTOptions{
			Name:     c.Name,
			Broker:   c.Broker,
			Topic:    c.Topic,
			ClientID: c.ClientID,
			QoS:      byte(c.QoS),
			Username: c.Username,
			Password: c.Password,
		}, logger)
	case "matrix":
		return NewMatrix(c.Name, c.Homeserver, c.UserID, c.AccessToken, c.RoomID)
	default:
		return nil, fmt.Errorf("unknown receiver type %q", c.Type)
	}
}

// Close closes every receiver that holds resources.
func Close(receivers []dispatch.Receiver) {
	closeAll(receivers)
}

func closeAll(receivers []dispatch.Receiver) {
	for _, r := range receivers {
		if c, ok := r.(interface{ Close() error }); ok {
			_ = c.Close()
		}
	}
}

// Summary renders an event as one human readable line.
func Summary(ev message.Event) string {
	switch e := ev.(type) {
	case *message.Message:
		return fmt.Sprintf("[%s] %s: %v", e.DataType, e.AgentID, e.Payload)
	case *message.Inactive:
		return fmt.Sprintf("agent %s went quiet at %s", e.AgentID, e.At.Format(time.RFC3339))
	default:
		return fmt.Sprintf("%s from %s", ev.Kind(), ev.Agent())
	}
}
