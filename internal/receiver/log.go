// ABOUTME: Receiver that writes one structured log line per event
// ABOUTME: Useful as an audit trail and as the default sink in development

package receiver

import (
	"context"
	"log/slog"

	"github.com/2389/beacon-gateway/internal/message"
)

// Log is a receiver that logs every event it gets.
type Log struct {
	name   string
	logger *slog.Logger
}

// NewLog creates a log receiver.
func NewLog(name string, logger *slog.Logger) *Log {
	return &Log{name: name, logger: logger.With("component", "receiver", "receiver", name)}
}

func (l *Log) Name() string { return l.name }

func (l *Log) Deliver(ctx context.Context, ev message.Event) error {
	switch e := ev.(type) {
	case *message.Message:
		l.logger.InfoContext(ctx, "metric",
			"id", e.ID,
			"agent_id", e.AgentID,
			"data_type", e.DataType,
			"payload", e.Payload,
		)
	default:
		l.logger.InfoContext(ctx, "agent event", "kind", ev.Kind(), "agent_id", ev.Agent())
	}
	return nil
}
