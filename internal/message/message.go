// ABOUTME: Canonical message record and broadcast event types
// ABOUTME: Normalize maps a decoded agent payload onto Message or rejects it

package message

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrMalformedPayload is returned when a payload cannot be mapped to a Message.
var ErrMalformedPayload = errors.New("malformed payload")

// Kind tags the variants that flow through the dispatcher.
type Kind string

const (
	KindMessage  Kind = "message"
	KindInactive Kind = "inactive"
)

// Event is anything the dispatcher delivers to receivers.
type Event interface {
	Kind() Kind
	Agent() string
}

// Message is the canonical record produced from one agent submission.
// It is treated as immutable once Normalize returns it.
type Message struct {
	ID         string
	AgentID    string
	DataType   string
	Payload    map[string]any
	ReceivedAt time.Time
}

// Kind implements Event.
func (m *Message) Kind() Kind { return KindMessage }

// Agent implements Event.
func (m *Message) Agent() string { return m.AgentID }

// Inactive signals that an agent stopped reporting.
type Inactive struct {
	AgentID string
	At      time.Time
}

// Kind implements Event.
func (e *Inactive) Kind() Kind { return KindInactive }

// Agent implements Event.
func (e *Inactive) Agent() string { return e.AgentID }

// Field names accepted in agent payloads. Both the hyphenated and the
// underscored spelling are accepted for each.
var (
	agentIDKeys   = []string{"agent-id", "agent_id"}
	dataTypeKeys  = []string{"data-type", "data_type"}
	messageIDKeys = []string{"message-id", "message_id"}
)

// Normalize converts a decoded payload into a Message.
// The agent id and data type are required non-empty strings; every other
// key is carried in Payload.
func Normalize(fields map[string]any, receivedAt time.Time) (*Message, error) {
	if fields == nil {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedPayload)
	}

	agentID, err := requireString(fields, agentIDKeys)
	if err != nil {
		return nil, err
	}
	dataType, err := requireString(fields, dataTypeKeys)
	if err != nil {
		return nil, err
	}

	id, _, err := optionalString(fields, messageIDKeys)
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = uuid.New().String()
	}

	payload := make(map[string]any, len(fields))
	for k, v := range fields {
		if isReserved(k) {
			continue
		}
		payload[k] = v
	}

	return &Message{
		ID:         id,
		AgentID:    agentID,
		DataType:   dataType,
		Payload:    payload,
		ReceivedAt: receivedAt.UTC(),
	}, nil
}

// ExplicitID returns the agent-supplied message id, if any.
func ExplicitID(fields map[string]any) string {
	id, _, _ := optionalString(fields, messageIDKeys)
	return id
}

// AgentID extracts the agent id from a payload without normalizing it.
func AgentID(fields map[string]any) (string, error) {
	return requireString(fields, agentIDKeys)
}

func requireString(fields map[string]any, keys []string) (string, error) {
	v, found, err := optionalString(fields, keys)
	if err != nil {
		return "", err
	}
	if !found || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("%w: %s is required", ErrMalformedPayload, keys[0])
	}
	return v, nil
}

func optionalString(fields map[string]any, keys []string) (string, bool, error) {
	for _, k := range keys {
		raw, ok := fields[k]
		if !ok {
			continue
		}
		s, ok := raw.(string)
		if !ok {
			return "", true, fmt.Errorf("%w: %s must be a string", ErrMalformedPayload, keys[0])
		}
		return s, true, nil
	}
	return "", false, nil
}

func isReserved(key string) bool {
	for _, group := range [][]string{agentIDKeys, dataTypeKeys, messageIDKeys} {
		for _, k := range group {
			if k == key {
				return true
			}
		}
	}
	return false
}
