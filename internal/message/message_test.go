// ABOUTME: Tests for Normalize and the inactive event
// ABOUTME: Checks key aliases, payload extraction and malformed input

package message

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_Valid(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))

	msg, err := Normalize(map[string]any{
		"agent-id":  "a1",
		"data-type": "temperature",
		"value":     42,
	}, now)
	require.NoError(t, err)

	assert.Equal(t, "a1", msg.AgentID)
	assert.Equal(t, "temperature", msg.DataType)
	assert.Equal(t, map[string]any{"value": 42}, msg.Payload)
	assert.Equal(t, now.UTC(), msg.ReceivedAt)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, KindMessage, msg.Kind())
	assert.Equal(t, "a1", msg.Agent())
}

func TestNormalize_UnderscoreKeysAndMessageID(t *testing.T) {
	msg, err := Normalize(map[string]any{
		"agent_id":   "a2",
		"data_type":  "cpu",
		"message-id": "m-7",
		"load":       0.5,
	}, time.Now())
	require.NoError(t, err)

	assert.Equal(t, "a2", msg.AgentID)
	assert.Equal(t, "cpu", msg.DataType)
	assert.Equal(t, "m-7", msg.ID)
	assert.Equal(t, map[string]any{"load": 0.5}, msg.Payload)
}

func TestNormalize_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]any
	}{
		{name: "nil body", fields: nil},
		{name: "missing agent id", fields: map[string]any{"data-type": "t"}},
		{name: "empty agent id", fields: map[string]any{"agent-id": "", "data-type": "t"}},
		{name: "blank agent id", fields: map[string]any{"agent-id": "  ", "data-type": "t"}},
		{name: "blank data type", fields: map[string]any{"agent-id": "a", "data-type": "\t "}},
		{name: "missing data type", fields: map[string]any{"agent-id": "a"}},
		{name: "non-string agent id", fields: map[string]any{"agent-id": 7, "data-type": "t"}},
		{name: "non-string data type", fields: map[string]any{"agent-id": "a", "data-type": []any{"t"}}},
		{name: "non-string message id", fields: map[string]any{"agent-id": "a", "data-type": "t", "message-id": 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Normalize(tt.fields, time.Now())
			assert.Nil(t, msg)
			assert.ErrorIs(t, err, ErrMalformedPayload)
		})
	}
}

func TestInactive(t *testing.T) {
	ev := &Inactive{AgentID: "a9", At: time.Now()}
	assert.Equal(t, KindInactive, ev.Kind())
	assert.Equal(t, "a9", ev.Agent())
}

func TestExplicitIDAndAgentID(t *testing.T) {
	fields := map[string]any{"agent-id": "a1", "message_id": "m1"}
	assert.Equal(t, "m1", ExplicitID(fields))

	id, err := AgentID(fields)
	require.NoError(t, err)
	assert.Equal(t, "a1", id)

	assert.Empty(t, ExplicitID(map[string]any{}))
}
