// ABOUTME: Tests for receiver construction, envelopes and the individual receivers
// ABOUTME: Webhook and Matrix run against httptest servers, MQTT against a fake client

package receiver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/beacon-gateway/internal/config"
	"github.com/2389/beacon-gateway/internal/message"
)

var receivedAt = time.Date(2026, 4, 2, 10, 30, 0, 0, time.UTC)

func testMessage() *message.Message {
	return &message.Message{
		ID:         "m-1",
		AgentID:    "a1",
		DataType:   "temperature",
		Payload:    map[string]any{"value": 42},
		ReceivedAt: receivedAt,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewEnvelope(t *testing.T) {
	env := NewEnvelope(testMessage())
	assert.Equal(t, message.KindMessage, env.Kind)
	assert.Equal(t, "m-1", env.ID)
	assert.Equal(t, "a1", env.AgentID)
	assert.Equal(t, "temperature", env.DataType)
	assert.Equal(t, receivedAt, env.ReceivedAt)

	inactive := NewEnvelope(&message.Inactive{AgentID: "a2", At: receivedAt})
	assert.Equal(t, message.KindInactive, inactive.Kind)
	assert.Equal(t, "a2", inactive.AgentID)
	assert.Empty(t, inactive.DataType)
	assert.Nil(t, inactive.Payload)
}

func TestSummary(t *testing.T) {
	assert.Equal(t, "[temperature] a1: map[value:42]", Summary(testMessage()))
	assert.Equal(t, "agent a2 went quiet at 2026-04-02T10:30:00Z",
		Summary(&message.Inactive{AgentID: "a2", At: receivedAt}))
}

func TestBuild(t *testing.T) {
	receivers, err := Build([]config.ReceiverConfig{
		{Name: "audit", Type: "log"},
		{Name: "hook", Type: "webhook", URL: "http://example.test"},
		{Name: "ops", Type: "matrix", Homeserver: "https://matrix.example.test", UserID: "@bot:example.test", AccessToken: "tok", RoomID: "!room:example.test"},
	}, discardLogger())
	require.NoError(t, err)
	require.Len(t, receivers, 3)

	assert.IsType(t, &Log{}, receivers[0])
	assert.IsType(t, &Webhook{}, receivers[1])
	assert.IsType(t, &Matrix{}, receivers[2])
	assert.Equal(t, "ops", receivers[2].Name())
}

func TestBuild_UnknownType(t *testing.T) {
	_, err := Build([]config.ReceiverConfig{{Name: "x", Type: "fax"}}, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `receiver "x"`)
}

func TestLog_Deliver(t *testing.T) {
	var buf bytes.Buffer
	r := NewLog("audit", slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, r.Deliver(context.Background(), testMessage()))
	require.NoError(t, r.Deliver(context.Background(), &message.Inactive{AgentID: "a1"}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"data_type":"temperature"`)
	assert.Contains(t, lines[0], `"receiver":"audit"`)
	assert.Contains(t, lines[1], `"kind":"inactive"`)
}

func TestWebhook_Deliver(t *testing.T) {
	var (
		mu   sync.Mutex
		got  Envelope
		ct   string
		hits int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		hits++
		ct = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	hook := NewWebhook("hook", srv.URL, time.Second)
	require.NoError(t, hook.Deliver(context.Background(), testMessage()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, hits)
	assert.Equal(t, "application/json", ct)
	assert.Equal(t, "a1", got.AgentID)
	assert.Equal(t, "temperature", got.DataType)
	assert.EqualValues(t, 42, got.Payload["value"])
}

func TestWebhook_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhook("hook", srv.URL, time.Second).Deliver(context.Background(), testMessage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestWebhook_RespectsContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := NewWebhook("hook", srv.URL, time.Minute).Deliver(ctx, testMessage())
	assert.Error(t, err)
}

// fakeToken completes immediately with err.
type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakePublisher struct {
	mu           sync.Mutex
	sent         []published
	err          error
	disconnected bool
}

func (f *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return newFakeToken(f.err)
}

func (f *fakePublisher) Disconnect(uint) {
	f.mu.Lock()
	f.disconnected = true
	f.mu.Unlock()
}

func TestMQTT_Deliver(t *testing.T) {
	fake := &fakePublisher{}
	r := newMQTT("broker", "beacon/", 1, fake)

	require.NoError(t, r.Deliver(context.Background(), testMessage()))
	require.NoError(t, r.Deliver(context.Background(), &message.Inactive{AgentID: "a1", At: receivedAt}))

	require.Len(t, fake.sent, 2)
	assert.Equal(t, "beacon/temperature", fake.sent[0].topic)
	assert.Equal(t, byte(1), fake.sent[0].qos)
	assert.Equal(t, "beacon/inactive", fake.sent[1].topic)

	var env Envelope
	require.NoError(t, json.Unmarshal(fake.sent[0].payload, &env))
	assert.Equal(t, "m-1", env.ID)

	require.NoError(t, r.Close())
	assert.True(t, fake.disconnected)
}

func TestMQTT_PublishError(t *testing.T) {
	fake := &fakePublisher{err: errors.New("not connected")}
	r := newMQTT("broker", "beacon", 0, fake)

	err := r.Deliver(context.Background(), testMessage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}

func TestDialMQTT_RequiresBrokerAndTopic(t *testing.T) {
	_, err := DialMQTT(MQTTOptions{Name: "x"}, discardLogger())
	assert.Error(t, err)
}

func TestMatrix_Deliver(t *testing.T) {
	var (
		mu   sync.Mutex
		path string
		body map[string]any
		auth string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"event_id":"$evt"}`))
	}))
	defer srv.Close()

	r, err := NewMatrix("ops", srv.URL, "@bot:example.test", "secret-token", "!room:example.test")
	require.NoError(t, err)
	require.NoError(t, r.Deliver(context.Background(), testMessage()))

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, path, "/send/m.room.message/")
	assert.Equal(t, "Bearer secret-token", auth)
	assert.Equal(t, "m.text", body["msgtype"])
	assert.Equal(t, "[temperature] a1: map[value:42]", body["body"])
}
