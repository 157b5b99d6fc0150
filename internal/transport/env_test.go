// ABOUTME: Shared fixtures for transport tests: guard, dispatcher, recording receivers
// ABOUTME: Builds a full pipeline over the in-memory credential store

package transport

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/2389/beacon-gateway/internal/agent"
	"github.com/2389/beacon-gateway/internal/auth"
	"github.com/2389/beacon-gateway/internal/dedupe"
	"github.com/2389/beacon-gateway/internal/dispatch"
	"github.com/2389/beacon-gateway/internal/message"
	"github.com/2389/beacon-gateway/internal/store"
)

const (
	testSecret        = "transport-test-secret-32-bytes!!"
	testAdminPassword = "admin-password"
)

type recordingReceiver struct {
	name   string
	events chan message.Event
}

func newRecordingReceiver(name string) *recordingReceiver {
	return &recordingReceiver{name: name, events: make(chan message.Event, 64)}
}

func (r *recordingReceiver) Name() string { return r.name }

func (r *recordingReceiver) Deliver(ctx context.Context, ev message.Event) error {
	r.events <- ev
	return nil
}

// next waits for the next delivered event.
func (r *recordingReceiver) next(t *testing.T) message.Event {
	t.Helper()
	select {
	case ev := <-r.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("receiver %s got nothing", r.name)
		return nil
	}
}

// none asserts nothing arrives within a short window.
func (r *recordingReceiver) none(t *testing.T) {
	t.Helper()
	select {
	case ev := <-r.events:
		t.Fatalf("receiver %s unexpectedly got %s from %s", r.name, ev.Kind(), ev.Agent())
	case <-time.After(50 * time.Millisecond):
	}
}

type testEnv struct {
	store    *store.MockStore
	tokens   *auth.JWTVerifier
	guard    *auth.Guard
	pipeline *Pipeline
	tracker  *agent.Tracker
	tempA    *recordingReceiver
	tempB    *recordingReceiver
	humidity *recordingReceiver
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T, heartbeat time.Duration) *testEnv {
	t.Helper()

	env := &testEnv{
		store:    store.NewMockStore(),
		tempA:    newRecordingReceiver("temp-a"),
		tempB:    newRecordingReceiver("temp-b"),
		humidity: newRecordingReceiver("humidity"),
	}

	var err error
	env.tokens, err = auth.NewJWTVerifier([]byte(testSecret))
	require.NoError(t, err)

	env.guard = env.newGuard(t, time.Hour)
	_, err = env.guard.EnsureAdmin(context.Background(), testAdminPassword)
	require.NoError(t, err)

	d, err := dispatch.New(map[string][]dispatch.Receiver{
		"temperature": {env.tempA, env.tempB},
		"humidity":    {env.humidity},
	}, nil, dispatch.Options{Logger: quietLogger()})
	require.NoError(t, err)
	t.Cleanup(d.Close)

	cache := dedupe.New(time.Minute, 1000)
	t.Cleanup(cache.Close)

	env.tracker = agent.NewTracker(time.Minute, quietLogger())

	env.pipeline, err = NewPipeline(PipelineConfig{
		Guard:            env.guard,
		Dispatcher:       d,
		Dedupe:           cache,
		Tracker:          env.tracker,
		HeartbeatTimeout: heartbeat,
		Logger:           quietLogger(),
	})
	require.NoError(t, err)
	return env
}

// newGuard builds a guard over the env's store and signing key.
func (e *testEnv) newGuard(t *testing.T, ttl time.Duration) *auth.Guard {
	t.Helper()
	g, err := auth.NewGuard(auth.GuardConfig{
		Store:      e.store,
		Tokens:     e.tokens,
		TokenTTL:   ttl,
		BcryptCost: bcrypt.MinCost,
		Logger:     quietLogger(),
	})
	require.NoError(t, err)
	return g
}

// session opens an admin session for agentID.
func (e *testEnv) session(t *testing.T, agentID string) string {
	t.Helper()
	token, err := e.guard.IssueSession(context.Background(), "admin", testAdminPassword, agentID)
	require.NoError(t, err)
	return token
}

// expiredToken returns a correctly signed token whose expiry has passed.
func (e *testEnv) expiredToken(t *testing.T, agentID string) string {
	t.Helper()
	token, err := e.newGuard(t, time.Nanosecond).IssueSession(context.Background(), "admin", testAdminPassword, agentID)
	require.NoError(t, err)
	return token
}
