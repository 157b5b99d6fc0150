// ABOUTME: Tests for the gateway HTTP client against the real http transport
// ABOUTME: Uses httptest with an in-memory credential store and a recording publisher

package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/2389/beacon-gateway/internal/auth"
	"github.com/2389/beacon-gateway/internal/codec"
	"github.com/2389/beacon-gateway/internal/message"
	"github.com/2389/beacon-gateway/internal/store"
	"github.com/2389/beacon-gateway/internal/transport"
)

const adminPassword = "client-admin-password"

type recordingPublisher struct {
	mu        sync.Mutex
	published []*message.Message
}

func (p *recordingPublisher) Publish(_ string, msg *message.Message) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, msg)
	return 1
}

func (p *recordingPublisher) Broadcast(message.Event) int { return 0 }

func (p *recordingPublisher) messages() []*message.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*message.Message(nil), p.published...)
}

func newServer(t *testing.T, ttl time.Duration) (*httptest.Server, *recordingPublisher) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tokens, err := auth.NewJWTVerifier([]byte("client-test-secret-0123456789abcd"))
	require.NoError(t, err)
	guard, err := auth.NewGuard(auth.GuardConfig{
		Store:      store.NewMockStore(),
		Tokens:     tokens,
		TokenTTL:   ttl,
		BcryptCost: bcrypt.MinCost,
		Logger:     logger,
	})
	require.NoError(t, err)
	_, err = guard.EnsureAdmin(context.Background(), adminPassword)
	require.NoError(t, err)

	pub := &recordingPublisher{}
	pipeline, err := transport.NewPipeline(transport.PipelineConfig{Guard: guard, Dispatcher: pub, Logger: logger})
	require.NoError(t, err)

	srv := httptest.NewServer(transport.NewAPI("rest", "", pipeline, logger))
	t.Cleanup(srv.Close)
	return srv, pub
}

func TestClient_ProvisionSessionPublish(t *testing.T) {
	for name, cd := range map[string]codec.Codec{"json": codec.JSON, "cbor": codec.CBOR} {
		t.Run(name, func(t *testing.T) {
			srv, pub := newServer(t, time.Hour)
			c := New(srv.URL, WithCodec(cd))
			ctx := context.Background()

			require.NoError(t, c.Health(ctx))

			acct, err := c.CreateUser(ctx, "admin", adminPassword, "", "")
			require.NoError(t, err)
			assert.NotEmpty(t, acct.Username)
			assert.NotEmpty(t, acct.Password)

			token, err := c.OpenSession(ctx, acct.Username, acct.Password, "probe-1")
			require.NoError(t, err)

			id, err := c.Publish(ctx, token, map[string]any{
				"agent-id":   "probe-1",
				"data-type":  "temperature",
				"message-id": "m-1",
				"celsius":    21.5,
			})
			require.NoError(t, err)
			assert.Equal(t, "m-1", id)

			msgs := pub.messages()
			require.Len(t, msgs, 1)
			assert.Equal(t, "probe-1", msgs[0].AgentID)
		})
	}
}

func TestClient_Errors(t *testing.T) {
	srv, _ := newServer(t, time.Hour)
	c := New(srv.URL)
	ctx := context.Background()

	_, err := c.CreateUser(ctx, "admin", "wrong", "", "")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = c.CreateUser(ctx, "admin", adminPassword, "dup", "pw")
	require.NoError(t, err)
	_, err = c.CreateUser(ctx, "admin", adminPassword, "dup", "pw")
	assert.ErrorIs(t, err, ErrConflict)

	_, err = c.OpenSession(ctx, "dup", "pw", "")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.Code)

	_, err = c.Publish(ctx, "not-a-token", map[string]any{"agent-id": "a", "data-type": "t"})
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.NotErrorIs(t, err, ErrTokenExpired)
}

func TestClient_ExpiredToken(t *testing.T) {
	srv, _ := newServer(t, time.Nanosecond)
	c := New(srv.URL)
	ctx := context.Background()

	token, err := c.OpenSession(ctx, "admin", adminPassword, "a1")
	require.NoError(t, err)

	_, err = c.Publish(ctx, token, map[string]any{"agent-id": "a1", "data-type": "t"})
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestClient_HealthDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := New(srv.URL + "/").Health(context.Background())
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
}
