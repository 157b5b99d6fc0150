// ABOUTME: Tests for the HTTP transport routes and status mapping
// ABOUTME: Includes the provision -> session -> publish scenario end to end

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/beacon-gateway/internal/auth"
	"github.com/2389/beacon-gateway/internal/codec"
	"github.com/2389/beacon-gateway/internal/message"
)

func newTestAPI(t *testing.T) (*testEnv, *httptest.Server) {
	t.Helper()
	env := newTestEnv(t, time.Minute)
	srv := httptest.NewServer(NewAPI("rest", "", env.pipeline, quietLogger()))
	t.Cleanup(srv.Close)
	return env, srv
}

type httpResult struct {
	status      int
	contentType string
	body        []byte
}

func (r httpResult) json(t *testing.T) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(r.body, &m), "body: %s", r.body)
	return m
}

func do(t *testing.T, method, url, authHeader, contentType string, body []byte) httpResult {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	require.NoError(t, err)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return httpResult{status: resp.StatusCode, contentType: resp.Header.Get("Content-Type"), body: data}
}

func postJSON(t *testing.T, url, authHeader string, v any) httpResult {
	t.Helper()
	var body []byte
	if v != nil {
		var err error
		body, err = json.Marshal(v)
		require.NoError(t, err)
	}
	return do(t, http.MethodPost, url, authHeader, "application/json", body)
}

func TestHTTP_ProvisionSessionPublish(t *testing.T) {
	env, srv := newTestAPI(t)
	admin := auth.BasicHeader("admin", testAdminPassword)

	// Provision with an empty body: everything generated.
	res := postJSON(t, srv.URL+"/user", admin, nil)
	require.Equal(t, http.StatusOK, res.status, "body: %s", res.body)
	acct := res.json(t)
	username, _ := acct["username"].(string)
	password, _ := acct["password"].(string)
	require.NotEmpty(t, username)
	require.NotEmpty(t, password)

	res = postJSON(t, srv.URL+"/session", auth.BasicHeader(username, password), map[string]any{"agent-id": "a1"})
	require.Equal(t, http.StatusOK, res.status, "body: %s", res.body)
	token, _ := res.json(t)["token"].(string)
	require.NotEmpty(t, token)

	res = postJSON(t, srv.URL+"/metrics", "Bearer "+token, map[string]any{
		"agent-id":  "a1",
		"data-type": "temperature",
		"value":     42,
	})
	require.Equal(t, http.StatusAccepted, res.status, "body: %s", res.body)
	id, _ := res.json(t)["id"].(string)
	require.NotEmpty(t, id)

	for _, r := range []*recordingReceiver{env.tempA, env.tempB} {
		msg, ok := r.next(t).(*message.Message)
		require.True(t, ok)
		assert.Equal(t, id, msg.ID)
		assert.Equal(t, "a1", msg.AgentID)
		assert.Equal(t, "temperature", msg.DataType)
		assert.Equal(t, json.Number("42"), msg.Payload["value"])
	}
	env.humidity.none(t)
}

func TestHTTP_Session(t *testing.T) {
	_, srv := newTestAPI(t)

	tests := []struct {
		name       string
		authHeader string
		body       any
		wantStatus int
		emptyBody  bool
	}{
		{"no credentials", "", map[string]any{"agent-id": "a1"}, http.StatusUnauthorized, true},
		{"bearer instead of basic", "Bearer x", map[string]any{"agent-id": "a1"}, http.StatusUnauthorized, true},
		{"wrong password", auth.BasicHeader("admin", "nope"), map[string]any{"agent-id": "a1"}, http.StatusUnauthorized, true},
		{"unknown user", auth.BasicHeader("ghost", "nope"), map[string]any{"agent-id": "a1"}, http.StatusUnauthorized, true},
		{"missing agent id", auth.BasicHeader("admin", testAdminPassword), map[string]any{}, http.StatusBadRequest, false},
		{"non-string agent id", auth.BasicHeader("admin", testAdminPassword), map[string]any{"agent-id": 5}, http.StatusBadRequest, false},
		{"ok", auth.BasicHeader("admin", testAdminPassword), map[string]any{"agent_id": "a1"}, http.StatusOK, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := postJSON(t, srv.URL+"/session", tt.authHeader, tt.body)
			assert.Equal(t, tt.wantStatus, res.status, "body: %s", res.body)
			if tt.emptyBody {
				assert.Empty(t, res.body)
			}
		})
	}
}

func TestHTTP_SessionMalformedJSON(t *testing.T) {
	_, srv := newTestAPI(t)

	res := do(t, http.MethodPost, srv.URL+"/session", auth.BasicHeader("admin", testAdminPassword), "application/json", []byte("{not json"))
	assert.Equal(t, http.StatusBadRequest, res.status)
	assert.Contains(t, res.json(t)["error"], "malformed payload")
}

func TestHTTP_SessionStoreUnavailable(t *testing.T) {
	env, srv := newTestAPI(t)
	env.store.Err = errors.New("database is locked")

	res := postJSON(t, srv.URL+"/session", auth.BasicHeader("admin", testAdminPassword), map[string]any{"agent-id": "a1"})
	assert.Equal(t, http.StatusServiceUnavailable, res.status)
	assert.NotContains(t, string(res.body), "locked")
}

func TestHTTP_User(t *testing.T) {
	_, srv := newTestAPI(t)
	admin := auth.BasicHeader("admin", testAdminPassword)

	res := postJSON(t, srv.URL+"/user", admin, map[string]any{"username": "probe", "password": "probe-password"})
	require.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, map[string]any{"username": "probe", "password": "probe-password"}, res.json(t))

	res = postJSON(t, srv.URL+"/user", admin, map[string]any{"username": "probe"})
	assert.Equal(t, http.StatusConflict, res.status)

	res = postJSON(t, srv.URL+"/user", auth.BasicHeader("admin", "wrong"), nil)
	assert.Equal(t, http.StatusUnauthorized, res.status)
	assert.Empty(t, res.body)

	res = postJSON(t, srv.URL+"/user", auth.BasicHeader("probe", "probe-password"), nil)
	assert.Equal(t, http.StatusUnauthorized, res.status, "non-admin cannot provision")

	res = postJSON(t, srv.URL+"/user", "", nil)
	assert.Equal(t, http.StatusUnauthorized, res.status)
}

func TestHTTP_UserConcurrentSameUsername(t *testing.T) {
	env, srv := newTestAPI(t)
	admin := auth.BasicHeader("admin", testAdminPassword)

	const workers = 8
	statuses := make(chan int, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodPost, srv.URL+"/user",
				strings.NewReader(`{"username":"contested","password":"pw-contested"}`))
			req.Header.Set("Authorization", admin)
			req.Header.Set("Content-Type", "application/json")
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				statuses <- 0
				return
			}
			resp.Body.Close()
			statuses <- resp.StatusCode
		}()
	}
	wg.Wait()
	close(statuses)

	counts := map[int]int{}
	for s := range statuses {
		counts[s]++
	}
	assert.Equal(t, 1, counts[http.StatusOK])
	assert.Equal(t, workers-1, counts[http.StatusConflict])

	n, err := env.store.CountCredentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestHTTP_MetricsAuth(t *testing.T) {
	env, srv := newTestAPI(t)
	body := map[string]any{"agent-id": "a1", "data-type": "temperature"}

	res := postJSON(t, srv.URL+"/metrics", "", body)
	assert.Equal(t, http.StatusUnauthorized, res.status)
	assert.Empty(t, res.body)

	res = postJSON(t, srv.URL+"/metrics", "Bearer not-a-token", body)
	assert.Equal(t, http.StatusUnauthorized, res.status)
	assert.Empty(t, res.body)

	res = postJSON(t, srv.URL+"/metrics", "Bearer "+env.expiredToken(t, "a1"), body)
	assert.Equal(t, http.StatusUnauthorized, res.status)
	assert.JSONEq(t, `{"error":"token expired"}`, string(res.body))

	env.tempA.none(t)
}

func TestHTTP_MetricsMalformed(t *testing.T) {
	env, srv := newTestAPI(t)
	token := env.session(t, "a1")

	res := postJSON(t, srv.URL+"/metrics", "Bearer "+token, map[string]any{"agent-id": "a1"})
	assert.Equal(t, http.StatusBadRequest, res.status)
	assert.Contains(t, res.json(t)["error"], "data-type")

	res = postJSON(t, srv.URL+"/metrics", "Bearer "+token, []int{1, 2})
	assert.Equal(t, http.StatusBadRequest, res.status)
}

func TestHTTP_MetricsUnknownCategoryAccepted(t *testing.T) {
	env, srv := newTestAPI(t)
	token := env.session(t, "a1")

	res := postJSON(t, srv.URL+"/metrics", "Bearer "+token, map[string]any{"agent-id": "a1", "data-type": "pressure"})
	assert.Equal(t, http.StatusAccepted, res.status)
	env.tempA.none(t)
	env.humidity.none(t)
}

func TestHTTP_MetricsDuplicateAcknowledged(t *testing.T) {
	env, srv := newTestAPI(t)
	token := env.session(t, "a1")
	body := map[string]any{"agent-id": "a1", "data-type": "humidity", "message-id": "m-1"}

	first := postJSON(t, srv.URL+"/metrics", "Bearer "+token, body)
	second := postJSON(t, srv.URL+"/metrics", "Bearer "+token, body)
	assert.Equal(t, http.StatusAccepted, first.status)
	assert.Equal(t, http.StatusAccepted, second.status)
	assert.Equal(t, "m-1", second.json(t)["id"])

	env.humidity.next(t)
	env.humidity.none(t)
}

func TestHTTP_CBOR(t *testing.T) {
	env, srv := newTestAPI(t)

	body, err := codec.CBOR.Encode(map[string]any{"agent-id": "a1"})
	require.NoError(t, err)
	res := do(t, http.MethodPost, srv.URL+"/session", auth.BasicHeader("admin", testAdminPassword), codec.ContentTypeCBOR, body)
	require.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, codec.ContentTypeCBOR, res.contentType)

	reply, err := codec.CBOR.Decode(res.body)
	require.NoError(t, err)
	token, _ := reply["token"].(string)
	require.NotEmpty(t, token)

	body, err = codec.CBOR.Encode(map[string]any{"agent-id": "a1", "data-type": "temperature", "value": 21.5})
	require.NoError(t, err)
	res = do(t, http.MethodPost, srv.URL+"/metrics", "Bearer "+token, codec.ContentTypeCBOR, body)
	require.Equal(t, http.StatusAccepted, res.status)

	msg := env.tempA.next(t).(*message.Message)
	assert.Equal(t, 21.5, msg.Payload["value"])
}

func TestHTTP_UnsupportedContentType(t *testing.T) {
	_, srv := newTestAPI(t)

	res := do(t, http.MethodPost, srv.URL+"/session", auth.BasicHeader("admin", testAdminPassword), "text/plain", []byte("agent-id=a1"))
	assert.Equal(t, http.StatusUnsupportedMediaType, res.status)
	assert.Equal(t, codec.ContentTypeJSON, res.contentType)
}

func TestHTTP_HealthAndUnmatchedRoutes(t *testing.T) {
	_, srv := newTestAPI(t)

	res := do(t, http.MethodGet, srv.URL+"/health", "", "", nil)
	assert.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, "OK", string(res.body))

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/"},
		{http.MethodGet, "/metrics"},
		{http.MethodPost, "/health"},
		{http.MethodDelete, "/user"},
		{http.MethodPost, "/admin"},
	} {
		res := do(t, tc.method, srv.URL+tc.path, "", "", nil)
		assert.Equal(t, http.StatusUnauthorized, res.status, "%s %s", tc.method, tc.path)
		assert.Empty(t, res.body)
	}
}

func TestHTTP_PathPrefix(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	srv := httptest.NewServer(NewAPI("rest", "/v1/", env.pipeline, quietLogger()))
	defer srv.Close()

	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/v1/health", "", "", nil).status)
	assert.Equal(t, http.StatusUnauthorized, do(t, http.MethodGet, srv.URL+"/health", "", "", nil).status)
}
