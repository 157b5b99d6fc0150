// ABOUTME: HTTP transport: session issuance, account provisioning and metric ingestion
// ABOUTME: Bodies are JSON or CBOR by Content-Type and answered in the same codec

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/2389/beacon-gateway/internal/auth"
	"github.com/2389/beacon-gateway/internal/codec"
)

// maxBodyBytes caps request bodies on every route.
const maxBodyBytes = 1 << 20

// HTTPHandler serves POST /session, POST /user, POST /metrics and GET /health.
type HTTPHandler struct{}

// Create implements Handler.
func (HTTPHandler) Create(ctx context.Context, opts Options) (Process, error) {
	if opts.Pipeline == nil {
		return nil, errors.New("http transport: pipeline is required")
	}
	logger := opts.logger("http")

	ln, err := opts.listen()
	if err != nil {
		return nil, err
	}

	srv := &http.Server{
		Handler:           NewAPI(opts.ID, opts.Path, opts.Pipeline, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return serveHTTP(opts.ID, ln, srv, nil, logger), nil
}

// serveHTTP runs srv on ln in the background. beforeShutdown, when set,
// runs first on Stop.
func serveHTTP(id string, ln net.Listener, srv *http.Server, beforeShutdown func(ctx context.Context), logger *slog.Logger) *process {
	p := newProcess(id, ln.Addr(), func(ctx context.Context) error {
		if beforeShutdown != nil {
			beforeShutdown(ctx)
		}
		return srv.Shutdown(ctx)
	})

	go func() {
		logger.Info("listening", "addr", ln.Addr().String())
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		if err != nil {
			err = fmt.Errorf("transport %s: %w", id, err)
		}
		p.finish(err)
	}()
	return p
}

// API is the HTTP request handler. It is exposed so it can be mounted in
// tests or another server.
type API struct {
	id       string
	prefix   string
	pipeline *Pipeline
	metrics  http.Handler
	logger   *slog.Logger
}

// NewAPI builds the HTTP handler for a transport instance.
func NewAPI(id, prefix string, pipeline *Pipeline, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	a := &API{
		id:       id,
		prefix:   strings.TrimSuffix(prefix, "/"),
		pipeline: pipeline,
		logger:   logger,
	}
	a.metrics = auth.RequireBearer(pipeline.Guard())(http.HandlerFunc(a.handleMetrics))
	return a
}

// ServeHTTP routes requests. Anything unmatched is a bare 401 so probing
// clients learn nothing about the routes.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path, ok := strings.CutPrefix(r.URL.Path, a.prefix)
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	switch {
	case r.Method == http.MethodPost && path == "/session":
		a.handleSession(w, r)
	case r.Method == http.MethodPost && path == "/user":
		a.handleUser(w, r)
	case r.Method == http.MethodPost && path == "/metrics":
		a.metrics.ServeHTTP(w, r)
	case r.Method == http.MethodGet && path == "/health":
		handleHealth(w, r)
	default:
		w.WriteHeader(http.StatusUnauthorized)
	}
}

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	username, password, ok := auth.ParseBasic(r.Header.Get("Authorization"))
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	c, fields, err := decodeRequest(w, r)
	if err != nil {
		a.writeError(w, r, c, err)
		return
	}

	token, err := a.pipeline.OpenSession(r.Context(), username, password, fields)
	if err != nil {
		a.writeError(w, r, c, err)
		return
	}
	writeBody(w, c, http.StatusOK, map[string]any{"token": token})
}

func (a *API) handleUser(w http.ResponseWriter, r *http.Request) {
	adminUser, adminPass, ok := auth.ParseBasic(r.Header.Get("Authorization"))
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	c, fields, err := decodeRequest(w, r)
	if err != nil {
		a.writeError(w, r, c, err)
		return
	}

	acct, err := a.pipeline.CreateAccount(r.Context(), adminUser, adminPass, fields)
	if err != nil {
		a.writeError(w, r, c, err)
		return
	}
	writeBody(w, c, http.StatusOK, map[string]any{
		"username": acct.Username,
		"password": acct.Password,
	})
}

func (a *API) handleMetrics(w http.ResponseWriter, r *http.Request) {
	c, fields, err := decodeRequest(w, r)
	if err != nil {
		a.writeError(w, r, c, err)
		return
	}

	result, err := a.pipeline.Ingest(r.Context(), a.id, fields, true)
	if err != nil {
		a.writeError(w, r, c, err)
		return
	}
	writeBody(w, c, http.StatusAccepted, map[string]any{"id": result.ID})
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// decodeRequest picks the codec from Content-Type and decodes the body.
// The returned codec is always usable for the response.
func decodeRequest(w http.ResponseWriter, r *http.Request) (codec.Codec, map[string]any, error) {
	c, err := codec.ForContentType(r.Header.Get("Content-Type"))
	if err != nil {
		return codec.JSON, nil, err
	}
	fields, err := codec.DecodeReader(c, http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return c, nil, badBody(err)
	}
	return c, fields, nil
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, c codec.Codec, err error) {
	status, msg := httpStatus(err)
	switch status {
	case http.StatusUnauthorized:
		a.logger.Warn("auth failure", "reason", err.Error(), "path", r.URL.Path, "remote", r.RemoteAddr)
		w.WriteHeader(status)
		return
	case http.StatusInternalServerError, http.StatusServiceUnavailable:
		a.logger.Error("request failed", "path", r.URL.Path, "error", err)
	default:
		a.logger.Debug("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	writeBody(w, c, status, map[string]any{"error": msg})
}

func writeBody(w http.ResponseWriter, c codec.Codec, status int, v any) {
	data, err := c.Encode(v)
	if err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", c.ContentType())
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
