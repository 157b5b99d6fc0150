// ABOUTME: WebSocket transport: one authenticated connection per agent, one metric per frame
// ABOUTME: Disconnect or idle timeout broadcasts inactive for every agent seen on the connection

package transport

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/2389/beacon-gateway/internal/auth"
	"github.com/2389/beacon-gateway/internal/codec"
)

const wsWriteTimeout = 5 * time.Second

// WebSocketHandler serves GET /ws. Params: "origins" is a comma separated
// list of allowed Origin patterns for browser clients.
type WebSocketHandler struct{}

// Create implements Handler.
func (WebSocketHandler) Create(ctx context.Context, opts Options) (Process, error) {
	if opts.Pipeline == nil {
		return nil, errors.New("websocket transport: pipeline is required")
	}
	logger := opts.logger("websocket")

	ln, err := opts.listen()
	if err != nil {
		return nil, err
	}

	ws := NewWebSocketServer(opts.ID, opts.Path, opts.Pipeline, logger)
	if origins := opts.Params["origins"]; origins != "" {
		ws.origins = strings.Split(origins, ",")
	}

	srv := &http.Server{
		Handler:           ws,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       ws.baseContext,
	}
	return serveHTTP(opts.ID, ln, srv, ws.Close, logger), nil
}

// WebSocketServer handles WebSocket upgrades and the per-connection read loop.
type WebSocketServer struct {
	id       string
	prefix   string
	pipeline *Pipeline
	upgrade  http.Handler
	origins  []string
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	conns  sync.WaitGroup
	agents map[string]int // open connections that have carried each agent id
}

// NewWebSocketServer creates the handler for one transport instance.
func NewWebSocketServer(id, prefix string, pipeline *Pipeline, logger *slog.Logger) *WebSocketServer {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &WebSocketServer{
		id:       id,
		prefix:   strings.TrimSuffix(prefix, "/"),
		pipeline: pipeline,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		agents:   make(map[string]int),
	}
	s.upgrade = auth.RequireBearer(pipeline.Guard())(http.HandlerFunc(s.handleUpgrade))
	return s
}

func (s *WebSocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path, ok := strings.CutPrefix(r.URL.Path, s.prefix)
	switch {
	case ok && r.Method == http.MethodGet && path == "/ws":
		s.upgrade.ServeHTTP(w, r)
	case ok && r.Method == http.MethodGet && path == "/health":
		handleHealth(w, r)
	default:
		w.WriteHeader(http.StatusUnauthorized)
	}
}

func (s *WebSocketServer) baseContext(net.Listener) context.Context {
	return s.ctx
}

// Close ends every open connection and waits for their inactive
// broadcasts, or until ctx is done.
func (s *WebSocketServer) Close(ctx context.Context) {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (s *WebSocketServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	s.conns.Add(1)
	s.mu.Unlock()
	defer s.conns.Done()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		s.logger.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxBodyBytes)

	var subject string
	if ac := auth.FromContext(r.Context()); ac != nil {
		subject = ac.Subject
	}
	logger := s.logger.With("remote", r.RemoteAddr, "subject", subject)
	logger.Info("websocket connected")

	seen := make(map[string]struct{})
	defer func() {
		for agentID := range seen {
			if s.release(agentID) {
				s.pipeline.ReportInactive(agentID)
			}
		}
	}()

	ctx := r.Context()
	idle := s.pipeline.HeartbeatTimeout()
	for {
		readCtx, cancel := context.WithTimeout(ctx, idle)
		typ, data, err := conn.Read(readCtx)
		idleExpired := errors.Is(readCtx.Err(), context.DeadlineExceeded)
		cancel()

		if err != nil {
			switch {
			case websocket.CloseStatus(err) == websocket.StatusNormalClosure,
				websocket.CloseStatus(err) == websocket.StatusGoingAway:
				logger.Info("websocket closed by agent")
			case idleExpired:
				logger.Info("websocket idle timeout", "timeout", idle)
			case ctx.Err() != nil:
				logger.Info("websocket closed by gateway")
				_ = conn.Close(websocket.StatusGoingAway, "gateway shutting down")
			default:
				logger.Warn("websocket read failed", "error", err)
			}
			return
		}

		reply, c := s.handleFrame(ctx, typ, data, seen)
		if err := s.write(ctx, conn, typ, c, reply); err != nil {
			logger.Warn("websocket write failed", "error", err)
			return
		}
	}
}

// handleFrame ingests one frame. Text frames are JSON, binary frames CBOR.
func (s *WebSocketServer) handleFrame(ctx context.Context, typ websocket.MessageType, data []byte, seen map[string]struct{}) (map[string]any, codec.Codec) {
	c := codec.JSON
	if typ == websocket.MessageBinary {
		c = codec.CBOR
	}

	fields, err := c.Decode(data)
	if err != nil {
		return map[string]any{"error": badBody(err).Error()}, c
	}

	result, err := s.pipeline.Ingest(ctx, s.id, fields, false)
	if err != nil {
		_, msg := httpStatus(err)
		return map[string]any{"error": msg}, c
	}
	if _, ok := seen[result.AgentID]; !ok {
		seen[result.AgentID] = struct{}{}
		s.acquire(result.AgentID)
	}
	return map[string]any{"status": "ok", "id": result.ID}, c
}

func (s *WebSocketServer) write(ctx context.Context, conn *websocket.Conn, typ websocket.MessageType, c codec.Codec, v any) error {
	data, err := c.Encode(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, typ, data)
}

// acquire records one more open connection carrying agentID.
func (s *WebSocketServer) acquire(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[agentID]++
}

// release drops one connection for agentID and reports whether it was the last.
func (s *WebSocketServer) release(agentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[agentID]--
	if s.agents[agentID] > 0 {
		return false
	}
	delete(s.agents, agentID)
	return true
}
