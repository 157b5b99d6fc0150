// ABOUTME: Plugin contract for ingestion transports and the registry that names them
// ABOUTME: A Handler creates a running Process from Options supplied by the gateway

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
)

// ErrUnknownTransport is returned when no handler is registered under a name.
var ErrUnknownTransport = errors.New("unknown transport")

// ListenFunc opens the listener a Process serves on. The gateway supplies
// plain TCP or a tailnet listener depending on config.
type ListenFunc func(network, addr string) (net.Listener, error)

// Options configures one transport instance.
type Options struct {
	ID       string
	Addr     string
	Path     string            // route prefix, e.g. "/v1"
	Params   map[string]string // handler specific settings
	Pipeline *Pipeline
	Listen   ListenFunc
	Logger   *slog.Logger
}

// Handler is the plugin contract every transport implements.
type Handler interface {
	Create(ctx context.Context, opts Options) (Process, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, opts Options) (Process, error)

// Create implements Handler.
func (f HandlerFunc) Create(ctx context.Context, opts Options) (Process, error) {
	return f(ctx, opts)
}

// Process is a running transport instance.
type Process interface {
	ID() string
	Addr() net.Addr
	// Done yields the serve error (nil on clean stop) and is then closed.
	Done() <-chan error
	Stop(ctx context.Context) error
}

// Registry maps implementation names to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// DefaultRegistry returns a registry with the http, websocket and grpc handlers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register("http", HTTPHandler{})
	_ = r.Register("websocket", WebSocketHandler{})
	_ = r.Register("grpc", GRPCHandler{})
	return r
}

// Register adds a handler. Names must be unique.
func (r *Registry) Register(name string, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("transport %q already registered", name)
	}
	r.handlers[name] = h
	return nil
}

// Lookup returns the handler registered under name.
func (r *Registry) Lookup(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, name)
	}
	return h, nil
}

// Names lists registered handler names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TCPListen is the default ListenFunc.
func TCPListen(network, addr string) (net.Listener, error) {
	return net.Listen(network, addr)
}

func (o Options) listen() (net.Listener, error) {
	listen := o.Listen
	if listen == nil {
		listen = TCPListen
	}
	ln, err := listen("tcp", o.Addr)
	if err != nil {
		return nil, fmt.Errorf("transport %s: listening on %s: %w", o.ID, o.Addr, err)
	}
	return ln, nil
}

func (o Options) logger(kind string) *slog.Logger {
	l := o.Logger
	if l == nil {
		l = slog.Default()
	}
	return l.With("component", "transport", "transport", o.ID, "type", kind)
}

// process is the Process shared by the built-in handlers.
type process struct {
	id   string
	addr net.Addr
	done chan error
	stop func(ctx context.Context) error

	stopOnce sync.Once
	stopErr  error
}

func newProcess(id string, addr net.Addr, stop func(ctx context.Context) error) *process {
	return &process{id: id, addr: addr, done: make(chan error, 1), stop: stop}
}

func (p *process) ID() string         { return p.id }
func (p *process) Addr() net.Addr     { return p.addr }
func (p *process) Done() <-chan error { return p.done }

func (p *process) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() { p.stopErr = p.stop(ctx) })
	return p.stopErr
}

// finish reports the serve result and closes Done.
func (p *process) finish(err error) {
	p.done <- err
	close(p.done)
}
