// ABOUTME: Gateway orchestrator that wires the store, auth guard, dispatcher and transports
// ABOUTME: Starts every configured transport and shuts them all down together

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/beacon-gateway/internal/agent"
	"github.com/2389/beacon-gateway/internal/auth"
	"github.com/2389/beacon-gateway/internal/config"
	"github.com/2389/beacon-gateway/internal/dedupe"
	"github.com/2389/beacon-gateway/internal/dispatch"
	"github.com/2389/beacon-gateway/internal/receiver"
	"github.com/2389/beacon-gateway/internal/store"
	"github.com/2389/beacon-gateway/internal/transport"
)

// shutdownTimeout bounds graceful shutdown once Run's context is done.
const shutdownTimeout = 5 * time.Second

// Gateway orchestrates the beacon-gateway server components.
type Gateway struct {
	config     *config.Config
	store      store.CredentialStore
	guard      *auth.Guard
	dispatcher *dispatch.Dispatcher
	receivers  []dispatch.Receiver
	dedupe     *dedupe.Cache
	tracker    *agent.Tracker
	pipeline   *transport.Pipeline
	registry   *transport.Registry
	logger     *slog.Logger
	baseLogger *slog.Logger // unscoped; components add their own "component"

	tsnetServer *tsnet.Server

	mu        sync.Mutex
	processes []transport.Process
	ready     chan struct{}
}

// Option customizes a Gateway at construction.
type Option func(*Gateway)

// WithStore uses s instead of opening database.path.
func WithStore(s store.CredentialStore) Option {
	return func(g *Gateway) { g.store = s }
}

// WithReceivers uses rs instead of building receivers from config.
func WithReceivers(rs ...dispatch.Receiver) Option {
	return func(g *Gateway) { g.receivers = rs }
}

// WithRegistry replaces the default transport registry.
func WithRegistry(r *transport.Registry) Option {
	return func(g *Gateway) { g.registry = r }
}

// New builds every component from cfg. Nothing listens until Run.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		config:     cfg,
		logger:     logger.With("component", "gateway"),
		baseLogger: logger,
		ready:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.registry == nil {
		g.registry = transport.DefaultRegistry()
	}

	if err := g.init(ctx, logger); err != nil {
		_ = g.closeComponents()
		return nil, err
	}
	return g, nil
}

func (g *Gateway) init(ctx context.Context, logger *slog.Logger) error {
	cfg := g.config

	if g.store == nil {
		s, err := OpenStore(cfg)
		if err != nil {
			return err
		}
		g.store = s
	}

	guard, err := NewGuard(cfg, g.store, logger)
	if err != nil {
		return err
	}
	g.guard = guard

	if cfg.Auth.AdminPassword != "" {
		created, err := guard.EnsureAdmin(ctx, cfg.Auth.AdminPassword)
		if err != nil {
			return fmt.Errorf("seeding admin credential: %w", err)
		}
		if created {
			g.logger.Info("seeded admin credential", "username", guard.AdminUsername())
		}
	}

	if g.receivers == nil {
		rs, err := receiver.Build(cfg.Receivers, logger)
		if err != nil {
			return err
		}
		g.receivers = rs
	}

	table, err := subscriptionTable(cfg.Subscriptions, g.receivers)
	if err != nil {
		return err
	}
	g.dispatcher, err = dispatch.New(table, g.receivers, dispatch.Options{
		MailboxSize:     cfg.Dispatch.MailboxSize,
		DeliveryTimeout: cfg.Dispatch.DeliveryTimeout,
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("building dispatcher: %w", err)
	}

	g.dedupe = dedupe.New(cfg.Dedupe.TTL, cfg.Dedupe.MaxEntries)
	g.tracker = agent.NewTracker(cfg.Agents.HeartbeatTimeout, logger)

	g.pipeline, err = transport.NewPipeline(transport.PipelineConfig{
		Guard:            guard,
		Dispatcher:       g.dispatcher,
		Dedupe:           g.dedupe,
		Tracker:          g.tracker,
		HeartbeatTimeout: cfg.Agents.HeartbeatTimeout,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	g.logger.Info("gateway initialized",
		"receivers", g.dispatcher.Receivers(),
		"categories", g.dispatcher.Categories(),
		"transports", len(cfg.Transports),
	)
	return nil
}

// OpenStore opens the SQLite credential store at database.path.
// BEACON_DB_PATH overrides the configured path.
func OpenStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("BEACON_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// NewGuard builds the auth guard for cfg over s.
func NewGuard(cfg *config.Config, s store.CredentialStore, logger *slog.Logger) (*auth.Guard, error) {
	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating token verifier: %w", err)
	}
	guard, err := auth.NewGuard(auth.GuardConfig{
		Store:         s,
		Tokens:        verifier,
		AdminUsername: cfg.Auth.AdminUsername,
		TokenTTL:      cfg.Auth.TokenTTL,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating auth guard: %w", err)
	}
	return guard, nil
}

// subscriptionTable resolves receiver names into the dispatcher's table.
func subscriptionTable(subs map[string][]string, receivers []dispatch.Receiver) (map[string][]dispatch.Receiver, error) {
	byName := make(map[string]dispatch.Receiver, len(receivers))
	for _, r := range receivers {
		byName[r.Name()] = r
	}

	table := make(map[string][]dispatch.Receiver, len(subs))
	for dataType, names := range subs {
		for _, name := range names {
			r, ok := byName[name]
			if !ok {
				return nil, fmt.Errorf("subscription %q names unknown receiver %q", dataType, name)
			}
			table[dataType] = append(table[dataType], r)
		}
	}
	return table, nil
}

// Ready is closed once every transport is listening.
func (g *Gateway) Ready() <-chan struct{} {
	return g.ready
}

// Addrs returns the listen address of each running transport by id.
func (g *Gateway) Addrs() map[string]net.Addr {
	g.mu.Lock()
	defer g.mu.Unlock()

	addrs := make(map[string]net.Addr, len(g.processes))
	for _, p := range g.processes {
		addrs[p.ID()] = p.Addr()
	}
	return addrs
}

// Run starts the transports and blocks until ctx is done or a transport
// fails, then shuts everything down.
func (g *Gateway) Run(ctx context.Context) error {
	if g.needsTailnet() {
		if err := g.setupTailscale(ctx); err != nil {
			_ = g.closeComponents()
			return err
		}
	}

	if err := g.startTransports(ctx); err != nil {
		_ = g.gracefulShutdown()
		return err
	}
	close(g.ready)

	livenessCtx, stopLiveness := context.WithCancel(ctx)
	livenessDone := make(chan struct{})
	go func() {
		g.pipeline.RunLiveness(livenessCtx, g.config.Agents.SweepInterval)
		close(livenessDone)
	}()

	serverErr := g.waitForShutdownSignal(ctx)

	stopLiveness()
	<-livenessDone

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

func (g *Gateway) startTransports(ctx context.Context) error {
	for _, tc := range g.config.Transports {
		h, err := g.registry.Lookup(tc.Type)
		if err != nil {
			return fmt.Errorf("transport %q: %w", tc.ID, err)
		}

		addr := tc.Addr
		if addr == "" && tc.Network == config.NetworkTailnet {
			addr = defaultTailnetAddr[tc.Type]
		}

		proc, err := h.Create(ctx, transport.Options{
			ID:       tc.ID,
			Addr:     addr,
			Path:     tc.Path,
			Params:   tc.Options,
			Pipeline: g.pipeline,
			Listen:   g.listenFunc(tc.Network),
			Logger:   g.baseLogger,
		})
		if err != nil {
			return fmt.Errorf("starting transport %q: %w", tc.ID, err)
		}

		g.mu.Lock()
		g.processes = append(g.processes, proc)
		g.mu.Unlock()
	}
	return nil
}

// waitForShutdownSignal waits for context cancellation or the first transport to exit.
func (g *Gateway) waitForShutdownSignal(ctx context.Context) error {
	g.mu.Lock()
	procs := append([]transport.Process(nil), g.processes...)
	g.mu.Unlock()

	exited := make(chan error, len(procs))
	for _, p := range procs {
		go func(p transport.Process) {
			err, ok := <-p.Done()
			if !ok {
				return
			}
			if err == nil {
				err = fmt.Errorf("transport %s stopped unexpectedly", p.ID())
			}
			exited <- err
		}(p)
	}

	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-exited:
		g.logger.Error("transport error", "error", err)
		return err
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// The caller's context is already canceled at this point.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops every transport, drains the dispatcher and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	g.mu.Lock()
	procs := g.processes
	g.processes = nil
	g.mu.Unlock()

	var errs []error
	for _, p := range procs {
		if err := p.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping transport %s: %w", p.ID(), err))
		}
	}

	if g.tsnetServer != nil {
		if err := g.tsnetServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tailscale shutdown: %w", err))
		}
	}

	if err := g.closeComponents(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// closeComponents closes whatever init managed to build.
func (g *Gateway) closeComponents() error {
	if g.dispatcher != nil {
		g.dispatcher.Close()
	}
	receiver.Close(g.receivers)
	if g.dedupe != nil {
		g.dedupe.Close()
	}
	if g.store != nil {
		if err := g.store.Close(); err != nil {
			return fmt.Errorf("store close: %w", err)
		}
	}
	return nil
}

func (g *Gateway) needsTailnet() bool {
	for _, tc := range g.config.Transports {
		if tc.Network == config.NetworkTailnet {
			return true
		}
	}
	return false
}

// defaultTailnetAddr is the port each transport type takes on the tailnet
// node when the config leaves addr empty.
var defaultTailnetAddr = map[string]string{
	"http":      ":80",
	"websocket": ":8081",
	"grpc":      ":50051",
}

func (g *Gateway) listenFunc(network string) transport.ListenFunc {
	if network == config.NetworkTailnet && g.tsnetServer != nil {
		return g.tsnetServer.Listen
	}
	return transport.TCPListen
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "beacon-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set tailscale.auth_key or TS_AUTHKEY")
	}
	return authKey, nil
}

// setupTailscale brings up the tsnet node that tailnet transports listen on.
func (g *Gateway) setupTailscale(ctx context.Context) error {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		g.tsnetServer = nil
		return fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)
	return nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// BootstrapAdmin creates the admin credential in the configured store if
// it does not exist yet. Returns true when it was created.
func BootstrapAdmin(ctx context.Context, cfg *config.Config, password string, logger *slog.Logger) (bool, error) {
	s, err := OpenStore(cfg)
	if err != nil {
		return false, err
	}
	defer s.Close()

	guard, err := NewGuard(cfg, s, logger)
	if err != nil {
		return false, err
	}
	return guard.EnsureAdmin(ctx, password)
}
