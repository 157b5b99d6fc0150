// ABOUTME: Fake telemetry agent for E2E testing; opens a session and emits metrics
// ABOUTME: Usage: fake-agent [--transport http|ws|grpc] [--addr host:port] -u USER -p PASS

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/2389/beacon-gateway/internal/client"
	"github.com/2389/beacon-gateway/internal/codec"
)

type options struct {
	transport  string
	addr       string
	sessionURL string
	username   string
	password   string
	agentID    string
	dataType   string
	interval   time.Duration
	count      int
	cbor       bool
}

// sender delivers one payload over a specific transport.
type sender interface {
	Send(ctx context.Context, fields map[string]any) (string, error)
	Close() error
}

func main() {
	var opts options
	fs := pflag.NewFlagSet("fake-agent", pflag.ContinueOnError)
	fs.StringVarP(&opts.transport, "transport", "t", "http", "transport to publish over: http, ws or grpc")
	fs.StringVar(&opts.addr, "addr", "", "transport address (default per transport: localhost:8080, :8081, :50051)")
	fs.StringVar(&opts.sessionURL, "session-url", "http://localhost:8080", "HTTP API used to open sessions for the ws transport")
	fs.StringVarP(&opts.username, "username", "u", os.Getenv("BEACON_USERNAME"), "agent username")
	fs.StringVarP(&opts.password, "password", "p", os.Getenv("BEACON_PASSWORD"), "agent password")
	fs.StringVar(&opts.agentID, "id", "e2e-fake-agent", "agent id")
	fs.StringVar(&opts.dataType, "data-type", "temperature", "data type of emitted metrics")
	fs.DurationVar(&opts.interval, "interval", 2*time.Second, "time between metrics")
	fs.IntVarP(&opts.count, "count", "n", 0, "number of metrics to send (0 runs until interrupted)")
	fs.BoolVar(&opts.cbor, "cbor", false, "encode payloads as CBOR (http and ws)")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil)).With("agent_id", opts.agentID, "transport", opts.transport)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts, logger); err != nil {
		logger.Error("fake agent failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, logger *slog.Logger) error {
	s, err := connect(ctx, opts)
	if err != nil {
		return err
	}
	defer s.Close()
	logger.Info("session opened")

	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()

	for sent := 0; opts.count == 0 || sent < opts.count; sent++ {
		fields := sample(opts.agentID, opts.dataType)
		id, err := s.Send(ctx, fields)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("sending metric: %w", err)
		}
		logger.Info("metric sent", "id", id, "value", fields["value"])

		if opts.count != 0 && sent+1 == opts.count {
			break
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

func connect(ctx context.Context, opts options) (sender, error) {
	var bodyCodec codec.Codec = codec.JSON
	if opts.cbor {
		bodyCodec = codec.CBOR
	}

	switch opts.transport {
	case "http":
		addr := orDefault(opts.addr, "localhost:8080")
		return newHTTPSender(ctx, client.New("http://"+addr, client.WithCodec(bodyCodec)), opts)
	case "ws", "websocket":
		addr := orDefault(opts.addr, "localhost:8081")
		token, err := client.New(opts.sessionURL).OpenSession(ctx, opts.username, opts.password, opts.agentID)
		if err != nil {
			return nil, fmt.Errorf("opening session: %w", err)
		}
		return dialWebSocket(ctx, "ws://"+addr+"/ws", token, bodyCodec)
	case "grpc":
		return dialGRPC(ctx, orDefault(opts.addr, "localhost:50051"), opts)
	default:
		return nil, fmt.Errorf("unknown transport %q", opts.transport)
	}
}

// sample builds one synthetic reading.
func sample(agentID, dataType string) map[string]any {
	return map[string]any{
		"agent-id":   agentID,
		"data-type":  dataType,
		"message-id": uuid.NewString(),
		"value":      18 + rand.Float64()*8,
		"sampled-at": time.Now().UTC().Format(time.RFC3339),
	}
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
