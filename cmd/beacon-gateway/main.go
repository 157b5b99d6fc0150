// ABOUTME: Entry point for the beacon-gateway telemetry server
// ABOUTME: Provides serve, bootstrap and health commands

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/2389/beacon-gateway/internal/client"
	"github.com/2389/beacon-gateway/internal/config"
	"github.com/2389/beacon-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  _                                                 _
 | |__   ___  __ _  ___ ___  _ __         __ _  ___| |_ _____      ____ _ _   _
 | '_ \ / _ \/ _' |/ __/ _ \| '_ \ _____ / _' |/ _ \ __/ _ \ \ /\ / / _' | | | |
 | |_) |  __/ (_| | (_| (_) | | | |_____| (_| |  __/ ||  __/\ V  V / (_| | |_| |
 |_.__/ \___|\__,_|\___\___/|_| |_|      \__, |\___|\__\___| \_/\_/ \__,_|\__, |
                                         |___/                            |___/
`

func usage() {
	fmt.Println("Usage: beacon-gateway <command> [--config PATH]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                   Start the gateway server")
	fmt.Println("  bootstrap [--password]  Write a starter config and create the admin credential")
	fmt.Println("  health                  Check gateway health over HTTP")
	fmt.Println("  version                 Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	args := os.Args[2:]
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, args)
	case "bootstrap":
		err = runBootstrap(ctx, args)
	case "health":
		err = runHealth(ctx, args)
	case "version", "--version":
		fmt.Println(version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newFlagSet returns a flag set carrying the shared --config flag.
func newFlagSet(name string, configPath *string) *pflag.FlagSet {
	fs := pflag.NewFlagSet("beacon-gateway "+name, pflag.ContinueOnError)
	fs.StringVarP(configPath, "config", "c", config.DefaultPath(), "path to the gateway config file (.yaml or .toml)")
	return fs
}

func runServe(ctx context.Context, args []string) error {
	var configPath string
	fs := newFlagSet("serve", &configPath)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	for _, tc := range cfg.Transports {
		green.Print("    ▶ ")
		fmt.Printf("%-10s %s %s", tc.Type+":", tc.ID, tc.Addr)
		if tc.Network == config.NetworkTailnet {
			cyan.Printf(" [tailnet %s]", cfg.Tailscale.Hostname)
		}
		fmt.Println()
	}
	green.Print("    ▶ ")
	fmt.Printf("Receivers: %d\n\n", len(cfg.Receivers))

	logger.Info("starting beacon-gateway", "config", configPath, "version", version)

	gw, err := gateway.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	return gw.Run(ctx)
}

// runBootstrap performs first-time setup:
//  1. writes a starter config with a random JWT secret if none exists
//  2. creates the database and the admin credential
//
// The admin password comes from --password, then BEACON_ADMIN_PASSWORD,
// and is generated and printed once when neither is set.
func runBootstrap(ctx context.Context, args []string) error {
	var configPath, password string
	fs := newFlagSet("bootstrap", &configPath)
	fs.StringVarP(&password, "password", "p", "", "admin password (default: $BEACON_ADMIN_PASSWORD or generated)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		if err := writeStarterConfig(configPath); err != nil {
			return err
		}
		green.Printf("  ✓ Created config: %s\n", configPath)
	} else {
		cyan.Printf("  Using existing config: %s\n", configPath)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if password == "" {
		password = os.Getenv("BEACON_ADMIN_PASSWORD")
	}
	generated := false
	if password == "" {
		password, err = randomString(24)
		if err != nil {
			return fmt.Errorf("generating admin password: %w", err)
		}
		generated = true
	}

	logger := setupLogger(config.LoggingConfig{Level: "warn"}, os.Stderr)
	created, err := gateway.BootstrapAdmin(ctx, cfg, password, logger)
	if err != nil {
		return fmt.Errorf("creating admin credential: %w", err)
	}
	green.Printf("  ✓ Database: %s\n", cfg.Database.Path)

	if !created {
		yellow.Printf("  Admin %q already exists; nothing changed.\n", cfg.Auth.AdminUsername)
		return nil
	}

	green.Printf("  ✓ Created admin: %s\n", cfg.Auth.AdminUsername)
	if generated {
		fmt.Println()
		cyan.Println("  Admin password (shown once)")
		cyan.Println("  ---------------------------")
		fmt.Printf("  %s\n", password)
	}
	fmt.Println()
	yellow.Println("  Ready to go:")
	fmt.Println("    beacon-gateway serve          # start the gateway")
	fmt.Println("    beacon-admin user create      # provision an agent credential")
	fmt.Println()
	return nil
}

func writeStarterConfig(path string) error {
	secret, err := randomString(48)
	if err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}

	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolving data directory: %w", err)
		}
		dataDir = filepath.Join(home, ".local", "share")
	}
	dataDir = filepath.Join(dataDir, "beacon")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	content := fmt.Sprintf(`# beacon-gateway configuration
# Generated by beacon-gateway bootstrap

database:
  path: %q

auth:
  jwt_secret: %q
  token_ttl: "1h"

transports:
  - { id: "rest", type: "http", addr: "localhost:8080" }
  - { id: "ws", type: "websocket", addr: "localhost:8081" }
  - { id: "rpc", type: "grpc", addr: "localhost:50051" }

receivers:
  - { name: "audit", type: "log" }

logging:
  level: "info"
  format: "text"
`, filepath.Join(dataDir, "gateway.db"), secret)

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func runHealth(ctx context.Context, args []string) error {
	var configPath, addr string
	fs := newFlagSet("health", &configPath)
	fs.StringVar(&addr, "addr", "", "HTTP transport address (default: first http transport in config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	prefix := ""
	if addr == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		tc, ok := firstHTTPTransport(cfg)
		if !ok {
			return errors.New("no http transport configured; pass --addr")
		}
		addr, prefix = dialableAddr(tc.Addr), tc.Path
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.New("http://" + addr + prefix).Health(ctx); err != nil {
		return fmt.Errorf("unhealthy: %w", err)
	}
	fmt.Println("healthy")
	return nil
}

func firstHTTPTransport(cfg *config.Config) (config.TransportConfig, bool) {
	for _, tc := range cfg.Transports {
		if tc.Type == "http" && tc.Network != config.NetworkTailnet {
			return tc, true
		}
	}
	return config.TransportConfig{}, false
}

// dialableAddr turns a listen address like ":8080" or "0.0.0.0:8080"
// into one a local client can connect to.
func dialableAddr(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}
