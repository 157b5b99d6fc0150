// ABOUTME: Configuration loading and parsing for beacon-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Transport and receiver implementation names accepted in config.
var (
	TransportTypes = []string{"http", "websocket", "grpc"}
	ReceiverTypes  = []string{"log", "webhook", "mqtt", "matrix"}
)

// Network values for a transport listener.
const (
	NetworkTCP     = "tcp"
	NetworkTailnet = "tailnet"
)

// MinJWTSecretLength mirrors the HS256 secret floor enforced by auth.
const MinJWTSecretLength = 32

// Config represents the complete beacon-gateway configuration
type Config struct {
	Database      DatabaseConfig      `yaml:"database" toml:"database"`
	Auth          AuthConfig          `yaml:"auth" toml:"auth"`
	Agents        AgentsConfig        `yaml:"agents" toml:"agents"`
	Dispatch      DispatchConfig      `yaml:"dispatch" toml:"dispatch"`
	Dedupe        DedupeConfig        `yaml:"dedupe" toml:"dedupe"`
	Tailscale     TailscaleConfig     `yaml:"tailscale" toml:"tailscale"`
	Transports    []TransportConfig   `yaml:"transports" toml:"transports"`
	Receivers     []ReceiverConfig    `yaml:"receivers" toml:"receivers"`
	Subscriptions map[string][]string `yaml:"subscriptions" toml:"subscriptions"`
	Logging       LoggingConfig       `yaml:"logging" toml:"logging"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds token signing and admin identity settings
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret" toml:"jwt_secret"`
	TokenTTL      time.Duration `yaml:"-" toml:"-"`
	AdminUsername string        `yaml:"admin_username" toml:"admin_username"`
	AdminPassword string        `yaml:"admin_password" toml:"admin_password"` // optional; seeds the admin on serve

	TokenTTLRaw string `yaml:"token_ttl" toml:"token_ttl"`
}

// AgentsConfig holds liveness timing for connectionless transports
type AgentsConfig struct {
	HeartbeatTimeout time.Duration `yaml:"-" toml:"-"`
	SweepInterval    time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	HeartbeatTimeoutRaw string `yaml:"heartbeat_timeout" toml:"heartbeat_timeout"`
	SweepIntervalRaw    string `yaml:"sweep_interval" toml:"sweep_interval"`
}

// DispatchConfig sizes the per-receiver mailboxes
type DispatchConfig struct {
	MailboxSize     int           `yaml:"mailbox_size" toml:"mailbox_size"`
	DeliveryTimeout time.Duration `yaml:"-" toml:"-"`

	DeliveryTimeoutRaw string `yaml:"delivery_timeout" toml:"delivery_timeout"`
}

// DedupeConfig bounds the message-id dedupe window
type DedupeConfig struct {
	TTL        time.Duration `yaml:"-" toml:"-"`
	MaxEntries int           `yaml:"max_entries" toml:"max_entries"`

	TTLRaw string `yaml:"ttl" toml:"ttl"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
}

// TransportConfig describes one transport instance to start
type TransportConfig struct {
	ID      string            `yaml:"id" toml:"id"`
	Type    string            `yaml:"type" toml:"type"`
	Addr    string            `yaml:"addr" toml:"addr"`
	Network string            `yaml:"network" toml:"network"` // "tcp" (default) or "tailnet"
	Path    string            `yaml:"path" toml:"path"`       // route prefix for http/websocket
	Options map[string]string `yaml:"options" toml:"options"`
}

// ReceiverConfig describes one receiver. Which fields matter depends on Type.
type ReceiverConfig struct {
	Name string `yaml:"name" toml:"name"`
	Type string `yaml:"type" toml:"type"`

	// webhook
	URL        string        `yaml:"url" toml:"url"`
	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`

	// mqtt
	Broker   string `yaml:"broker" toml:"broker"`
	Topic    string `yaml:"topic" toml:"topic"`
	ClientID string `yaml:"client_id" toml:"client_id"`
	QoS      int    `yaml:"qos" toml:"qos"`
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`

	// matrix
	Homeserver  string `yaml:"homeserver" toml:"homeserver"`
	UserID      string `yaml:"user_id" toml:"user_id"`
	AccessToken string `yaml:"access_token" toml:"access_token"`
	RoomID      string `yaml:"room_id" toml:"room_id"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data, strings.EqualFold(filepath.Ext(path), ".toml"))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes raw config bytes, applies defaults, parses durations and validates.
func Parse(data []byte, isTOML bool) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if isTOML {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// DefaultPath resolves the config location when no --config flag is given:
// $BEACON_CONFIG, then $XDG_CONFIG_HOME/beacon/gateway.yaml, then
// ~/.config/beacon/gateway.yaml.
func DefaultPath() string {
	if p := os.Getenv("BEACON_CONFIG"); p != "" {
		return p
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".config", "beacon", "gateway.yaml")
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "beacon", "gateway.yaml")
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = time.Hour
	}
	if c.Auth.AdminUsername == "" {
		c.Auth.AdminUsername = "admin"
	}
	if c.Agents.HeartbeatTimeout == 0 {
		c.Agents.HeartbeatTimeout = 90 * time.Second
	}
	if c.Agents.SweepInterval == 0 {
		c.Agents.SweepInterval = 15 * time.Second
	}
	if c.Dispatch.MailboxSize == 0 {
		c.Dispatch.MailboxSize = 256
	}
	if c.Dispatch.DeliveryTimeout == 0 {
		c.Dispatch.DeliveryTimeout = 5 * time.Second
	}
	if c.Dedupe.TTL == 0 {
		c.Dedupe.TTL = 5 * time.Minute
	}
	if c.Dedupe.MaxEntries == 0 {
		c.Dedupe.MaxEntries = 100_000
	}
	for i := range c.Transports {
		if c.Transports[i].Network == "" {
			c.Transports[i].Network = NetworkTCP
		}
	}
	for i := range c.Receivers {
		if c.Receivers[i].Type == "webhook" && c.Receivers[i].Timeout == 0 {
			c.Receivers[i].Timeout = 5 * time.Second
		}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if len(c.Auth.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", MinJWTSecretLength)
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if len(c.Transports) == 0 {
		return fmt.Errorf("at least one transport is required")
	}
	seenTransports := make(map[string]bool)
	for i, t := range c.Transports {
		if t.ID == "" {
			return fmt.Errorf("transports[%d].id is required", i)
		}
		if seenTransports[t.ID] {
			return fmt.Errorf("transports[%d]: duplicate id %q", i, t.ID)
		}
		seenTransports[t.ID] = true
		if !slices.Contains(TransportTypes, t.Type) {
			return fmt.Errorf("transport %q: unknown type %q", t.ID, t.Type)
		}
		switch t.Network {
		case NetworkTCP:
			if t.Addr == "" {
				return fmt.Errorf("transport %q: addr is required", t.ID)
			}
		case NetworkTailnet:
			if !c.Tailscale.Enabled {
				return fmt.Errorf("transport %q: network tailnet requires tailscale.enabled", t.ID)
			}
		default:
			return fmt.Errorf("transport %q: unknown network %q", t.ID, t.Network)
		}
	}
	if c.Tailscale.Enabled && !slices.ContainsFunc(c.Transports, func(t TransportConfig) bool {
		return t.Network == NetworkTailnet
	}) {
		return fmt.Errorf("tailscale.enabled is set but no transport uses network: tailnet")
	}

	receivers := make(map[string]bool)
	for i, r := range c.Receivers {
		if r.Name == "" {
			return fmt.Errorf("receivers[%d].name is required", i)
		}
		if receivers[r.Name] {
			return fmt.Errorf("receivers[%d]: duplicate name %q", i, r.Name)
		}
		receivers[r.Name] = true
		if err := r.validate(); err != nil {
			return err
		}
	}

	for dataType, names := range c.Subscriptions {
		if dataType == "" {
			return fmt.Errorf("subscriptions: empty data type")
		}
		for _, name := range names {
			if !receivers[name] {
				return fmt.Errorf("subscriptions.%s: unknown receiver %q", dataType, name)
			}
		}
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(c.Logging.Level)) {
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}

	return nil
}

func (r ReceiverConfig) validate() error {
	switch r.Type {
	case "log":
	case "webhook":
		if r.URL == "" {
			return fmt.Errorf("receiver %q: url is required", r.Name)
		}
	case "mqtt":
		if r.Broker == "" {
			return fmt.Errorf("receiver %q: broker is required", r.Name)
		}
		if r.Topic == "" {
			return fmt.Errorf("receiver %q: topic is required", r.Name)
		}
		if r.QoS < 0 || r.QoS > 2 {
			return fmt.Errorf("receiver %q: qos must be 0, 1 or 2", r.Name)
		}
	case "matrix":
		if r.Homeserver == "" || r.UserID == "" || r.AccessToken == "" || r.RoomID == "" {
			return fmt.Errorf("receiver %q: homeserver, user_id, access_token and room_id are required", r.Name)
		}
	default:
		return fmt.Errorf("receiver %q: unknown type %q", r.Name, r.Type)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
		{"agents.heartbeat_timeout", cfg.Agents.HeartbeatTimeoutRaw, &cfg.Agents.HeartbeatTimeout},
		{"agents.sweep_interval", cfg.Agents.SweepIntervalRaw, &cfg.Agents.SweepInterval},
		{"dispatch.delivery_timeout", cfg.Dispatch.DeliveryTimeoutRaw, &cfg.Dispatch.DeliveryTimeout},
		{"dedupe.ttl", cfg.Dedupe.TTLRaw, &cfg.Dedupe.TTL},
	}
	for i := range cfg.Receivers {
		r := &cfg.Receivers[i]
		fields = append(fields, struct {
			name string
			raw  string
			dst  *time.Duration
		}{fmt.Sprintf("receivers[%d].timeout", i), r.TimeoutRaw, &r.Timeout})
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("parsing %s %q: must not be negative", f.name, f.raw)
		}
		*f.dst = d
	}
	return nil
}
