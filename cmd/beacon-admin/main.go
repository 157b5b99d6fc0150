// ABOUTME: Admin CLI for beacon-gateway: provisions agent credentials and requests sessions
// ABOUTME: Talks to the gateway's HTTP transport

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/2389/beacon-gateway/internal/client"
	"github.com/2389/beacon-gateway/internal/codec"
)

const defaultURL = "http://localhost:8080"

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: beacon-admin <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  user create   Provision an agent credential (admin only)")
	fmt.Fprintln(w, "  session       Exchange agent credentials for a bearer token")
	fmt.Fprintln(w, "  health        Check gateway health")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment:")
	fmt.Fprintln(w, "  BEACON_URL             Gateway HTTP base URL (default "+defaultURL+")")
	fmt.Fprintln(w, "  BEACON_ADMIN_USER      Admin username for user create (default admin)")
	fmt.Fprintln(w, "  BEACON_ADMIN_PASSWORD  Admin password for user create")
}

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "user":
		if len(rest) == 0 || rest[0] != "create" {
			return errors.New("usage: beacon-admin user create [--username NAME] [--password PW]")
		}
		return cmdUserCreate(ctx, rest[1:], out)
	case "session":
		return cmdSession(ctx, rest, out)
	case "health":
		return cmdHealth(ctx, rest, out)
	case "help", "-h", "--help":
		printUsage(out)
		return nil
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

// commonFlags are shared by every command.
type commonFlags struct {
	url     string
	cbor    bool
	timeout time.Duration
	json    bool
}

func newFlagSet(name string, cf *commonFlags) *pflag.FlagSet {
	fs := pflag.NewFlagSet("beacon-admin "+name, pflag.ContinueOnError)
	fs.StringVar(&cf.url, "url", envOr("BEACON_URL", defaultURL), "gateway HTTP base URL, including any path prefix")
	fs.BoolVar(&cf.cbor, "cbor", false, "send and receive CBOR bodies instead of JSON")
	fs.DurationVar(&cf.timeout, "timeout", 10*time.Second, "request timeout")
	fs.BoolVar(&cf.json, "json", false, "print the result as JSON")
	return fs
}

func (cf *commonFlags) client() *client.Client {
	opts := []client.Option{}
	if cf.cbor {
		opts = append(opts, client.WithCodec(codec.CBOR))
	}
	return client.New(cf.url, opts...)
}

func cmdUserCreate(ctx context.Context, args []string, out io.Writer) error {
	var cf commonFlags
	var adminUser, adminPass, username, password string
	fs := newFlagSet("user create", &cf)
	fs.StringVar(&adminUser, "admin-user", envOr("BEACON_ADMIN_USER", "admin"), "admin username")
	fs.StringVar(&adminPass, "admin-password", os.Getenv("BEACON_ADMIN_PASSWORD"), "admin password")
	fs.StringVar(&username, "username", "", "username for the new credential (default: generated)")
	fs.StringVar(&password, "password", "", "password for the new credential (default: generated)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if adminPass == "" {
		return errors.New("--admin-password or BEACON_ADMIN_PASSWORD is required")
	}

	ctx, cancel := context.WithTimeout(ctx, cf.timeout)
	defer cancel()

	acct, err := cf.client().CreateUser(ctx, adminUser, adminPass, username, password)
	if err != nil {
		if errors.Is(err, client.ErrConflict) {
			return fmt.Errorf("username %q is already taken", username)
		}
		return err
	}

	if cf.json {
		return printJSON(out, map[string]string{"username": acct.Username, "password": acct.Password})
	}
	green := color.New(color.FgGreen)
	green.Fprintln(out, "Credential created")
	fmt.Fprintf(out, "  Username: %s\n", acct.Username)
	fmt.Fprintf(out, "  Password: %s\n", acct.Password)
	color.New(color.FgYellow).Fprintln(out, "\nStore the password now; it cannot be recovered.")
	return nil
}

func cmdSession(ctx context.Context, args []string, out io.Writer) error {
	var cf commonFlags
	var username, password, agentID string
	fs := newFlagSet("session", &cf)
	fs.StringVarP(&username, "username", "u", "", "agent username")
	fs.StringVarP(&password, "password", "p", os.Getenv("BEACON_PASSWORD"), "agent password (default $BEACON_PASSWORD)")
	fs.StringVarP(&agentID, "agent-id", "a", "", "agent id the token is bound to")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if username == "" || agentID == "" {
		return errors.New("--username and --agent-id are required")
	}

	ctx, cancel := context.WithTimeout(ctx, cf.timeout)
	defer cancel()

	token, err := cf.client().OpenSession(ctx, username, password, agentID)
	if err != nil {
		return err
	}
	if cf.json {
		return printJSON(out, map[string]string{"token": token})
	}
	fmt.Fprintln(out, token)
	return nil
}

func cmdHealth(ctx context.Context, args []string, out io.Writer) error {
	var cf commonFlags
	fs := newFlagSet("health", &cf)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, cf.timeout)
	defer cancel()

	if err := cf.client().Health(ctx); err != nil {
		return err
	}
	if cf.json {
		return printJSON(out, map[string]string{"status": "healthy"})
	}
	color.New(color.FgGreen).Fprintln(out, "healthy")
	return nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
