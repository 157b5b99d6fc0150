// Package gateway orchestrates the beacon-gateway server components.
//
// # Overview
//
// New builds everything from a *config.Config:
//
//   - the SQLite credential store (database.path, or BEACON_DB_PATH)
//   - the auth guard, seeding the admin credential when auth.admin_password is set
//   - the receivers and the data type -> receivers subscription table
//   - the dispatcher, dedupe cache, liveness tracker and transport pipeline
//
// Run then starts every configured transport through the transport
// registry, runs the liveness sweeper, and blocks until its context is
// canceled or a transport exits. Shutdown order is transports, tailscale,
// dispatcher (draining queued events), receivers, dedupe, store.
//
// # Tailscale
//
// Transports with network: tailnet listen on a tsnet node brought up
// before any transport starts. The node needs tailscale.hostname and an
// auth key from tailscale.auth_key or TS_AUTHKEY. State lives in
// tailscale.state_dir, defaulting to ~/.local/share/beacon-gateway/tailscale.
//
// # Bootstrap
//
// BootstrapAdmin creates the admin credential without starting the
// server; cmd/beacon-gateway exposes it as the bootstrap command.
package gateway
