// Package config handles configuration loading for beacon-gateway.
//
// # Configuration File
//
// The file is YAML unless its name ends in .toml. The gateway looks for it at:
//
//  1. the --config flag
//  2. $BEACON_CONFIG
//  3. $XDG_CONFIG_HOME/beacon/gateway.yaml (or ~/.config/beacon/gateway.yaml)
//
// # Environment Variable Expansion
//
// Any value can reference the environment before parsing:
//
//	auth:
//	  jwt_secret: "${BEACON_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Durations
//
// Durations are written as Go duration strings ("90s", "5m") and parsed
// into the typed fields next to their raw counterparts.
//
// # Routing
//
// receivers lists every destination by name; subscriptions maps a data
// type to the receiver names that get it. A receiver subscribed to nothing
// still receives inactivity broadcasts.
package config
