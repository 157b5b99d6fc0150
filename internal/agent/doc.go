// Package agent tracks agent liveness for transports that have no
// connection to watch.
//
// HTTP and gRPC requests are independent, so the gateway cannot notice an
// agent going away by a socket closing. Instead every accepted message
// touches the agent in a Tracker:
//
//	tracker := agent.NewTracker(cfg.Agents.HeartbeatTimeout, logger)
//	tracker.Touch("a1", "rest")
//
// Run sweeps on an interval and hands each agent silent for longer than
// the heartbeat timeout to a callback, once, before forgetting it. The
// gateway wires that callback to the inactivity broadcaster. An agent that
// speaks again after being swept is tracked afresh.
package agent
