// ABOUTME: Tracks when each agent was last heard from over connectionless transports
// ABOUTME: A sweeper reports agents silent beyond the heartbeat timeout exactly once

package agent

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

const (
	// DefaultHeartbeatTimeout is how long an agent may stay silent before it is reported inactive.
	DefaultHeartbeatTimeout = 90 * time.Second

	// DefaultSweepInterval is how often the tracker checks for silent agents.
	DefaultSweepInterval = 15 * time.Second
)

// Presence is a snapshot of one tracked agent.
type Presence struct {
	AgentID   string
	Transport string // id of the transport that last saw the agent
	FirstSeen time.Time
	LastSeen  time.Time
}

// Tracker records agent activity. Agents enter on their first message and
// leave when they are swept or explicitly forgotten.
type Tracker struct {
	agents  map[string]*Presence
	mu      sync.RWMutex
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// NewTracker creates a Tracker with the given heartbeat timeout.
func NewTracker(timeout time.Duration, logger *slog.Logger) *Tracker {
	if timeout <= 0 {
		timeout = DefaultHeartbeatTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		agents:  make(map[string]*Presence),
		timeout: timeout,
		now:     time.Now,
		logger:  logger.With("component", "agent-tracker"),
	}
}

// Touch marks agentID as active now. Returns true when the agent was not
// being tracked before.
func (t *Tracker) Touch(agentID, transport string) bool {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if p, ok := t.agents[agentID]; ok {
		p.LastSeen = now
		p.Transport = transport
		return false
	}

	t.agents[agentID] = &Presence{
		AgentID:   agentID,
		Transport: transport,
		FirstSeen: now,
		LastSeen:  now,
	}
	t.logger.Info("agent active", "agent_id", agentID, "transport", transport, "tracked", len(t.agents))
	return true
}

// Forget stops tracking agentID without reporting it. Returns whether it was tracked.
func (t *Tracker) Forget(agentID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.agents[agentID]; !ok {
		return false
	}
	delete(t.agents, agentID)
	return true
}

// Get returns a copy of the agent's presence.
func (t *Tracker) Get(agentID string) (Presence, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.agents[agentID]
	if !ok {
		return Presence{}, false
	}
	return *p, true
}

// List returns all tracked agents sorted by id.
func (t *Tracker) List() []Presence {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Presence, 0, len(t.agents))
	for _, p := range t.agents {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// Sweep removes every agent silent for longer than the timeout and
// returns their ids, sorted.
func (t *Tracker) Sweep() []string {
	cutoff := t.now().Add(-t.timeout)

	t.mu.Lock()
	var expired []string
	for id, p := range t.agents {
		if p.LastSeen.Before(cutoff) {
			expired = append(expired, id)
			delete(t.agents, id)
		}
	}
	t.mu.Unlock()

	sort.Strings(expired)
	for _, id := range expired {
		t.logger.Info("agent inactive", "agent_id", id, "timeout", t.timeout)
	}
	return expired
}

// Run sweeps every interval until ctx is done, calling onInactive for
// each agent that went silent.
func (t *Tracker) Run(ctx context.Context, interval time.Duration, onInactive func(agentID string)) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range t.Sweep() {
				onInactive(id)
			}
		}
	}
}
