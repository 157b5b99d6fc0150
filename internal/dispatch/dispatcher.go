// ABOUTME: Category-based fanout of normalized messages to configured receivers
// ABOUTME: Holds the read-only subscription table and the all-receivers set

package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/2389/beacon-gateway/internal/message"
)

const (
	// DefaultMailboxSize is the per-receiver queue length.
	DefaultMailboxSize = 256

	// DefaultDeliveryTimeout bounds a single Deliver call.
	DefaultDeliveryTimeout = 5 * time.Second
)

// Receiver is a downstream consumer of dispatched events.
type Receiver interface {
	Name() string
	Deliver(ctx context.Context, ev message.Event) error
}

// Options tunes delivery.
type Options struct {
	MailboxSize     int
	DeliveryTimeout time.Duration
	Logger          *slog.Logger
}

// Dispatcher routes messages by data type and broadcasts events to everyone.
// The table is fixed at construction so Publish and Broadcast take no locks.
type Dispatcher struct {
	table  map[string][]*mailbox
	all    []*mailbox
	logger *slog.Logger
}

// New builds a Dispatcher from a data type -> receivers table. Receivers in
// extra are part of the all-receivers set even when no category lists them.
// A receiver is identified by Name; listing one under several categories
// gives it a single mailbox.
func New(table map[string][]Receiver, extra []Receiver, opts Options) (*Dispatcher, error) {
	if opts.MailboxSize <= 0 {
		opts.MailboxSize = DefaultMailboxSize
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = DefaultDeliveryTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "dispatcher")

	byName := make(map[string]Receiver)
	register := func(r Receiver) error {
		if r == nil {
			return fmt.Errorf("nil receiver")
		}
		if existing, ok := byName[r.Name()]; ok && existing != r {
			return fmt.Errorf("duplicate receiver name %q", r.Name())
		}
		byName[r.Name()] = r
		return nil
	}

	for category, receivers := range table {
		for _, r := range receivers {
			if err := register(r); err != nil {
				return nil, fmt.Errorf("category %q: %w", category, err)
			}
		}
	}
	for _, r := range extra {
		if err := register(r); err != nil {
			return nil, err
		}
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	mailboxes := make(map[string]*mailbox, len(byName))
	all := make([]*mailbox, 0, len(byName))
	for _, name := range names {
		mb := newMailbox(byName[name], opts.MailboxSize, opts.DeliveryTimeout, logger)
		mailboxes[name] = mb
		all = append(all, mb)
	}

	routes := make(map[string][]*mailbox, len(table))
	for category, receivers := range table {
		seen := make(map[string]bool, len(receivers))
		for _, r := range receivers {
			if seen[r.Name()] {
				continue
			}
			seen[r.Name()] = true
			routes[category] = append(routes[category], mailboxes[r.Name()])
		}
	}

	logger.Info("dispatcher ready", "categories", len(routes), "receivers", len(all))

	return &Dispatcher{
		table:  routes,
		all:    all,
		logger: logger,
	}, nil
}

// Publish hands msg to every receiver subscribed to category and returns
// how many accepted it. An unknown category has no subscribers and
// returns 0 without error.
func (d *Dispatcher) Publish(category string, msg *message.Message) int {
	targets, ok := d.table[category]
	if !ok {
		d.logger.Debug("no subscribers", "data_type", category, "agent_id", msg.AgentID)
		return 0
	}
	return offerAll(targets, msg)
}

// Broadcast hands ev to every configured receiver regardless of category.
func (d *Dispatcher) Broadcast(ev message.Event) int {
	return offerAll(d.all, ev)
}

// Categories lists the configured data types, sorted.
func (d *Dispatcher) Categories() []string {
	out := make([]string, 0, len(d.table))
	for c := range d.table {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Receivers lists the names in the all-receivers set, sorted.
func (d *Dispatcher) Receivers() []string {
	out := make([]string, len(d.all))
	for i, mb := range d.all {
		out[i] = mb.receiver.Name()
	}
	return out
}

// Close stops every mailbox after draining what is already queued.
func (d *Dispatcher) Close() {
	for _, mb := range d.all {
		mb.close()
	}
	d.logger.Debug("dispatcher closed")
}

func offerAll(targets []*mailbox, ev message.Event) int {
	accepted := 0
	for _, mb := range targets {
		if mb.offer(ev) {
			accepted++
		}
	}
	return accepted
}
