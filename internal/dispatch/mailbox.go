// ABOUTME: Per-receiver delivery queue with a dedicated worker goroutine
// ABOUTME: Enqueue never blocks; events are dropped when the queue is full

package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/beacon-gateway/internal/message"
)

// mailbox owns delivery to a single receiver. A slow or failing receiver
// only ever backs up its own queue.
type mailbox struct {
	receiver Receiver
	ch       chan message.Event
	timeout  time.Duration
	logger   *slog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func newMailbox(r Receiver, size int, timeout time.Duration, logger *slog.Logger) *mailbox {
	mb := &mailbox{
		receiver: r,
		ch:       make(chan message.Event, size),
		timeout:  timeout,
		logger:   logger.With("receiver", r.Name()),
		done:     make(chan struct{}),
	}
	go mb.run()
	return mb
}

// offer enqueues ev without blocking. Returns false if the event was dropped.
func (mb *mailbox) offer(ev message.Event) bool {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	if mb.closed {
		return false
	}

	select {
	case mb.ch <- ev:
		return true
	default:
		mb.logger.Warn("dropped event for slow receiver",
			"kind", ev.Kind(),
			"agent_id", ev.Agent())
		return false
	}
}

func (mb *mailbox) run() {
	defer close(mb.done)
	for ev := range mb.ch {
		mb.deliver(ev)
	}
}

// deliver hands one event to the receiver, isolating errors and panics.
func (mb *mailbox) deliver(ev message.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), mb.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			mb.logger.Error("receiver panicked", "kind", ev.Kind(), "panic", fmt.Sprint(r))
		}
	}()

	if err := mb.receiver.Deliver(ctx, ev); err != nil {
		mb.logger.Warn("delivery failed",
			"kind", ev.Kind(),
			"agent_id", ev.Agent(),
			"error", err)
		return
	}
	mb.logger.Debug("delivered", "kind", ev.Kind(), "agent_id", ev.Agent())
}

// close stops accepting events and waits for queued ones to drain.
func (mb *mailbox) close() {
	mb.mu.Lock()
	if mb.closed {
		mb.mu.Unlock()
		<-mb.done
		return
	}
	mb.closed = true
	close(mb.ch)
	mb.mu.Unlock()

	<-mb.done
}
