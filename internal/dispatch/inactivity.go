// ABOUTME: Turns an agent id into a broadcast inactive event
// ABOUTME: Gives transports one call for signaling liveness loss

package dispatch

import (
	"time"

	"github.com/2389/beacon-gateway/internal/message"
)

// Broadcaster is the part of Dispatcher the inactivity path needs.
type Broadcaster interface {
	Broadcast(ev message.Event) int
}

// InactivityBroadcaster has no state beyond its dispatcher.
type InactivityBroadcaster struct {
	dispatcher Broadcaster
	now        func() time.Time
}

// NewInactivityBroadcaster wraps d.
func NewInactivityBroadcaster(d Broadcaster) *InactivityBroadcaster {
	return &InactivityBroadcaster{dispatcher: d, now: time.Now}
}

// PublishInactive broadcasts that agentID went silent and returns how many
// receivers accepted the event.
func (b *InactivityBroadcaster) PublishInactive(agentID string) int {
	return b.dispatcher.Broadcast(&message.Inactive{
		AgentID: agentID,
		At:      b.now().UTC(),
	})
}
