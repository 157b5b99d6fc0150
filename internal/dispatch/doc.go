// Package dispatch is the fanout backbone between transports and receivers.
//
// # Subscription Table
//
// New builds an immutable data type -> receivers table plus the set of all
// receivers. Nothing mutates it afterwards, so Publish and Broadcast are
// safe to call from any number of transport goroutines without locking.
//
// # Delivery
//
// Each distinct receiver gets a mailbox: a buffered channel drained by its
// own goroutine. Publish and Broadcast only enqueue. When a mailbox is full
// the event is dropped for that receiver and logged; other receivers are
// unaffected. Each Deliver call runs under a timeout, and errors or panics
// are logged and swallowed. There is no retry or acknowledgment.
//
//	d, _ := dispatch.New(table, nil, dispatch.Options{})
//	d.Publish("temperature", msg)   // 0 if nobody subscribes
//	d.Broadcast(&message.Inactive{AgentID: "a1"})
//
// InactivityBroadcaster wraps Broadcast for transports that detect silent
// agents.
package dispatch
