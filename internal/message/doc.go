// Package message defines the canonical records that flow from transports
// to receivers.
//
// Message is one normalized agent submission. Inactive is the broadcast
// variant sent when an agent goes silent. Both implement Event, which is
// what the dispatcher and receivers handle.
//
// Normalize is the single entry point from decoded wire payloads:
//
//	msg, err := message.Normalize(fields, time.Now())
//	if errors.Is(err, message.ErrMalformedPayload) {
//	    // reject with a client error; never dispatched
//	}
package message
