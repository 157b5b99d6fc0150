// Package receiver holds the destinations the dispatcher delivers to.
//
// Four kinds are built from config:
//
//   - log: one structured log line per event
//   - webhook: HTTP POST of the JSON Envelope
//   - mqtt: JSON Envelope published to <topic>/<data_type>
//   - matrix: one line of text posted to a room
//
// Receivers never see each other's failures; the dispatcher gives each its
// own mailbox and delivery deadline.
package receiver
