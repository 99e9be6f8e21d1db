// Package events mirrors timer lifecycle events to an external message bus
// so backend consumers can observe timers without joining the WebSocket
// fan-out. Publishing is fire-and-forget; a failed publish never affects the
// timer itself.
package events

import "time"

// Event types mirrored to the bus.
const (
	TypeTimerCreated = "TimerCreated"
	TypeTimerStarted = "TimerStarted"
	TypeTimerPaused  = "TimerPaused"
	TypeTimerReset   = "TimerReset"
	TypeTimerDeleted = "TimerDeleted"
)

// Event is a timer lifecycle notification.
type Event struct {
	Type         string    `json:"type"`
	TimerID      string    `json:"timerId"`
	ControllerID string    `json:"controllerId"`
	At           time.Time `json:"at"`
}

// Sink publishes lifecycle events.
type Sink interface {
	Publish(ev Event) error
	Close()
}

// NopSink discards all events. Used when no bus is configured.
type NopSink struct{}

// Publish discards the event.
func (NopSink) Publish(Event) error { return nil }

// Close is a no-op.
func (NopSink) Close() {}
