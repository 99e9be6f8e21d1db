// Package engine is the synchronization core: a single event loop that
// validates inbound commands, applies them to timer entities, and fans the
// resulting snapshots out to every connected viewer. Commands, ticks and
// disconnects all funnel into the one loop, so registry and entity state is
// mutated run-to-completion without locking.
package engine

import (
	"context"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"stagetimer-server/internal/events"
	"stagetimer-server/internal/registry"
	"stagetimer-server/internal/timer"
)

// DefaultMaxTimers is the per-controller creation quota when the command
// does not supply one.
const DefaultMaxTimers = 3

// Sender delivers a frame to a session. A false return means the session no
// longer resolves; the engine reacts by evicting it from the viewer set.
type Sender interface {
	Send(sessionID string, frame []byte) bool
}

type command struct {
	sessionID string
	frame     []byte
}

// Engine routes commands to timers and owns the broadcast step.
type Engine struct {
	registry *registry.Registry
	index    *registry.ControllerIndex
	sender   Sender
	sink     events.Sink
	clock    clockwork.Clock

	commands    chan command
	ticks       chan string
	disconnects chan string

	// sessionTimers maps a session to the one timer it currently views.
	sessionTimers map[string]string
}

// New wires the engine against its collaborators. Call Run to start the
// loop.
func New(reg *registry.Registry, index *registry.ControllerIndex, sender Sender, sink events.Sink, clock clockwork.Clock) *Engine {
	return &Engine{
		registry:      reg,
		index:         index,
		sender:        sender,
		sink:          sink,
		clock:         clock,
		commands:      make(chan command, 256),
		ticks:         make(chan string, 256),
		disconnects:   make(chan string, 64),
		sessionTimers: make(map[string]string),
	}
}

// Run processes commands, ticks and disconnects until the context is
// cancelled. Everything that mutates timers happens on this goroutine.
func (e *Engine) Run(ctx context.Context) {
	log.Info().Msg("engine loop started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("engine loop shutting down")
			return
		case cmd := <-e.commands:
			e.dispatch(cmd.sessionID, cmd.frame)
		case timerID := <-e.ticks:
			e.handleTick(timerID)
		case sessionID := <-e.disconnects:
			e.handleDisconnect(sessionID)
		}
	}
}

// Submit enqueues an inbound frame for the loop. Frames are dropped when the
// loop is saturated; the snapshot-on-every-mutation model means the client
// recovers on the next tick or command.
func (e *Engine) Submit(sessionID string, frame []byte) {
	select {
	case e.commands <- command{sessionID: sessionID, frame: frame}:
	default:
		log.Warn().Str("session_id", sessionID).Msg("command queue full, dropping frame")
	}
}

// Disconnected reports that a session's channel is gone. Blocks until the
// loop accepts it so viewer cleanup is never lost.
func (e *Engine) Disconnected(sessionID string) {
	e.disconnects <- sessionID
}

// handleTick recomputes a running timer and fans out the fresh snapshot. A
// tick for a timer deleted since it was queued resolves to nothing.
func (e *Engine) handleTick(timerID string) {
	t, ok := e.registry.Lookup(timerID)
	if !ok {
		return
	}
	t.Tick()
	e.broadcast(t)
}

// handleDisconnect detaches the session from the timer it was viewing and
// from every controller that tracked it.
func (e *Engine) handleDisconnect(sessionID string) {
	if timerID, ok := e.sessionTimers[sessionID]; ok {
		delete(e.sessionTimers, sessionID)
		if t, found := e.registry.Lookup(timerID); found {
			t.RemoveViewer(sessionID)
			e.broadcast(t)
		}
	}
	e.index.UntrackSession(sessionID)
}

// broadcast delivers the timer's snapshot to every connected viewer. A
// session whose channel no longer resolves is silently evicted; iteration
// runs over a copy of the viewer set, so removal mid fan-out is safe.
func (e *Engine) broadcast(t *timer.Timer) {
	frame := marshal(notifyTimerUpdate, t.Snapshot())
	if frame == nil {
		return
	}
	for _, sessionID := range t.Viewers() {
		if !e.sender.Send(sessionID, frame) {
			t.RemoveViewer(sessionID)
			delete(e.sessionTimers, sessionID)
			log.Debug().
				Str("timer_id", t.ID()).
				Str("session_id", sessionID).
				Msg("evicted stale viewer during fan-out")
		}
	}
}

// send delivers a single notification, ignoring stale sessions. The next
// command outcome or tick corrects anything a dead session missed.
func (e *Engine) send(sessionID string, frame []byte) {
	if frame == nil {
		return
	}
	e.sender.Send(sessionID, frame)
}

// publish mirrors a lifecycle event to the configured sink, fire-and-forget.
func (e *Engine) publish(eventType string, t *timer.Timer) {
	ev := events.Event{
		Type:         eventType,
		TimerID:      t.ID(),
		ControllerID: t.OwnerID(),
		At:           e.clock.Now(),
	}
	if err := e.sink.Publish(ev); err != nil {
		log.Warn().Err(err).Str("type", eventType).Str("timer_id", t.ID()).Msg("event publish failed")
	}
}
