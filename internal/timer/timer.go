package timer

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultMaxViewers is the per-timer viewer capacity when the creating
// command does not supply one.
const DefaultMaxViewers = 4

// Config holds the immutable creation parameters for a Timer.
type Config struct {
	ID         string
	Name       string
	Duration   int // seconds
	MaxViewers int
	OwnerID    string
	Styling    *StylingPatch
}

// Timer is a countdown owned by exactly one controller. All state transitions
// are pure in-memory mutations; broadcasting the resulting snapshot is the
// caller's responsibility. A Timer is not safe for concurrent use — the
// engine serializes every mutation and tick on a single loop.
type Timer struct {
	id      string
	name    string
	ownerID string

	duration         int
	originalDuration int
	remaining        int
	running          bool
	startedAt        time.Time

	message  string
	styling  Styling
	flashing bool

	maxViewers int
	viewers    map[string]struct{}

	clock clockwork.Clock
	ticks chan<- string
	tick  *tickSource
}

// New creates an idle timer with remaining == duration. Tick notifications
// carry the timer's ID on the ticks channel while the timer is running.
func New(cfg Config, clock clockwork.Clock, ticks chan<- string) *Timer {
	maxViewers := cfg.MaxViewers
	if maxViewers <= 0 {
		maxViewers = DefaultMaxViewers
	}

	styling := DefaultStyling()
	if cfg.Styling != nil {
		styling.Apply(*cfg.Styling)
	}

	return &Timer{
		id:               cfg.ID,
		name:             cfg.Name,
		ownerID:          cfg.OwnerID,
		duration:         cfg.Duration,
		originalDuration: cfg.Duration,
		remaining:        cfg.Duration,
		styling:          styling,
		maxViewers:       maxViewers,
		viewers:          make(map[string]struct{}),
		clock:            clock,
		ticks:            ticks,
	}
}

// ID returns the timer's identity.
func (t *Timer) ID() string { return t.id }

// OwnerID returns the controller that created the timer.
func (t *Timer) OwnerID() string { return t.ownerID }

// Running reports whether the countdown is currently live.
func (t *Timer) Running() bool { return t.running }

func (t *Timer) elapsed() int {
	return int(t.clock.Since(t.startedAt) / time.Second)
}

// Start begins the countdown and arms the 1-second tick source. It is a
// no-op (returns false) if the timer is already running or has nothing left
// to count; the running flag guards against stacking a second tick source.
func (t *Timer) Start() bool {
	if t.running || t.remaining <= 0 {
		return false
	}
	t.running = true
	t.startedAt = t.clock.Now()
	t.startTick()
	return true
}

// Pause freezes the countdown at the current second and reframes the pause
// point as the new baseline duration. Returns false if not running.
func (t *Timer) Pause() bool {
	if !t.running {
		return false
	}
	t.remaining = t.duration - t.elapsed()
	if t.remaining < 0 {
		t.duration = -t.remaining
	} else {
		t.duration = t.remaining
	}
	t.stopTick()
	t.running = false
	t.startedAt = time.Time{}
	return true
}

// Reset restores the value set by the most recent SetDuration or creation,
// discarding any intervening adjustments, and stops the countdown.
func (t *Timer) Reset() {
	t.stopTick()
	t.running = false
	t.startedAt = time.Time{}
	t.duration = t.originalDuration
	t.remaining = t.originalDuration
}

// SetDuration overrides the countdown with a new target, regardless of the
// prior running state.
func (t *Timer) SetDuration(seconds int) {
	t.stopTick()
	t.running = false
	t.startedAt = time.Time{}
	t.duration = seconds
	t.remaining = seconds
	t.originalDuration = seconds
}

// AdjustTime shifts the current duration by delta seconds, clamping at zero.
// The clamp is not reversible: shrinking past zero and growing back yields
// the grown value, not the pre-clamp one. A running timer whose remaining
// time is exhausted by the adjustment stops without resetting its duration.
func (t *Timer) AdjustTime(delta int) {
	newDuration := t.duration + delta
	if newDuration < 0 {
		newDuration = 0
	}

	if !t.running {
		t.SetDuration(newDuration)
		return
	}

	t.duration = newDuration
	t.remaining = newDuration - t.elapsed()
	if t.remaining < 0 {
		t.remaining = 0
	}
	if t.remaining <= 0 {
		t.stopTick()
		t.running = false
		t.startedAt = time.Time{}
	}
}

// Tick recomputes the remaining seconds from the wall clock. It never stops
// the countdown on its own: once remaining hits zero it keeps counting into
// negative values until an explicit pause or reset.
func (t *Timer) Tick() {
	if !t.running {
		return
	}
	t.remaining = t.duration - t.elapsed()
}

// UpdateMessage replaces the display message.
func (t *Timer) UpdateMessage(text string) { t.message = text }

// ClearMessage removes the display message.
func (t *Timer) ClearMessage() { t.message = "" }

// ApplyStyling merges the supplied styling fields, leaving absent ones
// unchanged.
func (t *Timer) ApplyStyling(patch StylingPatch) { t.styling.Apply(patch) }

// SetFlashing toggles the flash indicator.
func (t *Timer) SetFlashing(on bool) { t.flashing = on }

// SetMaxViewers re-arms the viewer capacity. Sessions already connected are
// never evicted, even if the new capacity is below the current count.
func (t *Timer) SetMaxViewers(n int) {
	if n > 0 {
		t.maxViewers = n
	}
}

// AddViewer admits a session, rejecting once the viewer capacity is reached.
// Re-admitting an already connected session always succeeds.
func (t *Timer) AddViewer(sessionID string) bool {
	if _, ok := t.viewers[sessionID]; ok {
		return true
	}
	if len(t.viewers) >= t.maxViewers {
		return false
	}
	t.viewers[sessionID] = struct{}{}
	return true
}

// RemoveViewer drops a session unconditionally.
func (t *Timer) RemoveViewer(sessionID string) {
	delete(t.viewers, sessionID)
}

// Viewers returns a copy of the connected session IDs, safe to iterate while
// viewers are evicted mid fan-out.
func (t *Timer) Viewers() []string {
	ids := make([]string, 0, len(t.viewers))
	for id := range t.viewers {
		ids = append(ids, id)
	}
	return ids
}

// ViewerCount returns the number of connected sessions.
func (t *Timer) ViewerCount() int { return len(t.viewers) }

// MaxViewers returns the current viewer capacity.
func (t *Timer) MaxViewers() int { return t.maxViewers }

// Close cancels the tick source. Must be called before the timer is removed
// from the registry so no scheduled tick fires against removed state.
func (t *Timer) Close() {
	t.stopTick()
	t.running = false
}
