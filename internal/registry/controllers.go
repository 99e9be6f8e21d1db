package registry

import "sync"

// ControllerIndex maps a controller identity to the timers it owns and the
// sessions acting on its behalf. Ownership drives tenant-scoped listing and
// the creation quota; tracked sessions are used only to target capacity
// notifications.
type ControllerIndex struct {
	mu      sync.RWMutex
	entries map[string]*controllerEntry
}

type controllerEntry struct {
	timerOrder []string // creation order, for stable listings
	timers     map[string]struct{}
	sessions   map[string]struct{}
}

// NewControllerIndex creates an empty index.
func NewControllerIndex() *ControllerIndex {
	return &ControllerIndex{entries: make(map[string]*controllerEntry)}
}

func (ci *ControllerIndex) entry(controllerID string) *controllerEntry {
	e, ok := ci.entries[controllerID]
	if !ok {
		e = &controllerEntry{
			timers:   make(map[string]struct{}),
			sessions: make(map[string]struct{}),
		}
		ci.entries[controllerID] = e
	}
	return e
}

func (ci *ControllerIndex) prune(controllerID string) {
	if e, ok := ci.entries[controllerID]; ok && len(e.timers) == 0 && len(e.sessions) == 0 {
		delete(ci.entries, controllerID)
	}
}

// RegisterOwnership records that a controller owns a timer.
func (ci *ControllerIndex) RegisterOwnership(controllerID, timerID string) {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	e := ci.entry(controllerID)
	if _, ok := e.timers[timerID]; ok {
		return
	}
	e.timers[timerID] = struct{}{}
	e.timerOrder = append(e.timerOrder, timerID)
}

// ReleaseOwnership removes a timer from a controller's owned set.
func (ci *ControllerIndex) ReleaseOwnership(controllerID, timerID string) {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	e, ok := ci.entries[controllerID]
	if !ok {
		return
	}
	if _, owned := e.timers[timerID]; !owned {
		return
	}
	delete(e.timers, timerID)
	for i, id := range e.timerOrder {
		if id == timerID {
			e.timerOrder = append(e.timerOrder[:i], e.timerOrder[i+1:]...)
			break
		}
	}
	ci.prune(controllerID)
}

// OwnedTimerIDs returns the controller's owned timer identities in creation
// order. Only this controller's timers are ever returned.
func (ci *ControllerIndex) OwnedTimerIDs(controllerID string) []string {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	e, ok := ci.entries[controllerID]
	if !ok {
		return nil
	}
	ids := make([]string, len(e.timerOrder))
	copy(ids, e.timerOrder)
	return ids
}

// OwnedCount returns how many timers the controller currently owns, for the
// creation quota check.
func (ci *ControllerIndex) OwnedCount(controllerID string) int {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	e, ok := ci.entries[controllerID]
	if !ok {
		return 0
	}
	return len(e.timers)
}

// TrackSession records a session as acting for a controller. Tracking is
// independent of ownership: a session joining a foreign timer is still
// tracked under the controller identity it supplied.
func (ci *ControllerIndex) TrackSession(controllerID, sessionID string) {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	ci.entry(controllerID).sessions[sessionID] = struct{}{}
}

// UntrackSession removes a session from every controller it was tracked
// under. Called on disconnect, when the controller identity is unknown.
func (ci *ControllerIndex) UntrackSession(sessionID string) {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	for controllerID, e := range ci.entries {
		if _, ok := e.sessions[sessionID]; ok {
			delete(e.sessions, sessionID)
			ci.prune(controllerID)
		}
	}
}

// Sessions returns the sessions currently tracked for a controller.
func (ci *ControllerIndex) Sessions(controllerID string) []string {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	e, ok := ci.entries[controllerID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(e.sessions))
	for id := range e.sessions {
		ids = append(ids, id)
	}
	return ids
}
