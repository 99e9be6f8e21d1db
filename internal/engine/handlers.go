package engine

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"stagetimer-server/internal/events"
	"stagetimer-server/internal/timer"
)

// dispatch validates and routes one inbound frame. Invalid frames and
// unauthorized commands are dropped with no response; only a debug log
// records why.
func (e *Engine) dispatch(sessionID string, frame []byte) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		log.Debug().Err(err).Str("session_id", sessionID).Msg("dropping malformed frame")
		return
	}

	switch env.Type {
	case cmdCreateTimer:
		var cmd createTimerCmd
		if decode(env, &cmd, sessionID) {
			e.handleCreate(sessionID, cmd)
		}
	case cmdJoinTimer:
		var cmd joinTimerCmd
		if decode(env, &cmd, sessionID) {
			e.handleJoin(sessionID, cmd, true)
		}
	case cmdViewTimer:
		var cmd joinTimerCmd
		if decode(env, &cmd, sessionID) {
			e.handleJoin(sessionID, cmd, false)
		}
	case cmdGetTimers:
		var cmd getTimersCmd
		if decode(env, &cmd, sessionID) {
			e.handleGetTimers(sessionID, cmd)
		}
	case cmdDeleteTimer:
		var cmd timerCmd
		if decode(env, &cmd, sessionID) {
			e.handleDelete(cmd)
		}
	case cmdSetTimer:
		var cmd setTimerCmd
		if decode(env, &cmd, sessionID) {
			if t, ok := e.ownedTimer(cmd.TimerID, cmd.ControllerID); ok {
				t.SetDuration(cmd.Duration)
				e.broadcast(t)
			}
		}
	case cmdStartTimer:
		var cmd timerCmd
		if decode(env, &cmd, sessionID) {
			if t, ok := e.ownedTimer(cmd.TimerID, cmd.ControllerID); ok && t.Start() {
				e.broadcast(t)
				e.publish(events.TypeTimerStarted, t)
			}
		}
	case cmdPauseTimer:
		var cmd timerCmd
		if decode(env, &cmd, sessionID) {
			if t, ok := e.ownedTimer(cmd.TimerID, cmd.ControllerID); ok && t.Pause() {
				e.broadcast(t)
				e.publish(events.TypeTimerPaused, t)
			}
		}
	case cmdResetTimer:
		var cmd timerCmd
		if decode(env, &cmd, sessionID) {
			if t, ok := e.ownedTimer(cmd.TimerID, cmd.ControllerID); ok {
				t.Reset()
				e.broadcast(t)
				e.publish(events.TypeTimerReset, t)
			}
		}
	case cmdAdjustTimer:
		var cmd adjustTimerCmd
		if decode(env, &cmd, sessionID) {
			if t, ok := e.ownedTimer(cmd.TimerID, cmd.ControllerID); ok {
				t.AdjustTime(cmd.Seconds)
				e.broadcast(t)
			}
		}
	case cmdUpdateMessage:
		var cmd updateMessageCmd
		if decode(env, &cmd, sessionID) {
			if t, ok := e.ownedTimer(cmd.TimerID, cmd.ControllerID); ok {
				t.UpdateMessage(cmd.Message)
				e.broadcast(t)
			}
		}
	case cmdClearMessage:
		var cmd timerCmd
		if decode(env, &cmd, sessionID) {
			if t, ok := e.ownedTimer(cmd.TimerID, cmd.ControllerID); ok {
				t.ClearMessage()
				e.broadcast(t)
			}
		}
	case cmdUpdateStyling:
		var cmd updateStylingCmd
		if decode(env, &cmd, sessionID) {
			if t, ok := e.ownedTimer(cmd.TimerID, cmd.ControllerID); ok {
				t.ApplyStyling(cmd.Styling)
				e.broadcast(t)
			}
		}
	case cmdToggleFlash:
		var cmd toggleFlashCmd
		if decode(env, &cmd, sessionID) {
			if t, ok := e.ownedTimer(cmd.TimerID, cmd.ControllerID); ok {
				t.SetFlashing(cmd.IsFlashing)
				e.broadcast(t)
			}
		}
	default:
		log.Debug().Str("type", env.Type).Str("session_id", sessionID).Msg("dropping unknown command")
	}
}

func decode(env envelope, cmd interface{}, sessionID string) bool {
	if err := json.Unmarshal(env.Data, cmd); err != nil {
		log.Debug().Err(err).Str("type", env.Type).Str("session_id", sessionID).Msg("dropping undecodable command payload")
		return false
	}
	return true
}

// ownedTimer resolves a timer for a mutating command. Unknown timers,
// missing controller identities and ownership mismatches all drop the
// command silently — intentionally no feedback to the caller.
func (e *Engine) ownedTimer(timerID, controllerID string) (*timer.Timer, bool) {
	if controllerID == "" {
		log.Debug().Str("timer_id", timerID).Msg("dropping command without controller identity")
		return nil, false
	}
	t, ok := e.registry.Lookup(timerID)
	if !ok {
		log.Debug().Str("timer_id", timerID).Msg("dropping command for unknown timer")
		return nil, false
	}
	if t.OwnerID() != controllerID {
		log.Debug().
			Str("timer_id", timerID).
			Str("controller_id", controllerID).
			Msg("dropping command from non-owning controller")
		return nil, false
	}
	return t, true
}

func (e *Engine) handleCreate(sessionID string, cmd createTimerCmd) {
	if cmd.ControllerID == "" {
		log.Debug().Str("session_id", sessionID).Msg("dropping create-timer without controller identity")
		return
	}

	limit := cmd.MaxTimersAllowed
	if limit <= 0 {
		limit = DefaultMaxTimers
	}
	if e.index.OwnedCount(cmd.ControllerID) >= limit {
		e.send(sessionID, marshal(notifyLimitExceeded, limitExceededNotice{
			Type:    limitTimers,
			Message: fmt.Sprintf("timer limit of %d reached", limit),
		}))
		return
	}

	t := timer.New(timer.Config{
		ID:         uuid.New().String(),
		Name:       cmd.Name,
		Duration:   cmd.Duration,
		MaxViewers: cmd.MaxViewers,
		OwnerID:    cmd.ControllerID,
		Styling:    cmd.Styling,
	}, e.clock, e.ticks)

	e.registry.Put(t)
	e.index.RegisterOwnership(cmd.ControllerID, t.ID())
	e.index.TrackSession(cmd.ControllerID, sessionID)

	e.send(sessionID, marshal(notifyTimerCreated, t.Snapshot()))
	e.pushTimerList(cmd.ControllerID)
	e.publish(events.TypeTimerCreated, t)

	log.Info().
		Str("timer_id", t.ID()).
		Str("controller_id", cmd.ControllerID).
		Int("duration", cmd.Duration).
		Msg("timer created")
}

// handleJoin admits a session as a viewer. Ownership is deliberately not
// required: any valid controller identity may view any existing timer, and
// the session is tracked under the identity it supplied.
func (e *Engine) handleJoin(sessionID string, cmd joinTimerCmd, listRefresh bool) {
	if cmd.ControllerID == "" {
		log.Debug().Str("session_id", sessionID).Msg("dropping join without controller identity")
		return
	}

	t, ok := e.registry.Lookup(cmd.TimerID)
	if !ok {
		e.send(sessionID, marshal(notifyTimerNotFound, timerRef{TimerID: cmd.TimerID}))
		return
	}

	if cmd.MaxViewers > 0 {
		t.SetMaxViewers(cmd.MaxViewers)
	}

	if !t.AddViewer(sessionID) {
		e.send(sessionID, marshal(notifyTimerFull, timerFullNotice{
			TimerID:         cmd.TimerID,
			FailedSessionID: sessionID,
		}))
		notice := marshal(notifyLimitExceeded, limitExceededNotice{
			TimerID: cmd.TimerID,
			Type:    limitViewers,
			Message: fmt.Sprintf("viewer limit of %d reached, session %s rejected", t.MaxViewers(), sessionID),
		})
		for _, ownerSession := range e.index.Sessions(t.OwnerID()) {
			e.send(ownerSession, notice)
		}
		log.Info().
			Str("timer_id", cmd.TimerID).
			Str("session_id", sessionID).
			Msg("viewer rejected, timer full")
		return
	}

	// A session views at most one timer; joining replaces the prior one.
	if prev, viewing := e.sessionTimers[sessionID]; viewing && prev != cmd.TimerID {
		if prevTimer, found := e.registry.Lookup(prev); found {
			prevTimer.RemoveViewer(sessionID)
			e.broadcast(prevTimer)
		}
	}
	e.sessionTimers[sessionID] = cmd.TimerID
	e.index.TrackSession(cmd.ControllerID, sessionID)

	e.send(sessionID, marshal(notifyTimerJoined, t.Snapshot()))
	e.broadcast(t)
	if listRefresh {
		e.send(sessionID, marshal(notifyTimerList, e.timerList(cmd.ControllerID)))
	}
}

func (e *Engine) handleGetTimers(sessionID string, cmd getTimersCmd) {
	if cmd.ControllerID == "" {
		log.Debug().Str("session_id", sessionID).Msg("dropping get-timers without controller identity")
		return
	}
	e.send(sessionID, marshal(notifyTimerList, e.timerList(cmd.ControllerID)))
}

func (e *Engine) handleDelete(cmd timerCmd) {
	t, ok := e.ownedTimer(cmd.TimerID, cmd.ControllerID)
	if !ok {
		return
	}

	deleted := marshal(notifyTimerDeleted, timerRef{TimerID: cmd.TimerID})
	for _, sessionID := range t.Viewers() {
		e.send(sessionID, deleted)
		delete(e.sessionTimers, sessionID)
	}

	e.publish(events.TypeTimerDeleted, t)
	e.registry.Delete(cmd.TimerID)
	e.index.ReleaseOwnership(cmd.ControllerID, cmd.TimerID)
	e.pushTimerList(cmd.ControllerID)

	log.Info().
		Str("timer_id", cmd.TimerID).
		Str("controller_id", cmd.ControllerID).
		Msg("timer deleted")
}

// timerList builds the tenant-scoped summaries, in creation order.
func (e *Engine) timerList(controllerID string) []timer.Summary {
	ids := e.index.OwnedTimerIDs(controllerID)
	summaries := make([]timer.Summary, 0, len(ids))
	for _, id := range ids {
		if t, ok := e.registry.Lookup(id); ok {
			summaries = append(summaries, t.Summary())
		}
	}
	return summaries
}

// pushTimerList refreshes the summary list on every session tracked for a
// controller.
func (e *Engine) pushTimerList(controllerID string) {
	frame := marshal(notifyTimerList, e.timerList(controllerID))
	for _, sessionID := range e.index.Sessions(controllerID) {
		e.send(sessionID, frame)
	}
}
