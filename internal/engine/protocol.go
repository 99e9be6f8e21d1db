package engine

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"stagetimer-server/internal/timer"
)

// Every frame on the wire, both directions, is a JSON envelope of
// {"type": ..., "data": {...}}.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Inbound command types.
const (
	cmdCreateTimer   = "create-timer"
	cmdJoinTimer     = "join-timer"
	cmdViewTimer     = "view-timer"
	cmdGetTimers     = "get-timers"
	cmdDeleteTimer   = "delete-timer"
	cmdSetTimer      = "set-timer"
	cmdStartTimer    = "start-timer"
	cmdPauseTimer    = "pause-timer"
	cmdResetTimer    = "reset-timer"
	cmdAdjustTimer   = "adjust-timer"
	cmdUpdateMessage = "update-message"
	cmdClearMessage  = "clear-message"
	cmdUpdateStyling = "update-styling"
	cmdToggleFlash   = "toggle-flash"
)

// Outbound notification types.
const (
	notifyTimerCreated  = "timer-created"
	notifyTimerJoined   = "timer-joined"
	notifyTimerList     = "timer-list"
	notifyTimerNotFound = "timer-not-found"
	notifyTimerFull     = "timer-full"
	notifyTimerDeleted  = "timer-deleted"
	notifyLimitExceeded = "limit-exceeded"
	notifyTimerUpdate   = "timer-update"
)

// Limit categories for limit-exceeded notifications.
const (
	limitTimers  = "timers"
	limitViewers = "viewers"
)

type createTimerCmd struct {
	Name             string              `json:"name"`
	Duration         int                 `json:"duration"`
	ControllerID     string              `json:"controllerId"`
	MaxViewers       int                 `json:"maxViewers"`
	MaxTimersAllowed int                 `json:"maxTimersAllowed"`
	Styling          *timer.StylingPatch `json:"styling"`
}

type joinTimerCmd struct {
	TimerID      string `json:"timerId"`
	ControllerID string `json:"controllerId"`
	MaxViewers   int    `json:"maxViewers"`
}

type getTimersCmd struct {
	ControllerID string `json:"controllerId"`
}

// timerCmd covers every command addressed at one timer by its owner.
type timerCmd struct {
	TimerID      string `json:"timerId"`
	ControllerID string `json:"controllerId"`
}

type setTimerCmd struct {
	TimerID      string `json:"timerId"`
	Duration     int    `json:"duration"`
	ControllerID string `json:"controllerId"`
}

type adjustTimerCmd struct {
	TimerID      string `json:"timerId"`
	Seconds      int    `json:"seconds"`
	ControllerID string `json:"controllerId"`
}

type updateMessageCmd struct {
	TimerID      string `json:"timerId"`
	Message      string `json:"message"`
	ControllerID string `json:"controllerId"`
}

type updateStylingCmd struct {
	TimerID      string             `json:"timerId"`
	Styling      timer.StylingPatch `json:"styling"`
	ControllerID string             `json:"controllerId"`
}

type toggleFlashCmd struct {
	TimerID      string `json:"timerId"`
	IsFlashing   bool   `json:"isFlashing"`
	ControllerID string `json:"controllerId"`
}

type timerRef struct {
	TimerID string `json:"timerId"`
}

type timerFullNotice struct {
	TimerID         string `json:"timerId"`
	FailedSessionID string `json:"failedSessionId"`
}

type limitExceededNotice struct {
	TimerID string `json:"timerId,omitempty"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

// marshal builds an outbound frame. Payloads are plain structs, so a
// marshalling failure is a programming error; it is logged and yields nil,
// which Send treats as nothing to deliver.
func marshal(typ string, payload interface{}) []byte {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("type", typ).Msg("failed to marshal notification payload")
		return nil
	}
	frame, err := json.Marshal(envelope{Type: typ, Data: data})
	if err != nil {
		log.Error().Err(err).Str("type", typ).Msg("failed to marshal notification envelope")
		return nil
	}
	return frame
}
