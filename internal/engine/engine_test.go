package engine

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagetimer-server/internal/events"
	"stagetimer-server/internal/registry"
	"stagetimer-server/internal/timer"
)

// recordingSender captures every frame per session and can simulate
// sessions whose channel no longer resolves.
type recordingSender struct {
	frames map[string][]envelope
	dead   map[string]bool
}

func newRecordingSender() *recordingSender {
	return &recordingSender{
		frames: make(map[string][]envelope),
		dead:   make(map[string]bool),
	}
}

func (s *recordingSender) Send(sessionID string, frame []byte) bool {
	if s.dead[sessionID] {
		return false
	}
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		panic("malformed outbound frame: " + err.Error())
	}
	s.frames[sessionID] = append(s.frames[sessionID], env)
	return true
}

func (s *recordingSender) lastOfType(sessionID, typ string) (json.RawMessage, bool) {
	frames := s.frames[sessionID]
	for i := len(frames) - 1; i >= 0; i-- {
		if frames[i].Type == typ {
			return frames[i].Data, true
		}
	}
	return nil, false
}

func (s *recordingSender) countOfType(sessionID, typ string) int {
	n := 0
	for _, f := range s.frames[sessionID] {
		if f.Type == typ {
			n++
		}
	}
	return n
}

type recordingSink struct {
	published []events.Event
}

func (s *recordingSink) Publish(ev events.Event) error {
	s.published = append(s.published, ev)
	return nil
}

func (s *recordingSink) Close() {}

type testRig struct {
	engine *Engine
	reg    *registry.Registry
	sender *recordingSender
	sink   *recordingSink
	clock  *clockwork.FakeClock
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	reg := registry.New()
	index := registry.NewControllerIndex()
	sender := newRecordingSender()
	sink := &recordingSink{}
	clock := clockwork.NewFakeClock()
	return &testRig{
		engine: New(reg, index, sender, sink, clock),
		reg:    reg,
		sender: sender,
		sink:   sink,
		clock:  clock,
	}
}

func frame(t *testing.T, typ string, payload interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	out, err := json.Marshal(envelope{Type: typ, Data: data})
	require.NoError(t, err)
	return out
}

func decodeSnapshot(t *testing.T, data json.RawMessage) timer.Snapshot {
	t.Helper()
	var snap timer.Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	return snap
}

// createTimer drives a create-timer command and returns the created timer's
// identity taken from the timer-created notification.
func (r *testRig) createTimer(t *testing.T, sessionID string, cmd createTimerCmd) string {
	t.Helper()
	r.engine.dispatch(sessionID, frame(t, cmdCreateTimer, cmd))
	data, ok := r.sender.lastOfType(sessionID, notifyTimerCreated)
	require.True(t, ok, "expected timer-created notification")
	return decodeSnapshot(t, data).ID
}

func TestCreateStartTickPauseReset(t *testing.T) {
	rig := newTestRig(t)

	timerID := rig.createTimer(t, "ctrl-session", createTimerCmd{
		Name: "Demo", Duration: 60, ControllerID: "c1",
	})

	created, _ := rig.sender.lastOfType("ctrl-session", notifyTimerCreated)
	snap := decodeSnapshot(t, created)
	assert.Equal(t, 60, snap.Remaining)
	assert.False(t, snap.Running)

	// A display joins to observe the fan-out.
	rig.engine.dispatch("viewer", frame(t, cmdViewTimer, joinTimerCmd{TimerID: timerID, ControllerID: "c1"}))
	joined, ok := rig.sender.lastOfType("viewer", notifyTimerJoined)
	require.True(t, ok)
	assert.Equal(t, timerID, decodeSnapshot(t, joined).ID)

	rig.engine.dispatch("ctrl-session", frame(t, cmdStartTimer, timerCmd{TimerID: timerID, ControllerID: "c1"}))
	update, ok := rig.sender.lastOfType("viewer", notifyTimerUpdate)
	require.True(t, ok)
	assert.True(t, decodeSnapshot(t, update).Running)

	for i := 0; i < 3; i++ {
		rig.clock.Advance(time.Second)
		rig.engine.handleTick(timerID)
	}
	update, _ = rig.sender.lastOfType("viewer", notifyTimerUpdate)
	assert.Equal(t, 57, decodeSnapshot(t, update).Remaining)

	rig.engine.dispatch("ctrl-session", frame(t, cmdPauseTimer, timerCmd{TimerID: timerID, ControllerID: "c1"}))
	update, _ = rig.sender.lastOfType("viewer", notifyTimerUpdate)
	snap = decodeSnapshot(t, update)
	assert.False(t, snap.Running)
	assert.Equal(t, 57, snap.Remaining)
	assert.Equal(t, 57, snap.Duration)

	rig.engine.dispatch("ctrl-session", frame(t, cmdResetTimer, timerCmd{TimerID: timerID, ControllerID: "c1"}))
	update, _ = rig.sender.lastOfType("viewer", notifyTimerUpdate)
	snap = decodeSnapshot(t, update)
	assert.Equal(t, 60, snap.Duration)
	assert.Equal(t, 60, snap.Remaining)
}

func TestViewerCapacityRejection(t *testing.T) {
	rig := newTestRig(t)

	timerID := rig.createTimer(t, "owner-session", createTimerCmd{
		Name: "Keynote", Duration: 300, ControllerID: "c1", MaxViewers: 1,
	})

	rig.engine.dispatch("v1", frame(t, cmdJoinTimer, joinTimerCmd{TimerID: timerID, ControllerID: "c1"}))
	_, ok := rig.sender.lastOfType("v1", notifyTimerJoined)
	require.True(t, ok, "first viewer should be admitted")

	rig.engine.dispatch("v2", frame(t, cmdJoinTimer, joinTimerCmd{TimerID: timerID, ControllerID: "c1"}))

	full, ok := rig.sender.lastOfType("v2", notifyTimerFull)
	require.True(t, ok, "second viewer should be rejected with timer-full")
	var notice timerFullNotice
	require.NoError(t, json.Unmarshal(full, &notice))
	assert.Equal(t, timerID, notice.TimerID)
	assert.Equal(t, "v2", notice.FailedSessionID)

	exceeded, ok := rig.sender.lastOfType("owner-session", notifyLimitExceeded)
	require.True(t, ok, "owner sessions should be notified")
	var limit limitExceededNotice
	require.NoError(t, json.Unmarshal(exceeded, &limit))
	assert.Equal(t, limitViewers, limit.Type)
	assert.Equal(t, timerID, limit.TimerID)

	got, _ := rig.reg.Lookup(timerID)
	assert.Equal(t, 1, got.ViewerCount())
}

func TestTimerQuotaRejectsCreation(t *testing.T) {
	rig := newTestRig(t)

	rig.createTimer(t, "s1", createTimerCmd{Name: "A", Duration: 10, ControllerID: "c1", MaxTimersAllowed: 1})

	rig.engine.dispatch("s1", frame(t, cmdCreateTimer, createTimerCmd{
		Name: "B", Duration: 10, ControllerID: "c1", MaxTimersAllowed: 1,
	}))

	exceeded, ok := rig.sender.lastOfType("s1", notifyLimitExceeded)
	require.True(t, ok)
	var limit limitExceededNotice
	require.NoError(t, json.Unmarshal(exceeded, &limit))
	assert.Equal(t, limitTimers, limit.Type)
	assert.Equal(t, 1, rig.reg.Len())
}

func TestGetTimersIsTenantScoped(t *testing.T) {
	rig := newTestRig(t)

	timerID := rig.createTimer(t, "s1", createTimerCmd{Name: "Private", Duration: 30, ControllerID: "c1"})

	// c2's display joins c1's timer under its own identity; the join is
	// allowed, but c2's listing must stay empty.
	rig.engine.dispatch("s2", frame(t, cmdJoinTimer, joinTimerCmd{TimerID: timerID, ControllerID: "c2"}))
	_, ok := rig.sender.lastOfType("s2", notifyTimerJoined)
	require.True(t, ok)

	rig.engine.dispatch("s2", frame(t, cmdGetTimers, getTimersCmd{ControllerID: "c2"}))
	list, ok := rig.sender.lastOfType("s2", notifyTimerList)
	require.True(t, ok)
	var summaries []timer.Summary
	require.NoError(t, json.Unmarshal(list, &summaries))
	assert.Empty(t, summaries)

	rig.engine.dispatch("s1", frame(t, cmdGetTimers, getTimersCmd{ControllerID: "c1"}))
	list, _ = rig.sender.lastOfType("s1", notifyTimerList)
	require.NoError(t, json.Unmarshal(list, &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, timerID, summaries[0].ID)
}

func TestForeignControllerMutationDroppedSilently(t *testing.T) {
	rig := newTestRig(t)

	timerID := rig.createTimer(t, "s1", createTimerCmd{Name: "Demo", Duration: 60, ControllerID: "c1"})

	before := len(rig.sender.frames["s2"])
	rig.engine.dispatch("s2", frame(t, cmdStartTimer, timerCmd{TimerID: timerID, ControllerID: "c2"}))
	rig.engine.dispatch("s2", frame(t, cmdDeleteTimer, timerCmd{TimerID: timerID, ControllerID: "c2"}))

	assert.Equal(t, before, len(rig.sender.frames["s2"]), "no feedback on unauthorized commands")
	got, ok := rig.reg.Lookup(timerID)
	require.True(t, ok, "timer must survive foreign delete")
	assert.False(t, got.Running())
}

func TestMissingControllerIdentityDropped(t *testing.T) {
	rig := newTestRig(t)

	rig.engine.dispatch("s1", frame(t, cmdCreateTimer, createTimerCmd{Name: "X", Duration: 10}))
	rig.engine.dispatch("s1", frame(t, cmdGetTimers, getTimersCmd{}))

	assert.Empty(t, rig.sender.frames["s1"])
	assert.Equal(t, 0, rig.reg.Len())
}

func TestJoinUnknownTimerGetsNotFound(t *testing.T) {
	rig := newTestRig(t)

	rig.engine.dispatch("s1", frame(t, cmdJoinTimer, joinTimerCmd{TimerID: "nope", ControllerID: "c1"}))

	data, ok := rig.sender.lastOfType("s1", notifyTimerNotFound)
	require.True(t, ok)
	var ref timerRef
	require.NoError(t, json.Unmarshal(data, &ref))
	assert.Equal(t, "nope", ref.TimerID)
}

func TestDeleteNotifiesEveryViewer(t *testing.T) {
	rig := newTestRig(t)

	timerID := rig.createTimer(t, "s1", createTimerCmd{Name: "Demo", Duration: 60, ControllerID: "c1"})
	rig.engine.dispatch("v1", frame(t, cmdViewTimer, joinTimerCmd{TimerID: timerID, ControllerID: "c1"}))
	rig.engine.dispatch("v2", frame(t, cmdViewTimer, joinTimerCmd{TimerID: timerID, ControllerID: "c1"}))

	rig.engine.dispatch("s1", frame(t, cmdDeleteTimer, timerCmd{TimerID: timerID, ControllerID: "c1"}))

	for _, viewer := range []string{"v1", "v2"} {
		data, ok := rig.sender.lastOfType(viewer, notifyTimerDeleted)
		require.True(t, ok, "viewer %s should be told about the deletion", viewer)
		var ref timerRef
		require.NoError(t, json.Unmarshal(data, &ref))
		assert.Equal(t, timerID, ref.TimerID)
	}

	assert.Equal(t, 0, rig.reg.Len())

	// The owner's refreshed list no longer carries the timer.
	list, ok := rig.sender.lastOfType("s1", notifyTimerList)
	require.True(t, ok)
	var summaries []timer.Summary
	require.NoError(t, json.Unmarshal(list, &summaries))
	assert.Empty(t, summaries)
}

func TestStaleViewerEvictedDuringFanOut(t *testing.T) {
	rig := newTestRig(t)

	timerID := rig.createTimer(t, "s1", createTimerCmd{Name: "Demo", Duration: 60, ControllerID: "c1"})
	rig.engine.dispatch("v1", frame(t, cmdViewTimer, joinTimerCmd{TimerID: timerID, ControllerID: "c1"}))
	rig.engine.dispatch("v2", frame(t, cmdViewTimer, joinTimerCmd{TimerID: timerID, ControllerID: "c1"}))

	// v1 vanished without a clean disconnect.
	rig.sender.dead["v1"] = true

	rig.engine.dispatch("s1", frame(t, cmdUpdateMessage, updateMessageCmd{
		TimerID: timerID, Message: "wrap up", ControllerID: "c1",
	}))

	got, _ := rig.reg.Lookup(timerID)
	assert.Equal(t, 1, got.ViewerCount(), "stale session should be evicted silently")

	update, ok := rig.sender.lastOfType("v2", notifyTimerUpdate)
	require.True(t, ok)
	assert.Equal(t, "wrap up", decodeSnapshot(t, update).Message)
}

func TestStylingAndFlashCommandsFanOut(t *testing.T) {
	rig := newTestRig(t)

	timerID := rig.createTimer(t, "s1", createTimerCmd{Name: "Demo", Duration: 60, ControllerID: "c1"})
	rig.engine.dispatch("v1", frame(t, cmdViewTimer, joinTimerCmd{TimerID: timerID, ControllerID: "c1"}))

	red := "#FF0000"
	rig.engine.dispatch("s1", frame(t, cmdUpdateStyling, updateStylingCmd{
		TimerID:      timerID,
		Styling:      timer.StylingPatch{BackgroundColor: &red},
		ControllerID: "c1",
	}))

	update, ok := rig.sender.lastOfType("v1", notifyTimerUpdate)
	require.True(t, ok)
	styling := decodeSnapshot(t, update).Styling
	assert.Equal(t, red, styling.BackgroundColor)
	assert.Equal(t, timer.DefaultStyling().TextColor, styling.TextColor, "absent fields stay untouched")

	rig.engine.dispatch("s1", frame(t, cmdToggleFlash, toggleFlashCmd{
		TimerID: timerID, IsFlashing: true, ControllerID: "c1",
	}))
	update, _ = rig.sender.lastOfType("v1", notifyTimerUpdate)
	assert.True(t, decodeSnapshot(t, update).IsFlashing)

	// A non-owner's styling command is dropped without effect.
	rig.engine.dispatch("s2", frame(t, cmdToggleFlash, toggleFlashCmd{
		TimerID: timerID, IsFlashing: false, ControllerID: "c2",
	}))
	update, _ = rig.sender.lastOfType("v1", notifyTimerUpdate)
	assert.True(t, decodeSnapshot(t, update).IsFlashing)
}

func TestJoinReplacesPriorTimer(t *testing.T) {
	rig := newTestRig(t)

	first := rig.createTimer(t, "s1", createTimerCmd{Name: "A", Duration: 60, ControllerID: "c1"})
	second := rig.createTimer(t, "s1", createTimerCmd{Name: "B", Duration: 60, ControllerID: "c1"})

	rig.engine.dispatch("v1", frame(t, cmdJoinTimer, joinTimerCmd{TimerID: first, ControllerID: "c1"}))
	rig.engine.dispatch("v1", frame(t, cmdJoinTimer, joinTimerCmd{TimerID: second, ControllerID: "c1"}))

	a, _ := rig.reg.Lookup(first)
	b, _ := rig.reg.Lookup(second)
	assert.Equal(t, 0, a.ViewerCount())
	assert.Equal(t, 1, b.ViewerCount())
}

func TestViewTimerSkipsListRefresh(t *testing.T) {
	rig := newTestRig(t)

	timerID := rig.createTimer(t, "s1", createTimerCmd{Name: "Demo", Duration: 60, ControllerID: "c1"})

	rig.engine.dispatch("v1", frame(t, cmdViewTimer, joinTimerCmd{TimerID: timerID, ControllerID: "c1"}))
	assert.Equal(t, 0, rig.sender.countOfType("v1", notifyTimerList))

	rig.engine.dispatch("v2", frame(t, cmdJoinTimer, joinTimerCmd{TimerID: timerID, ControllerID: "c1"}))
	assert.Equal(t, 1, rig.sender.countOfType("v2", notifyTimerList))
}

func TestDisconnectRemovesViewer(t *testing.T) {
	rig := newTestRig(t)

	timerID := rig.createTimer(t, "s1", createTimerCmd{Name: "Demo", Duration: 60, ControllerID: "c1"})
	rig.engine.dispatch("v1", frame(t, cmdViewTimer, joinTimerCmd{TimerID: timerID, ControllerID: "c1"}))
	rig.engine.dispatch("v2", frame(t, cmdViewTimer, joinTimerCmd{TimerID: timerID, ControllerID: "c1"}))

	rig.engine.handleDisconnect("v1")

	got, _ := rig.reg.Lookup(timerID)
	assert.Equal(t, 1, got.ViewerCount())

	// Remaining viewer sees the recomputed count.
	update, ok := rig.sender.lastOfType("v2", notifyTimerUpdate)
	require.True(t, ok)
	assert.Equal(t, 1, decodeSnapshot(t, update).Viewers)
}

func TestTickForDeletedTimerResolvesToNothing(t *testing.T) {
	rig := newTestRig(t)

	timerID := rig.createTimer(t, "s1", createTimerCmd{Name: "Demo", Duration: 60, ControllerID: "c1"})
	rig.engine.dispatch("s1", frame(t, cmdDeleteTimer, timerCmd{TimerID: timerID, ControllerID: "c1"}))

	// A tick queued before deletion simply finds nothing.
	rig.engine.handleTick(timerID)
	assert.Equal(t, 0, rig.reg.Len())
}

func TestLifecycleEventsMirroredToSink(t *testing.T) {
	rig := newTestRig(t)

	timerID := rig.createTimer(t, "s1", createTimerCmd{Name: "Demo", Duration: 60, ControllerID: "c1"})
	rig.engine.dispatch("s1", frame(t, cmdStartTimer, timerCmd{TimerID: timerID, ControllerID: "c1"}))
	rig.engine.dispatch("s1", frame(t, cmdPauseTimer, timerCmd{TimerID: timerID, ControllerID: "c1"}))
	rig.engine.dispatch("s1", frame(t, cmdDeleteTimer, timerCmd{TimerID: timerID, ControllerID: "c1"}))

	var types []string
	for _, ev := range rig.sink.published {
		assert.Equal(t, timerID, ev.TimerID)
		assert.Equal(t, "c1", ev.ControllerID)
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{
		events.TypeTimerCreated,
		events.TypeTimerStarted,
		events.TypeTimerPaused,
		events.TypeTimerDeleted,
	}, types)
}
