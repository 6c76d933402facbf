package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/beacon/internal/settings"
)

type emitted struct {
	eventType string
	timestamp int64
	sessionID int64
}

// recorder stands in for the tracker: it captures each emitted event with
// the session id current at emission and, like the tracker, records the
// event time as lastEventTime.
type recorder struct {
	store   settings.Store
	manager *Manager
	events  []emitted
}

func (r *recorder) EmitSessionEvent(_ context.Context, eventType string, timestamp int64) {
	r.events = append(r.events, emitted{eventType, timestamp, r.manager.ID()})
	_ = settings.Set(r.store, settings.KeyLastEventTime, timestamp)
}

func newTestManager(t *testing.T) (*Manager, *recorder, settings.Store) {
	t.Helper()
	store := settings.NewMemory()
	rec := &recorder{store: store}
	m := NewManager(DefaultConfig(), store, rec, nil)
	rec.manager = m
	return m, rec, store
}

func seed(t *testing.T, store settings.Store, lastEventTime, previousSessionID int64) {
	t.Helper()
	require.NoError(t, settings.Set(store, settings.KeyLastEventTime, lastEventTime))
	require.NoError(t, settings.Set(store, settings.KeyPreviousSessionID, previousSessionID))
}

const t0 = int64(1_700_000_000_000)

var ctx = context.Background()

func TestManager_InitialState(t *testing.T) {
	m, _, _ := newTestManager(t)
	assert.False(t, m.IsOpen())
	assert.Equal(t, int64(-1), m.ID())
}

func TestStart_FirstEverStartsNewSession(t *testing.T) {
	m, rec, store := newTestManager(t)

	tr := m.Start(ctx, t0)

	assert.Equal(t, Started, tr)
	assert.True(t, m.IsOpen())
	assert.Equal(t, t0, m.ID())

	prev, ok, err := settings.Get[int64](store, settings.KeyPreviousSessionID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, t0, prev)

	require.Len(t, rec.events, 1)
	assert.Equal(t, emitted{StartEvent, t0, t0}, rec.events[0])
}

func TestStart_ShortGapResumesPreviousSession(t *testing.T) {
	m, rec, store := newTestManager(t)
	const previous = int64(1_699_999_000_000)
	seed(t, store, t0, previous)

	now := t0 + 10_000
	tr := m.Start(ctx, now)

	assert.Equal(t, Resumed, tr)
	assert.Equal(t, previous, m.ID(), "resume reuses the previous id, no new id is minted")
	assert.True(t, m.IsOpen())

	require.Len(t, rec.events, 1)
	assert.Equal(t, StartEvent, rec.events[0].eventType)
	assert.Equal(t, now, rec.events[0].timestamp)
	assert.Equal(t, previous, rec.events[0].sessionID, "start event is tagged with the resumed id")

	stored, _, err := settings.Get[int64](store, settings.KeyPreviousSessionID)
	require.NoError(t, err)
	assert.Equal(t, previous, stored)
}

func TestStart_LongGapStartsNewSession(t *testing.T) {
	m, rec, store := newTestManager(t)
	seed(t, store, t0, 1_699_999_000_000)

	now := t0 + 20_000
	tr := m.Start(ctx, now)

	assert.Equal(t, Started, tr)
	assert.Equal(t, now, m.ID())
	require.Len(t, rec.events, 1)
	assert.Equal(t, now, rec.events[0].sessionID)
}

func TestStart_GapExactlyAtThresholdStartsNewSession(t *testing.T) {
	m, _, store := newTestManager(t)
	seed(t, store, t0, 42)

	tr := m.Start(ctx, t0+DefaultMinTimeBetweenSessions.Milliseconds())
	assert.Equal(t, Started, tr)
}

func TestStart_ShortGapWithoutValidPreviousStartsNew(t *testing.T) {
	for _, previous := range []int64{0, -1} {
		m, _, store := newTestManager(t)
		seed(t, store, t0, previous)

		now := t0 + 1_000
		tr := m.Start(ctx, now)
		assert.Equal(t, Started, tr, "previous=%d", previous)
		assert.Equal(t, now, m.ID())
	}
}

func TestStart_OpenSessionContinues(t *testing.T) {
	m, rec, _ := newTestManager(t)
	m.Start(ctx, t0)
	rec.events = nil

	tr := m.Start(ctx, t0+60_000)

	assert.Equal(t, Continued, tr)
	assert.Equal(t, t0, m.ID())
	assert.Empty(t, rec.events, "continuing a session emits nothing")
}

func TestStart_OpenSessionTimesOut(t *testing.T) {
	m, rec, store := newTestManager(t)
	m.Start(ctx, t0)

	t1 := t0 + 5*60_000
	require.NoError(t, settings.Set(store, settings.KeyLastEventTime, t1))
	rec.events = nil

	now := t1 + (31 * time.Minute).Milliseconds()
	tr := m.Start(ctx, now)

	assert.Equal(t, Started, tr)
	assert.Equal(t, now, m.ID())
	require.Len(t, rec.events, 1)
	assert.Equal(t, now, rec.events[0].sessionID)
}

func TestStart_OpenSessionExactlyAtTimeoutContinues(t *testing.T) {
	m, _, store := newTestManager(t)
	m.Start(ctx, t0)
	require.NoError(t, settings.Set(store, settings.KeyLastEventTime, t0))

	tr := m.Start(ctx, t0+DefaultTimeout.Milliseconds())
	assert.Equal(t, Continued, tr, "timeout is strictly greater-than")
}

func TestStart_MissingLastEventTimeIsLargeGap(t *testing.T) {
	m, _, store := newTestManager(t)
	require.NoError(t, settings.Set(store, settings.KeyPreviousSessionID, int64(99)))

	tr := m.Start(ctx, t0)
	assert.Equal(t, Started, tr)
	assert.Equal(t, t0, m.ID())
}

func TestEnd_EmitsOnlyWhenOpen(t *testing.T) {
	m, rec, _ := newTestManager(t)

	assert.False(t, m.End(ctx, t0), "nothing to end before a session starts")
	assert.Empty(t, rec.events)

	m.Start(ctx, t0)
	rec.events = nil

	assert.True(t, m.End(ctx, t0+1_000))
	assert.False(t, m.IsOpen())
	require.Len(t, rec.events, 1)
	assert.Equal(t, emitted{EndEvent, t0 + 1_000, t0}, rec.events[0])

	assert.False(t, m.End(ctx, t0+2_000), "second End is a no-op")
	assert.Len(t, rec.events, 1)
}

// Suspend then resume within the short gap keeps the session id; resume
// after the gap mints a new one.
func TestLifecycle_SuspendResume(t *testing.T) {
	m, _, _ := newTestManager(t)

	m.Start(ctx, t0)
	m.End(ctx, t0+1_000)

	assert.Equal(t, Resumed, m.Start(ctx, t0+5_000))
	assert.Equal(t, t0, m.ID())

	m.End(ctx, t0+6_000)
	later := t0 + 6_000 + 16_000
	assert.Equal(t, Started, m.Start(ctx, later))
	assert.Equal(t, later, m.ID())
}

func TestStart_UnreadableSettingsTreatedAsMissing(t *testing.T) {
	m, _, store := newTestManager(t)
	require.NoError(t, store.Save(settings.KeyLastEventTime, "garbage"))

	assert.Equal(t, Started, m.Start(ctx, t0))
}

func TestTransition_String(t *testing.T) {
	assert.Equal(t, "continued", Continued.String())
	assert.Equal(t, "resumed", Resumed.String())
	assert.Equal(t, "started", Started.String())
	assert.Equal(t, "unknown", Transition(42).String())
}

func TestEmitterFunc(t *testing.T) {
	var got string
	EmitterFunc(func(_ context.Context, eventType string, _ int64) { got = eventType }).EmitSessionEvent(ctx, EndEvent, 1)
	assert.Equal(t, EndEvent, got)
}
