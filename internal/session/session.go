// Package session decides whether activity belongs to the current session
// or starts a new one.
//
// A session id is the millisecond timestamp that started it. The manager
// keeps the id in memory and mirrors it to settings as previousSessionId so
// a process restart shortly after suspension resumes the same session.
//
// The boundary algorithm has two stages:
//
//	Closed: gap = now - lastEventTime
//	    gap <  MinTimeBetweenSessions: resume previousSessionId (new if <= 0)
//	    gap >= MinTimeBetweenSessions: new session
//	Open:   now - lastEventTime > Timeout (or id <= 0): new session
//	        otherwise: continue
//
// Whatever branch ran, the manager ends up Open.
//
// Manager is not safe for concurrent use; the tracker only calls it from
// its log dispatcher.
package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/beacon/internal/settings"
)

// Event types emitted at session boundaries. They double as the value of
// the "special" api property.
const (
	StartEvent = "start_session"
	EndEvent   = "end_session"
)

// Defaults for the boundary thresholds.
const (
	DefaultMinTimeBetweenSessions = 15 * time.Second
	DefaultTimeout                = 30 * time.Minute
)

// Emitter logs a session boundary event. It is called synchronously from
// Start and End, and must stamp the event with the manager's current ID.
type Emitter interface {
	EmitSessionEvent(ctx context.Context, eventType string, timestamp int64)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, eventType string, timestamp int64)

// EmitSessionEvent implements Emitter.
func (f EmitterFunc) EmitSessionEvent(ctx context.Context, eventType string, timestamp int64) {
	f(ctx, eventType, timestamp)
}

// Transition reports what Start did.
type Transition int

const (
	// Continued means the open session was kept.
	Continued Transition = iota
	// Resumed means the previous session id was reused after a short gap.
	Resumed
	// Started means a new session id was minted.
	Started
)

func (t Transition) String() string {
	switch t {
	case Continued:
		return "continued"
	case Resumed:
		return "resumed"
	case Started:
		return "started"
	default:
		return "unknown"
	}
}

// Config holds the boundary thresholds.
type Config struct {
	MinTimeBetweenSessions time.Duration
	Timeout                time.Duration
}

// DefaultConfig returns the standard thresholds: 15s between sessions,
// 30m inactivity timeout.
func DefaultConfig() Config {
	return Config{
		MinTimeBetweenSessions: DefaultMinTimeBetweenSessions,
		Timeout:                DefaultTimeout,
	}
}

// Manager is the session state machine.
type Manager struct {
	cfg      Config
	settings settings.Store
	emitter  Emitter
	logger   *slog.Logger

	id   int64
	open bool
}

// NewManager creates a Closed manager with no session id (-1).
func NewManager(cfg Config, store settings.Store, emitter Emitter, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		settings: store,
		emitter:  emitter,
		logger:   logger.With("component", "session"),
		id:       -1,
	}
}

// ID returns the current session id, or -1 before any session started.
func (m *Manager) ID() int64 {
	return m.id
}

// IsOpen reports whether a session is open.
func (m *Manager) IsOpen() bool {
	return m.open
}

// Start applies the boundary algorithm for activity at now (Unix ms).
func (m *Manager) Start(ctx context.Context, now int64) Transition {
	transition := Continued

	if !m.open {
		gap := now - m.lastEventTime()
		if gap < m.cfg.MinTimeBetweenSessions.Milliseconds() {
			previous := m.previousSessionID()
			if previous <= 0 {
				m.startNew(ctx, now)
				transition = Started
			} else {
				m.id = previous
				m.emitter.EmitSessionEvent(ctx, StartEvent, now)
				transition = Resumed
			}
		} else {
			m.startNew(ctx, now)
			transition = Started
		}
	} else if now-m.lastEventTime() > m.cfg.Timeout.Milliseconds() || m.id <= 0 {
		m.startNew(ctx, now)
		transition = Started
	}

	// Unconditional: a resumed session is open too, so the next event
	// sees an open session rather than re-running the gap check.
	m.open = true

	m.logger.Debug("session start", "transition", transition.String(), "session_id", m.id)
	return transition
}

// End emits end_session if a session is open and closes it. Returns true if
// an end event was emitted. The caller is responsible for the flush that
// follows a suspend.
func (m *Manager) End(ctx context.Context, now int64) bool {
	emitted := false
	if m.open {
		m.emitter.EmitSessionEvent(ctx, EndEvent, now)
		emitted = true
		m.logger.Debug("session end", "session_id", m.id)
	}
	m.open = false
	return emitted
}

func (m *Manager) startNew(ctx context.Context, now int64) {
	m.open = true
	m.id = now
	if err := settings.Set(m.settings, settings.KeyPreviousSessionID, now); err != nil {
		m.logger.Error("failed to persist session id", "error", err, "session_id", now)
	}
	m.emitter.EmitSessionEvent(ctx, StartEvent, now)
}

// lastEventTime returns the persisted last event time, treating a missing
// or unreadable value as 0 (an arbitrarily large gap).
func (m *Manager) lastEventTime() int64 {
	v, _, err := settings.Get[int64](m.settings, settings.KeyLastEventTime)
	if err != nil {
		m.logger.Warn("unreadable last event time", "error", err)
		return 0
	}
	return v
}

func (m *Manager) previousSessionID() int64 {
	v, _, err := settings.Get[int64](m.settings, settings.KeyPreviousSessionID)
	if err != nil {
		m.logger.Warn("unreadable previous session id", "error", err)
		return 0
	}
	return v
}
