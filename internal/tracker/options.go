package tracker

import (
	"log/slog"

	"github.com/roach88/beacon/internal/clock"
	"github.com/roach88/beacon/internal/device"
	"github.com/roach88/beacon/internal/settings"
	"github.com/roach88/beacon/internal/store"
	"github.com/roach88/beacon/internal/upload"
)

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock sets the clock used for timestamps and the delayed flush.
func WithClock(c clock.Clock) Option {
	return func(t *Tracker) {
		t.clock = c
	}
}

// WithSender replaces the HTTP sender built from the config.
func WithSender(s upload.Sender) Option {
	return func(t *Tracker) {
		t.sender = s
	}
}

// WithSettings replaces the SQLite-backed settings store.
func WithSettings(s settings.Store) Option {
	return func(t *Tracker) {
		t.settings = s
	}
}

// WithDevice replaces device detection.
func WithDevice(p device.Provider) Option {
	return func(t *Tracker) {
		t.device = p
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = l
	}
}

// WithStore uses an already open store instead of opening cfg.DBPath.
// The caller keeps ownership and must close it after the tracker.
func WithStore(s *store.Store) Option {
	return func(t *Tracker) {
		t.store = s
	}
}

// WithFailureHandler observes failed uploads.
func WithFailureHandler(h upload.FailureHandler) Option {
	return func(t *Tracker) {
		t.failure = h
	}
}
