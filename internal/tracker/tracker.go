package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/beacon/internal/clock"
	"github.com/roach88/beacon/internal/config"
	"github.com/roach88/beacon/internal/device"
	"github.com/roach88/beacon/internal/dispatch"
	"github.com/roach88/beacon/internal/event"
	"github.com/roach88/beacon/internal/session"
	"github.com/roach88/beacon/internal/settings"
	"github.com/roach88/beacon/internal/store"
	"github.com/roach88/beacon/internal/upload"
)

// ErrAlreadyRunning is returned by Run when called more than once.
var ErrAlreadyRunning = errors.New("tracker already running")

// ErrMissingAPIKey is returned by New for an empty API key.
var ErrMissingAPIKey = errors.New("api key must not be empty")

// Tracker buffers events locally and uploads them in the background.
//
// Thread-safety model:
//   - LogEvent, SetUserID, SetUserProperties, StartSession, EndSession,
//     Flush, Wait, DeviceID, Close: safe from any goroutine
//   - Run: once
//
// Close must not be called from inside a task (for example a
// FailureHandler), since it waits for the dispatchers to drain.
type Tracker struct {
	cfg      config.Config
	store    *store.Store
	settings settings.Store
	device   device.Provider
	clock    clock.Clock
	sender   upload.Sender
	failure  upload.FailureHandler
	logger   *slog.Logger

	logQ     *dispatch.Dispatcher
	httpQ    *dispatch.Dispatcher
	sessions *session.Manager
	pipeline *upload.Pipeline

	deviceID string

	// Owned by the log dispatcher.
	userID         string
	userProperties map[string]any

	ownsStore bool
	started   atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// New creates a tracker, loads or creates the device id and queues the
// initial StartSession. Nothing runs until Run is called.
func New(cfg config.Config, opts ...Option) (*Tracker, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}

	t := &Tracker{
		cfg:  cfg.WithDefaults(),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	if t.logger == nil {
		t.logger = slog.Default()
	}
	if t.clock == nil {
		t.clock = clock.Real()
	}
	if t.device == nil {
		t.device = device.Detect(t.cfg.AppVersion)
	}
	if t.sender == nil {
		t.sender = upload.NewHTTPSender(t.cfg.Endpoint, t.cfg.HTTPTimeout)
	}
	if t.store == nil {
		s, err := store.Open(t.cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open event store: %w", err)
		}
		t.store = s
		t.ownsStore = true
	}
	if t.settings == nil {
		t.settings = t.store.Settings()
	}

	if err := t.loadIdentity(); err != nil {
		t.closeStore()
		return nil, err
	}

	t.logQ = dispatch.New("log", t.logger)
	t.httpQ = dispatch.New("http", t.logger)

	t.sessions = session.NewManager(session.Config{
		MinTimeBetweenSessions: t.cfg.MinTimeBetweenSessions,
		Timeout:                t.cfg.SessionTimeout,
	}, t.settings, t, t.logger)

	t.pipeline = upload.New(upload.Config{
		APIKey:       t.cfg.APIKey,
		Threshold:    t.cfg.UploadThreshold,
		MaxBatch:     t.cfg.MaxBatch,
		UploadPeriod: t.cfg.UploadPeriod,
	}, t.store, t.sender, t.logQ, t.httpQ,
		upload.WithClock(t.clock),
		upload.WithLogger(t.logger),
		upload.WithFailureHandler(t.failure),
	)

	t.StartSession()
	return t, nil
}

// loadIdentity reads the persisted user id and reads or creates the
// device id.
func (t *Tracker) loadIdentity() error {
	userID, _, err := settings.Get[string](t.settings, settings.KeyUserID)
	if err != nil {
		return fmt.Errorf("load user id: %w", err)
	}
	t.userID = userID

	deviceID, ok, err := settings.Get[string](t.settings, settings.KeyDeviceID)
	if err != nil {
		return fmt.Errorf("load device id: %w", err)
	}
	if !ok || deviceID == "" {
		deviceID = uuid.New().String()
		if err := settings.Set(t.settings, settings.KeyDeviceID, deviceID); err != nil {
			return fmt.Errorf("save device id: %w", err)
		}
		t.logger.Debug("generated device id", "device_id", deviceID)
	}
	t.deviceID = deviceID
	return nil
}

// Run runs both dispatchers until ctx is cancelled or Close is called.
// Returns nil after Close, ctx.Err() after cancellation.
func (t *Tracker) Run(ctx context.Context) error {
	if !t.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(t.done)

	t.logger.Info("tracker starting", "device_id", t.deviceID)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return t.logQ.Run(gctx) })
	g.Go(func() error { return t.httpQ.Run(gctx) })
	err := g.Wait()

	t.pipeline.Close()
	if cerr := t.closeStore(); cerr != nil && err == nil {
		err = cerr
	}

	t.logger.Info("tracker stopped")
	return err
}

// Close cancels the pending delayed flush, lets queued work (including an
// upload in flight and its removal) finish, stops both dispatchers and
// closes the store if the tracker opened it. The drain is bounded by the
// HTTP timeout. When Run was never called the queued work is discarded.
func (t *Tracker) Close() error {
	t.pipeline.Close()

	if t.started.CompareAndSwap(false, true) {
		t.logQ.Close()
		t.httpQ.Close()
		close(t.done)
		return t.closeStore()
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.HTTPTimeout+time.Second)
	if err := dispatch.WaitIdle(ctx, t.logQ, t.httpQ); err != nil && !errors.Is(err, dispatch.ErrClosed) {
		t.logger.Warn("closing with work still queued", "error", err)
	}
	cancel()

	t.logQ.Close()
	t.httpQ.Close()
	<-t.done
	return t.closeErr
}

func (t *Tracker) closeStore() error {
	t.closeOnce.Do(func() {
		if t.ownsStore {
			t.closeErr = t.store.Close()
		}
	})
	return t.closeErr
}

// DeviceID returns the persistent device id.
func (t *Tracker) DeviceID() string {
	return t.deviceID
}

// SetUserID sets the user id attached to later events and persists it.
// An empty id clears it.
func (t *Tracker) SetUserID(userID string) {
	t.logQ.Submit(func(context.Context) {
		t.userID = userID
		if err := settings.Set(t.settings, settings.KeyUserID, userID); err != nil {
			t.logger.Error("failed to persist user id", "error", err)
		}
	})
}

// SetUserProperties sets the user properties attached to later events.
// With replace the map replaces the current properties; otherwise it is
// merged in and its keys win.
func (t *Tracker) SetUserProperties(props map[string]any, replace bool) {
	props = cloneProps(props)
	t.logQ.Submit(func(context.Context) {
		if replace {
			t.userProperties = props
			return
		}
		t.userProperties = event.MergeProperties(t.userProperties, props)
	})
}

// LogEvent records an event. Empty event types are ignored. The timestamp
// is taken now, not when the event is stored.
func (t *Tracker) LogEvent(eventType string, props map[string]any) {
	if eventType == "" {
		return
	}
	ts := clock.Millis(t.clock)
	props = cloneProps(props)
	t.logQ.Submit(func(ctx context.Context) {
		t.logEvent(ctx, eventType, props, nil, ts)
	})
}

// StartSession runs the session boundary check for activity now.
func (t *Tracker) StartSession() {
	ts := clock.Millis(t.clock)
	t.logQ.Submit(func(ctx context.Context) {
		t.sessions.Start(ctx, ts)
	})
}

// EndSession logs end_session if a session is open, closes it and flushes.
func (t *Tracker) EndSession() {
	ts := clock.Millis(t.clock)
	t.logQ.Submit(func(ctx context.Context) {
		t.sessions.End(ctx, ts)
		t.pipeline.ScheduleFlush(ctx, false)
	})
}

// Flush uploads pending events now. With uploadRemaining every stored
// event is sent in one batch; otherwise at most one regular batch is,
// followed by more while the backlog stays above the threshold.
func (t *Tracker) Flush(uploadRemaining bool) {
	t.logQ.Submit(func(ctx context.Context) {
		t.pipeline.ScheduleFlush(ctx, uploadRemaining)
	})
}

// Wait blocks until every call made before it has been fully processed,
// including uploads and the removals they trigger.
func (t *Tracker) Wait(ctx context.Context) error {
	return dispatch.WaitIdle(ctx, t.logQ, t.httpQ)
}

// EmitSessionEvent implements session.Emitter. It runs on the log
// dispatcher, inside Start or End.
func (t *Tracker) EmitSessionEvent(ctx context.Context, eventType string, timestamp int64) {
	t.logEvent(ctx, eventType, nil, map[string]any{event.SpecialKey: eventType}, timestamp)
}

// logEvent builds, stores and triggers upload for one event. Returns the
// stored id, or -1 when the event could not be stored.
func (t *Tracker) logEvent(ctx context.Context, eventType string, props, apiProps map[string]any, timestamp int64) int64 {
	if timestamp <= 0 {
		timestamp = clock.Millis(t.clock)
	}

	ev := event.New(event.Params{
		Type:           eventType,
		Properties:     props,
		APIProperties:  apiProps,
		UserProperties: t.userProperties,
		Timestamp:      timestamp,
		UserID:         t.userID,
		DeviceID:       t.deviceID,
		SessionID:      t.sessions.ID(),
		Device:         t.device.Info(),
	})

	if err := settings.Set(t.settings, settings.KeyLastEventTime, timestamp); err != nil {
		t.logger.Error("failed to persist last event time", "error", err)
	}

	payload, err := ev.Marshal()
	if err != nil {
		t.logger.Error("failed to encode event", "event_type", ev.EventType, "error", err)
		return -1
	}

	id, err := t.store.Append(ctx, payload)
	if err != nil {
		t.logger.Error("failed to store event", "event_type", ev.EventType, "error", err)
		return -1
	}

	removed, err := t.store.Trim(ctx, t.cfg.MaxCount, t.cfg.RemoveBatch)
	if err != nil {
		t.logger.Error("failed to trim event store", "error", err)
	} else if removed > 0 {
		t.logger.Warn("event store full, dropped oldest events", "dropped", removed)
	}

	count, err := t.store.Count(ctx)
	if err != nil {
		t.logger.Error("failed to count events", "error", err)
		return id
	}
	t.pipeline.AfterAppend(ctx, count)
	return id
}

func cloneProps(props map[string]any) map[string]any {
	if props == nil {
		return nil
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}
