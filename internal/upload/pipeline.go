package upload

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/beacon/internal/clock"
	"github.com/roach88/beacon/internal/dispatch"
	"github.com/roach88/beacon/internal/store"
)

// Defaults for Config.
const (
	DefaultThreshold    = 30
	DefaultMaxBatch     = 100
	DefaultUploadPeriod = 5000 * time.Millisecond
)

// EventLog is the part of the event store the pipeline uses. Every call is
// made from a log dispatcher task.
type EventLog interface {
	Count(ctx context.Context) (int, error)
	PeekBatch(ctx context.Context, limit int) (store.Batch, error)
	RemoveUpTo(ctx context.Context, maxID int64) error
}

// FailureHandler observes failed uploads. It receives a *RejectionError,
// a *SerializationError or a transport error, and runs on the http
// dispatcher.
type FailureHandler func(err error)

// Config holds the pipeline's tuning knobs.
type Config struct {
	APIKey string

	// Threshold is the record count at which an append flushes
	// immediately instead of waiting for the delayed flush.
	Threshold int

	// MaxBatch is the largest batch a non-draining flush sends.
	MaxBatch int

	// UploadPeriod is the debounce window of the delayed flush.
	UploadPeriod time.Duration
}

// DefaultConfig returns the standard thresholds for apiKey.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:       apiKey,
		Threshold:    DefaultThreshold,
		MaxBatch:     DefaultMaxBatch,
		UploadPeriod: DefaultUploadPeriod,
	}
}

// Pipeline schedules and performs uploads.
type Pipeline struct {
	cfg     Config
	events  EventLog
	sender  Sender
	clock   clock.Clock
	logQ    *dispatch.Dispatcher
	httpQ   *dispatch.Dispatcher
	logger  *slog.Logger
	failure FailureHandler

	uploading atomic.Bool
	scheduled atomic.Bool

	// drainPending remembers an uploadRemaining flush that found an upload
	// in flight; the commit of that upload runs it.
	drainPending atomic.Bool

	mu     sync.Mutex
	timer  *clock.Timer
	closed bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline's logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithClock sets the clock used for upload_time and the delayed flush.
func WithClock(c clock.Clock) Option {
	return func(p *Pipeline) {
		if c != nil {
			p.clock = c
		}
	}
}

// WithFailureHandler registers a callback for failed uploads.
func WithFailureHandler(h FailureHandler) Option {
	return func(p *Pipeline) {
		p.failure = h
	}
}

// New creates a pipeline. logQ must be the dispatcher that owns events;
// httpQ runs the network calls.
func New(cfg Config, events EventLog, sender Sender, logQ, httpQ *dispatch.Dispatcher, opts ...Option) *Pipeline {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = DefaultMaxBatch
	}
	if cfg.UploadPeriod <= 0 {
		cfg.UploadPeriod = DefaultUploadPeriod
	}

	p := &Pipeline{
		cfg:    cfg,
		events: events,
		sender: sender,
		clock:  clock.Real(),
		logQ:   logQ,
		httpQ:  httpQ,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "upload")
	return p
}

// Uploading reports whether a batch is in flight.
func (p *Pipeline) Uploading() bool {
	return p.uploading.Load()
}

// Scheduled reports whether a delayed flush is pending.
func (p *Pipeline) Scheduled() bool {
	return p.scheduled.Load()
}

// AfterAppend applies the trigger policy once a record has been stored:
// at or above the threshold flush now, otherwise arm the delayed flush.
// Must run on the log dispatcher.
func (p *Pipeline) AfterAppend(ctx context.Context, count int) {
	if count >= p.cfg.Threshold {
		p.ScheduleFlush(ctx, false)
		return
	}
	p.ScheduleDelayedFlush(p.cfg.UploadPeriod)
}

// ScheduleFlush snapshots the oldest records and hands them to the http
// dispatcher. With uploadRemaining every stored record is sent, otherwise
// at most MaxBatch. Returns false if another upload already holds the
// flag; an uploadRemaining request is then deferred until that upload
// commits. Must run on the log dispatcher.
func (p *Pipeline) ScheduleFlush(ctx context.Context, uploadRemaining bool) bool {
	if !p.uploading.CompareAndSwap(false, true) {
		if uploadRemaining {
			p.drainPending.Store(true)
			p.logger.Debug("drain deferred: upload in flight")
			return false
		}
		p.logger.Debug("flush skipped: upload in flight")
		return false
	}
	if uploadRemaining {
		p.drainPending.Store(false)
	}

	limit := p.cfg.MaxBatch
	if uploadRemaining {
		limit = -1
	}

	batch, err := p.events.PeekBatch(ctx, limit)
	if err != nil {
		p.logger.Error("snapshot batch", "error", err)
		p.uploading.Store(false)
		return true
	}
	if batch.Empty() {
		p.uploading.Store(false)
		return true
	}

	if !p.httpQ.Submit(func(ctx context.Context) { p.upload(ctx, batch) }) {
		p.logger.Debug("flush dropped: http dispatcher closed")
		p.uploading.Store(false)
	}
	return true
}

// ScheduleDelayedFlush arms a one-shot timer that runs ScheduleFlush on the
// log dispatcher after delay. While a timer is pending further calls do
// nothing. Safe from any goroutine.
func (p *Pipeline) ScheduleDelayedFlush(delay time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}
	if !p.scheduled.CompareAndSwap(false, true) {
		return false
	}

	p.timer = p.clock.AfterFunc(delay, func() {
		ok := p.logQ.Submit(func(ctx context.Context) {
			p.scheduled.Store(false)
			p.ScheduleFlush(ctx, false)
		})
		if !ok {
			p.scheduled.Store(false)
		}
	})
	return true
}

// Close cancels a pending delayed flush and stops further ones. An upload
// already in flight is left to finish on its dispatcher.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	if p.timer != nil && p.timer.Stop() {
		p.scheduled.Store(false)
	}
	p.timer = nil
}

// upload runs on the http dispatcher.
func (p *Pipeline) upload(ctx context.Context, batch store.Batch) {
	events, err := EncodeEvents(batch)
	if err != nil {
		p.logger.Error("encode batch", "max_id", batch.MaxID, "error", err)
		p.fail(err)
		return
	}

	form := Form(p.cfg.APIKey, events, clock.Millis(p.clock))
	body, err := p.sender.Send(ctx, form)
	if err != nil {
		p.logger.Warn("upload failed, will retry", "records", len(batch.Records), "error", err)
		p.fail(err)
		return
	}

	if outcome := ParseResponse(body); outcome != OutcomeSuccess {
		rej := &RejectionError{Outcome: outcome, Body: body}
		p.logger.Warn("upload rejected, will retry", "outcome", string(outcome), "reason", rej.Error())
		p.fail(rej)
		return
	}

	p.logger.Debug("upload succeeded", "records", len(batch.Records), "max_id", batch.MaxID)

	if !p.logQ.Submit(func(ctx context.Context) { p.commit(ctx, batch.MaxID) }) {
		p.uploading.Store(false)
	}
}

// commit runs on the log dispatcher after a successful upload.
func (p *Pipeline) commit(ctx context.Context, maxID int64) {
	if err := p.events.RemoveUpTo(ctx, maxID); err != nil {
		p.logger.Error("remove uploaded records", "max_id", maxID, "error", err)
	}
	p.uploading.Store(false)

	if p.drainPending.Swap(false) {
		p.logQ.Submit(func(ctx context.Context) { p.ScheduleFlush(ctx, true) })
		return
	}

	count, err := p.events.Count(ctx)
	if err != nil {
		p.logger.Error("count after upload", "error", err)
		return
	}
	if count > p.cfg.Threshold {
		p.logQ.Submit(func(ctx context.Context) { p.ScheduleFlush(ctx, false) })
	}
}

func (p *Pipeline) fail(err error) {
	p.drainPending.Store(false)
	p.uploading.Store(false)
	if p.failure != nil {
		p.failure(err)
	}
}
