package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"time"

	"github.com/roach88/beacon/internal/clock"
	"github.com/roach88/beacon/internal/collector"
	"github.com/roach88/beacon/internal/device"
	"github.com/roach88/beacon/internal/settings"
	"github.com/roach88/beacon/internal/store"
	"github.com/roach88/beacon/internal/tracker"
	"github.com/roach88/beacon/internal/upload"
)

// apiKey is the key both the tracker and the collector use.
const apiKey = "harness-key"

// stepTimeout bounds the wait after each step.
const stepTimeout = 10 * time.Second

// DeviceInfo is the fixed device every scenario reports.
var DeviceInfo = device.Static{
	Platform:   device.Platform,
	AppVersion: "1.0.0",
	OSName:     "linux",
	OSVersion:  "6.1",
	Language:   "en",
	Country:    "US",
}

// Harness holds the pieces of one scenario run.
type Harness struct {
	tracker   *tracker.Tracker
	collector *collector.Collector
	store     *store.Store
	clock     *clock.FakeClock
	logger    *slog.Logger
}

// Run executes a scenario and evaluates its assertions.
//
// Each scenario runs against a fresh in-memory store and its own collector.
// The returned error covers setup failures and steps that could not run;
// failed assertions are reported through Result.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	return RunWithLogger(ctx, scenario, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// RunWithLogger is Run with the tracker and collector logging to logger.
func RunWithLogger(ctx context.Context, scenario *Scenario, logger *slog.Logger) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	if scenario.UserID != "" {
		if err := settings.Set(st.Settings(), settings.KeyUserID, scenario.UserID); err != nil {
			return nil, fmt.Errorf("failed to seed user id: %w", err)
		}
	}

	coll := collector.New(logger, apiKey)
	srv := httptest.NewServer(coll.Handler())
	defer srv.Close()

	cfg := scenario.Config
	cfg.APIKey = apiKey
	cfg.Endpoint = srv.URL + "/"
	cfg.DBPath = ":memory:"
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	start := scenario.StartTime
	if start == 0 {
		start = DefaultStartTime
	}
	clk := clock.Fake(time.UnixMilli(start))

	tr, err := tracker.New(cfg,
		tracker.WithStore(st),
		tracker.WithClock(clk),
		tracker.WithDevice(DeviceInfo),
		tracker.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracker: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- tr.Run(runCtx) }()

	h := &Harness{tracker: tr, collector: coll, store: st, clock: clk, logger: logger}

	result := NewResult()
	runErr := h.execute(ctx, scenario.Steps)

	if err := tr.Close(); err != nil && runErr == nil {
		runErr = fmt.Errorf("failed to close tracker: %w", err)
	}
	cancel()
	if err := <-errc; err != nil && runErr == nil {
		runErr = fmt.Errorf("tracker stopped: %w", err)
	}
	if runErr != nil {
		return nil, runErr
	}

	if err := h.collect(ctx, result); err != nil {
		return nil, err
	}
	for _, a := range scenario.Assertions {
		if err := evaluate(result, a); err != nil {
			result.AddError(err.Error())
		}
	}
	return result, nil
}

// execute applies each step and waits for the tracker to settle.
func (h *Harness) execute(ctx context.Context, steps []Step) error {
	// The constructor queued the initial session start.
	if err := h.settle(ctx); err != nil {
		return fmt.Errorf("initial start: %w", err)
	}

	for i, step := range steps {
		h.apply(step)
		if err := h.settle(ctx); err != nil {
			return fmt.Errorf("steps[%d] %s: %w", i, step.Op, err)
		}
	}
	return nil
}

func (h *Harness) apply(step Step) {
	switch step.Op {
	case OpLog:
		h.tracker.LogEvent(step.EventType, step.Props)
	case OpSetUserID:
		h.tracker.SetUserID(step.UserID)
	case OpSetUserProperties:
		h.tracker.SetUserProperties(step.Props, step.Replace)
	case OpStartSession:
		h.tracker.StartSession()
	case OpEndSession:
		h.tracker.EndSession()
	case OpFlush:
		h.tracker.Flush(step.UploadRemaining)
	case OpAdvance:
		h.clock.Advance(step.Duration)
	case OpFailNext:
		h.collector.FailNext(upload.Outcome(step.Outcome))
	}
	h.logger.Debug("step applied", "op", step.Op)
}

func (h *Harness) settle(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()
	return h.tracker.Wait(ctx)
}

// collect fills result from the collector and the store.
func (h *Harness) collect(ctx context.Context, result *Result) error {
	for _, doc := range h.collector.Events() {
		r, err := toReceived(doc)
		if err != nil {
			return err
		}
		result.Received = append(result.Received, r)
	}
	result.Requests = h.collector.Requests()

	pending, err := h.store.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count pending events: %w", err)
	}
	result.Pending = pending
	return nil
}

// toReceived projects a collector document onto the fields scenarios
// check. The random device id is left out so runs stay reproducible.
func toReceived(doc map[string]any) (Received, error) {
	var r Received
	var err error
	if r.EventID, err = intField(doc, "event_id"); err != nil {
		return r, err
	}
	if r.SessionID, err = intField(doc, "session_id"); err != nil {
		return r, err
	}
	if r.Timestamp, err = intField(doc, "timestamp"); err != nil {
		return r, err
	}
	r.EventType, _ = doc["event_type"].(string)
	r.UserID, _ = doc["user_id"].(string)
	r.Properties, _ = doc["event_properties"].(map[string]any)
	r.UserProperties, _ = doc["user_properties"].(map[string]any)
	return r, nil
}

func intField(doc map[string]any, key string) (int64, error) {
	n, ok := doc[key].(json.Number)
	if !ok {
		return 0, fmt.Errorf("received event has no numeric %s: %v", key, doc[key])
	}
	v, err := n.Int64()
	if err != nil {
		return 0, fmt.Errorf("received event %s: %w", key, err)
	}
	return v, nil
}
