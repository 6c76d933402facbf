// Package tracker is the host-facing API of the telemetry buffer.
//
// A Tracker owns one event store, one session manager and one upload
// pipeline, and runs them on two dispatchers:
//
//	log   event construction, storage, session state, trigger decisions
//	http  encoding and posting batches
//
// Public methods only capture a timestamp and submit a task, so they are
// cheap and safe from any goroutine. Nothing in the log path returns an
// error to the host; failures are logged and the offending record is
// skipped.
//
// Usage:
//
//	t, err := tracker.New(cfg)
//	if err != nil { ... }
//	go t.Run(ctx)
//	defer t.Close()
//
//	t.LogEvent("checkout", map[string]any{"items": 3})
package tracker
