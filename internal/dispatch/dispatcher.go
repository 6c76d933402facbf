package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
)

var (
	// ErrClosed is returned by Wait when the dispatcher no longer accepts
	// tasks.
	ErrClosed = errors.New("dispatcher closed")

	// ErrAlreadyRunning is returned by Run when another goroutine is
	// already running the dispatcher's loop.
	ErrAlreadyRunning = errors.New("dispatcher already running")
)

// Dispatcher is a named single-worker task loop.
//
// Thread-safety model:
//   - Submit, Wait, Close, Len: safe from any goroutine
//   - Run: exactly one goroutine at a time
//
// Tasks submitted from the same goroutine run in submission order and
// never concurrently with each other.
type Dispatcher struct {
	name    string
	queue   *taskQueue
	logger  *slog.Logger
	running atomic.Bool
	pending atomic.Int64
}

// New creates a dispatcher. The name is attached to every log line as the
// "queue" attribute. A nil logger uses slog.Default().
func New(name string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		name:   name,
		queue:  newTaskQueue(),
		logger: logger.With("queue", name),
	}
}

// Name returns the dispatcher's name.
func (d *Dispatcher) Name() string {
	return d.name
}

// Submit enqueues a task. Returns false if the dispatcher is closed, in
// which case the task will never run.
func (d *Dispatcher) Submit(task Task) bool {
	if task == nil {
		return false
	}
	d.pending.Add(1)
	counted := func(ctx context.Context) {
		defer d.pending.Add(-1)
		task(ctx)
	}
	if !d.queue.push(counted) {
		d.pending.Add(-1)
		return false
	}
	return true
}

// Len returns the number of queued tasks not yet started.
func (d *Dispatcher) Len() int {
	return d.queue.len()
}

// Busy returns the number of submitted tasks queued or running. Wait
// barriers are not counted.
func (d *Dispatcher) Busy() int {
	return int(d.pending.Load())
}

// Run executes tasks until ctx is cancelled or Close is called and the
// queue has drained.
//
// A task that panics is logged and the loop continues with the next task;
// a telemetry worker must never take the host process down.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer d.running.Store(false)

	d.logger.Debug("dispatcher starting")

	for {
		task, ok := d.queue.pop()
		if ok {
			d.execute(ctx, task)
			continue
		}

		select {
		case <-ctx.Done():
			d.logger.Debug("dispatcher stopping: context cancelled")
			d.queue.close()
			return ctx.Err()

		case <-d.queue.wait():
			// The signal channel is closed by Close, so this case keeps
			// firing; stop once the queue is both closed and empty.
			if d.queue.isClosed() && d.queue.len() == 0 {
				d.logger.Debug("dispatcher stopping: closed")
				return nil
			}
		}
	}
}

// Close stops accepting new tasks. Queued tasks still run; Run returns
// once they have.
func (d *Dispatcher) Close() {
	d.queue.close()
}

// Wait blocks until every task submitted before the call has run.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	if !d.queue.push(func(context.Context) { close(done) }) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) execute(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("task panicked", "panic", fmt.Sprint(r))
		}
	}()
	task(ctx)
}
