package dispatch

import (
	"context"
	"sync"
)

// Task is a unit of work run by a Dispatcher. The context is the one
// passed to Run and is cancelled on shutdown.
type Task func(ctx context.Context)

// taskQueue is a thread-safe unbounded FIFO of tasks.
//
// The queue is unbounded so that Submit never blocks the caller; a host
// logging events from a UI thread must not stall behind a slow worker.
//
// The signal channel (buffered, size 1) coalesces wakeups and is closed
// by Close so a waiting worker observes shutdown.
type taskQueue struct {
	mu     sync.Mutex
	tasks  []Task
	closed bool
	signal chan struct{}
}

func newTaskQueue() *taskQueue {
	return &taskQueue{
		tasks:  make([]Task, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// push appends a task. Returns false if the queue is closed.
func (q *taskQueue) push(task Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.tasks = append(q.tasks, task)

	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// pop removes and returns the front task without blocking.
func (q *taskQueue) pop() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return nil, false
	}

	task := q.tasks[0]
	// Drop the reference so the closure (and whatever it captured) can be
	// collected.
	q.tasks[0] = nil

	if len(q.tasks) == 1 {
		q.tasks = q.tasks[:0]
	} else {
		q.tasks = q.tasks[1:]
	}

	return task, true
}

// wait returns a channel that signals when tasks may be available.
func (q *taskQueue) wait() <-chan struct{} {
	return q.signal
}

func (q *taskQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *taskQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// close stops accepting tasks and wakes the worker. Tasks already queued
// are still handed out by pop.
func (q *taskQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
