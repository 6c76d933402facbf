package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/roach88/beacon/internal/dispatch"
)

// Dispatchers starts a log and an http dispatcher for the duration of the
// test. Both loops are stopped during cleanup.
func Dispatchers(t *testing.T) (logQ, httpQ *dispatch.Dispatcher) {
	t.Helper()

	logQ = dispatch.New("log", nil)
	httpQ = dispatch.New("http", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{}, 2)
	for _, d := range []*dispatch.Dispatcher{logQ, httpQ} {
		go func(d *dispatch.Dispatcher) {
			_ = d.Run(ctx)
			done <- struct{}{}
		}(d)
	}

	t.Cleanup(func() {
		cancel()
		for i := 0; i < 2; i++ {
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				t.Errorf("dispatcher did not stop")
				return
			}
		}
	})
	return logQ, httpQ
}

// Drain waits until every dispatcher is idle, including work handed from
// one dispatcher to another.
func Drain(t *testing.T, queues ...*dispatch.Dispatcher) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := dispatch.WaitIdle(ctx, queues...); err != nil {
		t.Fatalf("drain: %v", err)
	}
}
