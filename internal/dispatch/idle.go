package dispatch

import "context"

// WaitIdle blocks until none of the dispatchers has queued or running
// work. Tasks hand work to another dispatcher before they finish, so two
// consecutive idle observations across all dispatchers mean no hand-off is
// outstanding.
func WaitIdle(ctx context.Context, dispatchers ...*Dispatcher) error {
	idleRounds := 0
	for idleRounds < 2 {
		for _, d := range dispatchers {
			if err := d.Wait(ctx); err != nil {
				return err
			}
		}
		idle := true
		for _, d := range dispatchers {
			if d.Busy() > 0 {
				idle = false
			}
		}
		if idle {
			idleRounds++
		} else {
			idleRounds = 0
		}
	}
	return nil
}
