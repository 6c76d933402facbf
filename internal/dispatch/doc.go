// Package dispatch provides serial dispatchers: single-worker task loops
// that execute submitted tasks strictly in submission order.
//
// The tracker runs two of them. The "log" dispatcher owns every mutation of
// session state, the event store and the settings store, so those need no
// locks. The "http" dispatcher owns network I/O so a slow upload never
// blocks event logging.
//
// Tasks on one dispatcher never touch state owned by the other. A task that
// needs to act on the other side submits a new task there:
//
//	httpQ.Submit(func(ctx context.Context) {
//	    ok := post(ctx, batch)
//	    logQ.Submit(func(ctx context.Context) { onUploaded(ctx, batch, ok) })
//	})
package dispatch
