// Package upload moves stored events to the collector.
//
// A Pipeline runs on two dispatchers. Snapshots, removals and trigger
// decisions happen on the log dispatcher, which owns the event store.
// Encoding and the POST itself happen on the http dispatcher. Two atomic
// flags keep at most one batch in flight and at most one delayed flush
// pending:
//
//	uploading  set by ScheduleFlush, cleared after the response is handled
//	scheduled  set by ScheduleDelayedFlush, cleared when the timer fires
//
// Only a "success" response removes records. Every other outcome leaves
// the batch in the store to be retried by the next trigger.
package upload
