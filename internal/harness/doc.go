// Package harness runs scripted tracker scenarios end to end.
//
// A scenario drives a real tracker against an in-process collector with a
// fake clock and an in-memory event store, then checks what the collector
// received and what is still pending.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: session_resume
//	description: "A short gap resumes the previous session"
//	config:
//	  upload_period: 5s
//	steps:
//	  - op: log
//	    event_type: Song Played
//	    props: { title: Intro }
//	  - op: advance
//	    duration: 5s
//	  - op: end_session
//	assertions:
//	  - type: received_order
//	    event_types: [start_session, Song Played, end_session]
//	  - type: pending
//	    count: 0
//
// Every step is followed by a wait for both dispatchers to go idle, so
// assertions see the settled outcome of the whole script.
//
// # Step Ops
//
//   - log: LogEvent(event_type, props)
//   - set_user_id: SetUserID(user_id)
//   - set_user_properties: SetUserProperties(props, replace)
//   - start_session, end_session
//   - flush: Flush(upload_remaining)
//   - advance: move the clock forward by duration, firing due timers
//   - fail_next: make the collector answer the next upload with outcome
//
// # Assertion Types
//
//   - received_count: events of event_type (or all) the collector stored
//   - received_order: exact event type sequence the collector stored
//   - received_contains: a stored event with matching type, properties and user id
//   - sessions: number of distinct session ids among stored events
//   - pending: events left in the store
//   - requests: upload requests the collector answered
//
// # Golden Files
//
// AssertGolden compares the received events against
// testdata/golden/{name}.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
