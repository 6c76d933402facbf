package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// AssertionError describes a failed assertion with the received event
// types for context.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Received []string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	fmt.Fprintf(&buf, "  Received: [%s]", strings.Join(e.Received, ", "))
	return buf.String()
}

func evaluate(r *Result, a Assertion) error {
	fail := func(expected, actual string) error {
		return &AssertionError{Type: a.Type, Expected: expected, Actual: actual, Received: r.EventTypes()}
	}

	switch a.Type {
	case AssertReceivedCount:
		n := 0
		for _, ev := range r.Received {
			if a.EventType == "" || ev.EventType == a.EventType {
				n++
			}
		}
		if n != a.Count {
			return fail(fmt.Sprintf("%d %s events", a.Count, describeType(a.EventType)), fmt.Sprintf("%d", n))
		}

	case AssertReceivedOrder:
		got := r.EventTypes()
		if !slices.Equal(got, a.EventTypes) {
			return fail(fmt.Sprintf("[%s]", strings.Join(a.EventTypes, ", ")), fmt.Sprintf("[%s]", strings.Join(got, ", ")))
		}

	case AssertReceivedContains:
		for _, ev := range r.Received {
			if ev.EventType != a.EventType {
				continue
			}
			if a.UserID != "" && ev.UserID != a.UserID {
				continue
			}
			if subset(ev.Properties, a.Properties) {
				return nil
			}
		}
		return fail(fmt.Sprintf("%s with properties %v user %q", a.EventType, a.Properties, a.UserID), "not received")

	case AssertSessions:
		ids := make(map[int64]bool)
		for _, ev := range r.Received {
			ids[ev.SessionID] = true
		}
		if len(ids) != a.Count {
			return fail(fmt.Sprintf("%d sessions", a.Count), fmt.Sprintf("%d", len(ids)))
		}

	case AssertPending:
		if r.Pending != a.Count {
			return fail(fmt.Sprintf("%d pending events", a.Count), fmt.Sprintf("%d", r.Pending))
		}

	case AssertRequests:
		if r.Requests != a.Count {
			return fail(fmt.Sprintf("%d upload requests", a.Count), fmt.Sprintf("%d", r.Requests))
		}

	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

func describeType(eventType string) string {
	if eventType == "" {
		return "received"
	}
	return eventType
}

// subset reports whether every key of want is in got with an equal value.
// Values are compared by their JSON encoding, so a YAML integer matches
// the json.Number the collector decoded.
func subset(got, want map[string]any) bool {
	for k, w := range want {
		g, ok := got[k]
		if !ok || !sameJSON(g, w) {
			return false
		}
	}
	return true
}

func sameJSON(a, b any) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}
