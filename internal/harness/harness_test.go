package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/beacon/internal/config"
)

func load(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario("testdata/scenarios/" + name + ".yaml")
	require.NoError(t, err)
	return s
}

func TestRun_Scenarios(t *testing.T) {
	for _, name := range []string{"retry_after_rejection", "identity"} {
		t.Run(name, func(t *testing.T) {
			result, err := Run(context.Background(), load(t, name))
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRunWithGolden_SessionResume(t *testing.T) {
	result, err := RunWithGolden(t, load(t, "session_resume"))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_InitialSessionOnly(t *testing.T) {
	s := &Scenario{
		Name:        "initial",
		Description: "nothing uploads before the period elapses",
		Steps:       []Step{{Op: OpLog, EventType: "Opened"}},
		Assertions:  []Assertion{{Type: AssertPending, Count: 2}},
	}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Received)
	assert.Equal(t, 0, result.Requests)
}

func TestRun_ThresholdUploadsImmediately(t *testing.T) {
	s := &Scenario{
		Name:        "threshold",
		Description: "reaching the threshold uploads without waiting",
		Config:      config.Config{UploadThreshold: 2},
		Steps:       []Step{{Op: OpLog, EventType: "Opened"}},
		Assertions: []Assertion{
			{Type: AssertRequests, Count: 1},
			{Type: AssertReceivedOrder, EventTypes: []string{"start_session", "Opened"}},
		},
	}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_FailedAssertionsReported(t *testing.T) {
	s := &Scenario{
		Name:        "failing",
		Description: "assertions that do not hold",
		Steps:       []Step{{Op: OpFlush}},
		Assertions: []Assertion{
			{Type: AssertRequests, Count: 5},
			{Type: AssertReceivedContains, EventType: "Missing"},
			{Type: AssertReceivedCount, Count: 1},
		},
	}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "5 upload requests")
	assert.Contains(t, result.Errors[1], "not received")
}

func TestRun_InvalidConfig(t *testing.T) {
	s := &Scenario{
		Name:        "bad",
		Description: "threshold above the record cap",
		Config:      config.Config{UploadThreshold: 50, MaxCount: 10},
		Steps:       []Step{{Op: OpFlush}},
		Assertions:  []Assertion{{Type: AssertPending}},
	}

	_, err := Run(context.Background(), s)
	require.Error(t, err)
}

func TestEvaluate(t *testing.T) {
	r := NewResult()
	r.Received = []Received{
		{EventID: 1, EventType: "start_session", SessionID: 10},
		{EventID: 2, EventType: "Play", SessionID: 10, UserID: "u1", Properties: map[string]any{"n": 3}},
		{EventID: 3, EventType: "start_session", SessionID: 20},
	}
	r.Pending = 1
	r.Requests = 2

	tests := []struct {
		name string
		a    Assertion
		ok   bool
	}{
		{"count all", Assertion{Type: AssertReceivedCount, Count: 3}, true},
		{"count type", Assertion{Type: AssertReceivedCount, EventType: "start_session", Count: 2}, true},
		{"count wrong", Assertion{Type: AssertReceivedCount, EventType: "Play", Count: 2}, false},
		{"order", Assertion{Type: AssertReceivedOrder, EventTypes: []string{"start_session", "Play", "start_session"}}, true},
		{"order prefix", Assertion{Type: AssertReceivedOrder, EventTypes: []string{"start_session", "Play"}}, false},
		{"contains props", Assertion{Type: AssertReceivedContains, EventType: "Play", Properties: map[string]any{"n": 3}}, true},
		{"contains wrong prop", Assertion{Type: AssertReceivedContains, EventType: "Play", Properties: map[string]any{"n": 4}}, false},
		{"contains user", Assertion{Type: AssertReceivedContains, EventType: "Play", UserID: "u1"}, true},
		{"contains wrong user", Assertion{Type: AssertReceivedContains, EventType: "Play", UserID: "u2"}, false},
		{"sessions", Assertion{Type: AssertSessions, Count: 2}, true},
		{"pending", Assertion{Type: AssertPending, Count: 1}, true},
		{"requests", Assertion{Type: AssertRequests, Count: 3}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := evaluate(r, tt.a)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			var ae *AssertionError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, tt.a.Type, ae.Type)
			assert.Contains(t, ae.Error(), "Received: [start_session, Play, start_session]")
		})
	}
}
