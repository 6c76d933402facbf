package harness

// Received is the checked projection of one event the collector stored.
type Received struct {
	EventID        int64          `json:"event_id"`
	EventType      string         `json:"event_type"`
	SessionID      int64          `json:"session_id"`
	Timestamp      int64          `json:"timestamp"`
	UserID         string         `json:"user_id,omitempty"`
	Properties     map[string]any `json:"event_properties,omitempty"`
	UserProperties map[string]any `json:"user_properties,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Received lists the collector's events in arrival order.
	Received []Received `json:"received"`

	// Pending is the number of events left in the store.
	Pending int `json:"pending"`

	// Requests is the number of upload requests the collector answered.
	Requests int `json:"requests"`

	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result with nothing received.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Received: []Received{},
		Errors:   []string{},
	}
}

// AddError records a failed assertion.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// EventTypes returns the received event types in order.
func (r *Result) EventTypes() []string {
	types := make([]string, len(r.Received))
	for i, ev := range r.Received {
		types[i] = ev.EventType
	}
	return types
}
