package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/beacon/internal/config"
	"github.com/roach88/beacon/internal/upload"
)

// DefaultStartTime is the fake clock's initial Unix millisecond time when
// a scenario does not set one.
const DefaultStartTime = int64(1_700_000_000_000)

// Scenario is a scripted tracker run with expectations.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario checks.
	Description string `yaml:"description"`

	// Config overrides tracker settings. Zero fields take the defaults;
	// api_key, endpoint and db_path are always replaced by the harness.
	Config config.Config `yaml:"config,omitempty"`

	// StartTime is the fake clock's initial Unix millisecond time.
	StartTime int64 `yaml:"start_time,omitempty"`

	// UserID is persisted before the tracker starts, as if left over from
	// an earlier run.
	UserID string `yaml:"user_id,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one scripted call.
type Step struct {
	Op string `yaml:"op"`

	EventType       string         `yaml:"event_type,omitempty"`
	Props           map[string]any `yaml:"props,omitempty"`
	UserID          string         `yaml:"user_id,omitempty"`
	Replace         bool           `yaml:"replace,omitempty"`
	UploadRemaining bool           `yaml:"upload_remaining,omitempty"`
	Duration        time.Duration  `yaml:"duration,omitempty"`
	Outcome         string         `yaml:"outcome,omitempty"`
}

// Step ops.
const (
	OpLog               = "log"
	OpSetUserID         = "set_user_id"
	OpSetUserProperties = "set_user_properties"
	OpStartSession      = "start_session"
	OpEndSession        = "end_session"
	OpFlush             = "flush"
	OpAdvance           = "advance"
	OpFailNext          = "fail_next"
)

// Assertion checks the settled state after all steps ran.
type Assertion struct {
	Type string `yaml:"type"`

	EventType  string         `yaml:"event_type,omitempty"`
	EventTypes []string       `yaml:"event_types,omitempty"`
	Properties map[string]any `yaml:"properties,omitempty"`
	UserID     string         `yaml:"user_id,omitempty"`
	Count      int            `yaml:"count"`
}

// Assertion types.
const (
	AssertReceivedCount    = "received_count"
	AssertReceivedOrder    = "received_order"
	AssertReceivedContains = "received_contains"
	AssertSessions         = "sessions"
	AssertPending          = "pending"
	AssertRequests         = "requests"
)

// LoadScenario reads and parses a scenario YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML. Unknown fields are rejected so a
// typo cannot silently drop an assertion.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.StartTime < 0 {
		return fmt.Errorf("start_time must be non-negative")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step Step) error {
	switch step.Op {
	case OpLog:
		if step.EventType == "" {
			return fmt.Errorf("steps[%d]: event_type is required for log", index)
		}
	case OpSetUserProperties:
		if step.Props == nil {
			return fmt.Errorf("steps[%d]: props is required for set_user_properties", index)
		}
	case OpAdvance:
		if step.Duration <= 0 {
			return fmt.Errorf("steps[%d]: duration must be positive for advance", index)
		}
	case OpFailNext:
		switch upload.Outcome(step.Outcome) {
		case upload.OutcomeInvalidAPIKey, upload.OutcomeBadChecksum,
			upload.OutcomeDBWriteFailed, upload.OutcomeUnknown:
		default:
			return fmt.Errorf("steps[%d]: unsupported fail_next outcome %q", index, step.Outcome)
		}
	case OpSetUserID, OpStartSession, OpEndSession, OpFlush:
	case "":
		return fmt.Errorf("steps[%d]: op is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", index, step.Op)
	}
	return nil
}

func validateAssertion(index int, a Assertion) error {
	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}
	switch a.Type {
	case AssertReceivedCount, AssertSessions, AssertPending, AssertRequests:
	case AssertReceivedOrder:
		if a.EventTypes == nil {
			return fmt.Errorf("assertions[%d]: event_types is required for received_order", index)
		}
	case AssertReceivedContains:
		if a.EventType == "" {
			return fmt.Errorf("assertions[%d]: event_type is required for received_contains", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
