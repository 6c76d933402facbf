package upload

import (
	"errors"
	"fmt"
	"strings"
)

// Outcome classifies a collector response body.
type Outcome string

const (
	OutcomeSuccess       Outcome = "success"
	OutcomeInvalidAPIKey Outcome = "invalid_api_key"
	OutcomeBadChecksum   Outcome = "bad_checksum"
	OutcomeDBWriteFailed Outcome = "request_db_write_failed"

	// OutcomeUnknown covers any other body. It is retried like the rest.
	OutcomeUnknown Outcome = "unknown"
)

// ParseResponse maps a response body to its Outcome. Surrounding
// whitespace is ignored; anything else must match exactly.
func ParseResponse(body string) Outcome {
	switch o := Outcome(strings.TrimSpace(body)); o {
	case OutcomeSuccess, OutcomeInvalidAPIKey, OutcomeBadChecksum, OutcomeDBWriteFailed:
		return o
	default:
		return OutcomeUnknown
	}
}

// RejectionError is a response other than success.
type RejectionError struct {
	Outcome Outcome
	Body    string
}

// Error implements the error interface.
func (e *RejectionError) Error() string {
	switch e.Outcome {
	case OutcomeInvalidAPIKey:
		return "upload rejected: invalid API key, check the configured key"
	case OutcomeBadChecksum:
		return "upload rejected: bad checksum, request was mangled in transit"
	case OutcomeDBWriteFailed:
		return "upload rejected: collector could not write the request"
	default:
		return fmt.Sprintf("upload failed: %q", e.Body)
	}
}

// IsRejection returns true if err is or wraps a *RejectionError.
func IsRejection(err error) bool {
	var re *RejectionError
	return errors.As(err, &re)
}

// IsInvalidAPIKey returns true if err is a rejection for an unknown key.
// These are retried forever; callers usually want to surface them.
func IsInvalidAPIKey(err error) bool {
	var re *RejectionError
	if errors.As(err, &re) {
		return re.Outcome == OutcomeInvalidAPIKey
	}
	return false
}
