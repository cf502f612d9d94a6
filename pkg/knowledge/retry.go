package knowledge

import (
	"strings"
	"time"
)

// AttemptOutcome is the closed set of fix-attempt outcomes.
type AttemptOutcome string

const (
	OutcomeFailed    AttemptOutcome = "failed"
	OutcomeSucceeded AttemptOutcome = "succeeded"
	OutcomeUnknown   AttemptOutcome = "unknown"
)

// ParseAttemptOutcome maps a raw outcome onto the closed set.
func ParseAttemptOutcome(raw string) AttemptOutcome {
	o := AttemptOutcome(strings.ToLower(strings.TrimSpace(raw)))
	switch o {
	case OutcomeFailed, OutcomeSucceeded:
		return o
	default:
		return OutcomeUnknown
	}
}

// ChangeFingerprint identifies one proposed or applied fix by the sets it
// touches rather than its text, so syntactically different but
// semantically equivalent fixes still match. Hash is derived from the
// sorted sets and is stable for a given (locations, concepts) pair.
type ChangeFingerprint struct {
	Hash       string         `json:"hash"`
	Locations  []CodeLocation `json:"locations,omitempty"`
	ConceptIDs []string       `json:"concept_ids,omitempty"`
}

// Clone returns a deep copy.
func (f ChangeFingerprint) Clone() ChangeFingerprint {
	out := f
	out.Locations = append([]CodeLocation(nil), f.Locations...)
	out.ConceptIDs = append([]string(nil), f.ConceptIDs...)
	return out
}

// RetryAttempt is one attempted fix for a failure. Outcome starts as
// unknown and is updated asynchronously when the re-execution result is
// observed; succeeded is monotonic and never reverted.
type RetryAttempt struct {
	ID          string            `json:"id"`
	FailureID   string            `json:"failure_id"`
	Fingerprint ChangeFingerprint `json:"fingerprint"`
	Outcome     AttemptOutcome    `json:"outcome"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Clone returns a deep copy.
func (r *RetryAttempt) Clone() *RetryAttempt {
	out := *r
	out.Fingerprint = r.Fingerprint.Clone()
	return &out
}
