package knowledge

import (
	"strings"
	"time"
)

// AssumptionKind is the closed set of implicit-condition kinds.
type AssumptionKind string

const (
	KindPrecondition  AssumptionKind = "precondition"
	KindPostcondition AssumptionKind = "postcondition"
	KindInvariant     AssumptionKind = "invariant"
	KindDependency    AssumptionKind = "dependency"
)

// ParseAssumptionKind maps a raw kind onto the closed set, defaulting to
// invariant for unrecognized input.
func ParseAssumptionKind(raw string) AssumptionKind {
	k := AssumptionKind(strings.ToLower(strings.TrimSpace(raw)))
	switch k {
	case KindPrecondition, KindPostcondition, KindInvariant, KindDependency:
		return k
	default:
		return KindInvariant
	}
}

// AssumptionStatus is the validation state of an assumption.
type AssumptionStatus string

const (
	StatusUntested AssumptionStatus = "untested"
	StatusValid    AssumptionStatus = "valid"
	StatusFailed   AssumptionStatus = "failed"
)

// Violation is one entry in an assumption's ordered violation history.
// Every violation references the FailureRecord that produced it.
type Violation struct {
	FailureID  string    `json:"failure_id"`
	Evidence   string    `json:"evidence,omitempty"`
	Score      float64   `json:"score,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}

// Assumption is an implicit precondition/postcondition/invariant/
// dependency a piece of code relies on. Assumptions are archived, never
// deleted, when their code location is removed; they are marked orphaned
// when every linked concept goes stale.
type Assumption struct {
	ID              string           `json:"id"`
	Description     string           `json:"description"`
	Kind            AssumptionKind   `json:"kind"`
	ConceptIDs      []string         `json:"concept_ids,omitempty"`
	Location        CodeLocation     `json:"location"`
	Status          AssumptionStatus `json:"status"`
	Suspected       bool             `json:"suspected,omitempty"`
	Orphaned        bool             `json:"orphaned,omitempty"`
	Archived        bool             `json:"archived,omitempty"`
	Violations      []Violation      `json:"violations,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	LastValidatedAt *time.Time       `json:"last_validated_at,omitempty"`
}

// Active reports whether the assumption should participate in new
// classifier rankings and composer payloads.
func (a *Assumption) Active() bool {
	return !a.Archived && !a.Orphaned
}

// Clone returns a deep copy.
func (a *Assumption) Clone() *Assumption {
	out := *a
	out.ConceptIDs = append([]string(nil), a.ConceptIDs...)
	out.Violations = append([]Violation(nil), a.Violations...)
	if a.LastValidatedAt != nil {
		t := *a.LastValidatedAt
		out.LastValidatedAt = &t
	}
	return &out
}
