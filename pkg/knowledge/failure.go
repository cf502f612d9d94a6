package knowledge

import (
	"strings"
	"time"
)

// FailureClass is the closed failure taxonomy.
type FailureClass string

const (
	FailureLogic       FailureClass = "logic"
	FailureRuntime     FailureClass = "runtime"
	FailureIntegration FailureClass = "integration"
	FailureUnknown     FailureClass = "unknown"
)

// ParseFailureClass maps a raw class onto the closed set.
func ParseFailureClass(raw string) FailureClass {
	c := FailureClass(strings.ToLower(strings.TrimSpace(raw)))
	switch c {
	case FailureLogic, FailureRuntime, FailureIntegration:
		return c
	default:
		return FailureUnknown
	}
}

// FailureState is the lifecycle state of one failure record.
type FailureState string

const (
	FailureObserved              FailureState = "observed"
	FailureClassified            FailureState = "classified"
	FailureAssumptionsIdentified FailureState = "assumptions_identified"
	FailureExplained             FailureState = "explained"
	FailureResolved              FailureState = "resolved"
	FailureRecurring             FailureState = "recurring"
)

// RankedAssumption is one violated-assumption candidate with the score
// that ranked it.
type RankedAssumption struct {
	AssumptionID string  `json:"assumption_id"`
	Score        float64 `json:"score"`
	Why          string  `json:"why,omitempty"`
}

// FailureRecord is one observed failure event. Equivalent failures (same
// fingerprint) increment RecurrenceCount on the existing record rather
// than creating a second one.
type FailureRecord struct {
	ID                   string             `json:"id"`
	Locations            []CodeLocation     `json:"locations"`
	Class                FailureClass       `json:"class"`
	State                FailureState       `json:"state"`
	Fingerprint          string             `json:"fingerprint"`
	Message              string             `json:"message,omitempty"`
	ConceptIDs           []string           `json:"concept_ids,omitempty"`
	ViolatedAssumptions  []RankedAssumption `json:"violated_assumptions,omitempty"`
	Explanation          *Explanation       `json:"explanation,omitempty"`
	RecurrenceCount      int                `json:"recurrence_count"`
	QuietAttempts        int                `json:"quiet_attempts,omitempty"`
	Resolved             bool               `json:"resolved,omitempty"`
	ObservedAt           time.Time          `json:"observed_at"`
	LastObservedAt       time.Time          `json:"last_observed_at"`
	PartialExplanation   bool               `json:"partial_explanation,omitempty"`
}

// Explanation is the structured output of the classifier pipeline.
type Explanation struct {
	Summary          string   `json:"summary"`
	ViolatedBecause  string   `json:"violated_because,omitempty"`
	AffectedLayer    string   `json:"affected_layer,omitempty"`
	PriorAttemptIDs  []string `json:"prior_attempt_ids,omitempty"`
	Constraints      []string `json:"constraints,omitempty"`
}

// Open reports whether the failure still participates in recurrence
// matching and retry blocking.
func (f *FailureRecord) Open() bool {
	return f.State != FailureResolved
}

// Clone returns a deep copy.
func (f *FailureRecord) Clone() *FailureRecord {
	out := *f
	out.Locations = append([]CodeLocation(nil), f.Locations...)
	out.ConceptIDs = append([]string(nil), f.ConceptIDs...)
	out.ViolatedAssumptions = append([]RankedAssumption(nil), f.ViolatedAssumptions...)
	if f.Explanation != nil {
		ex := *f.Explanation
		ex.PriorAttemptIDs = append([]string(nil), f.Explanation.PriorAttemptIDs...)
		ex.Constraints = append([]string(nil), f.Explanation.Constraints...)
		out.Explanation = &ex
	}
	return &out
}
