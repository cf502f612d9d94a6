// Package events defines the transport-neutral notification payloads the
// engine emits as knowledge changes, and the publisher contract for
// delivering them.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/keel/pkg/knowledge"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeConceptsUpdated is emitted after a detection batch lands.
	EventTypeConceptsUpdated = "keel.concepts.updated"

	// EventTypeFailureClassified is emitted when a failure signal finishes
	// the classification pipeline.
	EventTypeFailureClassified = "keel.failure.classified"

	// EventTypeFailureResolved is emitted when a failure is resolved.
	EventTypeFailureResolved = "keel.failure.resolved"

	// EventTypeAssumptionsSuspected is emitted when assumptions are linked
	// to a failure as suspected causes.
	EventTypeAssumptionsSuspected = "keel.assumptions.suspected"

	// EventTypeRetryBlocked is emitted when a proposed fix is blocked for
	// matching an already-failed approach.
	EventTypeRetryBlocked = "keel.retry.blocked"

	// EventTypeStoreDegraded is emitted when persistence fails and the
	// store falls back to memory-only operation.
	EventTypeStoreDegraded = "keel.store.degraded"
)

// Event is one knowledge-change notification.
type Event struct {
	SchemaVersion int       `json:"schema_version"`
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EmittedAt     time.Time `json:"emitted_at"`
	ProjectID     string    `json:"project_id,omitempty"`

	Location      *knowledge.CodeLocation `json:"location,omitempty"`
	ConceptIDs    []string                `json:"concept_ids,omitempty"`
	FailureID     string                  `json:"failure_id,omitempty"`
	AssumptionIDs []string                `json:"assumption_ids,omitempty"`
	AttemptID     string                  `json:"attempt_id,omitempty"`
	Detail        string                  `json:"detail,omitempty"`
}

// New creates an event of the given type with the envelope fields filled.
func New(eventType, projectID string) *Event {
	return &Event{
		SchemaVersion: SchemaVersionV1,
		EventType:     eventType,
		EventID:       uuid.NewString(),
		EmittedAt:     time.Now().UTC(),
		ProjectID:     projectID,
	}
}
