package knowledge

import "fmt"

// EntityKind names one of the persisted entity collections. Used in
// transaction deletes and NotFoundError reporting.
type EntityKind string

const (
	KindConcept       EntityKind = "concept"
	KindConceptEdge   EntityKind = "concept_edge"
	KindIntent        EntityKind = "intent"
	KindAssumption    EntityKind = "assumption"
	KindTradeoff      EntityKind = "tradeoff"
	KindFailureRecord EntityKind = "failure_record"
	KindRetryAttempt  EntityKind = "retry_attempt"
)

// ValidationError reports a malformed entity or dangling reference. It is
// raised before any mutation takes effect and is never retried.
type ValidationError struct {
	Entity EntityKind
	ID     string
	Reason string
}

func (e ValidationError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("invalid %s: %s", e.Entity, e.Reason)
	}
	return fmt.Sprintf("invalid %s %s: %s", e.Entity, e.ID, e.Reason)
}

// ConflictError reports that a transaction's version precondition lost the
// race against a concurrent commit. Callers retry with a fresh snapshot.
type ConflictError struct {
	Expected uint64
	Actual   uint64
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("version conflict: expected %d, store is at %d", e.Expected, e.Actual)
}

// NotFoundError reports a reference to an unknown entity id.
type NotFoundError struct {
	Kind EntityKind
	ID   string
}

func (e NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Kind)
	}
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// StorageError reports a persistence I/O failure. The store falls back to
// the last good in-memory state and retries persistence on the next
// natural commit point.
type StorageError struct {
	Op  string
	Err error
}

func (e StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e StorageError) Unwrap() error { return e.Err }

// ProviderError reports an external AI/parse collaborator failure. It is
// always recoverable locally and never corrupts the knowledge store.
type ProviderError struct {
	Provider string
	Err      error
}

func (e ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e ProviderError) Unwrap() error { return e.Err }
