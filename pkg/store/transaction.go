package store

import (
	"fmt"

	"github.com/papercomputeco/keel/pkg/knowledge"
)

// EntityRef names one entity for deletion.
type EntityRef struct {
	Kind knowledge.EntityKind
	ID   string
}

// Transaction is one atomic set of entity upserts and deletes against a
// specific base version. A transaction either fully commits (durable) or
// has no observable effect.
type Transaction struct {
	BaseVersion uint64

	Concepts    []*knowledge.Concept
	Edges       []*knowledge.ConceptEdge
	Intents     []*knowledge.Intent
	Assumptions []*knowledge.Assumption
	Tradeoffs   []*knowledge.Tradeoff
	Failures    []*knowledge.FailureRecord
	Attempts    []*knowledge.RetryAttempt

	Deletes []EntityRef
}

// NewTransaction starts a transaction against the given snapshot. The
// snapshot's version becomes the commit precondition.
func NewTransaction(base *knowledge.ProjectKnowledge) *Transaction {
	return &Transaction{BaseVersion: base.Version}
}

// Empty reports whether the transaction carries no mutations.
func (tx *Transaction) Empty() bool {
	return len(tx.Concepts) == 0 && len(tx.Edges) == 0 && len(tx.Intents) == 0 &&
		len(tx.Assumptions) == 0 && len(tx.Tradeoffs) == 0 && len(tx.Failures) == 0 &&
		len(tx.Attempts) == 0 && len(tx.Deletes) == 0
}

// validate checks every invariant that must hold before any mutation is
// applied: no dangling concept references, valid locations, non-empty
// violation history behind a failed status, monotonic attempt outcomes,
// and referential integrity for deletes.
func (tx *Transaction) validate(base *knowledge.ProjectKnowledge) error {
	conceptExists := func(id string) bool {
		if _, ok := base.Concepts[id]; ok {
			return true
		}
		for _, c := range tx.Concepts {
			if c.ID == id {
				return true
			}
		}
		return false
	}
	failureExists := func(id string) bool {
		if _, ok := base.Failures[id]; ok {
			return true
		}
		for _, f := range tx.Failures {
			if f.ID == id {
				return true
			}
		}
		return false
	}

	for _, c := range tx.Concepts {
		if c.ID == "" {
			return knowledge.ValidationError{Entity: knowledge.KindConcept, Reason: "missing id"}
		}
		if c.Confidence < 0 || c.Confidence > 1 {
			return knowledge.ValidationError{Entity: knowledge.KindConcept, ID: c.ID, Reason: fmt.Sprintf("confidence %v outside [0,1]", c.Confidence)}
		}
	}

	for _, e := range tx.Edges {
		if !conceptExists(e.A) || !conceptExists(e.B) {
			return knowledge.ValidationError{Entity: knowledge.KindConceptEdge, ID: e.Key(), Reason: "edge endpoint references unknown concept"}
		}
	}

	for _, in := range tx.Intents {
		if in.ID == "" {
			return knowledge.ValidationError{Entity: knowledge.KindIntent, Reason: "missing id"}
		}
		if !in.Location.Valid() {
			return knowledge.ValidationError{Entity: knowledge.KindIntent, ID: in.ID, Reason: "invalid code location " + in.Location.Key()}
		}
		for _, cid := range in.ConceptIDs {
			if !conceptExists(cid) {
				return knowledge.ValidationError{Entity: knowledge.KindIntent, ID: in.ID, Reason: "dangling concept reference " + cid}
			}
		}
	}

	for _, a := range tx.Assumptions {
		if a.ID == "" {
			return knowledge.ValidationError{Entity: knowledge.KindAssumption, Reason: "missing id"}
		}
		if !a.Location.Valid() {
			return knowledge.ValidationError{Entity: knowledge.KindAssumption, ID: a.ID, Reason: "invalid code location " + a.Location.Key()}
		}
		for _, cid := range a.ConceptIDs {
			if !conceptExists(cid) {
				return knowledge.ValidationError{Entity: knowledge.KindAssumption, ID: a.ID, Reason: "dangling concept reference " + cid}
			}
		}
		if a.Status == knowledge.StatusFailed {
			if len(a.Violations) == 0 {
				return knowledge.ValidationError{Entity: knowledge.KindAssumption, ID: a.ID, Reason: "status failed without violation history"}
			}
			hasRef := false
			for _, v := range a.Violations {
				if v.FailureID == "" {
					continue
				}
				if !failureExists(v.FailureID) {
					return knowledge.ValidationError{Entity: knowledge.KindAssumption, ID: a.ID, Reason: "violation references unknown failure " + v.FailureID}
				}
				hasRef = true
			}
			if !hasRef {
				return knowledge.ValidationError{Entity: knowledge.KindAssumption, ID: a.ID, Reason: "violation history lacks a failure record reference"}
			}
		}
	}

	for _, at := range tx.Attempts {
		if at.ID == "" {
			return knowledge.ValidationError{Entity: knowledge.KindRetryAttempt, Reason: "missing id"}
		}
		if !failureExists(at.FailureID) {
			return knowledge.ValidationError{Entity: knowledge.KindRetryAttempt, ID: at.ID, Reason: "dangling failure reference " + at.FailureID}
		}
		if prev, ok := base.Attempts[at.ID]; ok {
			if prev.Outcome == knowledge.OutcomeSucceeded && at.Outcome != knowledge.OutcomeSucceeded {
				return knowledge.ValidationError{Entity: knowledge.KindRetryAttempt, ID: at.ID, Reason: "succeeded outcome cannot be reverted"}
			}
		}
	}

	return tx.validateDeletes(base)
}

// validateDeletes rejects deletion of any entity still referenced by a
// non-archived entity remaining in the store.
func (tx *Transaction) validateDeletes(base *knowledge.ProjectKnowledge) error {
	if len(tx.Deletes) == 0 {
		return nil
	}

	deleted := make(map[knowledge.EntityKind]map[string]bool)
	for _, ref := range tx.Deletes {
		if deleted[ref.Kind] == nil {
			deleted[ref.Kind] = make(map[string]bool)
		}
		deleted[ref.Kind][ref.ID] = true
	}
	gone := func(kind knowledge.EntityKind, id string) bool {
		return deleted[kind] != nil && deleted[kind][id]
	}

	for _, a := range base.Assumptions {
		if a.Archived || gone(knowledge.KindAssumption, a.ID) {
			continue
		}
		for _, cid := range a.ConceptIDs {
			if gone(knowledge.KindConcept, cid) {
				return knowledge.ValidationError{Entity: knowledge.KindConcept, ID: cid, Reason: "still referenced by assumption " + a.ID}
			}
		}
		for _, v := range a.Violations {
			if gone(knowledge.KindFailureRecord, v.FailureID) {
				return knowledge.ValidationError{Entity: knowledge.KindFailureRecord, ID: v.FailureID, Reason: "still referenced by assumption " + a.ID}
			}
		}
	}
	for _, in := range base.Intents {
		if in.Superseded() || gone(knowledge.KindIntent, in.ID) {
			continue
		}
		for _, cid := range in.ConceptIDs {
			if gone(knowledge.KindConcept, cid) {
				return knowledge.ValidationError{Entity: knowledge.KindConcept, ID: cid, Reason: "still referenced by intent " + in.ID}
			}
		}
		if in.TradeoffID != "" && gone(knowledge.KindTradeoff, in.TradeoffID) {
			return knowledge.ValidationError{Entity: knowledge.KindTradeoff, ID: in.TradeoffID, Reason: "still referenced by intent " + in.ID}
		}
	}
	for _, f := range base.Failures {
		if gone(knowledge.KindFailureRecord, f.ID) {
			continue
		}
		for _, ra := range f.ViolatedAssumptions {
			if gone(knowledge.KindAssumption, ra.AssumptionID) {
				return knowledge.ValidationError{Entity: knowledge.KindAssumption, ID: ra.AssumptionID, Reason: "still referenced by failure " + f.ID}
			}
		}
	}
	for _, at := range base.Attempts {
		if gone(knowledge.KindRetryAttempt, at.ID) {
			continue
		}
		if gone(knowledge.KindFailureRecord, at.FailureID) {
			return knowledge.ValidationError{Entity: knowledge.KindFailureRecord, ID: at.FailureID, Reason: "still referenced by attempt " + at.ID}
		}
	}

	return nil
}

// apply writes the transaction into next. Callers pass a clone of the
// committed snapshot; the original is never touched.
func (tx *Transaction) apply(next *knowledge.ProjectKnowledge) {
	for _, c := range tx.Concepts {
		next.Concepts[c.ID] = c.Clone()
	}
	for _, e := range tx.Edges {
		next.Edges[e.Key()] = e.Clone()
	}
	for _, in := range tx.Intents {
		next.Intents[in.ID] = in.Clone()
	}
	for _, a := range tx.Assumptions {
		next.Assumptions[a.ID] = a.Clone()
	}
	for _, t := range tx.Tradeoffs {
		next.Tradeoffs[t.ID] = t.Clone()
	}
	for _, f := range tx.Failures {
		next.Failures[f.ID] = f.Clone()
	}
	for _, at := range tx.Attempts {
		next.Attempts[at.ID] = at.Clone()
	}
	for _, ref := range tx.Deletes {
		switch ref.Kind {
		case knowledge.KindConcept:
			delete(next.Concepts, ref.ID)
		case knowledge.KindConceptEdge:
			delete(next.Edges, ref.ID)
		case knowledge.KindIntent:
			delete(next.Intents, ref.ID)
		case knowledge.KindAssumption:
			delete(next.Assumptions, ref.ID)
		case knowledge.KindTradeoff:
			delete(next.Tradeoffs, ref.ID)
		case knowledge.KindFailureRecord:
			delete(next.Failures, ref.ID)
		case knowledge.KindRetryAttempt:
			delete(next.Attempts, ref.ID)
		}
	}
}
