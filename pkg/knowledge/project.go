package knowledge

import (
	"sort"
	"time"
)

// ProjectKnowledge is the aggregate root for one project: every entity
// collection plus the monotonic version that persistence round-trips
// exactly. Collections are maps keyed by entity id (edges by their
// canonical pair key) so JSON marshalling yields stable, human-diffable
// key ordering.
type ProjectKnowledge struct {
	ProjectID string    `json:"project_id"`
	Version   uint64    `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`

	Concepts    map[string]*Concept       `json:"concepts,omitempty"`
	Edges       map[string]*ConceptEdge   `json:"edges,omitempty"`
	Intents     map[string]*Intent        `json:"intents,omitempty"`
	Assumptions map[string]*Assumption    `json:"assumptions,omitempty"`
	Tradeoffs   map[string]*Tradeoff      `json:"tradeoffs,omitempty"`
	Failures    map[string]*FailureRecord `json:"failures,omitempty"`
	Attempts    map[string]*RetryAttempt  `json:"attempts,omitempty"`
}

// NewProjectKnowledge creates an empty aggregate for a project.
func NewProjectKnowledge(projectID string) *ProjectKnowledge {
	return &ProjectKnowledge{
		ProjectID:   projectID,
		Concepts:    make(map[string]*Concept),
		Edges:       make(map[string]*ConceptEdge),
		Intents:     make(map[string]*Intent),
		Assumptions: make(map[string]*Assumption),
		Tradeoffs:   make(map[string]*Tradeoff),
		Failures:    make(map[string]*FailureRecord),
		Attempts:    make(map[string]*RetryAttempt),
	}
}

// Clone returns a deep copy. Commits clone the current snapshot, apply
// the transaction to the copy, and swap it in, so readers always observe
// a fully committed state.
func (p *ProjectKnowledge) Clone() *ProjectKnowledge {
	out := &ProjectKnowledge{
		ProjectID: p.ProjectID,
		Version:   p.Version,
		UpdatedAt: p.UpdatedAt,

		Concepts:    make(map[string]*Concept, len(p.Concepts)),
		Edges:       make(map[string]*ConceptEdge, len(p.Edges)),
		Intents:     make(map[string]*Intent, len(p.Intents)),
		Assumptions: make(map[string]*Assumption, len(p.Assumptions)),
		Tradeoffs:   make(map[string]*Tradeoff, len(p.Tradeoffs)),
		Failures:    make(map[string]*FailureRecord, len(p.Failures)),
		Attempts:    make(map[string]*RetryAttempt, len(p.Attempts)),
	}
	for id, c := range p.Concepts {
		out.Concepts[id] = c.Clone()
	}
	for key, e := range p.Edges {
		out.Edges[key] = e.Clone()
	}
	for id, i := range p.Intents {
		out.Intents[id] = i.Clone()
	}
	for id, a := range p.Assumptions {
		out.Assumptions[id] = a.Clone()
	}
	for id, t := range p.Tradeoffs {
		out.Tradeoffs[id] = t.Clone()
	}
	for id, f := range p.Failures {
		out.Failures[id] = f.Clone()
	}
	for id, r := range p.Attempts {
		out.Attempts[id] = r.Clone()
	}
	return out
}

// EnsureMaps initializes any nil collection maps. Needed after JSON
// decoding, where empty collections round-trip as nil.
func (p *ProjectKnowledge) EnsureMaps() {
	if p.Concepts == nil {
		p.Concepts = make(map[string]*Concept)
	}
	if p.Edges == nil {
		p.Edges = make(map[string]*ConceptEdge)
	}
	if p.Intents == nil {
		p.Intents = make(map[string]*Intent)
	}
	if p.Assumptions == nil {
		p.Assumptions = make(map[string]*Assumption)
	}
	if p.Tradeoffs == nil {
		p.Tradeoffs = make(map[string]*Tradeoff)
	}
	if p.Failures == nil {
		p.Failures = make(map[string]*FailureRecord)
	}
	if p.Attempts == nil {
		p.Attempts = make(map[string]*RetryAttempt)
	}
}

// ConceptByIdentity finds the concept matching an identity key, if any.
func (p *ProjectKnowledge) ConceptByIdentity(key string) *Concept {
	for _, c := range p.Concepts {
		if c.IdentityKey() == key {
			return c
		}
	}
	return nil
}

// FailureByFingerprint finds the open failure with the given fingerprint.
func (p *ProjectKnowledge) FailureByFingerprint(fp string) *FailureRecord {
	for _, f := range p.Failures {
		if f.Fingerprint == fp && f.Open() {
			return f
		}
	}
	return nil
}

// AttemptsForFailure returns the attempts recorded against a failure,
// ordered by creation time then id for determinism.
func (p *ProjectKnowledge) AttemptsForFailure(failureID string) []*RetryAttempt {
	var out []*RetryAttempt
	for _, a := range p.Attempts {
		if a.FailureID == failureID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ConceptsAt returns the concepts whose location set overlaps loc,
// ordered by id for determinism.
func (p *ProjectKnowledge) ConceptsAt(loc CodeLocation) []*Concept {
	var out []*Concept
	for _, c := range p.Concepts {
		if c.AtLocation(loc) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
