package knowledge

import "time"

// Intent is the inferred purpose behind a code change. Intents are
// superseded, not mutated, when the same location changes again; the old
// version is retained for history.
type Intent struct {
	ID           string       `json:"id"`
	Description  string       `json:"description"`
	ConceptIDs   []string     `json:"concept_ids,omitempty"`
	Location     CodeLocation `json:"location"`
	Confidence   float64      `json:"confidence"`
	SupersededBy string       `json:"superseded_by,omitempty"`
	TradeoffID   string       `json:"tradeoff_id,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// Superseded reports whether a newer intent replaced this one.
func (i *Intent) Superseded() bool { return i.SupersededBy != "" }

// Clone returns a deep copy.
func (i *Intent) Clone() *Intent {
	out := *i
	out.ConceptIDs = append([]string(nil), i.ConceptIDs...)
	return &out
}

// Tradeoff is a recorded design decision with its rejected alternatives.
// Tradeoffs are immutable once created.
type Tradeoff struct {
	ID           string    `json:"id"`
	Decision     string    `json:"decision"`
	Alternatives []string  `json:"alternatives,omitempty"`
	Rationale    string    `json:"rationale,omitempty"`
	Constraints  []string  `json:"constraints,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Clone returns a deep copy.
func (t *Tradeoff) Clone() *Tradeoff {
	out := *t
	out.Alternatives = append([]string(nil), t.Alternatives...)
	out.Constraints = append([]string(nil), t.Constraints...)
	return &out
}
