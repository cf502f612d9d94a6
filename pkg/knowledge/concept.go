package knowledge

import (
	"sort"
	"strings"
	"time"
)

// ConceptCategory is the closed set of architectural/behavioral pattern
// categories keel recognizes. Language-specific detection catalogs map
// onto these; unknown inputs parse to CategoryUnknown rather than
// inventing open-ended strings.
type ConceptCategory string

const (
	CategoryAuth          ConceptCategory = "auth"
	CategoryAsyncFlow     ConceptCategory = "async_flow"
	CategoryCaching       ConceptCategory = "caching"
	CategoryPersistence   ConceptCategory = "persistence"
	CategoryValidation    ConceptCategory = "validation"
	CategoryErrorHandling ConceptCategory = "error_handling"
	CategoryTransport     ConceptCategory = "transport"
	CategoryConcurrency   ConceptCategory = "concurrency"
	CategoryConfiguration ConceptCategory = "configuration"
	CategoryUnknown       ConceptCategory = "unknown"
)

// ParseCategory maps a raw category string onto the closed set.
func ParseCategory(raw string) ConceptCategory {
	c := ConceptCategory(strings.ToLower(strings.TrimSpace(raw)))
	switch c {
	case CategoryAuth, CategoryAsyncFlow, CategoryCaching, CategoryPersistence,
		CategoryValidation, CategoryErrorHandling, CategoryTransport,
		CategoryConcurrency, CategoryConfiguration:
		return c
	default:
		return CategoryUnknown
	}
}

// Concept is a recognized architectural/behavioral pattern at one or more
// code locations. Concepts are never hard-deleted; when every location
// vanishes they are flagged stale so historical assumption linkage stays
// resolvable.
type Concept struct {
	ID         string          `json:"id"`
	Category   ConceptCategory `json:"category"`
	Name       string          `json:"name,omitempty"`
	Signature  string          `json:"signature"`
	Locations  []CodeLocation  `json:"locations"`
	Confidence float64         `json:"confidence"`
	Stale      bool            `json:"stale,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// IdentityKey is the merge key for re-detections:
// (category, normalized primary location file, structural signature).
// Two detections mapping to the same key merge instead of duplicating.
func (c *Concept) IdentityKey() string {
	return ConceptIdentityKey(c.Category, c.primaryFile(), c.Signature)
}

// ConceptIdentityKey builds the identity key from its raw parts.
func ConceptIdentityKey(category ConceptCategory, file, signature string) string {
	return string(category) + "\x1f" + file + "\x1f" + signature
}

func (c *Concept) primaryFile() string {
	if len(c.Locations) == 0 {
		return ""
	}
	files := make([]string, 0, len(c.Locations))
	for _, loc := range c.Locations {
		files = append(files, loc.Normalize().File)
	}
	sort.Strings(files)
	return files[0]
}

// AtLocation reports whether any of the concept's locations overlaps loc.
func (c *Concept) AtLocation(loc CodeLocation) bool {
	for _, l := range c.Locations {
		if l.Overlaps(loc) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (c *Concept) Clone() *Concept {
	out := *c
	out.Locations = append([]CodeLocation(nil), c.Locations...)
	return &out
}

// ConceptEdge is a symmetric relationship between two concepts, weighted
// by co-occurrence count and decayed over time by a fixed half-life. The
// endpoint ids are stored in sorted order so the edge key is canonical.
type ConceptEdge struct {
	A         string    `json:"a"`
	B         string    `json:"b"`
	Weight    float64   `json:"weight"`
	LastBatch string    `json:"last_batch,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EdgeKey returns the canonical key for an edge between two concept ids,
// independent of argument order.
func EdgeKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "\x1f" + b
}

// Key returns the canonical key for this edge.
func (e *ConceptEdge) Key() string { return EdgeKey(e.A, e.B) }

// Other returns the opposite endpoint of id, or "" when id is not an
// endpoint of this edge.
func (e *ConceptEdge) Other(id string) string {
	switch id {
	case e.A:
		return e.B
	case e.B:
		return e.A
	default:
		return ""
	}
}

// Clone returns a copy.
func (e *ConceptEdge) Clone() *ConceptEdge {
	out := *e
	return &out
}
