package knowledge

import (
	"strings"
	"time"
)

// ChangeKind is the closed set of structural code-change kinds reported
// by the code-change collaborator.
type ChangeKind string

const (
	ChangeCreated  ChangeKind = "created"
	ChangeModified ChangeKind = "modified"
	ChangeDeleted  ChangeKind = "deleted"
)

// ParseChangeKind maps a raw kind onto the closed set, defaulting to
// modified.
func ParseChangeKind(raw string) ChangeKind {
	k := ChangeKind(strings.ToLower(strings.TrimSpace(raw)))
	switch k {
	case ChangeCreated, ChangeDeleted:
		return k
	default:
		return ChangeModified
	}
}

// Detection is one raw concept detection reported alongside a change
// event. The engine feeds detections to the concept graph, which decides
// whether each one is a new concept or an update to an existing one.
type Detection struct {
	Category   ConceptCategory `json:"category"`
	Name       string          `json:"name,omitempty"`
	Signature  string          `json:"signature"`
	Location   CodeLocation    `json:"location"`
	Confidence float64         `json:"confidence"`
}

// CodeChangeEvent is the input of the silent path: a structural change
// observed by the external parser (or the local file watcher, which
// reports paths and kinds only). The core never parses source text.
type CodeChangeEvent struct {
	Location          CodeLocation `json:"location"`
	Kind              ChangeKind   `json:"kind"`
	StructuralSummary string       `json:"structural_summary,omitempty"`
	Detections        []Detection  `json:"detections,omitempty"`
	ObservedAt        time.Time    `json:"observed_at"`
}

// FailureSignal is the input of the on-demand path: one observed failure
// plus whatever signals the caller has about it.
type FailureSignal struct {
	Locations  []CodeLocation `json:"locations"`
	Message    string         `json:"message,omitempty"`
	ErrorKind  string         `json:"error_kind,omitempty"`
	ObservedAt time.Time      `json:"observed_at"`
}
