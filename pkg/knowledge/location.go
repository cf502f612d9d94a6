// Package knowledge defines the entity model shared by every keel
// subsystem: concepts, assumptions, intents, failures, retry attempts,
// and the per-project aggregate that the store persists.
package knowledge

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// CodeLocation identifies a line range in one source file. Locations are
// normalized (forward slashes, cleaned path) before being used as part of
// any identity key or fingerprint.
type CodeLocation struct {
	File      string `json:"file"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// wholeFileEndLine bounds file-granularity locations where line-level
// detail is unavailable, e.g. filesystem watch events.
const wholeFileEndLine = 1 << 20

// WholeFile builds a location spanning an entire file.
func WholeFile(file string) CodeLocation {
	return CodeLocation{File: file, StartLine: 1, EndLine: wholeFileEndLine}.Normalize()
}

// NewLocation builds a normalized location.
func NewLocation(file string, start, end int) CodeLocation {
	loc := CodeLocation{File: file, StartLine: start, EndLine: end}
	return loc.Normalize()
}

// Normalize returns the location with a cleaned, slash-separated path and
// ordered line bounds.
func (l CodeLocation) Normalize() CodeLocation {
	out := l
	out.File = path.Clean(strings.ReplaceAll(l.File, "\\", "/"))
	if out.EndLine < out.StartLine {
		out.StartLine, out.EndLine = out.EndLine, out.StartLine
	}
	return out
}

// Valid reports whether the location references a real file and line range.
func (l CodeLocation) Valid() bool {
	return l.File != "" && l.File != "." && l.StartLine > 0 && l.EndLine >= l.StartLine
}

// Key returns the canonical string form, e.g. "pkg/auth/session.go:10-20".
func (l CodeLocation) Key() string {
	n := l.Normalize()
	return fmt.Sprintf("%s:%d-%d", n.File, n.StartLine, n.EndLine)
}

func (l CodeLocation) String() string { return l.Key() }

// SameFile reports whether both locations live in the same normalized file.
func (l CodeLocation) SameFile(other CodeLocation) bool {
	return l.Normalize().File == other.Normalize().File
}

// Overlaps reports whether the two line ranges intersect in the same file.
func (l CodeLocation) Overlaps(other CodeLocation) bool {
	a, b := l.Normalize(), other.Normalize()
	if a.File != b.File {
		return false
	}
	return a.StartLine <= b.EndLine && b.StartLine <= a.EndLine
}

// Proximity scores how close two locations are, in [0,1]. Overlapping
// ranges score 1.0, ranges in the same file decay with line distance, and
// locations in different files score 0.
func (l CodeLocation) Proximity(other CodeLocation) float64 {
	a, b := l.Normalize(), other.Normalize()
	if a.File != b.File {
		return 0
	}
	if a.Overlaps(b) {
		return 1
	}
	gap := a.StartLine - b.EndLine
	if b.StartLine > a.EndLine {
		gap = b.StartLine - a.EndLine
	}
	// Within ~200 lines counts as "nearby"; beyond that the score bottoms
	// out at the same-file floor.
	const window = 200.0
	score := 1 - float64(gap)/window
	if score < 0.1 {
		score = 0.1
	}
	return score
}

// MergeLocations unions two location sets, deduplicating by Key, and
// returns the result sorted by Key for stable persistence.
func MergeLocations(a, b []CodeLocation) []CodeLocation {
	seen := make(map[string]CodeLocation, len(a)+len(b))
	for _, loc := range a {
		n := loc.Normalize()
		seen[n.Key()] = n
	}
	for _, loc := range b {
		n := loc.Normalize()
		seen[n.Key()] = n
	}
	return sortLocations(seen)
}

func sortLocations(set map[string]CodeLocation) []CodeLocation {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]CodeLocation, 0, len(keys))
	for _, k := range keys {
		out = append(out, set[k])
	}
	return out
}
