package knowledge

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// FailureFingerprint computes a stable identity for "the same kind of
// failure" independent of exact message text: a hash over the normalized
// error class, the sorted location keys, and the sorted concept-id set.
func FailureFingerprint(class FailureClass, locations []CodeLocation, conceptIDs []string) string {
	parts := make([]string, 0, 1+len(locations)+len(conceptIDs))
	parts = append(parts, "class="+string(class))

	locKeys := make([]string, 0, len(locations))
	for _, loc := range locations {
		locKeys = append(locKeys, loc.Key())
	}
	sort.Strings(locKeys)
	parts = append(parts, locKeys...)

	ids := append([]string(nil), conceptIDs...)
	sort.Strings(ids)
	parts = append(parts, ids...)

	return hashParts(parts)
}

// NewChangeFingerprint builds a ChangeFingerprint from the changed
// location set and the concept-id set a fix touches. The sets are
// normalized and sorted so the hash is order-independent.
func NewChangeFingerprint(locations []CodeLocation, conceptIDs []string) ChangeFingerprint {
	normalized := make([]CodeLocation, 0, len(locations))
	locKeys := make([]string, 0, len(locations))
	seen := make(map[string]bool, len(locations))
	for _, loc := range locations {
		n := loc.Normalize()
		key := n.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		normalized = append(normalized, n)
		locKeys = append(locKeys, key)
	}
	sort.Strings(locKeys)
	sort.Slice(normalized, func(i, j int) bool { return normalized[i].Key() < normalized[j].Key() })

	ids := dedupeSorted(conceptIDs)

	parts := append([]string{"diff"}, locKeys...)
	parts = append(parts, ids...)

	return ChangeFingerprint{
		Hash:       hashParts(parts),
		Locations:  normalized,
		ConceptIDs: ids,
	}
}

// hashParts joins the parts with an unambiguous separator and returns the
// hex-encoded SHA-256 digest. The unit separator cannot appear in any
// part, so the encoding is injective.
func hashParts(parts []string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(h[:])
}

func dedupeSorted(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := append([]string(nil), in...)
	sort.Strings(out)
	j := 0
	for i := 0; i < len(out); i++ {
		if i > 0 && out[i] == out[i-1] {
			continue
		}
		out[j] = out[i]
		j++
	}
	return out[:j]
}
