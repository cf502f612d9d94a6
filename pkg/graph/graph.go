// Package graph maintains the concept graph: identity resolution for
// re-detected concepts, co-occurrence edges with half-life decay, and
// stale flagging when every location of a concept vanishes.
package graph

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/keel/pkg/knowledge"
	"github.com/papercomputeco/keel/pkg/store"
)

// Graph applies detection batches to the knowledge store. It holds no
// mutable graph state of its own; every operation derives a read snapshot
// from the store and commits changes transactionally.
type Graph struct {
	store    *store.Store
	halfLife time.Duration
	clock    func() time.Time
	log      *slog.Logger
}

// Option configures a Graph.
type Option func(*Graph)

// WithHalfLife sets the edge-weight decay half-life. Defaults to 7 days.
func WithHalfLife(d time.Duration) Option {
	return func(g *Graph) { g.halfLife = d }
}

// WithClock overrides the time source, mainly for tests.
func WithClock(clock func() time.Time) Option {
	return func(g *Graph) { g.clock = clock }
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(g *Graph) { g.log = log }
}

// New creates a graph over the given store.
func New(st *store.Store, opts ...Option) *Graph {
	g := &Graph{
		store:    st,
		halfLife: 7 * 24 * time.Hour,
		clock:    time.Now,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Upsert applies one detection batch. Each detection either merges into
// the concept sharing its identity key (confidence = max, locations =
// union) or creates a new concept. Concepts co-located in the same batch
// gain symmetric co-occurrence edges; re-applying an identical batch
// changes nothing beyond the decay schedule. Returns the batch's merged
// concepts sorted by id.
func (g *Graph) Upsert(ctx context.Context, detections []knowledge.Detection) ([]*knowledge.Concept, error) {
	if len(detections) == 0 {
		return nil, nil
	}

	batchHash := batchFingerprint(detections)
	var result []*knowledge.Concept

	_, err := g.store.CommitWithRetry(ctx, func(snap *knowledge.ProjectKnowledge, tx *store.Transaction) error {
		now := g.clock().UTC()
		touched := make(map[string]*knowledge.Concept)

		for _, det := range detections {
			loc := det.Location.Normalize()
			key := knowledge.ConceptIdentityKey(det.Category, loc.File, det.Signature)

			concept := findByIdentity(touched, key)
			if concept == nil {
				concept = cloneByIdentity(snap, key)
			}
			if concept == nil {
				// A stale concept has no locations left, so its identity
				// key no longer carries a file. Revive it instead of
				// creating a duplicate when the same pattern reappears.
				concept = cloneStaleMatch(snap, det.Category, det.Signature)
			}

			if concept == nil {
				concept = &knowledge.Concept{
					ID:         uuid.NewString(),
					Category:   det.Category,
					Name:       det.Name,
					Signature:  det.Signature,
					Locations:  []knowledge.CodeLocation{loc},
					Confidence: det.Confidence,
					CreatedAt:  now,
					UpdatedAt:  now,
				}
			} else {
				if det.Confidence > concept.Confidence {
					concept.Confidence = det.Confidence
				}
				concept.Locations = knowledge.MergeLocations(concept.Locations, []knowledge.CodeLocation{loc})
				if concept.Name == "" {
					concept.Name = det.Name
				}
				concept.Stale = false
				concept.UpdatedAt = now
			}
			touched[concept.ID] = concept
		}

		ids := make([]string, 0, len(touched))
		for id, c := range touched {
			tx.Concepts = append(tx.Concepts, c)
			ids = append(ids, id)
		}
		sort.Strings(ids)

		// Symmetric co-occurrence edges between every pair of concepts
		// in the batch. LastBatch makes a replayed batch a no-op apart
		// from decay.
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				key := knowledge.EdgeKey(ids[i], ids[j])
				edge := snap.Edges[key]
				if edge == nil {
					tx.Edges = append(tx.Edges, &knowledge.ConceptEdge{
						A:         ids[i],
						B:         ids[j],
						Weight:    1,
						LastBatch: batchHash,
						UpdatedAt: now,
					})
					continue
				}
				next := edge.Clone()
				next.Weight = decayedWeight(edge, now, g.halfLife)
				if edge.LastBatch != batchHash {
					next.Weight++
					next.LastBatch = batchHash
				}
				next.UpdatedAt = now
				tx.Edges = append(tx.Edges, next)
			}
		}

		result = result[:0]
		for _, id := range ids {
			result = append(result, touched[id])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]*knowledge.Concept, len(result))
	for i, c := range result {
		out[i] = c.Clone()
	}
	return out, nil
}

// RemoveLocation drops the overlapping location from every concept that
// covers it. Concepts left with no locations are flagged stale, never
// deleted, so historical assumption linkage remains resolvable. Returns
// the ids of concepts that became stale.
func (g *Graph) RemoveLocation(ctx context.Context, loc knowledge.CodeLocation) ([]string, error) {
	var stale []string

	_, err := g.store.CommitWithRetry(ctx, func(snap *knowledge.ProjectKnowledge, tx *store.Transaction) error {
		now := g.clock().UTC()
		stale = stale[:0]

		for _, c := range snap.ConceptsAt(loc) {
			next := c.Clone()
			kept := next.Locations[:0]
			for _, l := range next.Locations {
				if !l.Overlaps(loc) {
					kept = append(kept, l)
				}
			}
			next.Locations = kept
			if len(next.Locations) == 0 {
				next.Stale = true
				stale = append(stale, next.ID)
			}
			next.UpdatedAt = now
			tx.Concepts = append(tx.Concepts, next)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(stale)
	return stale, nil
}

// Weight returns an edge's current decayed weight.
func (g *Graph) Weight(edge *knowledge.ConceptEdge) float64 {
	return decayedWeight(edge, g.clock().UTC(), g.halfLife)
}

// Distance returns the minimum hop count between two concepts over the
// edge set, 0 for identical ids, and -1 when unreachable.
func Distance(snap *knowledge.ProjectKnowledge, from, to string) int {
	if from == to {
		return 0
	}

	adj := make(map[string][]string)
	for _, e := range snap.Edges {
		adj[e.A] = append(adj[e.A], e.B)
		adj[e.B] = append(adj[e.B], e.A)
	}

	visited := map[string]bool{from: true}
	frontier := []string{from}
	depth := 0
	for len(frontier) > 0 {
		depth++
		var next []string
		for _, id := range frontier {
			for _, n := range adj[id] {
				if visited[n] {
					continue
				}
				if n == to {
					return depth
				}
				visited[n] = true
				next = append(next, n)
			}
		}
		frontier = next
	}
	return -1
}

// decayedWeight applies exponential half-life decay to an edge weight.
func decayedWeight(edge *knowledge.ConceptEdge, now time.Time, halfLife time.Duration) float64 {
	if halfLife <= 0 {
		return edge.Weight
	}
	age := now.Sub(edge.UpdatedAt)
	if age <= 0 {
		return edge.Weight
	}
	return edge.Weight * math.Pow(0.5, age.Hours()/halfLife.Hours())
}

// batchFingerprint is a stable identity for one detection batch, used to
// keep edge updates idempotent when the same batch is replayed.
func batchFingerprint(detections []knowledge.Detection) string {
	locs := make([]knowledge.CodeLocation, 0, len(detections))
	keys := make([]string, 0, len(detections))
	for _, d := range detections {
		loc := d.Location.Normalize()
		locs = append(locs, loc)
		keys = append(keys, knowledge.ConceptIdentityKey(d.Category, loc.File, d.Signature))
	}
	sort.Strings(keys)
	return knowledge.NewChangeFingerprint(locs, keys).Hash
}

func findByIdentity(set map[string]*knowledge.Concept, key string) *knowledge.Concept {
	for _, c := range set {
		if c.IdentityKey() == key {
			return c
		}
	}
	return nil
}

func cloneByIdentity(snap *knowledge.ProjectKnowledge, key string) *knowledge.Concept {
	if c := snap.ConceptByIdentity(key); c != nil {
		return c.Clone()
	}
	return nil
}

func cloneStaleMatch(snap *knowledge.ProjectKnowledge, category knowledge.ConceptCategory, signature string) *knowledge.Concept {
	var match *knowledge.Concept
	for _, c := range snap.Concepts {
		if !c.Stale || c.Category != category || c.Signature != signature {
			continue
		}
		if match == nil || c.ID < match.ID {
			match = c
		}
	}
	if match == nil {
		return nil
	}
	return match.Clone()
}
