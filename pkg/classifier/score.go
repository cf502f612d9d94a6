package classifier

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/papercomputeco/keel/pkg/knowledge"
)

// rankAssumptions scores every candidate assumption against the failure
// and returns those clearing the floor, best first. Archived assumptions
// never participate; orphaned ones do, so historical failures stay
// explainable. An empty result is returned as-is; a link is never
// fabricated.
func (c *Classifier) rankAssumptions(snap *knowledge.ProjectKnowledge, record *knowledge.FailureRecord) []knowledge.RankedAssumption {
	wLoc, wConcept, wRecency := c.normalizedWeights()
	now := record.LastObservedAt

	var ranked []knowledge.RankedAssumption
	for _, a := range snap.Assumptions {
		if a.Archived {
			continue
		}

		proximity := maxProximity(a.Location, record.Locations)
		overlap := jaccard(a.ConceptIDs, record.ConceptIDs)
		recency := validationRecency(a, now, c.cfg.RecencyWindow)

		score := wLoc*proximity + wConcept*overlap + wRecency*recency
		if score < c.cfg.ScoreFloor {
			continue
		}

		ranked = append(ranked, knowledge.RankedAssumption{
			AssumptionID: a.ID,
			Score:        round3(score),
			Why:          scoreWhy(proximity, overlap, recency),
		})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].AssumptionID < ranked[j].AssumptionID
	})

	if len(ranked) > c.cfg.MaxCandidates {
		ranked = ranked[:c.cfg.MaxCandidates]
	}
	return ranked
}

func (c *Classifier) normalizedWeights() (float64, float64, float64) {
	total := c.cfg.LocationWeight + c.cfg.ConceptWeight + c.cfg.RecencyWeight
	if total <= 0 {
		d := DefaultConfig()
		total = d.LocationWeight + d.ConceptWeight + d.RecencyWeight
		return d.LocationWeight / total, d.ConceptWeight / total, d.RecencyWeight / total
	}
	return c.cfg.LocationWeight / total, c.cfg.ConceptWeight / total, c.cfg.RecencyWeight / total
}

// maxProximity is the best location-proximity score between the
// assumption's location and any failure location.
func maxProximity(loc knowledge.CodeLocation, failureLocs []knowledge.CodeLocation) float64 {
	best := 0.0
	for _, fl := range failureLocs {
		if p := loc.Proximity(fl); p > best {
			best = p
		}
	}
	return best
}

// jaccard is set overlap over set union, 0 when either set is empty.
func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]bool, len(a))
	for _, id := range a {
		setA[id] = true
	}
	inter := 0
	setB := make(map[string]bool, len(b))
	for _, id := range b {
		if setB[id] {
			continue
		}
		setB[id] = true
		if setA[id] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}

// validationRecency decays with the age of the last validation using the
// recency window as half-life. Never-validated assumptions score 0 on
// this term.
func validationRecency(a *knowledge.Assumption, now time.Time, window time.Duration) float64 {
	if a.LastValidatedAt == nil || window <= 0 {
		return 0
	}
	age := now.Sub(*a.LastValidatedAt)
	if age <= 0 {
		return 1
	}
	return math.Pow(0.5, age.Hours()/window.Hours())
}

func scoreWhy(proximity, overlap, recency float64) string {
	switch {
	case proximity >= overlap && proximity >= recency:
		return fmt.Sprintf("closest to the failure site (proximity %.2f)", proximity)
	case overlap >= recency:
		return fmt.Sprintf("shares the failure's concepts (overlap %.2f)", overlap)
	default:
		return fmt.Sprintf("recently validated (recency %.2f)", recency)
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
