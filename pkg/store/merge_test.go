package store_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/keel/pkg/knowledge"
	"github.com/papercomputeco/keel/pkg/store"
)

var _ = Describe("Merge", func() {
	var ours, theirs *knowledge.ProjectKnowledge

	BeforeEach(func() {
		ours = knowledge.NewProjectKnowledge("proj-1")
		theirs = knowledge.NewProjectKnowledge("proj-1")
	})

	It("unions concepts by graph rules", func() {
		ours.Concepts["c1"] = &knowledge.Concept{
			ID: "c1", Category: knowledge.CategoryCaching, Signature: "sig",
			Locations:  []knowledge.CodeLocation{knowledge.NewLocation("a.go", 1, 10)},
			Confidence: 0.6,
		}
		theirs.Concepts["c1"] = &knowledge.Concept{
			ID: "c1", Category: knowledge.CategoryCaching, Signature: "sig",
			Locations:  []knowledge.CodeLocation{knowledge.NewLocation("b.go", 1, 10)},
			Confidence: 0.9,
			Stale:      true,
		}
		theirs.Concepts["c2"] = &knowledge.Concept{
			ID: "c2", Category: knowledge.CategoryAuth, Signature: "sig2",
			Locations: []knowledge.CodeLocation{knowledge.NewLocation("c.go", 1, 10)},
		}

		merged, conflicts := store.Merge(ours, theirs)
		Expect(conflicts).To(BeEmpty())
		Expect(merged.Concepts).To(HaveLen(2))
		Expect(merged.Concepts["c1"].Confidence).To(Equal(0.9))
		Expect(merged.Concepts["c1"].Locations).To(HaveLen(2))
		Expect(merged.Concepts["c1"].Stale).To(BeFalse(), "stale only when stale on both sides")
	})

	It("keeps the heavier edge weight", func() {
		key := knowledge.EdgeKey("c1", "c2")
		ours.Edges[key] = &knowledge.ConceptEdge{A: "c1", B: "c2", Weight: 2}
		theirs.Edges[key] = &knowledge.ConceptEdge{A: "c1", B: "c2", Weight: 5}

		merged, _ := store.Merge(ours, theirs)
		Expect(merged.Edges[key].Weight).To(Equal(5.0))
	})

	It("duplicates divergent intents instead of picking a winner", func() {
		base := &knowledge.Intent{ID: "i1", Description: "ours", Location: knowledge.NewLocation("a.go", 1, 5)}
		ours.Intents["i1"] = base
		theirs.Intents["i1"] = &knowledge.Intent{ID: "i1", Description: "theirs", Location: knowledge.NewLocation("a.go", 1, 5)}

		merged, conflicts := store.Merge(ours, theirs)
		Expect(conflicts).To(HaveLen(1))
		Expect(conflicts[0].Kind).To(Equal(knowledge.KindIntent))
		Expect(conflicts[0].ID).To(Equal("i1"))
		Expect(conflicts[0].TheirsID).To(Equal("i1~theirs"))
		Expect(merged.Intents["i1"].Description).To(Equal("ours"))
		Expect(merged.Intents["i1~theirs"].Description).To(Equal("theirs"))
	})

	It("never resolves assumption status by timestamps", func() {
		later := time.Now().UTC()
		ours.Assumptions["a1"] = &knowledge.Assumption{
			ID: "a1", Description: "d", Kind: knowledge.KindInvariant,
			Location: knowledge.NewLocation("a.go", 1, 5), Status: knowledge.StatusValid,
		}
		theirs.Assumptions["a1"] = &knowledge.Assumption{
			ID: "a1", Description: "d", Kind: knowledge.KindInvariant,
			Location: knowledge.NewLocation("a.go", 1, 5), Status: knowledge.StatusFailed,
			Violations: []knowledge.Violation{{FailureID: "f1", ObservedAt: later}},
		}

		merged, conflicts := store.Merge(ours, theirs)
		Expect(conflicts).To(HaveLen(1))
		Expect(conflicts[0].Kind).To(Equal(knowledge.KindAssumption))
		Expect(merged.Assumptions["a1"].Status).To(Equal(knowledge.StatusValid))
		Expect(merged.Assumptions["a1~theirs"].Status).To(Equal(knowledge.StatusFailed))
	})

	It("treats identical entities on both sides as no conflict", func() {
		in := &knowledge.Intent{ID: "i1", Description: "same", Location: knowledge.NewLocation("a.go", 1, 5)}
		ours.Intents["i1"] = in
		theirs.Intents["i1"] = in.Clone()

		merged, conflicts := store.Merge(ours, theirs)
		Expect(conflicts).To(BeEmpty())
		Expect(merged.Intents).To(HaveLen(1))
	})

	It("keeps attempt success monotonic across devices", func() {
		ours.Attempts["at1"] = &knowledge.RetryAttempt{ID: "at1", FailureID: "f1", Outcome: knowledge.OutcomeFailed}
		theirs.Attempts["at1"] = &knowledge.RetryAttempt{ID: "at1", FailureID: "f1", Outcome: knowledge.OutcomeSucceeded}

		merged, _ := store.Merge(ours, theirs)
		Expect(merged.Attempts["at1"].Outcome).To(Equal(knowledge.OutcomeSucceeded))
	})

	It("takes the max recurrence count and unions resolution state", func() {
		ours.Failures["f1"] = &knowledge.FailureRecord{ID: "f1", Class: knowledge.FailureLogic, State: knowledge.FailureRecurring, RecurrenceCount: 2}
		theirs.Failures["f1"] = &knowledge.FailureRecord{ID: "f1", Class: knowledge.FailureLogic, State: knowledge.FailureResolved, Resolved: true, RecurrenceCount: 4}

		merged, _ := store.Merge(ours, theirs)
		Expect(merged.Failures["f1"].RecurrenceCount).To(Equal(4))
		Expect(merged.Failures["f1"].Resolved).To(BeFalse(), "a failure stays open unless resolved on both sides")
	})

	It("advances past both versions", func() {
		ours.Version = 3
		theirs.Version = 7

		merged, _ := store.Merge(ours, theirs)
		Expect(merged.Version).To(Equal(uint64(8)))
	})
})
