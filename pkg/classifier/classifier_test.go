package classifier_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/keel/pkg/classifier"
	"github.com/papercomputeco/keel/pkg/knowledge"
	"github.com/papercomputeco/keel/pkg/store"
	"github.com/papercomputeco/keel/pkg/store/memory"
)

var _ = Describe("Classifier", func() {
	var (
		ctx context.Context
		now time.Time
		st  *store.Store
		cls *classifier.Classifier
	)

	clock := func() time.Time { return now }
	site := knowledge.NewLocation("pkg/pay/charge.go", 30, 60)

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
		st = store.New("proj-1", memory.NewDriver(), store.WithClock(clock))
		Expect(st.Open(ctx)).To(Succeed())
		cls = classifier.New(st, classifier.DefaultConfig(), classifier.WithClock(clock))
	})

	signal := func(message string, locs ...knowledge.CodeLocation) knowledge.FailureSignal {
		if len(locs) == 0 {
			locs = []knowledge.CodeLocation{site}
		}
		return knowledge.FailureSignal{Locations: locs, Message: message, ObservedAt: now}
	}

	seed := func(build func(tx *store.Transaction)) {
		tx := store.NewTransaction(st.Snapshot())
		build(tx)
		_, err := st.Commit(ctx, tx)
		Expect(err).NotTo(HaveOccurred())
	}

	Describe("classification", func() {
		It("reads runtime shapes from the message", func() {
			record, err := cls.Observe(ctx, signal("panic: runtime error: index out of range [3]"))
			Expect(err).NotTo(HaveOccurred())
			Expect(record.Class).To(Equal(knowledge.FailureRuntime))
		})

		It("reads integration shapes from the message", func() {
			record, err := cls.Observe(ctx, signal("dial tcp 10.0.0.5:5432: connection refused"))
			Expect(err).NotTo(HaveOccurred())
			Expect(record.Class).To(Equal(knowledge.FailureIntegration))
		})

		It("refuses to guess when runtime and integration evidence conflict", func() {
			record, err := cls.Observe(ctx, signal("panic recovered after connection timeout"))
			Expect(err).NotTo(HaveOccurred())
			Expect(record.Class).To(Equal(knowledge.FailureUnknown))
		})

		It("classifies as logic when a recent intent touched the site", func() {
			seed(func(tx *store.Transaction) {
				tx.Intents = append(tx.Intents, &knowledge.Intent{
					ID: "i1", Description: "rework charge rounding", Location: site,
					CreatedAt: now.Add(-10 * time.Minute),
				})
			})

			record, err := cls.Observe(ctx, signal("expected 100 got 99"))
			Expect(err).NotTo(HaveOccurred())
			Expect(record.Class).To(Equal(knowledge.FailureLogic))
		})

		It("ignores intents outside the recency window", func() {
			seed(func(tx *store.Transaction) {
				tx.Intents = append(tx.Intents, &knowledge.Intent{
					ID: "i1", Description: "rework charge rounding", Location: site,
					CreatedAt: now.Add(-2 * time.Hour),
				})
			})

			record, err := cls.Observe(ctx, signal("expected 100 got 99"))
			Expect(err).NotTo(HaveOccurred())
			Expect(record.Class).To(Equal(knowledge.FailureUnknown))
		})

		It("rejects signals without a location", func() {
			_, err := cls.Observe(ctx, knowledge.FailureSignal{Message: "boom"})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("determinism", func() {
		It("produces identical fingerprints for identical signals", func() {
			first, err := cls.Observe(ctx, signal("panic: nil pointer dereference"))
			Expect(err).NotTo(HaveOccurred())

			second, err := cls.Observe(ctx, signal("panic: nil pointer dereference"))
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Fingerprint).To(Equal(first.Fingerprint))
		})
	})

	Describe("recurrence", func() {
		It("increments the existing record instead of duplicating", func() {
			first, err := cls.Observe(ctx, signal("panic: nil pointer dereference"))
			Expect(err).NotTo(HaveOccurred())
			Expect(first.RecurrenceCount).To(Equal(1))

			now = now.Add(5 * time.Minute)
			second, err := cls.Observe(ctx, signal("panic: nil pointer dereference"))
			Expect(err).NotTo(HaveOccurred())

			Expect(second.ID).To(Equal(first.ID))
			Expect(second.RecurrenceCount).To(Equal(2))
			Expect(second.State).To(Equal(knowledge.FailureRecurring))
			Expect(second.LastObservedAt).To(Equal(now))
			Expect(st.Snapshot().Failures).To(HaveLen(1))
		})

		It("opens a fresh record once the old one resolved", func() {
			first, err := cls.Observe(ctx, signal("panic: nil pointer dereference"))
			Expect(err).NotTo(HaveOccurred())

			resolved, err := cls.ConfirmResolution(ctx, site)
			Expect(err).NotTo(HaveOccurred())
			Expect(resolved).To(ConsistOf(first.ID))

			second, err := cls.Observe(ctx, signal("panic: nil pointer dereference"))
			Expect(err).NotTo(HaveOccurred())
			Expect(second.ID).NotTo(Equal(first.ID))
			Expect(st.Snapshot().Failures).To(HaveLen(2))
		})

		It("resets the quiet-attempt count on recurrence", func() {
			_, err := cls.Observe(ctx, signal("panic: nil pointer dereference"))
			Expect(err).NotTo(HaveOccurred())

			_, err = cls.NoteQuietAttempt(ctx, site)
			Expect(err).NotTo(HaveOccurred())
			_, err = cls.NoteQuietAttempt(ctx, site)
			Expect(err).NotTo(HaveOccurred())

			record, err := cls.Observe(ctx, signal("panic: nil pointer dereference"))
			Expect(err).NotTo(HaveOccurred())
			Expect(record.QuietAttempts).To(BeZero())
		})
	})

	Describe("resolution", func() {
		It("resolves on explicit confirmation at the site", func() {
			record, err := cls.Observe(ctx, signal("panic: nil pointer dereference"))
			Expect(err).NotTo(HaveOccurred())

			resolved, err := cls.ConfirmResolution(ctx, site)
			Expect(err).NotTo(HaveOccurred())
			Expect(resolved).To(ConsistOf(record.ID))
			Expect(st.Snapshot().Failures[record.ID].State).To(Equal(knowledge.FailureResolved))
		})

		It("leaves failures elsewhere open", func() {
			record, err := cls.Observe(ctx, signal("panic: nil pointer dereference"))
			Expect(err).NotTo(HaveOccurred())

			resolved, err := cls.ConfirmResolution(ctx, knowledge.NewLocation("pkg/other/other.go", 1, 10))
			Expect(err).NotTo(HaveOccurred())
			Expect(resolved).To(BeEmpty())
			Expect(st.Snapshot().Failures[record.ID].Open()).To(BeTrue())
		})

		It("resolves after the configured quiet attempts", func() {
			record, err := cls.Observe(ctx, signal("panic: nil pointer dereference"))
			Expect(err).NotTo(HaveOccurred())

			for i := 0; i < 2; i++ {
				resolved, err := cls.NoteQuietAttempt(ctx, site)
				Expect(err).NotTo(HaveOccurred())
				Expect(resolved).To(BeEmpty())
			}

			resolved, err := cls.NoteQuietAttempt(ctx, site)
			Expect(err).NotTo(HaveOccurred())
			Expect(resolved).To(ConsistOf(record.ID))
			Expect(st.Snapshot().Failures[record.ID].Resolved).To(BeTrue())
		})
	})

	Describe("assumption ranking", func() {
		seedAssumption := func(id string, loc knowledge.CodeLocation, conceptIDs []string) {
			seed(func(tx *store.Transaction) {
				for _, cid := range conceptIDs {
					tx.Concepts = append(tx.Concepts, &knowledge.Concept{
						ID: cid, Category: knowledge.CategoryValidation, Signature: "sig-" + cid,
						Locations: []knowledge.CodeLocation{loc}, Confidence: 0.8,
					})
				}
				tx.Assumptions = append(tx.Assumptions, &knowledge.Assumption{
					ID: id, Description: "assumption " + id, Kind: knowledge.KindInvariant,
					ConceptIDs: conceptIDs, Location: loc, Status: knowledge.StatusUntested,
					CreatedAt: now,
				})
			})
		}

		It("ranks by combined proximity, overlap, and recency", func() {
			seedAssumption("a-near", site, nil)
			seedAssumption("a-far", knowledge.NewLocation("pkg/pay/charge.go", 800, 820), nil)

			record, err := cls.Observe(ctx, signal("panic: nil pointer dereference"))
			Expect(err).NotTo(HaveOccurred())

			Expect(record.ViolatedAssumptions).NotTo(BeEmpty())
			Expect(record.ViolatedAssumptions[0].AssumptionID).To(Equal("a-near"))
			Expect(record.State).To(Equal(knowledge.FailureExplained))
		})

		It("drops candidates below the score floor instead of fabricating links", func() {
			seedAssumption("a-unrelated", knowledge.NewLocation("pkg/other/other.go", 1, 10), nil)

			record, err := cls.Observe(ctx, signal("panic: nil pointer dereference"))
			Expect(err).NotTo(HaveOccurred())
			Expect(record.ViolatedAssumptions).To(BeEmpty())
			Expect(record.Explanation.Summary).To(ContainSubstring("no assumption scoring above the floor"))
		})

		It("flags ranked candidates suspected without failing them", func() {
			seedAssumption("a-near", site, nil)

			_, err := cls.Observe(ctx, signal("panic: nil pointer dereference"))
			Expect(err).NotTo(HaveOccurred())

			a := st.Snapshot().Assumptions["a-near"]
			Expect(a.Suspected).To(BeTrue())
			Expect(a.Status).To(Equal(knowledge.StatusUntested))
		})

		It("never ranks archived assumptions", func() {
			seed(func(tx *store.Transaction) {
				tx.Assumptions = append(tx.Assumptions, &knowledge.Assumption{
					ID: "a-archived", Description: "retired", Kind: knowledge.KindInvariant,
					Location: site, Status: knowledge.StatusUntested, Archived: true,
					CreatedAt: now,
				})
			})

			record, err := cls.Observe(ctx, signal("panic: nil pointer dereference"))
			Expect(err).NotTo(HaveOccurred())
			Expect(record.ViolatedAssumptions).To(BeEmpty())
		})

		It("bounds the candidate list", func() {
			cfg := classifier.DefaultConfig()
			cfg.MaxCandidates = 2
			cls = classifier.New(st, cfg, classifier.WithClock(clock))

			for _, id := range []string{"a1", "a2", "a3", "a4"} {
				seedAssumption(id, site, nil)
			}

			record, err := cls.Observe(ctx, signal("panic: nil pointer dereference"))
			Expect(err).NotTo(HaveOccurred())
			Expect(record.ViolatedAssumptions).To(HaveLen(2))
		})
	})

	Describe("explanation", func() {
		It("cites constraints sharing a concept with the failure", func() {
			elsewhere := knowledge.NewLocation("pkg/pay/currency.go", 1, 20)
			seed(func(tx *store.Transaction) {
				tx.Concepts = append(tx.Concepts,
					&knowledge.Concept{
						ID: "c1", Category: knowledge.CategoryValidation, Signature: "sig",
						Locations: []knowledge.CodeLocation{site}, Confidence: 0.8,
					},
					&knowledge.Concept{
						ID: "c2", Category: knowledge.CategoryConfiguration, Signature: "sig2",
						Locations: []knowledge.CodeLocation{elsewhere}, Confidence: 0.8,
					},
					&knowledge.Concept{
						ID: "c3", Category: knowledge.CategoryConfiguration, Signature: "sig3",
						Locations: []knowledge.CodeLocation{elsewhere}, Confidence: 0.8,
					})
				tx.Assumptions = append(tx.Assumptions,
					&knowledge.Assumption{
						ID: "a-violated", Description: "amounts are integral cents", Kind: knowledge.KindInvariant,
						ConceptIDs: []string{"c1"}, Location: site, Status: knowledge.StatusUntested, CreatedAt: now,
					},
					// Shares c1 with the failure but scores below the floor,
					// so it surfaces as a constraint rather than a candidate.
					&knowledge.Assumption{
						ID: "a-constraint", Description: "currency is never mixed", Kind: knowledge.KindInvariant,
						ConceptIDs: []string{"c1", "c2", "c3"}, Location: elsewhere,
						Status: knowledge.StatusValid, CreatedAt: now,
					})
			})

			record, err := cls.Observe(ctx, signal("panic: nil pointer dereference"))
			Expect(err).NotTo(HaveOccurred())

			Expect(record.Explanation).NotTo(BeNil())
			Expect(record.Explanation.Summary).To(ContainSubstring("amounts are integral cents"))
			Expect(record.Explanation.AffectedLayer).To(Equal(string(knowledge.CategoryValidation)))
			Expect(record.Explanation.Constraints).To(ContainElement("currency is never mixed"))
		})
	})
})
