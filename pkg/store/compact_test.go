package store_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/keel/pkg/knowledge"
	"github.com/papercomputeco/keel/pkg/store"
	"github.com/papercomputeco/keel/pkg/store/memory"
)

var _ = Describe("Compact", func() {
	var (
		ctx context.Context
		now time.Time
		old time.Time
		st  *store.Store
	)

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
		old = now.Add(-40 * 24 * time.Hour)
		st = store.New("proj-1", memory.NewDriver(),
			store.WithClock(func() time.Time { return now }),
			store.WithRetention(30*24*time.Hour))
		Expect(st.Open(ctx)).To(Succeed())
	})

	seed := func(build func(tx *store.Transaction)) {
		tx := store.NewTransaction(st.Snapshot())
		build(tx)
		_, err := st.Commit(ctx, tx)
		Expect(err).NotTo(HaveOccurred())
	}

	It("prunes superseded intents, archived assumptions, and attempts of resolved failures past the window", func() {
		seed(func(tx *store.Transaction) {
			tx.Intents = append(tx.Intents,
				&knowledge.Intent{ID: "i1", Description: "old pass", Location: knowledge.NewLocation("a.go", 1, 5), SupersededBy: "i2", CreatedAt: old},
				&knowledge.Intent{ID: "i2", Description: "current pass", Location: knowledge.NewLocation("a.go", 1, 5), CreatedAt: now})
			tx.Assumptions = append(tx.Assumptions, &knowledge.Assumption{
				ID: "a1", Description: "retired", Kind: knowledge.KindInvariant,
				Location: knowledge.NewLocation("a.go", 1, 5), Status: knowledge.StatusUntested,
				Archived: true, CreatedAt: old,
			})
			tx.Failures = append(tx.Failures,
				&knowledge.FailureRecord{ID: "f1", Class: knowledge.FailureLogic, State: knowledge.FailureResolved, Resolved: true,
					Locations: []knowledge.CodeLocation{knowledge.NewLocation("a.go", 1, 5)}},
				&knowledge.FailureRecord{ID: "f2", Class: knowledge.FailureLogic, State: knowledge.FailureObserved,
					Locations: []knowledge.CodeLocation{knowledge.NewLocation("b.go", 1, 5)}})
			tx.Attempts = append(tx.Attempts,
				&knowledge.RetryAttempt{ID: "at1", FailureID: "f1", Outcome: knowledge.OutcomeFailed, CreatedAt: old},
				&knowledge.RetryAttempt{ID: "at2", FailureID: "f2", Outcome: knowledge.OutcomeFailed, CreatedAt: old})
		})

		removed, err := st.Compact(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(removed).To(Equal(3))

		snap := st.Snapshot()
		Expect(snap.Intents).NotTo(HaveKey("i1"))
		Expect(snap.Intents).To(HaveKey("i2"))
		Expect(snap.Assumptions).NotTo(HaveKey("a1"))
		Expect(snap.Attempts).NotTo(HaveKey("at1"))
		Expect(snap.Attempts).To(HaveKey("at2"))
		Expect(snap.Failures).To(HaveKey("f1"))
	})

	It("keeps entities younger than the retention window", func() {
		seed(func(tx *store.Transaction) {
			tx.Intents = append(tx.Intents,
				&knowledge.Intent{ID: "i1", Description: "recent pass", Location: knowledge.NewLocation("a.go", 1, 5), SupersededBy: "i2", CreatedAt: now.Add(-24 * time.Hour)},
				&knowledge.Intent{ID: "i2", Description: "current pass", Location: knowledge.NewLocation("a.go", 1, 5), CreatedAt: now})
		})

		removed, err := st.Compact(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(removed).To(BeZero())
		Expect(st.Snapshot().Intents).To(HaveKey("i1"))
	})

	It("vetoes removal of an archived assumption a failure still names", func() {
		seed(func(tx *store.Transaction) {
			tx.Assumptions = append(tx.Assumptions, &knowledge.Assumption{
				ID: "a1", Description: "still cited", Kind: knowledge.KindInvariant,
				Location: knowledge.NewLocation("a.go", 1, 5), Status: knowledge.StatusUntested,
				Archived: true, CreatedAt: old,
			})
			tx.Failures = append(tx.Failures, &knowledge.FailureRecord{
				ID: "f1", Class: knowledge.FailureLogic, State: knowledge.FailureExplained,
				Locations:           []knowledge.CodeLocation{knowledge.NewLocation("a.go", 1, 5)},
				ViolatedAssumptions: []knowledge.RankedAssumption{{AssumptionID: "a1", Score: 0.9}},
			})
		})

		removed, err := st.Compact(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(removed).To(BeZero())
		Expect(st.Snapshot().Assumptions).To(HaveKey("a1"))
	})

	It("vetoes removal of attempts pinned by an explanation", func() {
		seed(func(tx *store.Transaction) {
			tx.Failures = append(tx.Failures, &knowledge.FailureRecord{
				ID: "f1", Class: knowledge.FailureLogic, State: knowledge.FailureResolved, Resolved: true,
				Locations:   []knowledge.CodeLocation{knowledge.NewLocation("a.go", 1, 5)},
				Explanation: &knowledge.Explanation{Summary: "fixed", PriorAttemptIDs: []string{"at1"}},
			})
			tx.Attempts = append(tx.Attempts, &knowledge.RetryAttempt{
				ID: "at1", FailureID: "f1", Outcome: knowledge.OutcomeSucceeded, CreatedAt: old,
			})
		})

		removed, err := st.Compact(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(removed).To(BeZero())
		Expect(st.Snapshot().Attempts).To(HaveKey("at1"))
	})
})
