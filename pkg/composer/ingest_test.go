package composer_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/keel/pkg/composer"
	"github.com/papercomputeco/keel/pkg/graph"
	"github.com/papercomputeco/keel/pkg/knowledge"
	"github.com/papercomputeco/keel/pkg/lifecycle"
	"github.com/papercomputeco/keel/pkg/llm"
	"github.com/papercomputeco/keel/pkg/store"
	"github.com/papercomputeco/keel/pkg/store/memory"
)

// stubExtractor returns a canned extraction or error.
type stubExtractor struct {
	extraction *llm.Extraction
	err        error
	calls      int
}

func (s *stubExtractor) Name() string { return "stub" }

func (s *stubExtractor) Extract(_ context.Context, _ llm.ExtractRequest) (*llm.Extraction, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.extraction, nil
}

var _ = Describe("Ingestor", func() {
	var (
		ctx  context.Context
		now  time.Time
		st   *store.Store
		g    *graph.Graph
		lm   *lifecycle.Manager
		stub *stubExtractor
	)

	loc := knowledge.NewLocation("pkg/pay/charge.go", 30, 60)

	change := func() knowledge.CodeChangeEvent {
		return knowledge.CodeChangeEvent{
			Location:          loc,
			Kind:              knowledge.ChangeModified,
			StructuralSummary: "reworked charge rounding",
			Detections: []knowledge.Detection{{
				Category: knowledge.CategoryValidation, Signature: "validate(amount)",
				Location: loc, Confidence: 0.8,
			}},
			ObservedAt: now,
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
		clock := func() time.Time { return now }
		st = store.New("proj-1", memory.NewDriver(), store.WithClock(clock))
		Expect(st.Open(ctx)).To(Succeed())
		g = graph.New(st, graph.WithClock(clock))
		lm = lifecycle.New(st, lifecycle.WithClock(clock))
		stub = &stubExtractor{extraction: &llm.Extraction{}}
	})

	It("stores structural detections without an extractor", func() {
		in := composer.NewIngestor(g, lm, nil)

		report, err := in.IngestResult(ctx, change(), "raw agent output")
		Expect(err).NotTo(HaveOccurred())
		Expect(report.ConceptIDs).To(HaveLen(1))
		Expect(report.Degraded).To(BeFalse())
		Expect(report.IntentID).NotTo(BeEmpty(), "structural summary still captures an intent")
	})

	It("merges extractor output into the stored knowledge", func() {
		stub.extraction = &llm.Extraction{
			Intent: "make rounding banker-safe",
			Detections: []knowledge.Detection{{
				Category: knowledge.CategoryErrorHandling, Signature: "wrap(err)",
				Location: knowledge.NewLocation("pkg/pay/charge.go", 70, 90), Confidence: 0.6,
			}},
			Assumptions: []llm.CandidateAssumption{{
				Description: "amounts are integer cents",
				Kind:        knowledge.KindInvariant,
				Location:    loc,
			}},
			Tradeoff: &knowledge.Tradeoff{Decision: "integer cents", Alternatives: []string{"decimal strings"}},
		}
		in := composer.NewIngestor(g, lm, stub)

		report, err := in.IngestResult(ctx, change(), "raw agent output")
		Expect(err).NotTo(HaveOccurred())
		Expect(report.ConceptIDs).To(HaveLen(2))
		Expect(report.AssumptionIDs).To(HaveLen(1))
		Expect(report.Degraded).To(BeFalse())

		snap := st.Snapshot()
		Expect(snap.Intents[report.IntentID].Description).To(Equal("make rounding banker-safe"))
		Expect(snap.Intents[report.IntentID].TradeoffID).NotTo(BeEmpty())
		Expect(snap.Assumptions[report.AssumptionIDs[0]].Status).To(Equal(knowledge.StatusUntested))
	})

	It("links extracted assumptions to the concepts covering them", func() {
		stub.extraction = &llm.Extraction{
			Assumptions: []llm.CandidateAssumption{{
				Description: "amounts are integer cents",
				Kind:        knowledge.KindInvariant,
				Location:    loc,
			}},
		}
		in := composer.NewIngestor(g, lm, stub)

		report, err := in.IngestResult(ctx, change(), "raw agent output")
		Expect(err).NotTo(HaveOccurred())

		a := st.Snapshot().Assumptions[report.AssumptionIDs[0]]
		Expect(a.ConceptIDs).To(Equal(report.ConceptIDs))
	})

	It("skips extraction when there is no raw output", func() {
		in := composer.NewIngestor(g, lm, stub)

		_, err := in.IngestResult(ctx, change(), "")
		Expect(err).NotTo(HaveOccurred())
		Expect(stub.calls).To(BeZero())
	})

	It("degrades to structural-only ingestion on provider failure", func() {
		stub.err = knowledge.ProviderError{Provider: "stub", Err: errors.New("429 too many requests")}
		in := composer.NewIngestor(g, lm, stub)

		report, err := in.IngestResult(ctx, change(), "raw agent output")
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Degraded).To(BeTrue())
		Expect(report.ConceptIDs).To(HaveLen(1), "structural detections still land")
	})

	It("propagates non-provider errors", func() {
		stub.err = errors.New("programming mistake")
		in := composer.NewIngestor(g, lm, stub)

		_, err := in.IngestResult(ctx, change(), "raw agent output")
		Expect(err).To(MatchError(stub.err))
	})
})
