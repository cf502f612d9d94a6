package engine_test

import (
	"context"
	"errors"
	"log/slog"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/keel/pkg/engine"
	"github.com/papercomputeco/keel/pkg/events"
	"github.com/papercomputeco/keel/pkg/knowledge"
	"github.com/papercomputeco/keel/pkg/llm"
	"github.com/papercomputeco/keel/pkg/store"
	"github.com/papercomputeco/keel/pkg/store/memory"
)

// gatedExtractor blocks inside Extract until released, to observe what
// the engine can still do while a provider call is in flight.
type gatedExtractor struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gatedExtractor) Name() string { return "gated" }

func (g *gatedExtractor) Extract(ctx context.Context, _ llm.ExtractRequest) (*llm.Extraction, error) {
	close(g.entered)
	select {
	case <-g.release:
		return &llm.Extraction{}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// scriptedExtractor fails or answers per its current err.
type scriptedExtractor struct{ err error }

func (s *scriptedExtractor) Name() string { return "scripted" }

func (s *scriptedExtractor) Extract(context.Context, llm.ExtractRequest) (*llm.Extraction, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Extraction{}, nil
}

var _ = Describe("Engine", func() {
	var (
		ctx  context.Context
		now  time.Time
		bus  *events.Bus
		evCh <-chan *events.Event
		eng  *engine.Engine
	)

	chargeLoc := knowledge.NewLocation("pkg/pay/charge.go", 10, 40)

	changeAt := func(loc knowledge.CodeLocation, detections ...knowledge.Detection) knowledge.CodeChangeEvent {
		return knowledge.CodeChangeEvent{
			Location:          loc,
			Kind:              knowledge.ChangeModified,
			StructuralSummary: "modified " + loc.File,
			Detections:        detections,
			ObservedAt:        now,
		}
	}

	detect := func(signature string, loc knowledge.CodeLocation) knowledge.Detection {
		return knowledge.Detection{
			Category:   knowledge.CategoryValidation,
			Signature:  signature,
			Location:   loc,
			Confidence: 0.8,
		}
	}

	// drainEvents collects everything published so far; the bus hands
	// events to subscribers synchronously on Publish.
	drainEvents := func() []*events.Event {
		var out []*events.Event
		for {
			select {
			case ev := <-evCh:
				out = append(out, ev)
			default:
				return out
			}
		}
	}

	eventsOfType := func(eventType string) []*events.Event {
		var out []*events.Event
		for _, ev := range drainEvents() {
			if ev.EventType == eventType {
				out = append(out, ev)
			}
		}
		return out
	}

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

		st := store.New("proj-1", memory.NewDriver())
		Expect(st.Open(ctx)).To(Succeed())

		bus = events.NewBus()
		var cancel func()
		evCh, cancel = bus.Subscribe(64)
		DeferCleanup(cancel)

		eng = engine.New("proj-1", st, engine.Options{
			Publisher: bus,
			Logger:    slog.New(slog.NewTextHandler(GinkgoWriter, nil)),
			Clock:     func() time.Time { return now },
		})
		DeferCleanup(func() {
			Expect(eng.Close()).To(Succeed())
		})
	})

	Describe("HandleChange", func() {
		It("lands detections as concepts and announces them", func() {
			change := changeAt(chargeLoc, detect("validate(amount)", chargeLoc))
			Expect(eng.HandleChange(ctx, change, "")).To(Succeed())

			view := eng.GetConceptGraph()
			Expect(view.Concepts).To(HaveLen(1))
			Expect(view.Concepts[0].Signature).To(Equal("validate(amount)"))

			updated := eventsOfType(events.EventTypeConceptsUpdated)
			Expect(updated).To(HaveLen(1))
			Expect(updated[0].ConceptIDs).To(ConsistOf(view.Concepts[0].ID))
			Expect(updated[0].ProjectID).To(Equal("proj-1"))
		})

		It("links co-detected concepts with an edge", func() {
			change := changeAt(chargeLoc,
				detect("validate(amount)", chargeLoc),
				detect("applyDiscount(order)", chargeLoc),
			)
			Expect(eng.HandleChange(ctx, change, "")).To(Succeed())

			view := eng.GetConceptGraph()
			Expect(view.Concepts).To(HaveLen(2))
			Expect(view.Edges).To(HaveLen(1))
		})

		It("stays quiet for changes with nothing to report", func() {
			change := changeAt(chargeLoc)
			change.StructuralSummary = ""
			Expect(eng.HandleChange(ctx, change, "")).To(Succeed())
			Expect(eventsOfType(events.EventTypeConceptsUpdated)).To(BeEmpty())
		})
	})

	Describe("deleted locations", func() {
		It("flags concepts stale and orphans their assumptions", func() {
			change := changeAt(chargeLoc, detect("validate(amount)", chargeLoc))
			Expect(eng.HandleChange(ctx, change, "")).To(Succeed())
			view := eng.GetConceptGraph()
			conceptID := view.Concepts[0].ID

			_, err := eng.Lifecycle().RecordAssumption(ctx,
				"amounts are integer cents", knowledge.KindInvariant,
				knowledge.NewLocation("pkg/pay/other.go", 1, 5),
				[]string{conceptID})
			Expect(err).NotTo(HaveOccurred())
			drainEvents()

			del := knowledge.CodeChangeEvent{
				Location:   knowledge.WholeFile("pkg/pay/charge.go"),
				Kind:       knowledge.ChangeDeleted,
				ObservedAt: now,
			}
			Expect(eng.HandleChange(ctx, del, "")).To(Succeed())

			view = eng.GetConceptGraph()
			Expect(view.Concepts[0].Stale).To(BeTrue())

			updated := eventsOfType(events.EventTypeConceptsUpdated)
			Expect(updated).To(HaveLen(1))
			Expect(updated[0].ConceptIDs).To(ConsistOf(conceptID))
			Expect(updated[0].AssumptionIDs).To(HaveLen(1))
			Expect(updated[0].Detail).To(Equal("location removed"))
		})
	})

	Describe("HandleFailure", func() {
		It("classifies runtime failures and announces the record", func() {
			record, err := eng.HandleFailure(ctx, knowledge.FailureSignal{
				Locations:  []knowledge.CodeLocation{chargeLoc},
				Message:    "panic: nil pointer dereference in charge",
				ObservedAt: now,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(record.Class).To(Equal(knowledge.FailureRuntime))

			classified := eventsOfType(events.EventTypeFailureClassified)
			Expect(classified).To(HaveLen(1))
			Expect(classified[0].FailureID).To(Equal(record.ID))
			Expect(classified[0].Detail).To(Equal("runtime"))
		})

		It("suspects assumptions near the failure", func() {
			assumption, err := eng.Lifecycle().RecordAssumption(ctx,
				"amounts are integer cents", knowledge.KindInvariant, chargeLoc, nil)
			Expect(err).NotTo(HaveOccurred())
			drainEvents()

			record, err := eng.HandleFailure(ctx, knowledge.FailureSignal{
				Locations:  []knowledge.CodeLocation{chargeLoc},
				Message:    "panic: index out of range",
				ObservedAt: now,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(record.ViolatedAssumptions).NotTo(BeEmpty())

			suspected := eventsOfType(events.EventTypeAssumptionsSuspected)
			Expect(suspected).To(HaveLen(1))
			Expect(suspected[0].FailureID).To(Equal(record.ID))
			Expect(suspected[0].AssumptionIDs).To(ContainElement(assumption.ID))
		})

		It("lists open failures most recent first", func() {
			first, err := eng.HandleFailure(ctx, knowledge.FailureSignal{
				Locations:  []knowledge.CodeLocation{chargeLoc},
				Message:    "panic: nil pointer dereference",
				ObservedAt: now,
			})
			Expect(err).NotTo(HaveOccurred())

			now = now.Add(time.Minute)
			second, err := eng.HandleFailure(ctx, knowledge.FailureSignal{
				Locations:  []knowledge.CodeLocation{knowledge.NewLocation("pkg/pay/refund.go", 5, 9)},
				Message:    "connection refused by payment gateway",
				ObservedAt: now,
			})
			Expect(err).NotTo(HaveOccurred())

			report := eng.GetFailureReport()
			Expect(report).To(HaveLen(2))
			Expect(report[0].ID).To(Equal(second.ID))
			Expect(report[1].ID).To(Equal(first.ID))
		})
	})

	Describe("retry checks", func() {
		var failureID string
		fp := knowledge.NewChangeFingerprint([]knowledge.CodeLocation{chargeLoc}, []string{"c1"})

		BeforeEach(func() {
			record, err := eng.HandleFailure(ctx, knowledge.FailureSignal{
				Locations:  []knowledge.CodeLocation{chargeLoc},
				Message:    "panic: nil pointer dereference",
				ObservedAt: now,
			})
			Expect(err).NotTo(HaveOccurred())
			failureID = record.ID
			drainEvents()
		})

		It("blocks repeating a failed approach and announces it", func() {
			_, err := eng.RecordAttempt(ctx, failureID, fp, knowledge.OutcomeFailed)
			Expect(err).NotTo(HaveOccurred())

			verdict, err := eng.CheckRetry(ctx, failureID, fp)
			Expect(err).NotTo(HaveOccurred())
			Expect(verdict.Blocked).To(BeTrue())

			blocked := eventsOfType(events.EventTypeRetryBlocked)
			Expect(blocked).To(HaveLen(1))
			Expect(blocked[0].FailureID).To(Equal(failureID))
			Expect(blocked[0].AttemptID).To(Equal(verdict.MatchedAttemptID))
		})

		It("allows a fresh approach without announcing", func() {
			verdict, err := eng.CheckRetry(ctx, failureID, fp)
			Expect(err).NotTo(HaveOccurred())
			Expect(verdict.Blocked).To(BeFalse())
			Expect(eventsOfType(events.EventTypeRetryBlocked)).To(BeEmpty())
		})

		It("unblocks after the approach is redeemed", func() {
			attempt, err := eng.RecordAttempt(ctx, failureID, fp, knowledge.OutcomeFailed)
			Expect(err).NotTo(HaveOccurred())

			_, err = eng.UpdateAttemptOutcome(ctx, attempt.ID, knowledge.OutcomeSucceeded)
			Expect(err).NotTo(HaveOccurred())

			verdict, err := eng.CheckRetry(ctx, failureID, fp)
			Expect(err).NotTo(HaveOccurred())
			Expect(verdict.Blocked).To(BeFalse())
		})
	})

	Describe("resolution", func() {
		It("resolves failures at a fixed location and announces each", func() {
			record, err := eng.HandleFailure(ctx, knowledge.FailureSignal{
				Locations:  []knowledge.CodeLocation{chargeLoc},
				Message:    "panic: nil pointer dereference",
				ObservedAt: now,
			})
			Expect(err).NotTo(HaveOccurred())
			drainEvents()

			resolved, err := eng.ConfirmResolution(ctx, chargeLoc)
			Expect(err).NotTo(HaveOccurred())
			Expect(resolved).To(ConsistOf(record.ID))

			done := eventsOfType(events.EventTypeFailureResolved)
			Expect(done).To(HaveLen(1))
			Expect(done[0].FailureID).To(Equal(record.ID))

			Expect(eng.GetFailureReport()).To(BeEmpty())
		})

		It("resolves after enough quiet attempts", func() {
			record, err := eng.HandleFailure(ctx, knowledge.FailureSignal{
				Locations:  []knowledge.CodeLocation{chargeLoc},
				Message:    "panic: nil pointer dereference",
				ObservedAt: now,
			})
			Expect(err).NotTo(HaveOccurred())

			var resolved []string
			for i := 0; i < 3; i++ {
				resolved, err = eng.NoteQuietAttempt(ctx, chargeLoc)
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(resolved).To(ConsistOf(record.ID))
		})
	})

	Describe("Compose", func() {
		It("builds a context package over current knowledge", func() {
			change := changeAt(chargeLoc, detect("validate(amount)", chargeLoc))
			Expect(eng.HandleChange(ctx, change, "")).To(Succeed())

			pkg, err := eng.Compose(ctx, chargeLoc, 4000)
			Expect(err).NotTo(HaveOccurred())
			Expect(pkg.RelevantConcepts).To(HaveLen(1))
		})

		It("honors an already-cancelled context", func() {
			cancelled, cancel := context.WithCancel(ctx)
			cancel()

			_, err := eng.Compose(cancelled, chargeLoc, 4000)
			Expect(err).To(MatchError(context.Canceled))
		})
	})

	Describe("provider extraction", func() {
		newEngineWith := func(ex llm.Extractor) *engine.Engine {
			st := store.New("proj-1", memory.NewDriver())
			Expect(st.Open(ctx)).To(Succeed())
			e := engine.New("proj-1", st, engine.Options{
				Logger:    slog.New(slog.NewTextHandler(GinkgoWriter, nil)),
				Extractor: ex,
				Clock:     func() time.Time { return now },
			})
			DeferCleanup(func() {
				Expect(e.Close()).To(Succeed())
			})
			return e
		}

		It("keeps failure handling responsive while extraction is in flight", func() {
			gate := &gatedExtractor{entered: make(chan struct{}), release: make(chan struct{})}
			gated := newEngineWith(gate)

			done := make(chan error, 1)
			go func() {
				done <- gated.HandleChange(ctx, changeAt(chargeLoc, detect("validate(amount)", chargeLoc)), "raw agent output")
			}()
			Eventually(gate.entered).Should(BeClosed())

			_, err := gated.HandleFailure(ctx, knowledge.FailureSignal{
				Locations:  []knowledge.CodeLocation{chargeLoc},
				Message:    "panic: nil pointer dereference",
				ObservedAt: now,
			})
			Expect(err).NotTo(HaveOccurred())

			close(gate.release)
			var changeErr error
			Eventually(done).Should(Receive(&changeErr))
			Expect(changeErr).NotTo(HaveOccurred())
		})

		It("marks explanations partial while extraction is degraded", func() {
			stub := &scriptedExtractor{err: knowledge.ProviderError{Provider: "scripted", Err: errors.New("429 too many requests")}}
			degraded := newEngineWith(stub)

			Expect(degraded.HandleChange(ctx, changeAt(chargeLoc, detect("validate(amount)", chargeLoc)), "raw agent output")).To(Succeed())

			record, err := degraded.HandleFailure(ctx, knowledge.FailureSignal{
				Locations:  []knowledge.CodeLocation{chargeLoc},
				Message:    "panic: nil pointer dereference",
				ObservedAt: now,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(record.PartialExplanation).To(BeTrue())
			Expect(degraded.GetFailureReport()[0].PartialExplanation).To(BeTrue())

			stub.err = nil
			Expect(degraded.HandleChange(ctx, changeAt(chargeLoc, detect("validate(amount)", chargeLoc)), "raw agent output")).To(Succeed())

			recovered, err := degraded.HandleFailure(ctx, knowledge.FailureSignal{
				Locations:  []knowledge.CodeLocation{knowledge.NewLocation("pkg/pay/refund.go", 5, 9)},
				Message:    "connection refused by payment gateway",
				ObservedAt: now,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(recovered.PartialExplanation).To(BeFalse())
		})
	})

	Describe("GetAssumptions", func() {
		It("returns assumptions overlapping the location", func() {
			_, err := eng.Lifecycle().RecordAssumption(ctx,
				"amounts are integer cents", knowledge.KindInvariant, chargeLoc, nil)
			Expect(err).NotTo(HaveOccurred())

			got := eng.GetAssumptions(chargeLoc)
			Expect(got).To(HaveLen(1))
			Expect(got[0].Description).To(Equal("amounts are integer cents"))
		})
	})
})
