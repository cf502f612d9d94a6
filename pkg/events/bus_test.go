package events_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/keel/pkg/events"
)

var _ = Describe("Bus", func() {
	var (
		ctx context.Context
		bus *events.Bus
	)

	BeforeEach(func() {
		ctx = context.Background()
		bus = events.NewBus()
	})

	AfterEach(func() {
		Expect(bus.Close()).To(Succeed())
	})

	It("stamps the envelope on New", func() {
		ev := events.New(events.EventTypeConceptsUpdated, "proj-1")
		Expect(ev.SchemaVersion).To(Equal(events.SchemaVersionV1))
		Expect(ev.EventType).To(Equal(events.EventTypeConceptsUpdated))
		Expect(ev.EventID).NotTo(BeEmpty())
		Expect(ev.EmittedAt).NotTo(BeZero())
		Expect(ev.ProjectID).To(Equal("proj-1"))
	})

	It("fans events out to every subscriber", func() {
		chA, cancelA := bus.Subscribe(4)
		defer cancelA()
		chB, cancelB := bus.Subscribe(4)
		defer cancelB()

		ev := events.New(events.EventTypeFailureClassified, "proj-1")
		Expect(bus.Publish(ctx, ev)).To(Succeed())

		Expect(<-chA).To(Equal(ev))
		Expect(<-chB).To(Equal(ev))
	})

	It("rejects nil events", func() {
		Expect(bus.Publish(ctx, nil)).To(MatchError(events.ErrNilEvent))
	})

	It("drops events for a full subscriber instead of blocking", func() {
		ch, cancel := bus.Subscribe(1)
		defer cancel()

		first := events.New(events.EventTypeConceptsUpdated, "proj-1")
		second := events.New(events.EventTypeConceptsUpdated, "proj-1")
		Expect(bus.Publish(ctx, first)).To(Succeed())
		Expect(bus.Publish(ctx, second)).To(Succeed())

		Expect(<-ch).To(Equal(first))
		Expect(ch).NotTo(Receive())
	})

	It("stops delivery after unsubscribe", func() {
		ch, cancel := bus.Subscribe(4)
		cancel()

		Expect(bus.Publish(ctx, events.New(events.EventTypeRetryBlocked, "proj-1"))).To(Succeed())
		Expect(ch).To(BeClosed())
	})

	It("closes subscriber channels on bus close", func() {
		ch, _ := bus.Subscribe(4)
		Expect(bus.Close()).To(Succeed())
		Expect(ch).To(BeClosed())
	})

	It("hands a closed channel to late subscribers", func() {
		Expect(bus.Close()).To(Succeed())
		ch, cancel := bus.Subscribe(4)
		cancel()
		Expect(ch).To(BeClosed())
	})
})
