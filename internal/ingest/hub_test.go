package ingest_test

import (
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"procodus.dev/tempglobe/internal/ingest"
	"procodus.dev/tempglobe/internal/store"
	"procodus.dev/tempglobe/pkg/logger"
	"procodus.dev/tempglobe/pkg/metrics"
)

var _ = Describe("Hub", func() {
	var (
		hub *ingest.Hub
		m   *metrics.IngestMetrics
	)

	BeforeEach(func() {
		m = metrics.NewIngestMetricsForTesting()
		hub = ingest.NewHub(logger.Discard(), m)
	})

	It("should deliver a broadcast to every registered connection", func() {
		a, b := newFakeConn("a", 4), newFakeConn("b", 4)
		hub.Add(a)
		hub.Add(b)

		event := store.Measurement{ID: 1, LocationID: 0, Temperature: 22, Timestamp: 1000}
		Expect(hub.Broadcast(event)).To(Equal(2))

		Expect(a.received()).To(Equal([]store.Measurement{event}))
		Expect(b.received()).To(Equal([]store.Measurement{event}))
		Expect(testutil.ToFloat64(m.BroadcastsTotal)).To(Equal(1.0))
	})

	It("should not deliver to removed connections", func() {
		a := newFakeConn("a", 4)
		hub.Add(a)
		hub.Remove(a)

		Expect(hub.Broadcast(store.Measurement{ID: 1})).To(Equal(0))
		Expect(a.received()).To(BeEmpty())
	})

	It("should treat repeated adds as one registration", func() {
		a := newFakeConn("a", 4)
		hub.Add(a)
		hub.Add(a)

		Expect(hub.Count()).To(Equal(1))
		Expect(hub.Broadcast(store.Measurement{ID: 1})).To(Equal(1))
		Expect(a.received()).To(HaveLen(1))
	})

	Describe("Remove", func() {
		It("should be idempotent", func() {
			a := newFakeConn("a", 1)
			hub.Add(a)

			Expect(hub.Remove(a)).To(BeTrue())
			Expect(hub.Remove(a)).To(BeFalse())
			Expect(hub.Count()).To(BeZero())
			Expect(testutil.ToFloat64(m.ConnectionsActive)).To(BeZero())
		})

		It("should ignore connections that were never added", func() {
			Expect(hub.Remove(newFakeConn("ghost", 1))).To(BeFalse())
			Expect(hub.Count()).To(BeZero())
		})
	})

	Describe("slow connections", func() {
		It("should evict and close a connection whose outbox is full", func() {
			slow, fast := newFakeConn("slow", 1), newFakeConn("fast", 8)
			hub.Add(slow)
			hub.Add(fast)

			hub.Broadcast(store.Measurement{ID: 1})
			hub.Broadcast(store.Measurement{ID: 2})

			Expect(hub.Count()).To(Equal(1))
			Expect(slow.closes.Load()).To(Equal(int32(1)))
			Expect(fast.received()).To(HaveLen(2))
			Expect(testutil.ToFloat64(m.EvictionsTotal)).To(Equal(1.0))

			hub.Broadcast(store.Measurement{ID: 3})
			Expect(slow.closes.Load()).To(Equal(int32(1)))
		})
	})

	It("should survive concurrent adds, removes and broadcasts", func() {
		var wg sync.WaitGroup
		for i := range 20 {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				c := newFakeConn("c", 64)
				hub.Add(c)
				hub.Broadcast(store.Measurement{ID: int64(i)})
				hub.Remove(c)
				hub.Remove(c)
			}()
		}
		wg.Wait()

		Expect(hub.Count()).To(BeZero())
	})
})
