package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"procodus.dev/tempglobe/pkg/metrics"
)

var _ = Describe("Metrics", func() {
	Describe("Handler", func() {
		It("should expose registered collectors", func() {
			m := metrics.NewIngestMetrics("handler_check")
			m.BroadcastsTotal.Inc()

			srv := httptest.NewServer(metrics.Handler())
			defer srv.Close()

			resp, err := http.Get(srv.URL)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("handler_check_hub_broadcasts_total 1"))
			Expect(string(body)).To(ContainSubstring("go_goroutines"))
		})
	})

	Describe("ForTesting constructors", func() {
		It("should be callable repeatedly without registration conflicts", func() {
			for range 3 {
				Expect(metrics.NewIngestMetricsForTesting()).NotTo(BeNil())
				Expect(metrics.NewStoreMetricsForTesting()).NotTo(BeNil())
				Expect(metrics.NewHTTPMetricsForTesting()).NotTo(BeNil())
				Expect(metrics.NewBackendMetricsForTesting()).NotTo(BeNil())
				Expect(metrics.NewMQMetricsForTesting()).NotTo(BeNil())
				Expect(metrics.NewProducerMetricsForTesting()).NotTo(BeNil())
			}
		})

		It("should count independently of the global registry", func() {
			m := metrics.NewIngestMetricsForTesting()
			m.SubmissionsTotal.WithLabelValues("websocket", "accepted").Inc()
			m.SubmissionsTotal.WithLabelValues("websocket", "accepted").Inc()

			Expect(testutil.ToFloat64(m.SubmissionsTotal.WithLabelValues("websocket", "accepted"))).To(Equal(2.0))
		})
	})

	Describe("registering the same namespace twice", func() {
		It("should panic", func() {
			metrics.NewStoreMetrics("dup_check")
			Expect(func() { metrics.NewStoreMetrics("dup_check") }).To(Panic())
		})
	})
})
