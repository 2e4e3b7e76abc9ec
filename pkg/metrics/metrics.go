// Package metrics provides Prometheus metrics collection for all tempglobe services.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric exported by tempglobe.
const Namespace = "tempglobe"

// testNamespace is used by the NewXForTesting constructors.
const testNamespace = "tempglobe_test"

// Registry is the process-wide Prometheus registry.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler returns an HTTP handler exposing Registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// MustRegister registers collectors with Registry and panics on conflict.
func MustRegister(collectors ...prometheus.Collector) {
	Registry.MustRegister(collectors...)
}
