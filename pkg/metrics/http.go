package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics covers the web surface: plain requests, page rendering and the websocket endpoint.
type HTTPMetrics struct {
	RequestsTotal        *prometheus.CounterVec
	RequestDuration      *prometheus.HistogramVec
	RequestsInFlight     prometheus.Gauge
	TemplateRenderTime   *prometheus.HistogramVec
	TemplateRenderErrors *prometheus.CounterVec
	WebsocketMessages    *prometheus.CounterVec
}

func newHTTPMetrics(namespace string) *HTTPMetrics {
	return &HTTPMetrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status_code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being served",
			},
		),
		TemplateRenderTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "template",
				Name:      "render_duration_seconds",
				Help:      "Duration of page rendering",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"template"},
		),
		TemplateRenderErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "template",
				Name:      "render_errors_total",
				Help:      "Total number of page rendering errors",
			},
			[]string{"template"},
		),
		WebsocketMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "websocket",
				Name:      "messages_total",
				Help:      "Total number of websocket messages by direction and type",
			},
			[]string{"direction", "type"}, // direction: in, out
		),
	}
}

// NewHTTPMetrics creates and registers HTTP metrics.
func NewHTTPMetrics(namespace string) *HTTPMetrics {
	m := newHTTPMetrics(namespace)
	MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.TemplateRenderTime,
		m.TemplateRenderErrors,
		m.WebsocketMessages,
	)
	return m
}

// NewHTTPMetricsForTesting creates unregistered HTTP metrics.
func NewHTTPMetricsForTesting() *HTTPMetrics {
	return newHTTPMetrics(testNamespace)
}
