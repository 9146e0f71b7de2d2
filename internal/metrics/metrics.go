// Package metrics holds the relay's prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kiro_relay"

// Outcome labels for RequestsTotal.
const (
	OutcomeOK             = "ok"
	OutcomeTruncated      = "truncated"
	OutcomeInvalid        = "invalid_request"
	OutcomeNoCredential   = "no_credential"
	OutcomeRefreshFailed  = "refresh_failed"
	OutcomeUpstreamFailed = "upstream_failed"
)

type Metrics struct {
	RequestsTotal       *prometheus.CounterVec
	UpstreamDuration    prometheus.Histogram
	FramesSkipped       prometheus.Counter
	TokensTotal         *prometheus.CounterVec
	UsageRecordFailures prometheus.Counter

	registry *prometheus.Registry
}

// New registers every collector on a fresh registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_requests_total",
			Help:      "Proxied chat requests by caller dialect and outcome",
		}, []string{"dialect", "outcome"}),
		UpstreamDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_duration_seconds",
			Help:      "Latency of upstream generateAssistantResponse calls",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		FramesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_skipped_total",
			Help:      "Event stream frames dropped because they could not be decoded",
		}),
		TokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Estimated tokens by direction",
		}, []string{"direction"}),
		UsageRecordFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_record_failures_total",
			Help:      "Best-effort usage bookkeeping writes that failed",
		}),
		registry: reg,
	}
	reg.MustRegister(
		m.RequestsTotal,
		m.UpstreamDuration,
		m.FramesSkipped,
		m.TokensTotal,
		m.UsageRecordFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveTokens adds input and output token estimates.
func (m *Metrics) ObserveTokens(input, output int) {
	m.TokensTotal.WithLabelValues("input").Add(float64(input))
	m.TokensTotal.WithLabelValues("output").Add(float64(output))
}

// Handler serves the registry in the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
