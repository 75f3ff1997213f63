package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments shared across stages. Each
// service creates one instance against its own registry and serves it
// on /metrics.
type Metrics struct {
	registry *prometheus.Registry

	AlertsIngested     *prometheus.CounterVec
	MessagesConsumed   *prometheus.CounterVec
	MessagesPublished  *prometheus.CounterVec
	PublishFailures    *prometheus.CounterVec
	DeadLettered       *prometheus.CounterVec
	HandlerDuration    *prometheus.HistogramVec
	DedupDropped       prometheus.Counter
	IntelLookups       *prometheus.CounterVec
	LLMRequests        *prometheus.CounterVec
	LLMLatency         *prometheus.HistogramVec
	TriageFallbacks    prometheus.Counter
	SimilaritySearches prometheus.Counter
}

// NewMetrics builds the instrument set on a fresh registry that also
// exposes the standard Go and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		AlertsIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "argus_alerts_ingested_total",
			Help: "Alerts handled by the gateway, by result.",
		}, []string{"result"}),
		MessagesConsumed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "argus_messages_consumed_total",
			Help: "Queue messages consumed, by queue and outcome.",
		}, []string{"queue", "outcome"}),
		MessagesPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "argus_messages_published_total",
			Help: "Messages published with broker confirmation.",
		}, []string{"queue"}),
		PublishFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "argus_publish_failures_total",
			Help: "Publishes that failed or were not confirmed in time.",
		}, []string{"queue"}),
		DeadLettered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "argus_dead_lettered_total",
			Help: "Messages parked on a DLQ, by queue and reason.",
		}, []string{"queue", "reason"}),
		HandlerDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "argus_handler_duration_seconds",
			Help:    "Stage handler latency per consumed message.",
			Buckets: prometheus.DefBuckets,
		}, []string{"queue"}),
		DedupDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "argus_dedup_dropped_total",
			Help: "Alerts dropped by fingerprint deduplication.",
		}),
		IntelLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "argus_intel_lookups_total",
			Help: "Threat intel lookups, by provider and result.",
		}, []string{"provider", "result"}),
		LLMRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "argus_llm_requests_total",
			Help: "LLM completions attempted, by model and result.",
		}, []string{"model", "result"}),
		LLMLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "argus_llm_latency_seconds",
			Help:    "LLM completion latency, by model.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		}, []string{"model"}),
		TriageFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "argus_triage_fallbacks_total",
			Help: "Triage results produced by the rule-based fallback.",
		}),
		SimilaritySearches: factory.NewCounter(prometheus.CounterOpts{
			Name: "argus_similarity_searches_total",
			Help: "Vector similarity searches issued during triage.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
