// Package metrics provides the Prometheus metrics collector for the gateway.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector groups every nexus_* series behind typed recording methods so
// callers never touch a prometheus.*Vec directly.
type Collector struct {
	backendsTotal       *prometheus.GaugeVec
	backendsHealthy     prometheus.Gauge
	modelsAvailable     prometheus.Gauge
	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	backendLatency      *prometheus.HistogramVec
	pendingRequests     *prometheus.GaugeVec
	queueDepth          prometheus.Gauge
	reconcilerDuration  *prometheus.HistogramVec
	pipelineDuration    prometheus.Histogram
	tokenCountTierTotal *prometheus.CounterVec
}

// NewCollector registers every series under namespace and returns the collector.
func NewCollector(namespace string) *Collector {
	return &Collector{
		backendsTotal: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backends_total",
			Help:      "Number of configured backends by discovery source.",
		}, []string{"discovery"}),

		backendsHealthy: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backends_healthy",
			Help:      "Number of backends currently reporting healthy.",
		}),

		modelsAvailable: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "models_available",
			Help:      "Number of distinct models currently served by at least one healthy backend.",
		}),

		requestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of proxied chat completion requests.",
		}, []string{"backend", "model", "status"}),

		requestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "End-to-end request duration as observed by the proxy engine.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"backend", "model"}),

		backendLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_latency_seconds",
			Help:      "Latency samples recorded against a backend's EMA tracker.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend"}),

		pendingRequests: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_requests",
			Help:      "In-flight request count per backend.",
		}, []string{"backend"}),

		queueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Current depth of the request queue across both lanes.",
		}),

		reconcilerDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconciler_duration_seconds",
			Help:      "Per-stage duration within the reconciler pipeline.",
			Buckets:   []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01},
		}, []string{"reconciler"}),

		pipelineDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Total reconciler pipeline duration for one request.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05},
		}),

		tokenCountTierTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_count_tier_total",
			Help:      "Prompt tokens counted, broken down by which tokenizer tier produced the estimate.",
		}, []string{"tier", "model"}),
	}
}

func (c *Collector) SetBackendsTotal(discovery string, n int) {
	c.backendsTotal.WithLabelValues(discovery).Set(float64(n))
}

func (c *Collector) SetBackendsHealthy(n int) { c.backendsHealthy.Set(float64(n)) }

func (c *Collector) SetModelsAvailable(n int) { c.modelsAvailable.Set(float64(n)) }

func (c *Collector) ObserveRequest(backend, model, status string, d time.Duration) {
	c.requestsTotal.WithLabelValues(backend, model, status).Inc()
	c.requestDuration.WithLabelValues(backend, model).Observe(d.Seconds())
}

func (c *Collector) ObserveBackendLatency(backend string, d time.Duration) {
	c.backendLatency.WithLabelValues(backend).Observe(d.Seconds())
}

func (c *Collector) SetPendingRequests(backend string, n uint32) {
	c.pendingRequests.WithLabelValues(backend).Set(float64(n))
}

func (c *Collector) SetQueueDepth(n int) { c.queueDepth.Set(float64(n)) }

func (c *Collector) ObserveReconcilerDuration(reconciler string, d time.Duration) {
	c.reconcilerDuration.WithLabelValues(reconciler).Observe(d.Seconds())
}

func (c *Collector) ObservePipelineDuration(d time.Duration) {
	c.pipelineDuration.Observe(d.Seconds())
}

func (c *Collector) AddTokenCount(tier, model string, tokens int) {
	c.tokenCountTierTotal.WithLabelValues(tier, model).Add(float64(tokens))
}
