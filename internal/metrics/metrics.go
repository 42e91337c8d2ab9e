package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry collects every Prometheus metric the pipeline and its subsystems
// emit, registered against a private registry so multiple Registry instances
// (e.g. in tests) never collide.
type Registry struct {
	reg *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestLatency   *prometheus.HistogramVec
	CostUSD          *prometheus.CounterVec
	RateLimitedTotal prometheus.Counter
	TemporalUp       prometheus.Gauge

	// Circuit breaker metrics.
	TemporalCircuitState  prometheus.Gauge   // 0=closed, 1=open, 2=half-open
	TemporalFallbackTotal prometheus.Counter // count of requests that fell back to direct dispatch
	BreakerState          *prometheus.GaugeVec

	// Priority queue metrics.
	QueueDepth    *prometheus.GaugeVec
	QueueWaitMs   prometheus.Gauge
	QueueDropped  prometheus.Counter

	// Budget metrics.
	BudgetStatus    *prometheus.GaugeVec // 0=normal,1=warning,2=critical,3=exceeded
	BudgetRemaining *prometheus.GaugeVec

	// Cache metrics (cache manager + semantic cache).
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Cost predictor metrics.
	CostPredictionError *prometheus.HistogramVec
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relaycore_requests_total",
			Help: "Total requests routed through relaycore",
		}, []string{"mode", "model", "provider", "status"}),
		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relaycore_request_latency_ms",
			Help:    "Request latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		}, []string{"mode", "model", "provider"}),
		CostUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relaycore_cost_usd_total",
			Help: "Estimated USD cost",
		}, []string{"model", "provider"}),
		RateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relaycore_rate_limited_total",
			Help: "Total requests rejected by rate limiter",
		}),
		TemporalUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relaycore_temporal_up",
			Help: "Whether Temporal workflow engine is connected (1=up, 0=down/disabled)",
		}),
		TemporalCircuitState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relaycore_temporal_circuit_state",
			Help: "Temporal circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		TemporalFallbackTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relaycore_temporal_fallback_total",
			Help: "Total requests that fell back to direct in-process dispatch",
		}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "relaycore_breaker_state",
			Help: "Per-provider circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"provider"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "relaycore_queue_depth",
			Help: "Priority queue depth by priority level",
		}, []string{"priority"}),
		QueueWaitMs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relaycore_queue_wait_ms",
			Help: "Smoothed end-to-end queue wait time in milliseconds",
		}),
		QueueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relaycore_queue_dropped_total",
			Help: "Total requests rejected because the queue was at capacity",
		}),
		BudgetStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "relaycore_budget_status",
			Help: "Budget status per scope (0=normal,1=warning,2=critical,3=exceeded)",
		}, []string{"scope", "scope_id"}),
		BudgetRemaining: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "relaycore_budget_remaining_usd",
			Help: "Remaining budget in USD per scope",
		}, []string{"scope", "scope_id"}),
		CacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relaycore_cache_hits_total",
			Help: "Total cache hits by cache tier",
		}, []string{"tier"}),
		CacheMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relaycore_cache_misses_total",
			Help: "Total cache misses by cache tier",
		}, []string{"tier"}),
		CostPredictionError: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relaycore_cost_prediction_error_ratio",
			Help:    "Absolute relative error between predicted and actual request cost",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}, []string{"model"}),
	}
	reg.MustRegister(
		m.RequestsTotal, m.RequestLatency, m.CostUSD, m.RateLimitedTotal,
		m.TemporalUp, m.TemporalCircuitState, m.TemporalFallbackTotal, m.BreakerState,
		m.QueueDepth, m.QueueWaitMs, m.QueueDropped,
		m.BudgetStatus, m.BudgetRemaining,
		m.CacheHitsTotal, m.CacheMissesTotal,
		m.CostPredictionError,
	)
	return m
}

func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
