package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yungbote/newsgraph/internal/platform/neo4jdb"
	"github.com/yungbote/newsgraph/internal/platform/retry"
)

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	RetryAttempts   *prometheus.CounterVec
	ConnectPhase    *prometheus.HistogramVec
	ConnectionState prometheus.Gauge
	Upserts         *prometheus.CounterVec
	PipelineRuns    *prometheus.CounterVec
	PipelineSeconds prometheus.Histogram
	ExtractorCalls  *prometheus.CounterVec
	CacheLookups    *prometheus.CounterVec
	BreakerState    prometheus.Gauge
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
}

func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "newsgraph"
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RetryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      "Attempts made by retry policies, by operation and outcome.",
		}, []string{"op", "outcome"}),
		ConnectPhase: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "neo4j_connect_phase_seconds",
			Help:      "Duration of each graph connect phase.",
			Buckets:   []float64{.005, .025, .1, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"phase", "outcome"}),
		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "neo4j_connection_state",
			Help:      "0 disconnected, 1 connecting, 2 connected, 3 degraded, 4 closed.",
		}),
		Upserts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entity_upserts_total",
			Help:      "Entity upserts by type and operation.",
		}, []string{"type", "operation"}),
		PipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Newsletter pipeline runs by status and final step.",
		}, []string{"status", "step"}),
		PipelineSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Wall time of newsletter pipeline runs.",
			Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		ExtractorCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractor_calls_total",
			Help:      "Entity extractor calls by outcome.",
		}, []string{"outcome"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_cache_lookups_total",
			Help:      "Extraction cache lookups by result.",
		}, []string{"result"}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "extractor_breaker_state",
			Help:      "0 closed, 1 half-open, 2 open.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	m.registry.MustRegister(
		m.RetryAttempts, m.ConnectPhase, m.ConnectionState, m.Upserts,
		m.PipelineRuns, m.PipelineSeconds, m.ExtractorCalls, m.CacheLookups,
		m.BreakerState, m.HTTPRequests, m.HTTPDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RetryObserver counts every attempt a retry policy makes.
func (m *Metrics) RetryObserver() retry.Observer {
	return func(a retry.Attempt) {
		outcome := "success"
		if a.Err != nil {
			outcome = "failure"
		}
		m.RetryAttempts.WithLabelValues(a.Op, outcome).Inc()
	}
}

// Neo4jHooks exports connect phases and state transitions.
func (m *Metrics) Neo4jHooks() neo4jdb.Hooks {
	return neo4jdb.Hooks{
		OnPhase: func(p neo4jdb.PhaseResult) {
			outcome := "ok"
			if !p.OK {
				outcome = "error"
			}
			m.ConnectPhase.WithLabelValues(string(p.Phase), outcome).Observe(p.Duration.Seconds())
		},
		OnRetry: m.RetryObserver(),
		OnState: func(s neo4jdb.State) {
			m.ConnectionState.Set(float64(s))
		},
	}
}

func (m *Metrics) ObservePipeline(status, step string, elapsed time.Duration) {
	m.PipelineRuns.WithLabelValues(status, step).Inc()
	m.PipelineSeconds.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, httpStatusLabel(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func httpStatusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
