// Package metrics holds the Prometheus collectors for the ask pipeline,
// ingestion and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "reviewqa"

// Ask outcomes.
const (
	OutcomeOK               = "ok"
	OutcomeInvalid          = "invalid"
	OutcomeNotReady         = "not_ready"
	OutcomeGenerationError  = "generation_error"
	OutcomeStoreUnavailable = "store_unavailable"
	OutcomeCanceled         = "canceled"
	OutcomeError            = "error"
)

// Metrics owns a private registry. A nil *Metrics is valid and records
// nothing, so components can be built without one in tests.
type Metrics struct {
	registry *prometheus.Registry

	stageDuration     *prometheus.HistogramVec
	asksTotal         *prometheus.CounterVec
	rewriteFallbacks  prometheus.Counter
	generationRetries prometheus.Counter
	documentsIngested prometheus.Counter
	rowsSkipped       prometheus.Counter
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of each ask stage in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		asksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "asks_total",
				Help:      "Total number of asks by outcome",
			},
			[]string{"outcome"},
		),
		rewriteFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rewrite_fallbacks_total",
			Help:      "Asks that used the raw question because rewriting failed",
		}),
		generationRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_retries_total",
			Help:      "Answer generation attempts beyond the first",
		}),
		documentsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_ingested_total",
			Help:      "Documents stored by ingestion",
		}),
		rowsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingestion_rows_skipped_total",
			Help:      "Source rows skipped by ingestion",
		}),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.stageDuration,
		m.asksTotal,
		m.rewriteFallbacks,
		m.generationRetries,
		m.documentsIngested,
		m.rowsSkipped,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveStage records how long one pipeline stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) RecordAsk(outcome string) {
	if m == nil {
		return
	}
	m.asksTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordRewriteFallback() {
	if m == nil {
		return
	}
	m.rewriteFallbacks.Inc()
}

func (m *Metrics) RecordGenerationRetry() {
	if m == nil {
		return
	}
	m.generationRetries.Inc()
}

// RecordIngestion adds the result of one ingestion run.
func (m *Metrics) RecordIngestion(ingested, skipped int) {
	if m == nil {
		return
	}
	if ingested > 0 {
		m.documentsIngested.Add(float64(ingested))
	}
	if skipped > 0 {
		m.rowsSkipped.Add(float64(skipped))
	}
}

// RecordHTTP records one served request. route should be the matched route
// pattern, not the raw path, to keep cardinality bounded.
func (m *Metrics) RecordHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
