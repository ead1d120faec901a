package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the admin service
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal          *prometheus.CounterVec
	HTTPRequestDurationSeconds *prometheus.HistogramVec

	// Upstream API metrics
	UpstreamRequestsTotal *prometheus.CounterVec
	UpstreamErrorsTotal   *prometheus.CounterVec

	// Dispatch metrics
	DispatchesTotal         *prometheus.CounterVec
	DispatchRecipientsTotal *prometheus.CounterVec
	DispatchDurationSeconds prometheus.Histogram

	// Session/workflow gauges
	SessionsActive  prometheus.Gauge
	WorkflowsActive prometheus.Gauge
	CrawlJobsActive prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automail_http_requests_total",
				Help: "Total number of HTTP requests handled",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "automail_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		UpstreamRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automail_upstream_requests_total",
				Help: "Total number of requests made to the outreach backend",
			},
			[]string{"method"},
		),
		UpstreamErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automail_upstream_errors_total",
				Help: "Total number of failed outreach backend requests",
			},
			[]string{"method"},
		),
		DispatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automail_dispatches_total",
				Help: "Total number of bulk dispatches, by outcome",
			},
			[]string{"outcome"},
		),
		DispatchRecipientsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automail_dispatch_recipients_total",
				Help: "Total number of recipients across dispatches, by result",
			},
			[]string{"result"},
		),
		DispatchDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "automail_dispatch_duration_seconds",
				Help:    "Backend-reported bulk dispatch processing time",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "automail_sessions_active",
				Help: "Number of live dashboard sessions",
			},
		),
		WorkflowsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "automail_workflows_active",
				Help: "Number of live outreach workflow instances",
			},
		),
		CrawlJobsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "automail_crawl_jobs_active",
				Help: "Number of crawl jobs being tracked",
			},
		),

		registry: reg,
	}

	// Register all metrics
	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDurationSeconds,
		m.UpstreamRequestsTotal,
		m.UpstreamErrorsTotal,
		m.DispatchesTotal,
		m.DispatchRecipientsTotal,
		m.DispatchDurationSeconds,
		m.SessionsActive,
		m.WorkflowsActive,
		m.CrawlJobsActive,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordDispatch updates the dispatch counters from one bulk-send outcome
func (m *Metrics) RecordDispatch(successCount, failureCount int, elapsedSec float64) {
	outcome := "success"
	if failureCount > 0 {
		outcome = "partial"
		if successCount == 0 {
			outcome = "failed"
		}
	}
	m.DispatchesTotal.WithLabelValues(outcome).Inc()
	m.DispatchRecipientsTotal.WithLabelValues("success").Add(float64(successCount))
	m.DispatchRecipientsTotal.WithLabelValues("failure").Add(float64(failureCount))
	m.DispatchDurationSeconds.Observe(elapsedSec)
}
