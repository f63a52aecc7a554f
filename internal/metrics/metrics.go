// ABOUTME: Prometheus collectors for the delivery pipeline, fed from the
// ABOUTME: worker pools' completion channels. Exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/leadpilot/leadpilot/internal/worker"
)

// Metrics holds the pipeline's Prometheus collectors.
type Metrics struct {
	jobsCompleted *prometheus.CounterVec
	jobsFailed    *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
}

// New registers the collectors with reg and returns the Metrics handle.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		jobsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "leadpilot_jobs_completed_total",
			Help: "Jobs whose handler returned without error, per queue.",
		}, []string{"queue"}),
		jobsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "leadpilot_jobs_failed_total",
			Help: "Jobs whose handler returned an error, per queue.",
		}, []string{"queue"}),
		jobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "leadpilot_job_duration_seconds",
			Help:    "Handler execution time, per queue.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"queue"}),
	}
}

// Consume drains a pool's completion channel into the collectors. Returns
// when the channel is closed (pool stopped). Run one goroutine per pool.
func (m *Metrics) Consume(results <-chan worker.JobResult) {
	for r := range results {
		if r.Err != nil {
			m.jobsFailed.WithLabelValues(r.Queue).Inc()
		} else {
			m.jobsCompleted.WithLabelValues(r.Queue).Inc()
		}
		m.jobDuration.WithLabelValues(r.Queue).Observe(r.Duration.Seconds())
	}
}
