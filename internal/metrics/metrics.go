// Package metrics holds the prometheus collectors for a pipeline run.
//
// A batch run has no scrape endpoint, so collectors live in a private registry
// that is optionally pushed to a Pushgateway when the run ends. All methods are
// safe to call on a nil *Metrics.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics is the set of collectors updated by the sentiment client and pipeline.
type Metrics struct {
	Registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	records         *prometheus.CounterVec
	chunks          *prometheus.CounterVec
	buckets         *prometheus.CounterVec
	entities        prometheus.Counter
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surveysentiment_requests_total",
				Help: "Sentiment service calls by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "surveysentiment_request_duration_seconds",
				Help:    "Latency of sentiment service calls",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"operation"},
		),
		records: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surveysentiment_records_total",
				Help: "Long records processed by granularity and outcome",
			},
			[]string{"granularity", "outcome"},
		),
		chunks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surveysentiment_chunks_completed_total",
				Help: "Chunks written to the output artifacts",
			},
			[]string{"granularity"},
		),
		buckets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surveysentiment_bucket_assignments_total",
				Help: "Rows assigned to each sentiment bucket",
			},
			[]string{"granularity", "label"},
		),
		entities: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "surveysentiment_entities_total",
				Help: "Entities returned by entity-level scoring",
			},
		),
	}

	m.Registry.MustRegister(
		m.requests,
		m.requestDuration,
		m.records,
		m.chunks,
		m.buckets,
		m.entities,
	)
	return m
}

// ObserveRequest records one remote call.
func (m *Metrics) ObserveRequest(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(operation, outcome).Inc()
	m.requestDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// RecordOutcome counts a processed long record.
func (m *Metrics) RecordOutcome(granularity, outcome string) {
	if m == nil {
		return
	}
	m.records.WithLabelValues(granularity, outcome).Inc()
}

// ChunkCompleted counts a persisted chunk.
func (m *Metrics) ChunkCompleted(granularity string) {
	if m == nil {
		return
	}
	m.chunks.WithLabelValues(granularity).Inc()
}

// BucketAssigned counts an output row per label.
func (m *Metrics) BucketAssigned(granularity, label string) {
	if m == nil {
		return
	}
	m.buckets.WithLabelValues(granularity, label).Inc()
}

// EntitiesFound adds n extracted entities.
func (m *Metrics) EntitiesFound(n int) {
	if m == nil {
		return
	}
	m.entities.Add(float64(n))
}

// Push sends the registry to a Pushgateway under job, grouped by run.
func (m *Metrics) Push(ctx context.Context, gatewayURL, job, runID string) error {
	if m == nil || gatewayURL == "" {
		return nil
	}
	err := push.New(gatewayURL, job).
		Gatherer(m.Registry).
		Grouping("run_id", runID).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("pushing metrics: %w", err)
	}
	return nil
}
