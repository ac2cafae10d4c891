// Package metrics exposes the prometheus collectors for ingestion and catalog operations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "portfolio"

// outcomes
const (
	OutcomeSucceeded = "succeeded"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
	OutcomePartial   = "partial"
)

// Recorder is the observability hook the ingestion and catalog layers report to.
type Recorder interface {
	FileProcessed(outcome string, elapsed time.Duration)
	BatchProcessed(outcome string)
	CatalogOperation(op, outcome string)
}

// New registers the portfolio collectors on reg and returns a recorder backed by them.
func New(reg prometheus.Registerer) Recorder {

	m := &promRecorder{
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "files_total",
			Help:      "Uploaded files by ingestion outcome.",
		}, []string{"outcome"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "batches_total",
			Help:      "Upload batches by outcome.",
		}, []string{"outcome"}),
		fileSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "file_seconds",
			Help:      "Time to validate, render and store one file.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		catalogOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "operations_total",
			Help:      "Catalog operations by operation and outcome.",
		}, []string{"op", "outcome"}),
	}

	reg.MustRegister(m.files, m.batches, m.fileSeconds, m.catalogOps)

	return m
}

var _ Recorder = (*promRecorder)(nil)

type promRecorder struct {
	files       *prometheus.CounterVec
	batches     *prometheus.CounterVec
	fileSeconds prometheus.Histogram
	catalogOps  *prometheus.CounterVec
}

func (m *promRecorder) FileProcessed(outcome string, elapsed time.Duration) {
	m.files.WithLabelValues(outcome).Inc()
	m.fileSeconds.Observe(elapsed.Seconds())
}

func (m *promRecorder) BatchProcessed(outcome string) {
	m.batches.WithLabelValues(outcome).Inc()
}

func (m *promRecorder) CatalogOperation(op, outcome string) {
	m.catalogOps.WithLabelValues(op, outcome).Inc()
}

// Noop returns a recorder that discards everything.
func Noop() Recorder { return noop{} }

type noop struct{}

func (noop) FileProcessed(string, time.Duration) {}
func (noop) BatchProcessed(string)               {}
func (noop) CatalogOperation(string, string)     {}
