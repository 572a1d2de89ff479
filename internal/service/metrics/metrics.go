// Package metrics exposes detection, upload and progress counters to Prometheus.
package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wbcscan/internal/dto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Progress events discarded because the hub queue was full
	ProgressDropped atomic.Uint64

	runs              *prometheus.CounterVec
	imagesProcessed   prometheus.Counter
	imagesSkipped     prometheus.Counter
	detectionsWritten prometheus.Counter
	uploads           *prometheus.CounterVec
	runDuration       prometheus.Histogram

	registry *prometheus.Registry
}

// New creates a new Metrics instance. viewers reports the number of connected
// progress viewers and may be nil.
func New(viewers func() int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wbcscan_runs_total",
			Help: "Detection runs by final state",
		}, []string{"state"}),
		imagesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wbcscan_images_processed_total",
			Help: "Images annotated by detection runs",
		}),
		imagesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wbcscan_images_skipped_total",
			Help: "Images skipped by detection runs because of per-image failures",
		}),
		detectionsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wbcscan_detections_written_total",
			Help: "Detection rows committed",
		}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wbcscan_uploads_total",
			Help: "Uploaded files by result",
		}, []string{"result"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wbcscan_run_duration_seconds",
			Help:    "Wall time of detection runs",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
	}

	m.registry.MustRegister(m.runs, m.imagesProcessed, m.imagesSkipped, m.detectionsWritten, m.uploads, m.runDuration)

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "wbcscan_progress_dropped_total",
			Help: "Progress events dropped because no viewer kept up",
		},
		func() float64 { return float64(m.ProgressDropped.Load()) },
	))

	if viewers != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "wbcscan_progress_viewers",
				Help: "Connected progress viewers",
			},
			func() float64 { return float64(viewers()) },
		))
	}

	return m
}

// ObserveRun records the outcome of a detection run.
func (m *Metrics) ObserveRun(outcome *dto.RunOutcome) {
	if outcome == nil {
		return
	}
	m.runs.WithLabelValues(string(outcome.State)).Inc()
	m.imagesProcessed.Add(float64(outcome.Processed))
	m.imagesSkipped.Add(float64(outcome.Skipped))
	m.detectionsWritten.Add(float64(outcome.DetectionsWritten))
	if !outcome.FinishedAt.IsZero() {
		m.runDuration.Observe(outcome.FinishedAt.Sub(outcome.StartedAt).Seconds())
	}
}

// ObserveUpload records stored and rejected upload files.
func (m *Metrics) ObserveUpload(saved, rejected int) {
	m.uploads.WithLabelValues("saved").Add(float64(saved))
	m.uploads.WithLabelValues("rejected").Add(float64(rejected))
}

// DropProgress counts one discarded progress event.
func (m *Metrics) DropProgress() {
	m.ProgressDropped.Add(1)
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler for Prometheus metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
