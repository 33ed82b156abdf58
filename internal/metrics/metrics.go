// Package metrics provides Prometheus metrics for the upload pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the uploader.
type Metrics struct {
	// Batch metrics
	BatchesStarted prometheus.Counter
	BatchSize      prometheus.Histogram

	// Per-file metrics
	FilesFinished *prometheus.CounterVec // by terminal state

	// Transcode metrics
	TranscodeAttempts prometheus.Histogram
	BytesIn           prometheus.Counter
	BytesOut          prometheus.Counter

	// Timing metrics
	PhaseDuration *prometheus.HistogramVec // validate | transcode | upload

	registry *prometheus.Registry
}

// New registers the uploader metrics on a fresh registry that also carries
// the Go and process collectors.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := NewWithRegisterer(namespace, reg)
	m.registry = reg
	return m
}

// NewWithRegisterer registers the uploader metrics on reg.
func NewWithRegisterer(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "image_uploader"
	}
	factory := promauto.With(reg)

	return &Metrics{
		BatchesStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_started_total",
			Help:      "Total number of upload batches started",
		}),
		BatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size_files",
			Help:      "Number of files submitted per batch",
			Buckets:   []float64{1, 2, 5, 10, 20, 50},
		}),
		FilesFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_finished_total",
			Help:      "Files that reached a terminal state",
		}, []string{"state"}),
		TranscodeAttempts: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcode_attempts",
			Help:      "Encode attempts needed per transcoded file",
			Buckets:   []float64{1, 2, 3, 4, 5, 6},
		}),
		BytesIn: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcode_input_bytes_total",
			Help:      "Bytes read by successful transcodes",
		}),
		BytesOut: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcode_output_bytes_total",
			Help:      "Bytes produced by successful transcodes",
		}),
		PhaseDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Time spent per pipeline phase",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		}, []string{"phase"}),
	}
}

// Handler returns an HTTP handler exposing the metrics registry.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// IncBatchesStarted records a new batch of n files.
func (m *Metrics) IncBatchesStarted(n int) {
	m.BatchesStarted.Inc()
	m.BatchSize.Observe(float64(n))
}

// IncFilesFinished records a file reaching a terminal state.
func (m *Metrics) IncFilesFinished(state string) {
	m.FilesFinished.WithLabelValues(state).Inc()
}

// ObserveTranscode records a successful transcode.
func (m *Metrics) ObserveTranscode(attempts, bytesIn, bytesOut int) {
	m.TranscodeAttempts.Observe(float64(attempts))
	m.BytesIn.Add(float64(bytesIn))
	m.BytesOut.Add(float64(bytesOut))
}

// ObservePhaseDuration records how long a pipeline phase took.
func (m *Metrics) ObservePhaseDuration(phase string, seconds float64) {
	m.PhaseDuration.WithLabelValues(phase).Observe(seconds)
}
