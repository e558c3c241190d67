package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "transcriber_active_runs",
		Help: "Number of transcription runs currently executing",
	})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcriber_runs_total",
		Help: "Total transcription runs by terminal outcome",
	}, []string{"outcome"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "transcriber_run_duration_seconds",
		Help:    "Wall-clock duration of transcription runs in seconds",
		Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 7200},
	})

	segmentsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transcriber_segments_emitted_total",
		Help: "Total segments emitted by the speech engine",
	})

	segmentsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transcriber_segments_skipped_total",
		Help: "Engine results dropped because conversion failed",
	})

	flushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcriber_persistence_flushes_total",
		Help: "Full-document persistence flushes by status",
	}, []string{"status"})

	deviceSelections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcriber_device_selections_total",
		Help: "Resolved compute devices by device name",
	}, []string{"device"})
)

// RunMetrics tracks one transcription run.
type RunMetrics struct {
	startTime time.Time
}

// NewRunMetrics marks a run as started.
func NewRunMetrics() *RunMetrics {
	activeRuns.Inc()
	return &RunMetrics{startTime: time.Now()}
}

// RecordEnd marks the run finished with the given terminal outcome
// ("complete", "cancelled" or "error").
func (m *RunMetrics) RecordEnd(outcome string) {
	activeRuns.Dec()
	runsTotal.WithLabelValues(outcome).Inc()
	runDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordSegment counts one emitted segment.
func RecordSegment() {
	segmentsEmitted.Inc()
}

// RecordSkippedSegment counts one engine result that failed conversion.
func RecordSkippedSegment() {
	segmentsSkipped.Inc()
}

// RecordFlush counts one full-document flush attempt.
func RecordFlush(ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	flushes.WithLabelValues(status).Inc()
}

// RecordDeviceSelection counts a resolved compute device.
func RecordDeviceSelection(dev string) {
	deviceSelections.WithLabelValues(dev).Inc()
}
