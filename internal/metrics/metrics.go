// Package metrics exports upload observations as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"labelsync/internal/domain"
)

// Recorder implements upload.MetricsRecorder on a Prometheus registry.
type Recorder struct {
	registry *prometheus.Registry

	rowsTotal      *prometheus.CounterVec
	targetsTotal   *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	runsTotal      *prometheus.CounterVec
	runDuration    prometheus.Histogram
	duplicateTotal prometheus.Counter
}

// NewRecorder creates a Recorder with its own registry, including the Go
// runtime and process collectors.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		rowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "labelsync_rows_total",
				Help: "Rows seen by the converter, by outcome",
			},
			[]string{"outcome"},
		),
		targetsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "labelsync_stage_targets_total",
				Help: "Stage calls per target, by stage and outcome",
			},
			[]string{"stage", "outcome"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "labelsync_stage_duration_seconds",
				Help:    "Wall time of one dispatch stage",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"stage"},
		),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "labelsync_runs_total",
				Help: "Completed upload runs, by status",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "labelsync_run_duration_seconds",
			Help:    "Wall time of one table upload",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
		}),
		duplicateTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "labelsync_duplicate_keys_total",
			Help: "Rows whose global key repeated an earlier row",
		}),
	}
	r.registry.MustRegister(
		r.rowsTotal, r.targetsTotal, r.stageDuration, r.runsTotal, r.runDuration, r.duplicateTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// ObserveStage records one finished dispatch stage. A nil report still
// records the duration.
func (r *Recorder) ObserveStage(stage string, elapsed time.Duration, report *domain.StageReport) {
	r.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	if report == nil {
		return
	}
	failed := report.FailedTargets()
	r.targetsTotal.WithLabelValues(stage, "failed").Add(float64(failed))
	r.targetsTotal.WithLabelValues(stage, "succeeded").Add(float64(len(report.Targets) - failed))
}

// ObserveUpload records one finished upload.
func (r *Recorder) ObserveUpload(result *domain.UploadResult, rows int, elapsed time.Duration) {
	failed := len(result.ConversionErrors)
	r.rowsTotal.WithLabelValues("converted").Add(float64(rows - failed))
	r.rowsTotal.WithLabelValues("failed").Add(float64(failed))
	r.duplicateTotal.Add(float64(result.DuplicateKeys))
	r.runsTotal.WithLabelValues(string(result.Status())).Inc()
	r.runDuration.Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Registry exposes the underlying registry for additional collectors.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }
