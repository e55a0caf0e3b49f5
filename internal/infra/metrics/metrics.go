// Package metrics exposes pipeline observations as Prometheus series.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder implements the pipeline's recorder hooks on top of Prometheus
// collectors.
type Recorder struct {
	runsTotal       *prometheus.CounterVec
	runDuration     prometheus.Histogram
	stageDuration   *prometheus.HistogramVec
	stageDiversions *prometheus.CounterVec
	providerRetries prometheus.Counter
}

// NewRecorder registers all collectors on the given registerer. Pass
// prometheus.DefaultRegisterer in production.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rag_pipeline_runs_total",
			Help: "Completed pipeline runs by terminal stage.",
		}, []string{"terminal"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rag_pipeline_run_duration_seconds",
			Help:    "End-to-end pipeline run duration.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rag_pipeline_stage_duration_seconds",
			Help:    "Per-stage execution duration.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"stage"}),
		stageDiversions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rag_pipeline_stage_diversions_total",
			Help: "Stage executions that left the success path.",
		}, []string{"stage"}),
		providerRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rag_provider_retries_total",
			Help: "Retried completion calls against the model provider.",
		}),
	}

	reg.MustRegister(r.runsTotal, r.runDuration, r.stageDuration, r.stageDiversions, r.providerRetries)
	return r
}

func (r *Recorder) StageCompleted(stage string, duration time.Duration, diverted bool) {
	r.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
	if diverted {
		r.stageDiversions.WithLabelValues(stage).Inc()
	}
}

func (r *Recorder) RunCompleted(terminal string, duration time.Duration) {
	r.runsTotal.WithLabelValues(terminal).Inc()
	r.runDuration.Observe(duration.Seconds())
}

// ProviderRetried counts one retried model call; wired as the retry
// middleware's callback.
func (r *Recorder) ProviderRetried() {
	r.providerRetries.Inc()
}
