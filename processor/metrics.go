package processor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder is a MetricsRecorder backed by prometheus vectors. It
// is itself a prometheus.Collector.
type PrometheusRecorder struct {
	duration *prometheus.HistogramVec
	outcomes *prometheus.CounterVec
}

func NewPrometheusRecorder(namespace string) *PrometheusRecorder {
	return &PrometheusRecorder{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stage",
			Name:      "duration_seconds",
			Help:      "Time from stage start to completion callback.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stage",
			Name:      "completed_total",
			Help:      "Completed stage runs by outcome.",
		}, []string{"stage", "outcome"}),
	}
}

func (r *PrometheusRecorder) RecordDuration(name string, d time.Duration) {
	r.duration.WithLabelValues(name).Observe(d.Seconds())
}

func (r *PrometheusRecorder) RecordError(name string) {
	r.outcomes.WithLabelValues(name, "failure").Inc()
}

func (r *PrometheusRecorder) RecordSuccess(name string) {
	r.outcomes.WithLabelValues(name, "success").Inc()
}

func (r *PrometheusRecorder) Describe(ch chan<- *prometheus.Desc) {
	r.duration.Describe(ch)
	r.outcomes.Describe(ch)
}

func (r *PrometheusRecorder) Collect(ch chan<- prometheus.Metric) {
	r.duration.Collect(ch)
	r.outcomes.Collect(ch)
}
