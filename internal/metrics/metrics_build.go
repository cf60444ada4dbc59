package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	buildFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gwbundle_build_failed_total",
			Help: "Number of times a project has failed to build",
		},
		[]string{"project", "state"},
	)

	buildCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gwbundle_build_count_total",
			Help: "Total number of project builds",
		},
		[]string{"project"},
	)

	buildDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gwbundle_build_duration_seconds",
			Help:    "Project build duration in seconds",
			Buckets: []float64{0.1, 0.2, 0.5, 1, 1.5, 2, 5, 10, 30, 60},
		},
		[]string{"project"},
	)

	artifactsBuilt = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gwbundle_artifacts_built_total",
			Help: "Number of artifacts produced, by bundle type",
		},
		[]string{"project", "type"},
	)

	lastBuildEnd = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gwbundle_last_build_end_timestamp",
			Help: "Unix timestamp of when the last build ended",
		},
		[]string{"project"},
	)
)

func BuildSucceeded(project string, start time.Time) {
	buildCount.WithLabelValues(project).Inc()
	buildDuration.WithLabelValues(project).Observe(time.Since(start).Seconds())
	lastBuildEnd.WithLabelValues(project).SetToCurrentTime()
}

func BuildFailed(project, state string) {
	buildCount.WithLabelValues(project).Inc()
	buildFailed.WithLabelValues(project, state).Inc()
	lastBuildEnd.WithLabelValues(project).SetToCurrentTime()
}

func ArtifactsBuilt(project, bundleType string, n int) {
	artifactsBuilt.WithLabelValues(project, bundleType).Add(float64(n))
}
