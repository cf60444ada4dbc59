package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	gitSyncFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gwbundle_git_sync_failed_total",
			Help: "Total number of failed Git sync operations",
		},
		[]string{"repo"},
	)

	gitSyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gwbundle_git_sync_duration_seconds",
			Help:    "Git sync duration in seconds",
			Buckets: []float64{0.1, 0.2, 0.5, 1, 1.5, 2, 5, 10, 30, 60},
		},
		[]string{"repo"},
	)
)

func GitSyncSucceeded(repo string, start time.Time) {
	gitSyncDuration.WithLabelValues(repo).Observe(time.Since(start).Seconds())
}

func GitSyncFailed(repo string) {
	gitSyncFailed.WithLabelValues(repo).Inc()
}
