// Package metrics exposes the batch daemon's Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "batchd"

const (
	ResultSucceeded = "succeeded"
	ResultFailed    = "failed"
	ResultNonZero   = "nonzero_exit"
)

var (
	TasksStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_started_total",
		Help:      "Total number of tasks handed to the executor.",
	}, []string{"pool"})

	TasksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_completed_total",
		Help:      "Total number of completed tasks by result.",
	}, []string{"pool", "result"})

	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "task_duration_seconds",
		Help:      "Wall time from task start to completion.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"pool"})

	PoolsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pools_created_total",
		Help:      "Total number of pools created.",
	})

	ActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_jobs",
		Help:      "Number of jobs that exist and have not been deleted.",
	})
)

// TaskResult classifies a completed task for the result label.
func TaskResult(exitCode int, failure string) string {
	switch {
	case failure != "":
		return ResultFailed
	case exitCode != 0:
		return ResultNonZero
	default:
		return ResultSucceeded
	}
}

// ObserveTaskCompleted records a finished task.
func ObserveTaskCompleted(pool string, exitCode int, failure string, elapsed time.Duration) {
	TasksCompleted.WithLabelValues(pool, TaskResult(exitCode, failure)).Inc()
	TaskDuration.WithLabelValues(pool).Observe(elapsed.Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
