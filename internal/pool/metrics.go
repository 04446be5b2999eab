package pool

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for execution results.
const (
	resultOK    = "ok"
	resultError = "error"
)

var (
	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ic2_pool_queue_depth",
			Help: "Number of work items waiting for a free worker.",
		},
	)

	busyWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ic2_pool_busy_workers",
			Help: "Number of workers currently executing a work item.",
		},
	)

	rejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ic2_pool_rejected_total",
			Help: "Total number of work items refused because the queue was full or closed.",
		},
	)

	executionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ic2_pool_execution_seconds",
			Help:    "Work item execution time on a worker, in seconds.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"kind", "result"},
	)
)

func init() {
	prometheus.MustRegister(queueDepth)
	prometheus.MustRegister(busyWorkers)
	prometheus.MustRegister(rejectedTotal)
	prometheus.MustRegister(executionDuration)
}
