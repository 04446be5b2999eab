package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	tasksSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ic2_tasks_submitted_total",
			Help: "Total number of tasks accepted for execution.",
		},
		[]string{"kind"},
	)

	tasksFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ic2_tasks_finished_total",
			Help: "Total number of tasks that reached a terminal status.",
		},
		[]string{"kind", "status"},
	)

	taskTimeoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ic2_task_timeouts_total",
			Help: "Total number of tasks expired by a status query after the timeout.",
		},
		[]string{"kind"},
	)

	lateCompletionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ic2_task_late_completions_total",
			Help: "Total number of work results discarded because the task was already terminal or gone.",
		},
	)

	tasksEvictedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ic2_tasks_evicted_total",
			Help: "Total number of terminal task records evicted after retention.",
		},
	)

	workInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ic2_work_in_flight",
			Help: "Number of dispatched work items whose completion has not fired yet.",
		},
	)
)

func init() {
	prometheus.MustRegister(tasksSubmittedTotal)
	prometheus.MustRegister(tasksFinishedTotal)
	prometheus.MustRegister(taskTimeoutsTotal)
	prometheus.MustRegister(lateCompletionsTotal)
	prometheus.MustRegister(tasksEvictedTotal)
	prometheus.MustRegister(workInFlight)
}
