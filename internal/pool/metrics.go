package pool

import (
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	poolWorkers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shipper_pool_workers",
			Help: "Number of live worker goroutines.",
		},
		[]string{"pool", "instance"},
	)

	poolActiveWorkers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shipper_pool_active_workers",
			Help: "Number of workers currently running a task.",
		},
		[]string{"pool", "instance"},
	)

	poolQueuedTasks = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shipper_pool_queued_tasks",
			Help: "Number of tasks waiting in the backlog.",
		},
		[]string{"pool", "instance"},
	)

	poolCompletedTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shipper_pool_completed_tasks_total",
			Help: "Total number of tasks that finished running, including panicked ones.",
		},
		[]string{"pool", "instance"},
	)
)

func init() {
	prometheus.MustRegister(poolWorkers)
	prometheus.MustRegister(poolActiveWorkers)
	prometheus.MustRegister(poolQueuedTasks)
	prometheus.MustRegister(poolCompletedTasks)
}

// instances numbers pools so that pools sharing a name keep separate series.
var instances atomic.Int64

// poolMetrics caches the per-pool children of the collectors above.
type poolMetrics struct {
	labels    []string
	workers   prometheus.Gauge
	active    prometheus.Gauge
	queued    prometheus.Gauge
	completed prometheus.Counter
}

func newPoolMetrics(name string) poolMetrics {
	labels := []string{name, strconv.FormatInt(instances.Add(1), 10)}
	return poolMetrics{
		labels:    labels,
		workers:   poolWorkers.WithLabelValues(labels...),
		active:    poolActiveWorkers.WithLabelValues(labels...),
		queued:    poolQueuedTasks.WithLabelValues(labels...),
		completed: poolCompletedTasks.WithLabelValues(labels...),
	}
}

// instance is the value of the "instance" label.
func (m poolMetrics) instance() string {
	return m.labels[1]
}

// delete drops the pool's series once it is shut down and empty.
func (m poolMetrics) delete() {
	poolWorkers.DeleteLabelValues(m.labels...)
	poolActiveWorkers.DeleteLabelValues(m.labels...)
	poolQueuedTasks.DeleteLabelValues(m.labels...)
	poolCompletedTasks.DeleteLabelValues(m.labels...)
}
