// Package metrics exposes Prometheus collectors for the pool.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	poolDesiredConcurrency prometheus.Gauge
	poolActiveLeases       prometheus.Gauge
	poolQueueDepth         prometheus.Gauge
	poolItemsTotal         *prometheus.CounterVec
	poolScaleEventsTotal   *prometheus.CounterVec
	poolLeasesReclaimed    prometheus.Counter
	poolHandlerDuration    prometheus.Histogram
	poolSnapshotCPURatio   prometheus.Gauge
	poolSnapshotMemRatio   prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		poolDesiredConcurrency = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "crawlpool_desired_concurrency",
			Help: "Current target for simultaneous active leases.",
		})

		poolActiveLeases = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "crawlpool_active_leases",
			Help: "Number of handler invocations currently in flight.",
		})

		poolQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "crawlpool_queue_depth",
			Help: "Number of pending items waiting to be leased.",
		})

		poolItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawlpool_items_total",
				Help: "Total item outcomes, labeled by result.",
			},
			[]string{"result"},
		)

		poolScaleEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawlpool_scale_events_total",
				Help: "Total scaling adjustments, labeled by direction.",
			},
			[]string{"direction"},
		)

		poolLeasesReclaimed = promauto.NewCounter(prometheus.CounterOpts{
			Name: "crawlpool_leases_reclaimed_total",
			Help: "Total stale leases returned to the pending list.",
		})

		poolHandlerDuration = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "crawlpool_handler_duration_seconds",
			Help:    "Histogram of handler invocation latencies.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		})

		poolSnapshotCPURatio = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "crawlpool_snapshot_cpu_ratio",
			Help: "CPU utilization ratio from the latest resource snapshot.",
		})

		poolSnapshotMemRatio = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "crawlpool_snapshot_mem_ratio",
			Help: "Memory utilization ratio from the latest resource snapshot.",
		})
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetDesiredConcurrency records the controller's current target.
func SetDesiredConcurrency(n int) {
	poolDesiredConcurrency.Set(float64(n))
}

// SetActiveLeases records the number of in-flight invocations.
func SetActiveLeases(n int) {
	poolActiveLeases.Set(float64(n))
}

// SetQueueDepth records the pending backlog size.
func SetQueueDepth(n int) {
	poolQueueDepth.Set(float64(n))
}

// ObserveItem increments the outcome counter for the given result.
func ObserveItem(result string) {
	poolItemsTotal.WithLabelValues(result).Inc()
}

// ObserveScaleEvent increments the scale event counter for a direction.
func ObserveScaleEvent(direction string) {
	poolScaleEventsTotal.WithLabelValues(direction).Inc()
}

// ObserveLeaseReclaimed increments the reclaimed lease counter.
func ObserveLeaseReclaimed() {
	poolLeasesReclaimed.Inc()
}

// ObserveHandlerDuration records one handler invocation latency.
func ObserveHandlerDuration(d time.Duration) {
	poolHandlerDuration.Observe(d.Seconds())
}

// ObserveSnapshot records the load ratios from a resource snapshot.
func ObserveSnapshot(cpuRatio, memRatio float64) {
	poolSnapshotCPURatio.Set(cpuRatio)
	poolSnapshotMemRatio.Set(memRatio)
}
