// Package metrics exposes Prometheus collectors for the session manager and
// driver pool.
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
	tasksTotal           *prometheus.CounterVec
	taskDurationSeconds  *prometheus.HistogramVec
	leaseWaitSeconds     prometheus.Histogram
	poolIdleSessions     prometheus.Gauge
	poolBusySessions     prometheus.Gauge
	sessionsCreatedTotal prometheus.Counter
	sessionCrashesTotal  prometheus.Counter

	once sync.Once
)

// Init registers the collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		tasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automation_tasks_total",
				Help: "Total tasks processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		taskDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "automation_task_duration_seconds",
				Help:    "Wall time spent executing tasks, labeled by outcome.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"outcome"},
		)

		leaseWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "automation_lease_wait_seconds",
				Help:    "Time callers spent waiting for a pooled browser session.",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30},
			},
		)

		poolIdleSessions = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "automation_pool_idle_sessions",
			Help: "Browser sessions currently idle in the pool.",
		})

		poolBusySessions = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "automation_pool_busy_sessions",
			Help: "Browser sessions currently leased out.",
		})

		sessionsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "automation_sessions_created_total",
			Help: "Browser sessions created over the process lifetime.",
		})

		sessionCrashesTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "automation_session_crashes_total",
			Help: "Browser sessions removed from the pool after a crash.",
		})
	})
}

// ObserveTask records one finished task.
func ObserveTask(outcome string, d time.Duration) {
	if tasksTotal == nil {
		return
	}
	tasksTotal.WithLabelValues(outcome).Inc()
	taskDurationSeconds.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveLeaseWait records how long a caller waited for a session.
func ObserveLeaseWait(d time.Duration) {
	if leaseWaitSeconds == nil {
		return
	}
	leaseWaitSeconds.Observe(d.Seconds())
}

// SetPoolSessions updates the idle/busy gauges.
func SetPoolSessions(idle, busy int) {
	if poolIdleSessions == nil {
		return
	}
	poolIdleSessions.Set(float64(idle))
	poolBusySessions.Set(float64(busy))
}

// IncSessionCreated counts a newly started browser session.
func IncSessionCreated() {
	if sessionsCreatedTotal == nil {
		return
	}
	sessionsCreatedTotal.Inc()
}

// IncSessionCrash counts a session discarded after a crash.
func IncSessionCrash() {
	if sessionCrashesTotal == nil {
		return
	}
	sessionCrashesTotal.Inc()
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
