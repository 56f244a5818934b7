package coordinator

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the coordinator.
type Metrics struct {
	SessionsStarted *prometheus.CounterVec
	SessionOutcomes *prometheus.CounterVec
	SessionDuration *prometheus.HistogramVec
	ActiveSessions  prometheus.Gauge

	Transitions    *prometheus.CounterVec
	Clarifications *prometheus.CounterVec
	Stalls         prometheus.Counter
}

// NewMetrics creates and registers the coordinator metrics.
//
// Registration happens once per process; later calls return the same
// collectors.
//
// Metrics:
//   - specd_sessions_started_total{role}
//   - specd_session_outcomes_total{role,status}
//   - specd_session_duration_seconds{role}
//   - specd_active_sessions
//   - specd_transitions_total{from,to}
//   - specd_clarifications_total{reason}
//   - specd_stalls_total
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			SessionsStarted: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "specd_sessions_started_total",
					Help: "Total number of worker sessions spawned",
				},
				[]string{"role"},
			),
			SessionOutcomes: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "specd_session_outcomes_total",
					Help: "Total number of worker sessions by final status",
				},
				[]string{"role", "status"}, // report status, or "stalled"/"aborted"
			),
			SessionDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "specd_session_duration_seconds",
					Help:    "Duration of worker sessions in seconds",
					Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
				},
				[]string{"role"},
			),
			ActiveSessions: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "specd_active_sessions",
					Help: "Number of worker sessions currently executing",
				},
			),
			Transitions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "specd_transitions_total",
					Help: "Total number of applied status transitions",
				},
				[]string{"from", "to"},
			),
			Clarifications: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "specd_clarifications_total",
					Help: "Total number of outcomes escalated to an operator",
				},
				[]string{"reason"},
			),
			Stalls: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "specd_stalls_total",
					Help: "Total number of stalled units of work",
				},
			),
		}
	})
	return globalMetrics
}
