package relay

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TickDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "relayer",
		Subsystem: "worker",
		Name:      "tick_duration_seconds",
		Help:      "Duration of a single worker iteration.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"worker"})
	TickResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relayer",
		Subsystem: "worker",
		Name:      "tick_results_total",
		Help:      "Number of worker iterations, labeled by result.",
	}, []string{"worker", "result"})
	EventFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relayer",
		Subsystem: "worker",
		Name:      "event_failures_total",
		Help:      "Number of failed deposit event steps, labeled by failure class.",
	}, []string{"side", "class"})
	EventsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "relayer",
		Subsystem: "workflow",
		Name:      "events",
		Help:      "Shows the number of uncredited deposit events per status.",
	}, []string{"status", "stuck"})
	SurplusEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relayer",
		Subsystem: "worker",
		Name:      "surplus_events_total",
		Help:      "Number of ledger-reconciled deposit events created for unclaimed destination balance.",
	}, []string{"source"})
)

func ObserveTick(worker string) func() time.Duration {
	return prometheus.NewTimer(TickDurations.WithLabelValues(worker)).ObserveDuration
}
