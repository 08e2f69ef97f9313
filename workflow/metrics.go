package workflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var EventTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "relayer",
	Subsystem: "workflow",
	Name:      "event_transitions_total",
	Help:      "Number of deposit event status transitions, labeled by the new status.",
}, []string{"status"})
