package host

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts worker-side workflow activity.
type Metrics struct {
	Started   prometheus.Counter
	Completed prometheus.Counter
	Failed    prometheus.Counter
	Signals   prometheus.Counter
	Queries   prometheus.Counter
}

// NewMetrics creates and registers the worker metrics. Pass nil to skip
// registration (tests).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Started: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sleuth_worker_workflows_started_total",
			Help: "Workflow instances created by this worker.",
		}),
		Completed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sleuth_worker_workflows_completed_total",
			Help: "Workflow instances that ran to completion.",
		}),
		Failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sleuth_worker_workflows_failed_total",
			Help: "Workflow instances that ended in failure.",
		}),
		Signals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sleuth_worker_signals_received_total",
			Help: "Signals delivered to workflow instances.",
		}),
		Queries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sleuth_worker_queries_served_total",
			Help: "Queries answered by this worker.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.Started, m.Completed, m.Failed, m.Signals, m.Queries)
	}
	return m
}
