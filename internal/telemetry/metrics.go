package telemetry

import "github.com/prometheus/client_golang/prometheus"

var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "brokkr",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds, by method, route, and status.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	},
	[]string{"method", "route", "status"},
)

var WorkOrdersClaimedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "brokkr",
		Subsystem: "workorders",
		Name:      "claimed_total",
		Help:      "Total number of work orders claimed by agents.",
	},
	[]string{"stack_template"},
)

var WorkOrdersCompletedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "brokkr",
		Subsystem: "workorders",
		Name:      "completed_total",
		Help:      "Total number of work orders resolved, by terminal status.",
	},
	[]string{"status"},
)

var WorkOrdersRetriedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "brokkr",
		Subsystem: "workorders",
		Name:      "retried_total",
		Help:      "Total number of work orders returned to pending for retry.",
	},
)

var WorkOrdersStaleReclaimedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "brokkr",
		Subsystem: "workorders",
		Name:      "stale_reclaimed_total",
		Help:      "Total number of work orders reclaimed from agents that stopped heartbeating.",
	},
)

var WebhookDeliveriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "brokkr",
		Subsystem: "webhooks",
		Name:      "deliveries_total",
		Help:      "Total number of webhook delivery attempts by outcome.",
	},
	[]string{"outcome"},
)

var WebhookDeliveryDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "brokkr",
		Subsystem: "webhooks",
		Name:      "delivery_duration_seconds",
		Help:      "Webhook delivery POST duration in seconds.",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	},
	[]string{"event_type"},
)

var AuditEventsDroppedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "brokkr",
		Subsystem: "audit",
		Name:      "events_dropped_total",
		Help:      "Total number of audit log entries dropped because the buffer was full.",
	},
)

var AuditEventsWrittenTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "brokkr",
		Subsystem: "audit",
		Name:      "events_written_total",
		Help:      "Total number of audit log entries flushed to storage.",
	},
)

var AgentHeartbeatsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "brokkr",
		Subsystem: "agents",
		Name:      "heartbeats_total",
		Help:      "Total number of agent heartbeat events received.",
	},
	[]string{"tenant"},
)

var DiagnosticRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "brokkr",
		Subsystem: "diagnostics",
		Name:      "requests_total",
		Help:      "Total number of diagnostic requests issued, by status at completion.",
	},
	[]string{"status"},
)

var EventBusPublishedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "brokkr",
		Subsystem: "eventbus",
		Name:      "published_total",
		Help:      "Total number of events published to the event bus, by event type.",
	},
	[]string{"event_type"},
)

var ConfigReloadsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "brokkr",
		Subsystem: "config",
		Name:      "reloads_total",
		Help:      "Total number of configuration reload attempts, by outcome.",
	},
	[]string{"outcome"},
)

// NewMetricsRegistry creates a Prometheus registry with Go/process
// collectors plus the given broker collectors registered.
func NewMetricsRegistry(collectors ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	for _, c := range collectors {
		reg.MustRegister(c)
	}
	return reg
}

// All returns every broker metric for registration against a Prometheus registry.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		HTTPRequestDuration,
		WorkOrdersClaimedTotal,
		WorkOrdersCompletedTotal,
		WorkOrdersRetriedTotal,
		WorkOrdersStaleReclaimedTotal,
		WebhookDeliveriesTotal,
		WebhookDeliveryDuration,
		AuditEventsDroppedTotal,
		AuditEventsWrittenTotal,
		AgentHeartbeatsTotal,
		DiagnosticRequestsTotal,
		EventBusPublishedTotal,
		ConfigReloadsTotal,
	}
}
