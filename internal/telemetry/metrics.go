package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// OrdersProcessedTotal counts orders processed per offering, lane outcome.
var OrdersProcessedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sitebridge",
		Subsystem: "orders",
		Name:      "processed_total",
		Help:      "Orders processed, by offering and outcome.",
	},
	[]string{"offering", "outcome"},
)

// SyncDuration tracks how long one full pass of a reconciliation lane
// takes, by offering and lane (orders, membership, report,
// membership-sweep, or "event:<type>" for an event-driven dispatch).
var SyncDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "sitebridge",
		Subsystem: "supervisor",
		Name:      "sync_duration_seconds",
		Help:      "Duration of one reconciliation pass.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"offering", "lane"},
)

// UsageSubmittedTotal counts component-usage records submitted to the
// control plane, by offering and component.
var UsageSubmittedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sitebridge",
		Subsystem: "report",
		Name:      "usage_submitted_total",
		Help:      "Component usage records submitted to the control plane.",
	},
	[]string{"offering", "component"},
)

// UsageAnomaliesTotal counts rejected usage submissions (spec.md §4.7
// step 3 / §7 UsageAnomaly), by offering and component.
var UsageAnomaliesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sitebridge",
		Subsystem: "report",
		Name:      "usage_anomalies_total",
		Help:      "Usage submissions rejected as anomalous.",
	},
	[]string{"offering", "component"},
)

// All returns every collector this package defines, for registration
// alongside the Go/process collectors.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		OrdersProcessedTotal,
		SyncDuration,
		UsageSubmittedTotal,
		UsageAnomaliesTotal,
	}
}

// NewRegistry creates a Prometheus registry with Go/process collectors
// and this package's collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	for _, c := range All() {
		reg.MustRegister(c)
	}
	return reg
}
