package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// LeasesIssuedTotal counts leases the Loader has written, by sku_category.
var LeasesIssuedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "creep",
		Subsystem: "loader",
		Name:      "leases_issued_total",
		Help:      "Total number of leases issued by the loader.",
	},
	[]string{"sku_category"},
)

// LoaderSyncDuration tracks one Loader.Sync pass, whether or not it
// published.
var LoaderSyncDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "creep",
		Subsystem: "loader",
		Name:      "sync_duration_seconds",
		Help:      "Duration of a single Loader.Sync pass.",
		Buckets:   prometheus.DefBuckets,
	},
)

// TasksSettledTotal counts task settlements by terminal outcome.
var TasksSettledTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "creep",
		Subsystem: "worker",
		Name:      "tasks_settled_total",
		Help:      "Total number of task settlements, by outcome.",
	},
	[]string{"outcome"}, // success, execution_failed, resource_error, data_inconsistency
)

// AdapterCallsTotal counts vendor Adapter calls by method and outcome.
var AdapterCallsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "creep",
		Subsystem: "adapter",
		Name:      "calls_total",
		Help:      "Total number of vendor adapter calls, by method and outcome.",
	},
	[]string{"method", "outcome"}, // acquire|release|check_health, ok|error|breaker_open
)

// JanitorAssetsRecoveredTotal counts assets a Janitor sweep returned to
// READY, by sweep.
var JanitorAssetsRecoveredTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "creep",
		Subsystem: "janitor",
		Name:      "assets_recovered_total",
		Help:      "Total number of assets recovered to READY, by sweep.",
	},
	[]string{"sweep"}, // lock_timeout_recovery, cooling_expiry
)

// All returns the CREEP-specific collectors for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		LeasesIssuedTotal,
		LoaderSyncDuration,
		TasksSettledTotal,
		AdapterCallsTotal,
		JanitorAssetsRecoveredTotal,
	}
}

// NewRegistry creates a Prometheus registry with Go/process collectors and
// the CREEP-specific collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	for _, c := range All() {
		reg.MustRegister(c)
	}
	return reg
}
