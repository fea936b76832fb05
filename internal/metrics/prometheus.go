// Package metrics exports transaction outcomes for the node_exporter
// textfile collector. tether is a short-lived process with nothing to
// scrape, so the registry is written to a .prom file after each
// resolution instead of served over HTTP.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values.
var Outcomes = []string{
	"confirmed",
	"declined",
	"timed_out",
	"late_confirm",
	"apply_failed",
	"restore_failed",
	"watchdog_restored",
	"watchdog_restore_failed",
}

// Registry holds the transaction metrics.
type Registry struct {
	reg     *prometheus.Registry
	version string

	LastOutcome   *prometheus.GaugeVec
	LastTimestamp *prometheus.GaugeVec
	LastDuration  *prometheus.GaugeVec
	LastExitCode  *prometheus.GaugeVec
	Info          *prometheus.GaugeVec
}

// NewRegistry returns a Registry backed by a private prometheus registry.
func NewRegistry(version string) *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	r := &Registry{reg: reg, version: version}

	r.LastOutcome = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tether_last_transaction_outcome",
		Help: "1 for the outcome of the most recent transaction on the target, 0 otherwise",
	}, []string{"target", "outcome"})

	r.LastTimestamp = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tether_last_transaction_timestamp_seconds",
		Help: "Unix time the most recent transaction resolved",
	}, []string{"target"})

	r.LastDuration = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tether_last_transaction_duration_seconds",
		Help: "Wall time from start to resolution of the most recent transaction",
	}, []string{"target"})

	r.LastExitCode = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tether_last_transaction_exit_code",
		Help: "Exit code of the process that resolved the most recent transaction",
	}, []string{"target"})

	r.Info = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tether_build_info",
		Help: "Version of tether that last resolved a transaction on the target",
	}, []string{"version", "target"})

	return r
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}
