// Package metrics exposes the fleet's Prometheus collectors: connection and
// pending-command gauges, and dispatch lifecycle counters, scraped via
// /metrics alongside the operator API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles every collector this server exposes. Handlers and
// background sweeps call its Set/Inc methods directly rather than reaching
// for the global prometheus registry.
type Registry struct {
	ConnectedDevices prometheus.Gauge
	PendingCommands  prometheus.Gauge

	CommandsDispatched prometheus.Counter
	CommandsAcked      prometheus.Counter
	CommandsRetried    prometheus.Counter
	CommandsExpired    prometheus.Counter
}

// New registers and returns the fleet's collectors against reg. Pass
// prometheus.NewRegistry() for an isolated registry in tests, or
// prometheus.DefaultRegisterer in production.
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)

	return &Registry{
		ConnectedDevices: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "skylink",
			Subsystem: "fleet",
			Name:      "connected_devices",
			Help:      "Number of devices with an active session.",
		}),
		PendingCommands: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "skylink",
			Subsystem: "fleet",
			Name:      "pending_commands",
			Help:      "Number of commands awaiting a terminal Ack.",
		}),
		CommandsDispatched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "skylink",
			Subsystem: "dispatcher",
			Name:      "commands_dispatched_total",
			Help:      "Total commands sent, excluding retries.",
		}),
		CommandsAcked: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "skylink",
			Subsystem: "dispatcher",
			Name:      "commands_acked_total",
			Help:      "Total commands reaching a terminal Ack status.",
		}),
		CommandsRetried: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "skylink",
			Subsystem: "dispatcher",
			Name:      "commands_retried_total",
			Help:      "Total command re-sends issued by the timeout tracker.",
		}),
		CommandsExpired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "skylink",
			Subsystem: "dispatcher",
			Name:      "commands_expired_total",
			Help:      "Total commands removed by the expiry sweep without a terminal Ack.",
		}),
	}
}
