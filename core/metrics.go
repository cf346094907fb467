package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Process-wide relay metrics, exposed on /metrics.
var (
	openSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatrelay_open_sessions",
			Help: "Number of currently open push sessions",
		},
	)

	relayTurns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_relay_turns_total",
			Help: "Total chat turns relayed to the model provider",
		},
	)

	upstreamFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_upstream_failures_total",
			Help: "Total provider requests that failed before or during streaming",
		},
	)

	eventsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_client_events_total",
			Help: "Total client events written to push sessions",
		},
		[]string{"type"},
	)
)
