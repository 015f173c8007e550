package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "calling_active_sessions",
		Help: "Number of call sessions currently in the active state",
	})

	HeartbeatsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "calling_heartbeats_total",
		Help: "Total number of liveness heartbeats sent",
	})

	HeartbeatFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "calling_heartbeat_failures_total",
		Help: "Total number of heartbeats that failed with a transport error",
	})

	TerminationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calling_terminations_total",
		Help: "Total number of call terminations by trigger",
	}, []string{"trigger"})

	VideoJoinFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "calling_video_join_failures_total",
		Help: "Total number of failed conference join attempts",
	})
)
