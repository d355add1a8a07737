package internal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Shared monitor metrics.
var (
	MonitorWatchCountGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sfsmonitor",
		Subsystem: "monitor",
		Name:      "watch_count",
		Help:      "The current number of active watches",
	})

	MonitorEventTotalCounterVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sfsmonitor",
		Subsystem: "monitor",
		Name:      "event_total",
		Help:      "The number of delivered notifications per event flag",
	}, []string{"flag"})

	MonitorAdmissionErrorCounterVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sfsmonitor",
		Subsystem: "monitor",
		Name:      "admission_error_total",
		Help:      "The number of rejected watch admissions per reason",
	}, []string{"reason"})

	MonitorCancelTotalCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sfsmonitor",
		Subsystem: "monitor",
		Name:      "cancel_total",
		Help:      "The number of watch cancellations initiated",
	})
)
