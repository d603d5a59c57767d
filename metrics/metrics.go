package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	EnginesCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "precache",
		Subsystem: "session",
		Name:      "engines_created_total",
		Help:      "Total number of cache engines created",
	})

	EnginesDestroyedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "precache",
		Subsystem: "session",
		Name:      "engines_destroyed_total",
		Help:      "Total number of cache engines shut down",
	})

	ActiveConsumers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "precache",
		Subsystem: "session",
		Name:      "active_consumers",
		Help:      "Consumers currently inside processRequest across all sessions",
	})

	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "precache",
		Subsystem: "registry",
		Name:      "sessions_active",
		Help:      "Sessions currently held by the registry",
	})

	ProgressEventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "precache",
		Subsystem: "dispatcher",
		Name:      "progress_events_total",
		Help:      "Progress events accepted onto the dispatch queue",
	})

	ProgressDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "precache",
		Subsystem: "dispatcher",
		Name:      "progress_dropped_total",
		Help:      "Progress events dropped because the dispatch queue was full",
	})

	ListenerFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "precache",
		Subsystem: "dispatcher",
		Name:      "listener_failures_total",
		Help:      "Observer callbacks that panicked during delivery",
	})

	CacheCompletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "precache",
		Subsystem: "engine",
		Name:      "cache_completed_total",
		Help:      "Resources fully cached to disk",
	})
)

func init() {
	prometheus.MustRegister(
		EnginesCreatedTotal,
		EnginesDestroyedTotal,
		ActiveConsumers,
		SessionsActive,
		ProgressEventsTotal,
		ProgressDroppedTotal,
		ListenerFailuresTotal,
		CacheCompletedTotal,
	)
}
