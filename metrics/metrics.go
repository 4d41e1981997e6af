// Package metrics registers the Prometheus collectors the gateway's
// core exposes, following the same registry-plus-typed-collector shape
// used elsewhere in the example corpus (a package-level registry, one
// named Gauge/Counter/CounterVec per signal, all MustRegister'd up
// front). Every counter here is safe for concurrent use without an
// extra lock: prometheus collectors already serialize their own
// updates internally.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry is the gateway's Prometheus registry. cmd/bsd mounts it at
// /metrics via promhttp when metrics are enabled; nothing in the core
// depends on that mount happening.
var Registry = prometheus.NewRegistry()

var (
	// EventBusDropped counts non-Stop events dropped from a
	// subscriber's bounded queue because it fell behind.
	EventBusDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bsd_eventbus_dropped_total",
		Help: "Chain/admin events dropped from a subscriber's bounded queue.",
	}, []string{"subscriber"})

	// EventBusQueueDepth reports the most recently observed
	// per-subscriber pending-event depth, sampled on every delivery.
	EventBusQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bsd_eventbus_queue_depth",
		Help: "Most recently observed event-bus subscriber queue depth.",
	})

	// ActiveSubscriptions tracks the notification engine's live
	// subscription count, the same value Engine.Count() returns.
	ActiveSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bsd_notification_active_subscriptions",
		Help: "Live subscriptions held by the notification engine.",
	})

	// ChannelCount tracks how many channels are currently open across
	// every session listener.
	ChannelCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bsd_channel_count",
		Help: "Open channels across all protocol listeners.",
	})

	// ChannelOverflows counts how many times a channel's outbound
	// queue hit its high-water mark and transitioned to Draining.
	ChannelOverflows = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bsd_channel_overflow_total",
		Help: "Times a channel's outbound write queue overflowed and the channel entered Draining.",
	})
)

func init() {
	Registry.MustRegister(
		EventBusDropped,
		EventBusQueueDepth,
		ActiveSubscriptions,
		ChannelCount,
		ChannelOverflows,
	)
}
