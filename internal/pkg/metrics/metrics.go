/*
Package metrics declares the Prometheus collectors exported on /metrics.
*/
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "roomchat"

var (
	// Connections is the number of open WebSocket connections.
	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections",
		Help:      "Open WebSocket connections.",
	})

	// OnlineUsers is the number of users with at least one authenticated connection.
	OnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "online_users",
		Help:      "Users with at least one authenticated connection.",
	})

	// ActiveRooms is the number of rooms with live membership state.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_rooms",
		Help:      "Rooms currently tracked by the broadcaster.",
	})

	// Events counts inbound client events by type and outcome.
	Events = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Inbound client events by type and outcome.",
	}, []string{"type", "outcome"})

	// Deliveries counts outbound events queued to connections.
	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deliveries_total",
		Help:      "Outbound events queued to connections, by event type.",
	}, []string{"type"})

	// SlowConsumerEvictions counts connections closed because their queue was full.
	SlowConsumerEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "slow_consumer_evictions_total",
		Help:      "Connections closed because their outbound queue was full.",
	})

	// ArchiveWriteSeconds observes durable archive write latency.
	ArchiveWriteSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "archive_write_seconds",
		Help:      "Latency of durable archive writes.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"outcome"})
)

// ObserveArchiveWrite records the duration since start under the outcome of err.
func ObserveArchiveWrite(start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	ArchiveWriteSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
