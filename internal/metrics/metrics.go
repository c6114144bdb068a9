package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MessagesPublished counts events accepted onto a room channel.
	MessagesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomcast_messages_published_total",
		Help: "Messages published to room channels.",
	})

	// MessagesDropped counts publishes to rooms that no longer exist.
	MessagesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomcast_messages_dropped_total",
		Help: "Messages dropped because the target room had no subscribers.",
	})

	// RoomsActive tracks rooms currently present in the registry.
	RoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "roomcast_rooms_active",
		Help: "Rooms with at least one live subscriber.",
	})

	// SubscriberLag counts messages skipped by slow subscribers.
	SubscriberLag = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomcast_subscriber_lagged_messages_total",
		Help: "Messages lost to subscribers that fell behind the publish rate.",
	})
)

// Handler exposes Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
