package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gochat_active_sessions",
			Help: "Live websocket sessions",
		},
	)

	ConnectionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gochat_connections_rejected_total",
			Help: "Handshakes refused before upgrade",
		},
		[]string{"reason"},
	)

	SessionsReplaced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gochat_sessions_replaced_total",
			Help: "Sessions closed because the same actor connected again",
		},
	)

	// Event metrics
	EventsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gochat_events_handled_total",
			Help: "Inbound events processed",
		},
		[]string{"event", "outcome"}, // "ok", "rate_limited" or the error kind
	)

	EventDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gochat_event_duration_seconds",
			Help:    "Inbound event handling latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"event"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gochat_events_published_total",
			Help: "Outbound frames delivered to sessions",
		},
		[]string{"event"},
	)

	FramesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gochat_frames_dropped_total",
			Help: "Outbound frames dropped because a send buffer was full or closed",
		},
	)

	// Business metrics
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gochat_messages_sent_total",
			Help: "Messages persisted",
		},
		[]string{"room_type", "kind"}, // kind is "original" or "forward"
	)
)
