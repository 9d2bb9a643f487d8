package feed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Package-level collectors: sessions come and go, the counters outlive them.
var (
	eventsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raphtrack_feed_events_delivered_total",
		Help: "Events delivered to subscribers, by kind",
	}, []string{"kind"})

	ticksFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raphtrack_feed_ticks_failed_total",
		Help: "Producer ticks skipped due to poll errors or malformed payloads",
	}, []string{"producer"})

	reconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "raphtrack_feed_reconnect_attempts_total",
		Help: "Reconnect handshake attempts across all sessions",
	})

	notificationsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "raphtrack_feed_notifications_evicted_total",
		Help: "Notifications dropped from ring buffers on overflow",
	})

	invalidTransitions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "raphtrack_feed_invalid_transitions_total",
		Help: "Shipment events rejected by the status machine",
	})

	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "raphtrack_feed_sessions_active",
		Help: "Feed sessions currently in the connected state",
	})
)
