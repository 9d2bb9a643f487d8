package feed

import (
	"time"

	"github.com/Newton-b/raphtrack-core/internal/models"
)

// ConnState is the connection-level state of a feed session.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
	StateFailed       ConnState = "failed"
)

// EventKind selects a subscription channel. Delivery is FIFO within one
// kind; ordering across kinds is unspecified.
type EventKind string

const (
	KindNotification        EventKind = "notification"
	KindMetrics             EventKind = "metrics"
	KindShipmentUpdate      EventKind = "shipment-update"
	KindConnectionState     EventKind = "connection-state"
	KindNotificationUpdated EventKind = "notification-updated"
)

// Event is what subscribers receive. Exactly one payload field is set,
// matching Kind.
type Event struct {
	Kind         EventKind                   `json:"kind"`
	At           time.Time                   `json:"at"`
	Notification *models.Notification        `json:"notification,omitempty"`
	Metrics      *models.LiveMetricsSnapshot `json:"metrics,omitempty"`
	Shipment     *models.ShipmentLiveState   `json:"shipment,omitempty"`
	State        ConnState                   `json:"state,omitempty"`
}

// Handler consumes events. Handlers run on the session's event loop:
// they must not block and must not call Disconnect from inside themselves.
type Handler func(Event)

// Subscription identifies a registered handler for Unsubscribe. Go funcs are
// not comparable, so registration hands back a token instead.
type Subscription struct {
	kind EventKind
	id   uint64
}
