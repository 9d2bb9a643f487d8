package models

import "time"

type ShipmentStatus string

const (
	ShipmentPending   ShipmentStatus = "pending"
	ShipmentInTransit ShipmentStatus = "in_transit"
	ShipmentDelivered ShipmentStatus = "delivered"
	ShipmentDelayed   ShipmentStatus = "delayed"
	ShipmentException ShipmentStatus = "exception"
)

// Terminal reports whether no further transition is accepted from this
// status. Delivered and exception are absorbing.
func (s ShipmentStatus) Terminal() bool {
	return s == ShipmentDelivered || s == ShipmentException
}

// CanTransitionTo encodes the shipment status machine:
//
//	pending -> in_transit -> {delivered | delayed | exception}
//	delayed -> in_transit (delay cleared)
//
// Same-status events are allowed as location refreshes.
func (s ShipmentStatus) CanTransitionTo(next ShipmentStatus) bool {
	if s.Terminal() {
		return false
	}
	if s == next {
		return true
	}
	switch s {
	case ShipmentPending:
		return next == ShipmentInTransit
	case ShipmentInTransit:
		return next == ShipmentDelivered || next == ShipmentDelayed || next == ShipmentException
	case ShipmentDelayed:
		return next == ShipmentInTransit || next == ShipmentException
	}
	return false
}

// ShipmentEvent is one tracking update for a shipment.
type ShipmentEvent struct {
	ID          string         `json:"id"`
	ShipmentID  string         `json:"shipment_id"`
	Status      ShipmentStatus `json:"status"`
	Location    string         `json:"location"`
	Description string         `json:"description,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

// ShipmentLiveState is the feed-owned view of one shipment. Events are
// append-only and non-decreasing in timestamp order.
type ShipmentLiveState struct {
	ID             string          `json:"id"`
	Status         ShipmentStatus  `json:"status"`
	Location       string          `json:"location"`
	Carrier        string          `json:"carrier"`
	TrackingNumber string          `json:"tracking_number"`
	Events         []ShipmentEvent `json:"events"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Clone returns a deep copy so subscribers can never mutate feed-owned state.
func (s *ShipmentLiveState) Clone() *ShipmentLiveState {
	if s == nil {
		return nil
	}
	out := *s
	out.Events = make([]ShipmentEvent, len(s.Events))
	copy(out.Events, s.Events)
	return &out
}
