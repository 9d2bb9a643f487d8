package models

import "time"

type NotificationType string

const (
	NotificationShipmentUpdate       NotificationType = "shipment_update"
	NotificationPaymentReceived      NotificationType = "payment_received"
	NotificationSystemAlert          NotificationType = "system_alert"
	NotificationRouteChange          NotificationType = "route_change"
	NotificationDeliveryConfirmation NotificationType = "delivery_confirmation"
)

type NotificationPriority string

const (
	PriorityLow    NotificationPriority = "low"
	PriorityMedium NotificationPriority = "medium"
	PriorityHigh   NotificationPriority = "high"
	PriorityUrgent NotificationPriority = "urgent"
)

// Notification is a single feed entry. Created by the event source, mutated
// only through mark-read, evicted only by the feed's ring buffer.
type Notification struct {
	ID          string               `json:"id"`
	Type        NotificationType     `json:"type"`
	Title       string               `json:"title"`
	Message     string               `json:"message"`
	Priority    NotificationPriority `json:"priority"`
	CreatedAt   time.Time            `json:"created_at"`
	PrincipalID string               `json:"principal_id,omitempty"` // empty = broadcast
	Read        bool                 `json:"read"`
	ActionRef   string               `json:"action_ref,omitempty"`
}
