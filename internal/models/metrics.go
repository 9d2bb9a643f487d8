package models

import "time"

// LiveMetricsSnapshot is an immutable value object. Every publish fully
// replaces the previous snapshot for subscribers; there are no
// partial-field updates.
type LiveMetricsSnapshot struct {
	ActiveShipments   int       `json:"active_shipments"`
	DeliveredToday    int       `json:"delivered_today"`
	PendingPayments   int       `json:"pending_payments"`
	SystemHealth      float64   `json:"system_health_percent"`
	AvgDeliveryHours  float64   `json:"avg_delivery_hours"`
	SatisfactionScore float64   `json:"satisfaction_score"`
	RevenueToday      float64   `json:"revenue_today"`
	GeneratedAt       time.Time `json:"generated_at"`
}
