package models

import "time"

// Event types published on the order events topic.
const (
	EventTypeOrderConfirmed        = "ORDER_CONFIRMED"
	EventTypeBatchReady            = "BATCH_READY"
	EventTypeBatchShipped          = "BATCH_SHIPPED"
	EventTypeSubscriptionActivated = "SUBSCRIPTION_ACTIVATED"
	EventTypeSubscriptionCancelled = "SUBSCRIPTION_CANCELLED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderConfirmedEvent published when checkout completes and the order is
// confirmed with its dormant subscription in place.
type OrderConfirmedEvent struct {
	BaseEvent
	OrderID        string `json:"order_id"`
	OrderNumber    string `json:"order_number"`
	UserID         string `json:"user_id"`
	SubscriptionID string `json:"subscription_id"`
}

// BatchReadyEvent published when a batch reaches its target count.
type BatchReadyEvent struct {
	BaseEvent
	BatchID           string    `json:"batch_id"`
	BatchNumber       string    `json:"batch_number"`
	OrderCount        int       `json:"order_count"`
	EstimatedShipDate time.Time `json:"estimated_ship_date"`
}

// BatchShippedEvent published when an operator ships a batch. Carries the
// member order ids so the notification worker can fan out to customers.
type BatchShippedEvent struct {
	BaseEvent
	BatchID     string   `json:"batch_id"`
	BatchNumber string   `json:"batch_number"`
	OrderIDs    []string `json:"order_ids"`
}

// SubscriptionActivatedEvent published when a dormant subscription starts
// billing after delivery.
type SubscriptionActivatedEvent struct {
	BaseEvent
	SubscriptionID string `json:"subscription_id"`
	OrderID        string `json:"order_id"`
	UserID         string `json:"user_id"`
}

// SubscriptionCancelledEvent published on provider-originated cancellation.
type SubscriptionCancelledEvent struct {
	BaseEvent
	SubscriptionID string `json:"subscription_id"`
	OrderID        string `json:"order_id"`
}
