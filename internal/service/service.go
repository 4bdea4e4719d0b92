package service

import (
	"context"
	"errors"
	"time"

	"smarteen-shop/internal/models"
)

// Sentinel errors surfaced as 4xx responses by the API layer.
var (
	ErrOrderNotDelivered    = errors.New("order must be delivered before activating subscription")
	ErrNoLinkedSubscription = errors.New("no subscription found for this order")
	ErrInvalidSignature     = errors.New("webhook signature verification failed")
)

// BatchStore is the durable batch state the batching engine runs against.
// AdmitOrder and ShipBatch are atomic units: concurrent admissions serialize
// on the collecting batch, and ship applies to all member orders or none.
type BatchStore interface {
	AdmitOrder(ctx context.Context, orderID string, targetCount int, shipLead time.Duration) (batch *models.OrderBatch, becameReady bool, err error)
	GetBatch(ctx context.Context, id string) (*models.OrderBatch, error)
	GetBatchContainingOrder(ctx context.Context, orderID string) (*models.OrderBatch, error)
	ListBatches(ctx context.Context) ([]models.OrderBatch, error)
	ShipBatch(ctx context.Context, batchID string, now time.Time) (*models.OrderBatch, error)
	CompleteBatch(ctx context.Context, batchID string) error
	CreateAdminNotification(ctx context.Context, n *models.AdminNotification) error
}

// OrderStore is the durable order state.
type OrderStore interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetOrdersByUserID(ctx context.Context, userID string) ([]models.Order, error)
	ConfirmOrder(ctx context.Context, order *models.Order) error
	AdvanceOrderStatus(ctx context.Context, orderID string, status models.OrderStatus, at time.Time) error
	UpdateUserContact(ctx context.Context, userID, phone, street, city, postalCode, country string) error
}

// SubscriptionStore is the durable local subscription state.
type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, sub *models.Subscription) error
	GetSubscription(ctx context.Context, id string) (*models.Subscription, error)
	GetSubscriptionsByUserID(ctx context.Context, userID string) ([]models.Subscription, error)
	ActivateSubscription(ctx context.Context, id, method string, at time.Time) error
	CancelSubscription(ctx context.Context, id string, at time.Time) error
	UpdateNextBilling(ctx context.Context, id string, next time.Time) error
}

// EventStore tracks handled webhook event ids for idempotent redelivery.
type EventStore interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// EventPublisher publishes order lifecycle events to the broker. Publishing
// is best-effort from the caller's perspective: failures are logged, never
// rolled back into the primary state mutation.
type EventPublisher interface {
	PublishOrderConfirmed(ctx context.Context, event *models.OrderConfirmedEvent) error
	PublishBatchReady(ctx context.Context, event *models.BatchReadyEvent) error
	PublishBatchShipped(ctx context.Context, event *models.BatchShippedEvent) error
	PublishSubscriptionActivated(ctx context.Context, event *models.SubscriptionActivatedEvent) error
	PublishSubscriptionCancelled(ctx context.Context, event *models.SubscriptionCancelledEvent) error
}

// WaitStatusCache caches wait-status summaries. A nil cache is valid.
type WaitStatusCache interface {
	CacheWaitStatus(ctx context.Context, orderID string, status interface{}, ttl time.Duration) error
	GetWaitStatus(ctx context.Context, orderID string, dest interface{}) (bool, error)
	InvalidateWaitStatus(ctx context.Context, orderIDs ...string) error
}
