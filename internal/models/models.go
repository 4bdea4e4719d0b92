package models

import (
	"time"

	"github.com/lib/pq"
)

// OrderStatus is the linear fulfillment state machine for an order.
type OrderStatus string

const (
	OrderStatusPending           OrderStatus = "pending"
	OrderStatusConfirmed         OrderStatus = "confirmed"
	OrderStatusPreparingShipment OrderStatus = "preparing_shipment"
	OrderStatusShipped           OrderStatus = "shipped"
	OrderStatusDelivered         OrderStatus = "delivered"
	OrderStatusActivated         OrderStatus = "activated"
)

// orderStatusRank fixes the ordering of the state machine. Transitions are
// monotonic: an order never moves to a lower-ranked status.
var orderStatusRank = map[OrderStatus]int{
	OrderStatusPending:           0,
	OrderStatusConfirmed:         1,
	OrderStatusPreparingShipment: 2,
	OrderStatusShipped:           3,
	OrderStatusDelivered:         4,
	OrderStatusActivated:         5,
}

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	_, ok := orderStatusRank[s]
	return ok
}

// CanAdvanceTo reports whether moving from s to next is a forward transition.
func (s OrderStatus) CanAdvanceTo(next OrderStatus) bool {
	from, ok1 := orderStatusRank[s]
	to, ok2 := orderStatusRank[next]
	return ok1 && ok2 && to > from
}

// AtLeast reports whether s has reached the given stage.
func (s OrderStatus) AtLeast(stage OrderStatus) bool {
	from, ok1 := orderStatusRank[s]
	to, ok2 := orderStatusRank[stage]
	return ok1 && ok2 && from >= to
}

// BatchStatus is the lifecycle of an order batch.
type BatchStatus string

const (
	BatchStatusCollecting  BatchStatus = "collecting"
	BatchStatusReadyToShip BatchStatus = "ready_to_ship"
	BatchStatusShipping    BatchStatus = "shipping"
	BatchStatusCompleted   BatchStatus = "completed"
)

// SubscriptionStatus is the lifecycle of a SmarTeen Services subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusPending   SubscriptionStatus = "pending"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// ActivationMethodDeliveryWebhook marks subscriptions activated by the
// physical-delivery signal rather than manually.
const ActivationMethodDeliveryWebhook = "delivery_webhook"

// ProtectionLevel is the child protection profile fixed at order time.
type ProtectionLevel string

const (
	ProtectionStrict   ProtectionLevel = "strict"
	ProtectionModerate ProtectionLevel = "moderate"
)

// Order is a customer order, keyed by the Stripe checkout session id.
// It is a financial record and is never deleted.
type Order struct {
	ID          string      `db:"id" json:"id"`
	OrderNumber string      `db:"order_number" json:"order_number"`
	UserID      string      `db:"user_id" json:"user_id"`
	Status      OrderStatus `db:"status" json:"status"`

	// Product snapshot, frozen at order time.
	ProductName            string `db:"product_name" json:"product_name"`
	DevicePriceCents       int64  `db:"device_price_cents" json:"device_price_cents"`
	SubscriptionPriceCents int64  `db:"subscription_price_cents" json:"subscription_price_cents"`

	// Child snapshot.
	ChildFirstName  string          `db:"child_first_name" json:"child_first_name"`
	ChildAge        int             `db:"child_age" json:"child_age"`
	ProtectionLevel ProtectionLevel `db:"protection_level" json:"protection_level"`

	// Shipping.
	ShippingStreet     string `db:"shipping_street" json:"shipping_street"`
	ShippingCity       string `db:"shipping_city" json:"shipping_city"`
	ShippingPostalCode string `db:"shipping_postal_code" json:"shipping_postal_code"`
	ShippingCountry    string `db:"shipping_country" json:"shipping_country"`
	ShippingPhone      string `db:"shipping_phone" json:"shipping_phone"`

	// Payment gateway linkage, populated by the checkout-completed webhook.
	StripeCustomerID     string `db:"stripe_customer_id" json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID string `db:"stripe_subscription_id" json:"stripe_subscription_id,omitempty"`
	StripePaymentID      string `db:"stripe_payment_id" json:"stripe_payment_id,omitempty"`

	// Batch linkage, stamped when the batch ships.
	BatchID     string `db:"batch_id" json:"batch_id,omitempty"`
	BatchNumber string `db:"batch_number" json:"batch_number,omitempty"`

	// Timeline: one append-only timestamp per lifecycle stage.
	OrderedAt      time.Time  `db:"ordered_at" json:"ordered_at"`
	ConfirmedAt    *time.Time `db:"confirmed_at" json:"confirmed_at,omitempty"`
	BatchShippedAt *time.Time `db:"batch_shipped_at" json:"batch_shipped_at,omitempty"`
	ShippedAt      *time.Time `db:"shipped_at" json:"shipped_at,omitempty"`
	DeliveredAt    *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
	ActivatedAt    *time.Time `db:"activated_at" json:"activated_at,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// OrderBatch groups orders into a shipment cohort. At most one batch is in
// collecting state at any time; CurrentCount always equals len(OrderIDs).
type OrderBatch struct {
	ID                string         `db:"id" json:"id"`
	BatchNumber       string         `db:"batch_number" json:"batch_number"`
	Status            BatchStatus    `db:"status" json:"status"`
	OrderIDs          pq.StringArray `db:"order_ids" json:"order_ids"`
	TargetCount       int            `db:"target_count" json:"target_count"`
	CurrentCount      int            `db:"current_count" json:"current_count"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	EstimatedShipDate *time.Time     `db:"estimated_ship_date" json:"estimated_ship_date,omitempty"`
	ActualShipDate    *time.Time     `db:"actual_ship_date" json:"actual_ship_date,omitempty"`
}

// Subscription is the local record of a gateway subscription, tied 1:1 to
// the order that spawned it. It is created dormant and must not bill before
// the delivery-triggered activation.
type Subscription struct {
	ID               string             `db:"id" json:"id"`
	UserID           string             `db:"user_id" json:"user_id"`
	OrderID          string             `db:"order_id" json:"order_id"`
	Status           SubscriptionStatus `db:"status" json:"status"`
	ActivationMethod string             `db:"activation_method" json:"activation_method"`
	ActivatedAt      *time.Time         `db:"activated_at" json:"activated_at,omitempty"`
	CancelledAt      *time.Time         `db:"cancelled_at" json:"cancelled_at,omitempty"`
	BillingAmount    int64              `db:"billing_amount_cents" json:"billing_amount_cents"`
	NextBillingAt    *time.Time         `db:"next_billing_at" json:"next_billing_at,omitempty"`
	CreatedAt        time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time          `db:"updated_at" json:"updated_at"`
}

// User is a parent account.
type User struct {
	ID         string    `db:"id" json:"id"`
	Email      string    `db:"email" json:"email"`
	FirstName  string    `db:"first_name" json:"first_name"`
	LastName   string    `db:"last_name" json:"last_name"`
	Phone      string    `db:"phone" json:"phone,omitempty"`
	Street     string    `db:"street" json:"street,omitempty"`
	City       string    `db:"city" json:"city,omitempty"`
	PostalCode string    `db:"postal_code" json:"postal_code,omitempty"`
	Country    string    `db:"country" json:"country,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// Child is a configured child profile under a parent account.
type Child struct {
	ID          string    `db:"id" json:"id"`
	UserID      string    `db:"user_id" json:"user_id"`
	FirstName   string    `db:"first_name" json:"first_name"`
	BirthDate   time.Time `db:"birth_date" json:"birth_date"`
	HasSmarTeen bool      `db:"has_smarteen" json:"has_smarteen"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// AdminNotification is an operator-facing notification record.
type AdminNotification struct {
	ID        string    `db:"id" json:"id"`
	Type      string    `db:"type" json:"type"`
	BatchID   string    `db:"batch_id" json:"batch_id,omitempty"`
	Message   string    `db:"message" json:"message"`
	Read      bool      `db:"read" json:"read"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Admin notification types.
const (
	NotificationTypeBatchReady = "batch_ready"
)
