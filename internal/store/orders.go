package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"smarteen-shop/internal/models"
)

// ErrNotFound is returned by point lookups when no row matches.
var ErrNotFound = fmt.Errorf("not found")

// CreateOrder persists a draft order keyed by the checkout session id
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (
			id, order_number, user_id, status,
			product_name, device_price_cents, subscription_price_cents,
			child_first_name, child_age, protection_level,
			shipping_street, shipping_city, shipping_postal_code, shipping_country, shipping_phone,
			ordered_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING created_at, updated_at`

	return s.db.GetContext(ctx, order, query,
		order.ID, order.OrderNumber, order.UserID, order.Status,
		order.ProductName, order.DevicePriceCents, order.SubscriptionPriceCents,
		order.ChildFirstName, order.ChildAge, order.ProtectionLevel,
		order.ShippingStreet, order.ShippingCity, order.ShippingPostalCode,
		order.ShippingCountry, order.ShippingPhone,
		order.OrderedAt)
}

// GetOrderByID retrieves an order by checkout session id
func (s *Store) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrdersByUserID retrieves a user's orders, newest first
func (s *Store) GetOrdersByUserID(ctx context.Context, userID string) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY ordered_at DESC", userID)
	return orders, err
}

// ConfirmOrder promotes a draft order to confirmed and records the gateway
// linkage and shipping details delivered by the checkout-completed event.
// Re-applying the same confirmation is a no-op in effect.
func (s *Store) ConfirmOrder(ctx context.Context, order *models.Order) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orders SET
			status = $1,
			stripe_customer_id = $2,
			stripe_subscription_id = $3,
			stripe_payment_id = $4,
			shipping_street = $5, shipping_city = $6, shipping_postal_code = $7,
			shipping_country = $8, shipping_phone = $9,
			confirmed_at = COALESCE(confirmed_at, $10),
			updated_at = NOW()
		WHERE id = $11`,
		models.OrderStatusConfirmed,
		order.StripeCustomerID, order.StripeSubscriptionID, order.StripePaymentID,
		order.ShippingStreet, order.ShippingCity, order.ShippingPostalCode,
		order.ShippingCountry, order.ShippingPhone,
		time.Now(), order.ID)
	return err
}

// ErrInvalidTransition is returned when a status update would move an order
// backwards in its state machine.
var ErrInvalidTransition = fmt.Errorf("invalid status transition")

// AdvanceOrderStatus moves an order forward in its state machine and stamps
// the matching timeline entry. The order row is locked for the check so a
// stale or duplicated signal never moves an order backwards; re-applying the
// current status is a no-op.
func (s *Store) AdvanceOrderStatus(ctx context.Context, orderID string, status models.OrderStatus, at time.Time) error {
	timelineCol := ""
	switch status {
	case models.OrderStatusConfirmed:
		timelineCol = "confirmed_at"
	case models.OrderStatusPreparingShipment:
		timelineCol = "batch_shipped_at"
	case models.OrderStatusShipped:
		timelineCol = "shipped_at"
	case models.OrderStatusDelivered:
		timelineCol = "delivered_at"
	case models.OrderStatusActivated:
		timelineCol = "activated_at"
	default:
		return fmt.Errorf("cannot advance order to status %q", status)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current models.OrderStatus
	err = tx.GetContext(ctx, &current,
		"SELECT status FROM orders WHERE id = $1 FOR UPDATE", orderID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return err
	}

	if current == status {
		return nil
	}
	if !current.CanAdvanceTo(status) {
		return fmt.Errorf("order %s: %s -> %s: %w", orderID, current, status, ErrInvalidTransition)
	}

	query := fmt.Sprintf(`
		UPDATE orders SET status = $1, %s = COALESCE(%s, $2), updated_at = NOW()
		WHERE id = $3`, timelineCol, timelineCol)

	if _, err := tx.ExecContext(ctx, query, status, at, orderID); err != nil {
		return fmt.Errorf("failed to advance order status: %w", err)
	}

	return tx.Commit()
}
