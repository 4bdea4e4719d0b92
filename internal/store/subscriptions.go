package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"smarteen-shop/internal/models"
)

// CreateSubscription persists a local subscription record. The id is the
// gateway-issued subscription id, so a webhook replay re-inserting the same
// record is absorbed by the conflict clause instead of duplicating it.
func (s *Store) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	query := `
		INSERT INTO subscriptions (id, user_id, order_id, status, activation_method, billing_amount_cents)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query,
		sub.ID, sub.UserID, sub.OrderID, sub.Status, sub.ActivationMethod, sub.BillingAmount)
	return err
}

// GetSubscription retrieves a subscription by gateway subscription id
func (s *Store) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.GetContext(ctx, &sub, "SELECT * FROM subscriptions WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("subscription %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetSubscriptionsByUserID retrieves a user's subscriptions, newest first
func (s *Store) GetSubscriptionsByUserID(ctx context.Context, userID string) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := s.db.SelectContext(ctx, &subs,
		"SELECT * FROM subscriptions WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return subs, err
}

// ActivateSubscription flips a subscription to active with its activation
// metadata. Re-applying the same activation keeps the first recorded
// timestamp.
func (s *Store) ActivateSubscription(ctx context.Context, id, method string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions SET
			status = $1,
			activation_method = $2,
			activated_at = COALESCE(activated_at, $3),
			updated_at = NOW()
		WHERE id = $4 AND status <> $5`,
		models.SubscriptionStatusActive, method, at, id, models.SubscriptionStatusCancelled)
	return err
}

// CancelSubscription marks a subscription cancelled on provider-originated
// deletion. The linked order is not touched.
func (s *Store) CancelSubscription(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions SET
			status = $1,
			cancelled_at = COALESCE(cancelled_at, $2),
			updated_at = NOW()
		WHERE id = $3`,
		models.SubscriptionStatusCancelled, at, id)
	return err
}

// UpdateNextBilling refreshes billing metadata from a provider event. It
// deliberately leaves status untouched.
func (s *Store) UpdateNextBilling(ctx context.Context, id string, next time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE subscriptions SET next_billing_at = $1, updated_at = NOW() WHERE id = $2",
		next, id)
	return err
}
