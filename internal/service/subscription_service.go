package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"smarteen-shop/internal/gateway"
	"smarteen-shop/internal/models"
	"smarteen-shop/internal/store"
	"smarteen-shop/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SubscriptionService runs the activation protocol: subscriptions are
// created dormant at order-confirmation time and only start billing once a
// delivery event is recorded against their linked order. Both the explicit
// activation call and the provider-pushed subscription-updated event funnel
// through a single transition function so the "active iff delivered or
// later" invariant lives in one place.
type SubscriptionService struct {
	orders         OrderStore
	subscriptions  SubscriptionStore
	gateway        gateway.PaymentGateway
	eventPublisher EventPublisher
	billingAmount  int64
	logger         *zap.Logger
}

// NewSubscriptionService creates a new subscription service
func NewSubscriptionService(
	orders OrderStore,
	subscriptions SubscriptionStore,
	gw gateway.PaymentGateway,
	eventPublisher EventPublisher,
	billingAmountCents int64,
) *SubscriptionService {
	return &SubscriptionService{
		orders:         orders,
		subscriptions:  subscriptions,
		gateway:        gw,
		eventPublisher: eventPublisher,
		billingAmount:  billingAmountCents,
		logger:         util.GetLogger(),
	}
}

// CreateDormantSubscription creates the gateway subscription with its trial
// a year out and persists the local record in pending state. Gateway errors
// propagate: there is no safe partial-completion path, and the caller must
// not confirm the order without it.
func (ss *SubscriptionService) CreateDormantSubscription(ctx context.Context, customerID, orderID, userID string) (*gateway.Subscription, error) {
	ctx, span := util.StartSpan(ctx, "SubscriptionService.CreateDormantSubscription")
	defer span.End()

	sub, err := ss.gateway.CreateDormantSubscription(ctx, customerID, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to create dormant subscription: %w", err)
	}

	record := &models.Subscription{
		ID:               sub.ID,
		UserID:           userID,
		OrderID:          orderID,
		Status:           models.SubscriptionStatusPending,
		ActivationMethod: models.ActivationMethodDeliveryWebhook,
		BillingAmount:    ss.billingAmount,
	}
	if err := ss.subscriptions.CreateSubscription(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to persist subscription record: %w", err)
	}

	util.SubscriptionsCreatedTotal.Inc()
	ss.logger.Info("Dormant subscription created",
		zap.String("subscription_id", sub.ID),
		zap.String("order_id", orderID))

	return sub, nil
}

// EnsureSubscriptionRecord re-persists the local record for an existing
// gateway subscription. Used on webhook replays where the gateway object
// already exists; the insert is a no-op when the record is present.
func (ss *SubscriptionService) EnsureSubscriptionRecord(ctx context.Context, subscriptionID, orderID, userID string) error {
	return ss.subscriptions.CreateSubscription(ctx, &models.Subscription{
		ID:               subscriptionID,
		UserID:           userID,
		OrderID:          orderID,
		Status:           models.SubscriptionStatusPending,
		ActivationMethod: models.ActivationMethodDeliveryWebhook,
		BillingAmount:    ss.billingAmount,
	})
}

// ActivateOnDelivery ends the dormant subscription's trial for a delivered
// order. Preconditions are rejected explicitly with no mutation: the order
// must exist, carry a linked subscription, and already be delivered.
//
// The three steps are deliberately sequenced gateway-first: a failure after
// the billing change but before the local updates is recoverable by
// re-running this call (every step is idempotent), whereas the reverse
// ordering could mark an order activated that never bills.
func (ss *SubscriptionService) ActivateOnDelivery(ctx context.Context, orderID string) error {
	ctx, span := util.StartSpan(ctx, "SubscriptionService.ActivateOnDelivery")
	defer span.End()

	order, err := ss.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.StripeSubscriptionID == "" {
		return fmt.Errorf("order %s: %w", orderID, ErrNoLinkedSubscription)
	}
	if !order.Status.AtLeast(models.OrderStatusDelivered) {
		return fmt.Errorf("order %s has status %q: %w", orderID, order.Status, ErrOrderNotDelivered)
	}

	if _, err := ss.gateway.EndTrialNow(ctx, order.StripeSubscriptionID); err != nil {
		return fmt.Errorf("failed to end subscription trial: %w", err)
	}

	return ss.markActivated(ctx, order.StripeSubscriptionID, orderID, order.UserID, nil)
}

// markActivated is the single idempotent transition shared by the explicit
// delivery path and the provider-pushed subscription-updated event. It
// advances the order to activated (stamping the timeline once) and flips
// the local subscription to active.
func (ss *SubscriptionService) markActivated(ctx context.Context, subscriptionID, orderID, userID string, nextBilling *time.Time) error {
	now := time.Now()

	if orderID != "" {
		err := ss.orders.AdvanceOrderStatus(ctx, orderID, models.OrderStatusActivated, now)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("failed to mark order activated: %w", err)
		}
		if err != nil {
			// The event referenced an order this system never saw; the
			// subscription state is still authoritative.
			ss.logger.Warn("Activation event for unknown order",
				zap.String("order_id", orderID),
				zap.String("subscription_id", subscriptionID))
		}
	}

	if err := ss.subscriptions.ActivateSubscription(ctx, subscriptionID, models.ActivationMethodDeliveryWebhook, now); err != nil {
		return fmt.Errorf("failed to activate subscription record: %w", err)
	}
	if nextBilling != nil {
		if err := ss.subscriptions.UpdateNextBilling(ctx, subscriptionID, *nextBilling); err != nil {
			return fmt.Errorf("failed to update next billing date: %w", err)
		}
	}

	util.SubscriptionsActivatedTotal.Inc()
	ss.logger.Info("Subscription activated",
		zap.String("subscription_id", subscriptionID),
		zap.String("order_id", orderID))

	event := &models.SubscriptionActivatedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeSubscriptionActivated,
			Timestamp: now,
		},
		SubscriptionID: subscriptionID,
		OrderID:        orderID,
		UserID:         userID,
	}
	if err := ss.eventPublisher.PublishSubscriptionActivated(ctx, event); err != nil {
		ss.logger.Error("Failed to publish SubscriptionActivated event", zap.Error(err))
	}

	return nil
}

// HandleSubscriptionUpdated applies a provider-pushed subscription change.
// An active, unpaused subscription confirms activation independently of the
// explicit delivery call; anything else is ignored.
func (ss *SubscriptionService) HandleSubscriptionUpdated(ctx context.Context, sub *gateway.Subscription) error {
	ctx, span := util.StartSpan(ctx, "SubscriptionService.HandleSubscriptionUpdated")
	defer span.End()

	if !sub.ActiveUnpaused() {
		ss.logger.Debug("Ignoring subscription update",
			zap.String("subscription_id", sub.ID),
			zap.String("status", sub.Status),
			zap.Bool("paused", sub.Paused))
		return nil
	}

	var nextBilling *time.Time
	if !sub.CurrentPeriodEnd.IsZero() {
		nextBilling = &sub.CurrentPeriodEnd
	}

	var userID string
	if order, err := ss.orders.GetOrderByID(ctx, sub.OrderID); err == nil {
		userID = order.UserID
	}

	return ss.markActivated(ctx, sub.ID, sub.OrderID, userID, nextBilling)
}

// HandleInvoicePaid refreshes billing metadata from a successful recurring
// payment. Status is deliberately untouched.
func (ss *SubscriptionService) HandleInvoicePaid(ctx context.Context, subscriptionID string) error {
	ctx, span := util.StartSpan(ctx, "SubscriptionService.HandleInvoicePaid")
	defer span.End()

	sub, err := ss.gateway.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return fmt.Errorf("failed to fetch subscription %s: %w", subscriptionID, err)
	}
	if sub.CurrentPeriodEnd.IsZero() {
		return nil
	}

	if err := ss.subscriptions.UpdateNextBilling(ctx, subscriptionID, sub.CurrentPeriodEnd); err != nil {
		return fmt.Errorf("failed to update next billing date: %w", err)
	}
	return nil
}

// HandleSubscriptionDeleted records a provider-originated cancellation.
// The linked order is not touched.
func (ss *SubscriptionService) HandleSubscriptionDeleted(ctx context.Context, sub *gateway.Subscription) error {
	ctx, span := util.StartSpan(ctx, "SubscriptionService.HandleSubscriptionDeleted")
	defer span.End()

	if err := ss.subscriptions.CancelSubscription(ctx, sub.ID, time.Now()); err != nil {
		return fmt.Errorf("failed to cancel subscription record: %w", err)
	}

	util.SubscriptionsCancelledTotal.Inc()
	ss.logger.Info("Subscription cancelled",
		zap.String("subscription_id", sub.ID),
		zap.String("order_id", sub.OrderID))

	event := &models.SubscriptionCancelledEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeSubscriptionCancelled,
			Timestamp: time.Now(),
		},
		SubscriptionID: sub.ID,
		OrderID:        sub.OrderID,
	}
	if err := ss.eventPublisher.PublishSubscriptionCancelled(ctx, event); err != nil {
		ss.logger.Error("Failed to publish SubscriptionCancelled event", zap.Error(err))
	}

	return nil
}

// GetUserSubscriptions lists a user's subscriptions, newest first.
func (ss *SubscriptionService) GetUserSubscriptions(ctx context.Context, userID string) ([]models.Subscription, error) {
	return ss.subscriptions.GetSubscriptionsByUserID(ctx, userID)
}
