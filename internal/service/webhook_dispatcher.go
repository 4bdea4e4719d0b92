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

const eventSeenTTL = 24 * time.Hour

// EventDedupCache is an optional fast-path dedup check ahead of the durable
// processed_events table. A nil cache is valid. The marker is written only
// after an event has been fully handled: a marker set before the handler
// runs would classify every redelivery of a crashed handler as duplicate
// and lose the event for good.
type EventDedupCache interface {
	IsEventSeen(ctx context.Context, eventID string) (bool, error)
	MarkEventSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
}

// WebhookDispatcher verifies provider-signed event payloads and routes them
// to the correct internal mutation. The provider redelivers on non-2xx
// responses, so every handler must be safe to re-run; the dispatcher adds
// event-id deduplication on top.
type WebhookDispatcher struct {
	orders         OrderStore
	events         EventStore
	subscriptions  *SubscriptionService
	eventPublisher EventPublisher
	dedup          EventDedupCache
	gateway        gateway.PaymentGateway
	logger         *zap.Logger
}

// NewWebhookDispatcher creates a new webhook dispatcher
func NewWebhookDispatcher(
	orders OrderStore,
	events EventStore,
	subscriptions *SubscriptionService,
	eventPublisher EventPublisher,
	dedup EventDedupCache,
	gw gateway.PaymentGateway,
) *WebhookDispatcher {
	return &WebhookDispatcher{
		orders:         orders,
		events:         events,
		subscriptions:  subscriptions,
		eventPublisher: eventPublisher,
		dedup:          dedup,
		gateway:        gw,
		logger:         util.GetLogger(),
	}
}

// Dispatch verifies the payload signature and applies the event. A
// signature failure performs zero side effects. Unknown event types are
// acknowledged without action. The returned error gates the acknowledgment:
// nil means the primary mutation succeeded (or intentionally no-oped).
func (wd *WebhookDispatcher) Dispatch(ctx context.Context, payload []byte, signatureHeader string) error {
	ctx, span := util.StartSpan(ctx, "WebhookDispatcher.Dispatch")
	defer span.End()

	event, err := wd.gateway.VerifyEvent(payload, signatureHeader)
	if err != nil {
		util.WebhookVerificationFailures.Inc()
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	if dup, err := wd.alreadyProcessed(ctx, event.ID); err != nil {
		return err
	} else if dup {
		wd.logger.Info("Duplicate webhook event, acknowledging",
			zap.String("event_id", event.ID), zap.String("type", event.Type))
		util.WebhookEventsTotal.WithLabelValues(event.Type, "duplicate").Inc()
		return nil
	}

	if err := wd.handle(ctx, event); err != nil {
		util.WebhookEventsTotal.WithLabelValues(event.Type, "error").Inc()
		return err
	}

	util.WebhookEventsTotal.WithLabelValues(event.Type, "ok").Inc()
	if err := wd.events.MarkEventProcessed(ctx, event.ID, event.Type); err != nil {
		// Handlers are idempotent, so a redelivered event that slips past a
		// failed marker write converges to the same state.
		wd.logger.Warn("Failed to record processed event",
			zap.String("event_id", event.ID), zap.Error(err))
	}
	if wd.dedup != nil {
		if _, err := wd.dedup.MarkEventSeen(ctx, event.ID, eventSeenTTL); err != nil {
			wd.logger.Warn("Failed to set event dedup marker",
				zap.String("event_id", event.ID), zap.Error(err))
		}
	}
	return nil
}

func (wd *WebhookDispatcher) handle(ctx context.Context, event *gateway.Event) error {
	switch event.Type {
	case gateway.EventCheckoutCompleted:
		return wd.handleCheckoutCompleted(ctx, event.Checkout)

	case gateway.EventSubscriptionUpdated:
		return wd.subscriptions.HandleSubscriptionUpdated(ctx, event.Subscription)

	case gateway.EventInvoicePaid:
		if event.InvoiceSubscriptionID == "" {
			return nil
		}
		return wd.subscriptions.HandleInvoicePaid(ctx, event.InvoiceSubscriptionID)

	case gateway.EventSubscriptionDeleted:
		return wd.subscriptions.HandleSubscriptionDeleted(ctx, event.Subscription)

	default:
		// The provider's event vocabulary evolves independently of this
		// system; unknown types are acknowledged, never failed.
		wd.logger.Info("Unhandled webhook event type",
			zap.String("event_id", event.ID), zap.String("type", event.Type))
		return nil
	}
}

// handleCheckoutCompleted confirms the draft order: dormant subscription on
// the gateway, order promotion with gateway linkage and shipping details,
// local subscription record, and a best-effort profile contact update. Each
// write is an independent step; a partial failure is logged with the
// session id so provider redelivery (or manual reconciliation) can finish
// the job, and every step is a no-op when re-applied.
func (wd *WebhookDispatcher) handleCheckoutCompleted(ctx context.Context, checkout *gateway.CompletedCheckout) error {
	order, err := wd.orders.GetOrderByID(ctx, checkout.SessionID)
	if errors.Is(err, store.ErrNotFound) {
		// Retry for a purged session, or an order created by a different
		// flow. Not an error.
		wd.logger.Warn("Checkout completed for unknown order",
			zap.String("session_id", checkout.SessionID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load order %s: %w", checkout.SessionID, err)
	}

	userID := checkout.UserID
	if userID == "" {
		userID = order.UserID
	}

	subscriptionID := order.StripeSubscriptionID
	if subscriptionID == "" {
		sub, err := wd.subscriptions.CreateDormantSubscription(ctx, checkout.CustomerID, order.ID, userID)
		if err != nil {
			return fmt.Errorf("checkout %s: %w", checkout.SessionID, err)
		}
		subscriptionID = sub.ID
	} else if err := wd.subscriptions.EnsureSubscriptionRecord(ctx, subscriptionID, order.ID, userID); err != nil {
		return fmt.Errorf("checkout %s: failed to ensure subscription record: %w", checkout.SessionID, err)
	}

	order.StripeCustomerID = checkout.CustomerID
	order.StripeSubscriptionID = subscriptionID
	order.StripePaymentID = checkout.PaymentID
	// The event's shipping details win; stored draft values are the
	// fallback when the event omits them.
	if checkout.ShippingAddress != nil {
		order.ShippingStreet = checkout.ShippingAddress.Street
		order.ShippingCity = checkout.ShippingAddress.City
		order.ShippingPostalCode = checkout.ShippingAddress.PostalCode
		order.ShippingCountry = checkout.ShippingAddress.Country
	}
	if checkout.Phone != "" {
		order.ShippingPhone = checkout.Phone
	}

	if err := wd.orders.ConfirmOrder(ctx, order); err != nil {
		return fmt.Errorf("checkout %s: failed to confirm order: %w", checkout.SessionID, err)
	}

	util.OrdersConfirmedTotal.Inc()
	wd.logger.Info("Order confirmed",
		zap.String("order_id", order.ID),
		zap.String("subscription_id", subscriptionID))

	// Best-effort profile refresh; never gates the acknowledgment.
	if checkout.UserID != "" && checkout.ShippingAddress != nil {
		err := wd.orders.UpdateUserContact(ctx, checkout.UserID, checkout.Phone,
			checkout.ShippingAddress.Street, checkout.ShippingAddress.City,
			checkout.ShippingAddress.PostalCode, checkout.ShippingAddress.Country)
		if err != nil {
			wd.logger.Warn("Failed to update user profile from checkout",
				zap.String("user_id", checkout.UserID), zap.Error(err))
		}
	}

	event := &models.OrderConfirmedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderConfirmed,
			Timestamp: time.Now(),
		},
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         userID,
		SubscriptionID: subscriptionID,
	}
	if err := wd.eventPublisher.PublishOrderConfirmed(ctx, event); err != nil {
		wd.logger.Error("Failed to publish OrderConfirmed event", zap.Error(err))
	}

	return nil
}

func (wd *WebhookDispatcher) alreadyProcessed(ctx context.Context, eventID string) (bool, error) {
	if wd.dedup != nil {
		// Read-only fast path. The marker exists only for fully handled
		// events; a miss or cache failure falls through to the durable check.
		if seen, err := wd.dedup.IsEventSeen(ctx, eventID); err == nil && seen {
			return true, nil
		}
	}

	processed, err := wd.events.IsEventProcessed(ctx, eventID)
	if err != nil {
		return false, fmt.Errorf("failed to check processed events: %w", err)
	}
	return processed, nil
}
