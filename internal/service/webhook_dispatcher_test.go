package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"smarteen-shop/internal/gateway"
	"smarteen-shop/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dispatcherFixture struct {
	store      *memStore
	gateway    *fakeGateway
	publisher  *capturePublisher
	cache      *memCache
	dispatcher *WebhookDispatcher
}

func newDispatcherFixture() *dispatcherFixture {
	ms := newMemStore()
	gw := newFakeGateway()
	pub := &capturePublisher{}
	cache := newMemCache()
	subs := NewSubscriptionService(ms, ms, gw, pub, 999)
	return &dispatcherFixture{
		store:      ms,
		gateway:    gw,
		publisher:  pub,
		cache:      cache,
		dispatcher: NewWebhookDispatcher(ms, ms, subs, pub, cache, gw),
	}
}

func eventPayload(t *testing.T, event *gateway.Event) []byte {
	t.Helper()
	data, err := json.Marshal(event)
	require.NoError(t, err)
	return data
}

func checkoutCompletedEvent(eventID, sessionID string) *gateway.Event {
	return &gateway.Event{
		ID:   eventID,
		Type: gateway.EventCheckoutCompleted,
		Checkout: &gateway.CompletedCheckout{
			SessionID:  sessionID,
			CustomerID: "cus_test",
			PaymentID:  "pi_test",
			UserID:     "user-1",
			ShippingAddress: &gateway.Address{
				Street:     "12 Rue de la Paix",
				City:       "Paris",
				PostalCode: "75002",
				Country:    "FR",
			},
			Phone: "+33612345678",
		},
	}
}

func TestDispatchInvalidSignature(t *testing.T) {
	f := newDispatcherFixture()
	ctx := context.Background()

	require.NoError(t, f.store.CreateOrder(ctx, &models.Order{
		ID: "cs_draft", Status: models.OrderStatusPending,
	}))

	payload := eventPayload(t, checkoutCompletedEvent("evt_1", "cs_draft"))
	err := f.dispatcher.Dispatch(ctx, payload, "t=1,v1=forged")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidSignature))

	// Zero side effects: order untouched, nothing created, nothing marked.
	order, err := f.store.GetOrderByID(ctx, "cs_draft")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Empty(t, f.store.subscriptions)
	assert.Empty(t, f.store.processed)
	assert.Len(t, f.publisher.confirmed, 0)
}

func TestDispatchCheckoutCompleted(t *testing.T) {
	f := newDispatcherFixture()
	ctx := context.Background()

	f.store.users["user-1"] = &models.User{ID: "user-1"}
	require.NoError(t, f.store.CreateOrder(ctx, &models.Order{
		ID:     "cs_draft",
		UserID: "user-1",
		Status: models.OrderStatusPending,
	}))

	payload := eventPayload(t, checkoutCompletedEvent("evt_1", "cs_draft"))
	require.NoError(t, f.dispatcher.Dispatch(ctx, payload, testSignature))

	order, err := f.store.GetOrderByID(ctx, "cs_draft")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, order.Status)
	assert.Equal(t, "cus_test", order.StripeCustomerID)
	assert.Equal(t, "pi_test", order.StripePaymentID)
	assert.NotEmpty(t, order.StripeSubscriptionID)
	assert.Equal(t, "Paris", order.ShippingCity)
	assert.Equal(t, "+33612345678", order.ShippingPhone)
	require.NotNil(t, order.ConfirmedAt)

	// The dormant subscription record landed in pending state.
	record, err := f.store.GetSubscription(ctx, order.StripeSubscriptionID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusPending, record.Status)
	assert.Equal(t, "cs_draft", record.OrderID)

	// Profile contact refreshed from the checkout details.
	assert.Equal(t, "Paris", f.store.users["user-1"].City)
	assert.Equal(t, "+33612345678", f.store.users["user-1"].Phone)

	require.Len(t, f.publisher.confirmed, 1)
	assert.Equal(t, "cs_draft", f.publisher.confirmed[0].OrderID)
	assert.Equal(t, gateway.EventCheckoutCompleted, f.store.processed["evt_1"])
}

func TestDispatchCheckoutCompletedUnknownOrder(t *testing.T) {
	f := newDispatcherFixture()
	ctx := context.Background()

	payload := eventPayload(t, checkoutCompletedEvent("evt_1", "cs_never_seen"))
	// Acknowledged without action so the provider stops redelivering.
	require.NoError(t, f.dispatcher.Dispatch(ctx, payload, testSignature))
	assert.Empty(t, f.store.subscriptions)
	assert.Len(t, f.publisher.confirmed, 0)
}

func TestDispatchDeduplicatesEventID(t *testing.T) {
	f := newDispatcherFixture()
	ctx := context.Background()

	require.NoError(t, f.store.CreateOrder(ctx, &models.Order{
		ID: "cs_draft", UserID: "user-1", Status: models.OrderStatusPending,
	}))

	payload := eventPayload(t, checkoutCompletedEvent("evt_1", "cs_draft"))
	require.NoError(t, f.dispatcher.Dispatch(ctx, payload, testSignature))

	// Success sets the fast-path marker, so the redelivery short-circuits.
	seen, err := f.cache.IsEventSeen(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)

	require.NoError(t, f.dispatcher.Dispatch(ctx, payload, testSignature))

	// One subscription, one confirmation, one published event.
	assert.Len(t, f.store.subscriptions, 1)
	assert.Len(t, f.publisher.confirmed, 1)
}

func TestDispatchReplayWithNewEventID(t *testing.T) {
	f := newDispatcherFixture()
	ctx := context.Background()

	require.NoError(t, f.store.CreateOrder(ctx, &models.Order{
		ID: "cs_draft", UserID: "user-1", Status: models.OrderStatusPending,
	}))

	// The provider may redeliver the same checkout under a fresh event id.
	require.NoError(t, f.dispatcher.Dispatch(ctx,
		eventPayload(t, checkoutCompletedEvent("evt_1", "cs_draft")), testSignature))
	require.NoError(t, f.dispatcher.Dispatch(ctx,
		eventPayload(t, checkoutCompletedEvent("evt_2", "cs_draft")), testSignature))

	// The handler itself is idempotent: the existing subscription linkage is
	// reused, no second gateway subscription is created.
	assert.Len(t, f.store.subscriptions, 1)
	assert.Len(t, f.gateway.subs, 1)
	order, err := f.store.GetOrderByID(ctx, "cs_draft")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, order.Status)
}

func TestDispatchUnknownEventType(t *testing.T) {
	f := newDispatcherFixture()
	ctx := context.Background()

	payload := eventPayload(t, &gateway.Event{ID: "evt_1", Type: "customer.created"})
	require.NoError(t, f.dispatcher.Dispatch(ctx, payload, testSignature))

	// Acknowledged and recorded so a redelivery short-circuits.
	assert.Equal(t, "customer.created", f.store.processed["evt_1"])
}

func TestDispatchSubscriptionUpdated(t *testing.T) {
	f := newDispatcherFixture()
	ctx := context.Background()

	require.NoError(t, f.store.CreateOrder(ctx, &models.Order{
		ID: "cs_draft", UserID: "user-1", Status: models.OrderStatusDelivered,
		StripeSubscriptionID: "sub_test_1",
	}))
	require.NoError(t, f.store.CreateSubscription(ctx, &models.Subscription{
		ID: "sub_test_1", UserID: "user-1", OrderID: "cs_draft",
		Status: models.SubscriptionStatusPending,
	}))

	payload := eventPayload(t, &gateway.Event{
		ID:   "evt_1",
		Type: gateway.EventSubscriptionUpdated,
		Subscription: &gateway.Subscription{
			ID:               "sub_test_1",
			OrderID:          "cs_draft",
			Status:           "active",
			CurrentPeriodEnd: time.Now().AddDate(0, 1, 0),
		},
	})
	require.NoError(t, f.dispatcher.Dispatch(ctx, payload, testSignature))

	record, err := f.store.GetSubscription(ctx, "sub_test_1")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, record.Status)
	order, err := f.store.GetOrderByID(ctx, "cs_draft")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusActivated, order.Status)
}

func TestDispatchInvoicePaidWithoutSubscription(t *testing.T) {
	f := newDispatcherFixture()

	// One-off invoices carry no subscription id and are acknowledged as-is.
	payload := eventPayload(t, &gateway.Event{ID: "evt_1", Type: gateway.EventInvoicePaid})
	require.NoError(t, f.dispatcher.Dispatch(context.Background(), payload, testSignature))
	assert.Equal(t, gateway.EventInvoicePaid, f.store.processed["evt_1"])
}

func TestDispatchSubscriptionDeleted(t *testing.T) {
	f := newDispatcherFixture()
	ctx := context.Background()

	require.NoError(t, f.store.CreateSubscription(ctx, &models.Subscription{
		ID: "sub_test_1", UserID: "user-1", OrderID: "cs_draft",
		Status: models.SubscriptionStatusActive,
	}))

	payload := eventPayload(t, &gateway.Event{
		ID:   "evt_1",
		Type: gateway.EventSubscriptionDeleted,
		Subscription: &gateway.Subscription{
			ID:      "sub_test_1",
			OrderID: "cs_draft",
			Status:  "canceled",
		},
	})
	require.NoError(t, f.dispatcher.Dispatch(ctx, payload, testSignature))

	record, err := f.store.GetSubscription(ctx, "sub_test_1")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCancelled, record.Status)
	require.Len(t, f.publisher.cancelled, 1)
}

func TestDispatchHandlerFailureAllowsRedelivery(t *testing.T) {
	f := newDispatcherFixture()
	ctx := context.Background()

	require.NoError(t, f.store.CreateOrder(ctx, &models.Order{
		ID: "cs_draft", UserID: "user-1", Status: models.OrderStatusPending,
	}))
	f.gateway.failCreate = true

	payload := eventPayload(t, checkoutCompletedEvent("evt_1", "cs_draft"))
	require.Error(t, f.dispatcher.Dispatch(ctx, payload, testSignature))
	assert.Empty(t, f.store.processed)

	// A failed handler leaves no dedup marker behind: if one existed, the
	// redelivery below would be acknowledged as duplicate and the event
	// would be lost for the whole marker TTL.
	seen, err := f.cache.IsEventSeen(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)

	// After the gateway recovers, the redelivered event completes.
	f.gateway.failCreate = false
	require.NoError(t, f.dispatcher.Dispatch(ctx, payload, testSignature))
	order, err := f.store.GetOrderByID(ctx, "cs_draft")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, order.Status)
	assert.Len(t, f.store.subscriptions, 1)
}
