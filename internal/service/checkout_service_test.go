package service

import (
	"context"
	"testing"
	"time"

	"smarteen-shop/config"
	"smarteen-shop/internal/gateway"
	"smarteen-shop/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCheckoutService(ms *memStore, gw *fakeGateway, target int) *CheckoutService {
	batches, _, _ := newBatchService(ms, target)
	cfg := &config.BusinessConfig{
		BatchTargetCount:       target,
		BatchShipLeadDays:      3,
		DevicePriceCents:       28900,
		SubscriptionPriceCents: 999,
		Currency:               "eur",
	}
	return NewCheckoutService(ms, batches, gw, cfg)
}

func sessionRequest() *CreateSessionRequest {
	return &CreateSessionRequest{
		UserID:    "user-1",
		UserEmail: "parent@example.com",
		Items: []CheckoutItem{{
			ChildFirstName:  "Emma",
			ChildBirthDate:  time.Date(2014, 6, 1, 0, 0, 0, 0, time.UTC),
			ProtectionLevel: models.ProtectionStrict,
		}},
		ShippingAddress: gateway.Address{
			Street:     "12 Rue de la Paix",
			City:       "Paris",
			PostalCode: "75002",
			Country:    "FR",
		},
		Phone: "+33612345678",
	}
}

func TestCreateSession(t *testing.T) {
	ms := newMemStore()
	gw := newFakeGateway()
	cs := newCheckoutService(ms, gw, 5)
	ctx := context.Background()

	sess, err := cs.CreateSession(ctx, sessionRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.NotEmpty(t, sess.URL)

	// The draft order is keyed by the checkout session id and starts pending.
	order, err := ms.GetOrderByID(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Regexp(t, `^SMT-\d{8}-\d{3}$`, order.OrderNumber)
	assert.Equal(t, "Emma", order.ChildFirstName)
	assert.Equal(t, models.ProtectionStrict, order.ProtectionLevel)
	assert.Equal(t, int64(28900), order.DevicePriceCents)
	assert.Equal(t, "FR", order.ShippingCountry)
	assert.False(t, order.OrderedAt.IsZero())

	// Initiation already placed the order in the collecting batch.
	assert.Equal(t, 1, ms.membershipCount(sess.ID))
}

func TestCreateSessionEmptyCart(t *testing.T) {
	ms := newMemStore()
	cs := newCheckoutService(ms, newFakeGateway(), 5)

	req := sessionRequest()
	req.Items = nil
	_, err := cs.CreateSession(context.Background(), req)
	require.Error(t, err)
	assert.Empty(t, ms.orders)
}

func TestCreateSessionAdmissionFailureIsFatal(t *testing.T) {
	ms := newMemStore()
	cs := newCheckoutService(ms, newFakeGateway(), 5)
	ms.failAdmit = true

	_, err := cs.CreateSession(context.Background(), sessionRequest())
	require.Error(t, err)
}

func TestMarkDelivered(t *testing.T) {
	ms := newMemStore()
	cs := newCheckoutService(ms, newFakeGateway(), 5)
	ctx := context.Background()

	require.NoError(t, ms.CreateOrder(ctx, &models.Order{
		ID: "cs_1", Status: models.OrderStatusShipped,
	}))

	require.NoError(t, cs.MarkDelivered(ctx, "cs_1"))
	order, err := ms.GetOrderByID(ctx, "cs_1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusDelivered, order.Status)
	require.NotNil(t, order.DeliveredAt)

	// Repeated delivery scans are no-ops.
	firstDelivered := *order.DeliveredAt
	require.NoError(t, cs.MarkDelivered(ctx, "cs_1"))
	order, err = ms.GetOrderByID(ctx, "cs_1")
	require.NoError(t, err)
	assert.Equal(t, firstDelivered, *order.DeliveredAt)
}

func TestAdvanceOrderRejectsUnknownStatus(t *testing.T) {
	ms := newMemStore()
	cs := newCheckoutService(ms, newFakeGateway(), 5)

	err := cs.AdvanceOrder(context.Background(), "cs_1", models.OrderStatus("lost"))
	require.Error(t, err)
}
