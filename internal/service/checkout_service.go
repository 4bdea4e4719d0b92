package service

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"smarteen-shop/config"
	"smarteen-shop/internal/gateway"
	"smarteen-shop/internal/models"
	"smarteen-shop/internal/util"

	"go.uber.org/zap"
)

// CheckoutService initiates hosted checkout: it opens the gateway session,
// persists the draft order keyed by the session id, and admits the order to
// the current batch. A failed admission is fatal to the whole initiation so
// no order can reach confirmation without batch linkage.
type CheckoutService struct {
	orders  OrderStore
	batches *BatchService
	gateway gateway.PaymentGateway
	cfg     *config.BusinessConfig
	logger  *zap.Logger
}

// NewCheckoutService creates a new checkout service
func NewCheckoutService(orders OrderStore, batches *BatchService, gw gateway.PaymentGateway, cfg *config.BusinessConfig) *CheckoutService {
	return &CheckoutService{
		orders:  orders,
		batches: batches,
		gateway: gw,
		cfg:     cfg,
		logger:  util.GetLogger(),
	}
}

// CheckoutItem is one configured device in the cart.
type CheckoutItem struct {
	ChildFirstName  string                 `json:"child_first_name" binding:"required"`
	ChildBirthDate  time.Time              `json:"child_birth_date" binding:"required"`
	ProtectionLevel models.ProtectionLevel `json:"protection_level" binding:"required,oneof=strict moderate"`
}

// CreateSessionRequest is the checkout initiation payload.
type CreateSessionRequest struct {
	UserID          string           `json:"user_id" binding:"required"`
	UserEmail       string           `json:"user_email" binding:"required,email"`
	Items           []CheckoutItem   `json:"items" binding:"required,min=1"`
	ShippingAddress gateway.Address  `json:"shipping_address" binding:"required"`
	Phone           string           `json:"phone"`
}

// CreateSession opens the hosted checkout session and persists the draft
// order. Only one phone per order is handled for now.
func (cs *CheckoutService) CreateSession(ctx context.Context, req *CreateSessionRequest) (*gateway.CheckoutSession, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.CreateSession")
	defer span.End()

	if len(req.Items) == 0 {
		return nil, fmt.Errorf("no items in cart")
	}
	item := req.Items[0]

	sess, err := cs.gateway.CreateCheckoutSession(ctx, gateway.CheckoutInput{
		UserID:    req.UserID,
		UserEmail: req.UserEmail,
		Phone:     req.Phone,
		Child: gateway.ChildConfig{
			FirstName:       item.ChildFirstName,
			BirthDate:       item.ChildBirthDate,
			ProtectionLevel: string(item.ProtectionLevel),
		},
		Address: req.ShippingAddress,
	})
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("checkout_session").Inc()
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	order := &models.Order{
		ID:                     sess.ID,
		OrderNumber:            generateOrderNumber(),
		UserID:                 req.UserID,
		Status:                 models.OrderStatusPending,
		ProductName:            "SmarTeen Phone",
		DevicePriceCents:       cs.cfg.DevicePriceCents,
		SubscriptionPriceCents: cs.cfg.SubscriptionPriceCents,
		ChildFirstName:         item.ChildFirstName,
		ChildAge:               childAge(item.ChildBirthDate),
		ProtectionLevel:        item.ProtectionLevel,
		ShippingStreet:         req.ShippingAddress.Street,
		ShippingCity:           req.ShippingAddress.City,
		ShippingPostalCode:     req.ShippingAddress.PostalCode,
		ShippingCountry:        req.ShippingAddress.Country,
		ShippingPhone:          req.Phone,
		StripeCustomerID:       sess.CustomerID,
		OrderedAt:              time.Now(),
	}

	if err := cs.orders.CreateOrder(ctx, order); err != nil {
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to create draft order: %w", err)
	}

	util.OrdersCreatedTotal.Inc()
	cs.logger.Info("Draft order created",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber))

	// Admission failure blocks the checkout: an order with no batch linkage
	// must never progress to confirmed.
	if _, err := cs.batches.AdmitOrder(ctx, order.ID); err != nil {
		return nil, err
	}

	return sess, nil
}

// GetOrder retrieves an order by checkout session id.
func (cs *CheckoutService) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return cs.orders.GetOrderByID(ctx, orderID)
}

// GetUserOrders lists a user's orders, newest first.
func (cs *CheckoutService) GetUserOrders(ctx context.Context, userID string) ([]models.Order, error) {
	return cs.orders.GetOrdersByUserID(ctx, userID)
}

// MarkDelivered records the physical-delivery signal for an order.
func (cs *CheckoutService) MarkDelivered(ctx context.Context, orderID string) error {
	return cs.orders.AdvanceOrderStatus(ctx, orderID, models.OrderStatusDelivered, time.Now())
}

// AdvanceOrder moves an order one or more stages forward (operator action).
func (cs *CheckoutService) AdvanceOrder(ctx context.Context, orderID string, status models.OrderStatus) error {
	if !status.Valid() {
		return fmt.Errorf("unknown order status %q", status)
	}
	return cs.orders.AdvanceOrderStatus(ctx, orderID, status, time.Now())
}

// generateOrderNumber produces a human-readable SMT-YYYYMMDD-XXX number.
func generateOrderNumber() string {
	return fmt.Sprintf("SMT-%s-%03d", time.Now().Format("20060102"), rand.Intn(1000))
}

func childAge(birthDate time.Time) int {
	return time.Now().Year() - birthDate.Year()
}
