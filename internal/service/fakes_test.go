package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"smarteen-shop/internal/gateway"
	"smarteen-shop/internal/models"
	"smarteen-shop/internal/store"
)

const testSignature = "t=1,v1=valid"

// memStore is an in-memory stand-in for the Postgres store, mirroring its
// documented atomic semantics: admissions serialize under one lock and
// shipment either applies to every member order or to none.
type memStore struct {
	mu            sync.Mutex
	orders        map[string]*models.Order
	batches       map[string]*models.OrderBatch
	batchSeq      int
	subscriptions map[string]*models.Subscription
	processed     map[string]string
	notifications []*models.AdminNotification
	users         map[string]*models.User

	failAdmit bool
	failShip  bool
}

func newMemStore() *memStore {
	return &memStore{
		orders:        make(map[string]*models.Order),
		batches:       make(map[string]*models.OrderBatch),
		subscriptions: make(map[string]*models.Subscription),
		processed:     make(map[string]string),
		users:         make(map[string]*models.User),
	}
}

func (m *memStore) AdmitOrder(ctx context.Context, orderID string, targetCount int, shipLead time.Duration) (*models.OrderBatch, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failAdmit {
		return nil, false, errors.New("store unavailable")
	}

	for _, b := range m.batches {
		for _, id := range b.OrderIDs {
			if id == orderID {
				return b, false, nil
			}
		}
	}

	var current *models.OrderBatch
	for _, b := range m.batches {
		if b.Status == models.BatchStatusCollecting {
			current = b
			break
		}
	}
	if current == nil {
		m.batchSeq++
		current = &models.OrderBatch{
			ID:          fmt.Sprintf("batch-%d", m.batchSeq),
			BatchNumber: fmt.Sprintf("BATCH-%d", m.batchSeq),
			Status:      models.BatchStatusCollecting,
			TargetCount: targetCount,
			CreatedAt:   time.Now(),
		}
		m.batches[current.ID] = current
	}

	current.OrderIDs = append(current.OrderIDs, orderID)
	current.CurrentCount = len(current.OrderIDs)

	becameReady := false
	if current.CurrentCount >= current.TargetCount {
		estimated := time.Now().Add(shipLead)
		current.Status = models.BatchStatusReadyToShip
		current.EstimatedShipDate = &estimated
		becameReady = true
	}

	return current, becameReady, nil
}

func (m *memStore) GetBatch(ctx context.Context, id string) (*models.OrderBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return nil, fmt.Errorf("batch %s: %w", id, store.ErrNotFound)
	}
	return b, nil
}

func (m *memStore) GetBatchContainingOrder(ctx context.Context, orderID string) (*models.OrderBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.batches {
		for _, id := range b.OrderIDs {
			if id == orderID {
				return b, nil
			}
		}
	}
	return nil, nil
}

func (m *memStore) ListBatches(ctx context.Context) ([]models.OrderBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.OrderBatch, 0, len(m.batches))
	for _, b := range m.batches {
		out = append(out, *b)
	}
	return out, nil
}

func (m *memStore) ShipBatch(ctx context.Context, batchID string, now time.Time) (*models.OrderBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	batch, ok := m.batches[batchID]
	if !ok {
		return nil, fmt.Errorf("batch %s: %w", batchID, store.ErrNotFound)
	}
	if batch.Status != models.BatchStatusReadyToShip {
		return nil, fmt.Errorf("batch %s is not ready to ship: %w", batchID, store.ErrInvalidTransition)
	}
	if m.failShip {
		// Injected fault at the atomic-write boundary: nothing is applied.
		return nil, errors.New("bulk update failed")
	}

	batch.Status = models.BatchStatusShipping
	batch.ActualShipDate = &now
	for _, orderID := range batch.OrderIDs {
		order, ok := m.orders[orderID]
		if !ok {
			continue
		}
		order.Status = models.OrderStatusPreparingShipment
		if order.BatchShippedAt == nil {
			t := now
			order.BatchShippedAt = &t
		}
		order.BatchID = batch.ID
		order.BatchNumber = batch.BatchNumber
	}
	return batch, nil
}

func (m *memStore) CompleteBatch(ctx context.Context, batchID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch, ok := m.batches[batchID]
	if !ok {
		return fmt.Errorf("batch %s: %w", batchID, store.ErrNotFound)
	}
	if batch.Status != models.BatchStatusShipping {
		return fmt.Errorf("batch %s is not shipping: %w", batchID, store.ErrInvalidTransition)
	}
	batch.Status = models.BatchStatusCompleted
	return nil
}

func (m *memStore) CreateAdminNotification(ctx context.Context, n *models.AdminNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n.CreatedAt = time.Now()
	m.notifications = append(m.notifications, n)
	return nil
}

func (m *memStore) CreateOrder(ctx context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	m.orders[order.ID] = order
	return nil
}

func (m *memStore) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, store.ErrNotFound)
	}
	cp := *order
	return &cp, nil
}

func (m *memStore) GetOrdersByUserID(ctx context.Context, userID string) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *memStore) ConfirmOrder(ctx context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.orders[order.ID]
	if !ok {
		return fmt.Errorf("order %s: %w", order.ID, store.ErrNotFound)
	}
	stored.Status = models.OrderStatusConfirmed
	stored.StripeCustomerID = order.StripeCustomerID
	stored.StripeSubscriptionID = order.StripeSubscriptionID
	stored.StripePaymentID = order.StripePaymentID
	stored.ShippingStreet = order.ShippingStreet
	stored.ShippingCity = order.ShippingCity
	stored.ShippingPostalCode = order.ShippingPostalCode
	stored.ShippingCountry = order.ShippingCountry
	stored.ShippingPhone = order.ShippingPhone
	if stored.ConfirmedAt == nil {
		now := time.Now()
		stored.ConfirmedAt = &now
	}
	return nil
}

func (m *memStore) AdvanceOrderStatus(ctx context.Context, orderID string, status models.OrderStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s: %w", orderID, store.ErrNotFound)
	}
	if order.Status == status {
		return nil
	}
	if !order.Status.CanAdvanceTo(status) {
		return fmt.Errorf("order %s: %s -> %s: %w", orderID, order.Status, status, store.ErrInvalidTransition)
	}
	order.Status = status
	stamp := func(field **time.Time) {
		if *field == nil {
			t := at
			*field = &t
		}
	}
	switch status {
	case models.OrderStatusConfirmed:
		stamp(&order.ConfirmedAt)
	case models.OrderStatusPreparingShipment:
		stamp(&order.BatchShippedAt)
	case models.OrderStatusShipped:
		stamp(&order.ShippedAt)
	case models.OrderStatusDelivered:
		stamp(&order.DeliveredAt)
	case models.OrderStatusActivated:
		stamp(&order.ActivatedAt)
	}
	return nil
}

func (m *memStore) UpdateUserContact(ctx context.Context, userID, phone, street, city, postalCode, country string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return nil
	}
	if phone != "" {
		user.Phone = phone
	}
	if street != "" {
		user.Street = street
	}
	if city != "" {
		user.City = city
	}
	if postalCode != "" {
		user.PostalCode = postalCode
	}
	if country != "" {
		user.Country = country
	}
	return nil
}

func (m *memStore) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.subscriptions[sub.ID]; exists {
		return nil
	}
	sub.CreatedAt = time.Now()
	m.subscriptions[sub.ID] = sub
	return nil
}

func (m *memStore) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subscriptions[id]
	if !ok {
		return nil, fmt.Errorf("subscription %s: %w", id, store.ErrNotFound)
	}
	cp := *sub
	return &cp, nil
}

func (m *memStore) GetSubscriptionsByUserID(ctx context.Context, userID string) ([]models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Subscription
	for _, s := range m.subscriptions {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memStore) ActivateSubscription(ctx context.Context, id, method string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subscriptions[id]
	if !ok || sub.Status == models.SubscriptionStatusCancelled {
		return nil
	}
	sub.Status = models.SubscriptionStatusActive
	sub.ActivationMethod = method
	if sub.ActivatedAt == nil {
		t := at
		sub.ActivatedAt = &t
	}
	return nil
}

func (m *memStore) CancelSubscription(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subscriptions[id]
	if !ok {
		return nil
	}
	sub.Status = models.SubscriptionStatusCancelled
	if sub.CancelledAt == nil {
		t := at
		sub.CancelledAt = &t
	}
	return nil
}

func (m *memStore) UpdateNextBilling(ctx context.Context, id string, next time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub, ok := m.subscriptions[id]; ok {
		t := next
		sub.NextBillingAt = &t
	}
	return nil
}

func (m *memStore) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.processed[eventID]
	return ok, nil
}

func (m *memStore) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed[eventID] = eventType
	return nil
}

// collectingCount reports how many batches are currently collecting.
func (m *memStore) collectingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		if b.Status == models.BatchStatusCollecting {
			n++
		}
	}
	return n
}

// membershipCount reports in how many batches the order id appears.
func (m *memStore) membershipCount(orderID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		for _, id := range b.OrderIDs {
			if id == orderID {
				n++
			}
		}
	}
	return n
}

// capturePublisher records published lifecycle events.
type capturePublisher struct {
	mu        sync.Mutex
	confirmed []*models.OrderConfirmedEvent
	ready     []*models.BatchReadyEvent
	shipped   []*models.BatchShippedEvent
	activated []*models.SubscriptionActivatedEvent
	cancelled []*models.SubscriptionCancelledEvent
}

func (p *capturePublisher) PublishOrderConfirmed(ctx context.Context, e *models.OrderConfirmedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.confirmed = append(p.confirmed, e)
	return nil
}

func (p *capturePublisher) PublishBatchReady(ctx context.Context, e *models.BatchReadyEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ready = append(p.ready, e)
	return nil
}

func (p *capturePublisher) PublishBatchShipped(ctx context.Context, e *models.BatchShippedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shipped = append(p.shipped, e)
	return nil
}

func (p *capturePublisher) PublishSubscriptionActivated(ctx context.Context, e *models.SubscriptionActivatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activated = append(p.activated, e)
	return nil
}

func (p *capturePublisher) PublishSubscriptionCancelled(ctx context.Context, e *models.SubscriptionCancelledEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, e)
	return nil
}

// fakeGateway is an in-memory payment gateway. Event payloads are the JSON
// encoding of gateway.Event and only the fixed test signature verifies.
type fakeGateway struct {
	mu            sync.Mutex
	subs          map[string]*gateway.Subscription
	seq           int
	endTrialCalls []string
	failCreate    bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{subs: make(map[string]*gateway.Subscription)}
}

func (g *fakeGateway) CreateCheckoutSession(ctx context.Context, in gateway.CheckoutInput) (*gateway.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return &gateway.CheckoutSession{
		ID:         fmt.Sprintf("cs_test_%d", g.seq),
		CustomerID: "cus_test",
		URL:        "https://checkout.example/session",
	}, nil
}

func (g *fakeGateway) CreateDormantSubscription(ctx context.Context, customerID, orderID string) (*gateway.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failCreate {
		return nil, errors.New("no such customer")
	}
	g.seq++
	sub := &gateway.Subscription{
		ID:         fmt.Sprintf("sub_test_%d", g.seq),
		CustomerID: customerID,
		OrderID:    orderID,
		Status:     "trialing",
		TrialEnd:   time.Now().AddDate(1, 0, 0),
	}
	g.subs[sub.ID] = sub
	return sub, nil
}

func (g *fakeGateway) EndTrialNow(ctx context.Context, subscriptionID string) (*gateway.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.endTrialCalls = append(g.endTrialCalls, subscriptionID)
	sub, ok := g.subs[subscriptionID]
	if !ok {
		sub = &gateway.Subscription{ID: subscriptionID}
		g.subs[subscriptionID] = sub
	}
	sub.Status = "active"
	sub.TrialEnd = time.Now()
	sub.CurrentPeriodEnd = time.Now().AddDate(0, 1, 0)
	return sub, nil
}

func (g *fakeGateway) GetSubscription(ctx context.Context, subscriptionID string) (*gateway.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	sub, ok := g.subs[subscriptionID]
	if !ok {
		return nil, errors.New("no such subscription")
	}
	cp := *sub
	return &cp, nil
}

func (g *fakeGateway) BillingPortalURL(ctx context.Context, customerID string) (string, error) {
	return "https://billing.example/portal/" + customerID, nil
}

func (g *fakeGateway) VerifyEvent(payload []byte, signatureHeader string) (*gateway.Event, error) {
	if signatureHeader != testSignature {
		return nil, errors.New("signature mismatch")
	}
	var event gateway.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// memCache implements the wait-status cache and event dedup fast path.
type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	seen    map[string]bool
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string][]byte), seen: make(map[string]bool)}
}

func (c *memCache) CacheWaitStatus(ctx context.Context, orderID string, status interface{}, ttl time.Duration) error {
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[orderID] = data
	return nil
}

func (c *memCache) GetWaitStatus(ctx context.Context, orderID string, dest interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.entries[orderID]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, dest)
}

func (c *memCache) InvalidateWaitStatus(ctx context.Context, orderIDs ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range orderIDs {
		delete(c.entries, id)
	}
	return nil
}

func (c *memCache) IsEventSeen(ctx context.Context, eventID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seen[eventID], nil
}

func (c *memCache) MarkEventSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen[eventID] {
		return false, nil
	}
	c.seen[eventID] = true
	return true, nil
}
