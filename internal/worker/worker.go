package worker

import (
	"context"
	"log"

	"smarteen-shop/internal/broker"
	"smarteen-shop/internal/models"
	"smarteen-shop/internal/store"
	"smarteen-shop/internal/util"

	"go.uber.org/zap"
)

// NotificationWorker consumes order lifecycle events and fans out customer
// notifications. Delivery of notifications is best-effort by design: the
// state transitions that produced the events are already durable.
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	store        *store.Store
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer *broker.Consumer, st *store.Store) *NotificationWorker {
	w := &NotificationWorker{
		consumer: consumer,
		store:    st,
		logger:   util.GetLogger(),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnOrderConfirmed(w.handleOrderConfirmed)
	eventHandler.OnBatchReady(w.handleBatchReady)
	eventHandler.OnBatchShipped(w.handleBatchShipped)
	eventHandler.OnSubscriptionActivated(w.handleSubscriptionActivated)
	w.eventHandler = eventHandler

	return w
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	log.Println("Starting notification worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	log.Println("Stopping notification worker...")
	return w.consumer.Close()
}

func (w *NotificationWorker) handleOrderConfirmed(ctx context.Context, event *models.OrderConfirmedEvent) error {
	// TODO: wire a real mail provider; for now the outbound notification is
	// only logged.
	w.logger.Info("Sending order confirmation",
		zap.String("order_id", event.OrderID),
		zap.String("order_number", event.OrderNumber),
		zap.String("user_id", event.UserID))
	return nil
}

// handleBatchReady alerts operators that a cohort is full and due for
// shipment. The durable admin notification is already written by the
// batching engine when the batch flips; this is the out-of-band alert.
func (w *NotificationWorker) handleBatchReady(ctx context.Context, event *models.BatchReadyEvent) error {
	w.logger.Info("Batch ready to ship",
		zap.String("batch_id", event.BatchID),
		zap.String("batch_number", event.BatchNumber),
		zap.Int("order_count", event.OrderCount),
		zap.Time("estimated_ship_date", event.EstimatedShipDate))
	return nil
}

// handleBatchShipped notifies every customer in the shipped batch. Failures
// on individual orders are logged and skipped so one bad record never
// blocks the rest of the cohort.
func (w *NotificationWorker) handleBatchShipped(ctx context.Context, event *models.BatchShippedEvent) error {
	for _, orderID := range event.OrderIDs {
		order, err := w.store.GetOrderByID(ctx, orderID)
		if err != nil {
			w.logger.Error("Failed to load order for shipment notification",
				zap.String("order_id", orderID), zap.Error(err))
			continue
		}

		w.logger.Info("Sending shipment notification",
			zap.String("order_id", order.ID),
			zap.String("order_number", order.OrderNumber),
			zap.String("user_id", order.UserID),
			zap.String("batch_number", event.BatchNumber))
	}

	w.logger.Info("Batch shipment notifications sent",
		zap.String("batch_id", event.BatchID),
		zap.Int("order_count", len(event.OrderIDs)))
	return nil
}

func (w *NotificationWorker) handleSubscriptionActivated(ctx context.Context, event *models.SubscriptionActivatedEvent) error {
	w.logger.Info("Sending subscription activation notice",
		zap.String("subscription_id", event.SubscriptionID),
		zap.String("order_id", event.OrderID),
		zap.String("user_id", event.UserID))
	return nil
}
