package service

import (
	"context"
	"fmt"
	"time"

	"smarteen-shop/internal/models"
	"smarteen-shop/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const waitStatusTTL = 30 * time.Second

// BatchService is the batching engine: it groups confirmed orders into
// fixed-size cohorts so shipment is triggered only once a cohort is full,
// and exposes progress information to the ordering customer.
type BatchService struct {
	store          BatchStore
	cache          WaitStatusCache
	eventPublisher EventPublisher
	targetCount    int
	shipLead       time.Duration
	logger         *zap.Logger
}

// NewBatchService creates a new batch service
func NewBatchService(store BatchStore, cache WaitStatusCache, eventPublisher EventPublisher, targetCount, shipLeadDays int) *BatchService {
	return &BatchService{
		store:          store,
		cache:          cache,
		eventPublisher: eventPublisher,
		targetCount:    targetCount,
		shipLead:       time.Duration(shipLeadDays) * 24 * time.Hour,
		logger:         util.GetLogger(),
	}
}

// WaitStatus is the customer-facing progress summary for a batched order.
type WaitStatus struct {
	InBatch         bool               `json:"in_batch"`
	BatchID         string             `json:"batch_id,omitempty"`
	BatchStatus     models.BatchStatus `json:"batch_status,omitempty"`
	Progress        int                `json:"progress"`
	RemainingOrders int                `json:"remaining_orders"`
	CurrentCount    int                `json:"current_count"`
	TargetCount     int                `json:"target_count"`
	Message         string             `json:"message"`
}

// AdmitOrder assigns the order to the current collecting batch, creating one
// when none exists. When the admission fills the batch, the ready-to-ship
// transition happens in the same atomic unit and the admin notification is
// emitted before returning. A failed admission means the order is NOT
// admitted; the checkout flow must treat that as fatal.
func (bs *BatchService) AdmitOrder(ctx context.Context, orderID string) (*models.OrderBatch, error) {
	ctx, span := util.StartSpan(ctx, "BatchService.AdmitOrder")
	defer span.End()

	start := time.Now()
	defer func() {
		util.BatchAdmissionLatency.Observe(time.Since(start).Seconds())
	}()

	batch, becameReady, err := bs.store.AdmitOrder(ctx, orderID, bs.targetCount, bs.shipLead)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("batch_admission").Inc()
		return nil, fmt.Errorf("failed to admit order to batch: %w", err)
	}

	util.BatchAdmissionsTotal.Inc()
	bs.logger.Info("Order admitted to batch",
		zap.String("order_id", orderID),
		zap.String("batch_id", batch.ID),
		zap.Int("current_count", batch.CurrentCount),
		zap.Int("target_count", batch.TargetCount))

	if becameReady {
		bs.onBatchReady(ctx, batch)
	}

	return batch, nil
}

// onBatchReady records the admin notification and publishes the lifecycle
// event. Both are best-effort: the batch is already durably ready.
func (bs *BatchService) onBatchReady(ctx context.Context, batch *models.OrderBatch) {
	util.BatchesReadyTotal.Inc()
	bs.logger.Info("Batch reached target count",
		zap.String("batch_id", batch.ID),
		zap.String("batch_number", batch.BatchNumber))

	notification := &models.AdminNotification{
		Type:    models.NotificationTypeBatchReady,
		BatchID: batch.ID,
		Message: "An order batch is ready to ship",
	}
	if err := bs.store.CreateAdminNotification(ctx, notification); err != nil {
		bs.logger.Error("Failed to create admin notification",
			zap.String("batch_id", batch.ID), zap.Error(err))
	}

	event := &models.BatchReadyEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeBatchReady,
			Timestamp: time.Now(),
		},
		BatchID:     batch.ID,
		BatchNumber: batch.BatchNumber,
		OrderCount:  batch.CurrentCount,
	}
	if batch.EstimatedShipDate != nil {
		event.EstimatedShipDate = *batch.EstimatedShipDate
	}
	if err := bs.eventPublisher.PublishBatchReady(ctx, event); err != nil {
		bs.logger.Error("Failed to publish BatchReady event", zap.Error(err))
	}
}

// QueryWaitStatus reports where an order stands in its batch. Read-only.
// An order not yet in any batch gets a generic processing message.
func (bs *BatchService) QueryWaitStatus(ctx context.Context, orderID string) (*WaitStatus, error) {
	ctx, span := util.StartSpan(ctx, "BatchService.QueryWaitStatus")
	defer span.End()

	if bs.cache != nil {
		var cached WaitStatus
		if hit, err := bs.cache.GetWaitStatus(ctx, orderID, &cached); err == nil && hit {
			return &cached, nil
		}
	}

	batch, err := bs.store.GetBatchContainingOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up batch membership: %w", err)
	}

	var status *WaitStatus
	if batch == nil {
		status = &WaitStatus{
			InBatch: false,
			Message: "Your order is being processed",
		}
	} else {
		remaining := batch.TargetCount - batch.CurrentCount
		if remaining < 0 {
			remaining = 0
		}
		progress := 0
		if batch.TargetCount > 0 {
			progress = int(float64(batch.CurrentCount)/float64(batch.TargetCount)*100 + 0.5)
		}
		status = &WaitStatus{
			InBatch:         true,
			BatchID:         batch.ID,
			BatchStatus:     batch.Status,
			Progress:        progress,
			RemainingOrders: remaining,
			CurrentCount:    batch.CurrentCount,
			TargetCount:     batch.TargetCount,
			Message:         waitMessage(batch.Status, remaining),
		}
	}

	if bs.cache != nil {
		if err := bs.cache.CacheWaitStatus(ctx, orderID, status, waitStatusTTL); err != nil {
			bs.logger.Warn("Failed to cache wait status", zap.Error(err))
		}
	}

	return status, nil
}

func waitMessage(status models.BatchStatus, remaining int) string {
	switch status {
	case models.BatchStatusCollecting:
		return fmt.Sprintf("Your order is part of a batch. %d orders remaining before shipment.", remaining)
	case models.BatchStatusReadyToShip:
		return "Your batch is complete! Shipping within 3 days."
	case models.BatchStatusShipping:
		return "Your phone is on its way!"
	default:
		return "Order processed"
	}
}

// ShipBatch is the operator action that releases a full batch. The batch
// status flip and the bulk member-order update are one all-or-nothing unit;
// customer notifications afterwards are best-effort and never roll back the
// state transition.
func (bs *BatchService) ShipBatch(ctx context.Context, batchID string) (*models.OrderBatch, error) {
	ctx, span := util.StartSpan(ctx, "BatchService.ShipBatch")
	defer span.End()

	batch, err := bs.store.ShipBatch(ctx, batchID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to ship batch: %w", err)
	}

	util.BatchesShippedTotal.Inc()
	bs.logger.Info("Batch shipped",
		zap.String("batch_id", batch.ID),
		zap.String("batch_number", batch.BatchNumber),
		zap.Int("order_count", len(batch.OrderIDs)))

	if bs.cache != nil {
		if err := bs.cache.InvalidateWaitStatus(ctx, batch.OrderIDs...); err != nil {
			bs.logger.Warn("Failed to invalidate wait status cache", zap.Error(err))
		}
	}

	event := &models.BatchShippedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeBatchShipped,
			Timestamp: time.Now(),
		},
		BatchID:     batch.ID,
		BatchNumber: batch.BatchNumber,
		OrderIDs:    batch.OrderIDs,
	}
	if err := bs.eventPublisher.PublishBatchShipped(ctx, event); err != nil {
		bs.logger.Error("Failed to publish BatchShipped event",
			zap.String("batch_id", batch.ID), zap.Error(err))
	}

	return batch, nil
}

// ListBatches lists all batches, most recent first.
func (bs *BatchService) ListBatches(ctx context.Context) ([]models.OrderBatch, error) {
	return bs.store.ListBatches(ctx)
}

// CompleteBatch marks a shipped batch completed.
func (bs *BatchService) CompleteBatch(ctx context.Context, batchID string) error {
	return bs.store.CompleteBatch(ctx, batchID)
}
