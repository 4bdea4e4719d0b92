package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"smarteen-shop/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// batchAdmissionLockID keys the advisory lock serializing admissions.
const batchAdmissionLockID = 4217

// AdmitOrder assigns an order to the current collecting batch as a single
// transactional read-modify-write. Admissions serialize on a transaction-
// scoped advisory lock: a row lock on the collecting batch cannot protect
// the singleton when no collecting row exists yet (two creators would both
// see zero rows and both insert), and the membership check must not race a
// concurrent append of the same order. Batch fullness is evaluated
// precisely at the threshold crossing: the admission that brings
// current_count to target_count flips the batch to ready_to_ship and
// stamps the estimated ship date inside the same transaction.
//
// Admission is idempotent per order: an order already belonging to any
// batch is returned as-is without a second append.
func (s *Store) AdmitOrder(ctx context.Context, orderID string, targetCount int, shipLead time.Duration) (batch *models.OrderBatch, becameReady bool, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", batchAdmissionLockID); err != nil {
		return nil, false, fmt.Errorf("failed to acquire admission lock: %w", err)
	}

	// An order belongs to at most one batch, ever.
	var existing models.OrderBatch
	err = tx.GetContext(ctx, &existing,
		"SELECT * FROM batches WHERE $1 = ANY(order_ids) LIMIT 1", orderID)
	if err == nil {
		return &existing, false, tx.Commit()
	}
	if err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("failed to check batch membership: %w", err)
	}

	var current models.OrderBatch
	err = tx.GetContext(ctx, &current,
		"SELECT * FROM batches WHERE status = $1 FOR UPDATE", models.BatchStatusCollecting)

	switch {
	case err == sql.ErrNoRows:
		current = models.OrderBatch{
			ID:           uuid.New().String(),
			BatchNumber:  fmt.Sprintf("BATCH-%d", time.Now().UnixMilli()),
			Status:       models.BatchStatusCollecting,
			OrderIDs:     pq.StringArray{orderID},
			TargetCount:  targetCount,
			CurrentCount: 1,
		}
		err = tx.GetContext(ctx, &current.CreatedAt, `
			INSERT INTO batches (id, batch_number, status, order_ids, target_count, current_count)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING created_at`,
			current.ID, current.BatchNumber, current.Status, current.OrderIDs,
			current.TargetCount, current.CurrentCount)
		if err != nil {
			return nil, false, fmt.Errorf("failed to create batch: %w", err)
		}

	case err != nil:
		return nil, false, fmt.Errorf("failed to load collecting batch: %w", err)

	default:
		current.OrderIDs = append(current.OrderIDs, orderID)
		current.CurrentCount = len(current.OrderIDs)
		_, err = tx.ExecContext(ctx, `
			UPDATE batches SET order_ids = $1, current_count = $2 WHERE id = $3`,
			current.OrderIDs, current.CurrentCount, current.ID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to append order to batch: %w", err)
		}
	}

	if current.CurrentCount >= current.TargetCount {
		estimated := time.Now().Add(shipLead)
		_, err = tx.ExecContext(ctx, `
			UPDATE batches SET status = $1, estimated_ship_date = $2 WHERE id = $3`,
			models.BatchStatusReadyToShip, estimated, current.ID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to mark batch ready: %w", err)
		}
		current.Status = models.BatchStatusReadyToShip
		current.EstimatedShipDate = &estimated
		becameReady = true
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return &current, becameReady, nil
}

// GetBatch retrieves a batch by id
func (s *Store) GetBatch(ctx context.Context, id string) (*models.OrderBatch, error) {
	var batch models.OrderBatch
	err := s.db.GetContext(ctx, &batch, "SELECT * FROM batches WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("batch %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

// GetBatchContainingOrder finds the batch whose member list contains the
// given order id, if any.
func (s *Store) GetBatchContainingOrder(ctx context.Context, orderID string) (*models.OrderBatch, error) {
	var batch models.OrderBatch
	err := s.db.GetContext(ctx, &batch,
		"SELECT * FROM batches WHERE $1 = ANY(order_ids) LIMIT 1", orderID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

// ListBatches retrieves all batches, most recent first
func (s *Store) ListBatches(ctx context.Context) ([]models.OrderBatch, error) {
	var batches []models.OrderBatch
	err := s.db.SelectContext(ctx, &batches, "SELECT * FROM batches ORDER BY created_at DESC")
	return batches, err
}

// ShipBatch marks the batch as shipping and flips every member order to
// preparing_shipment, stamping timeline and batch linkage, in one database
// transaction. The bulk order update is all-or-nothing: a failure on any
// member rolls back every change including the batch status. Only a
// ready_to_ship batch can ship; a repeated ship action is rejected rather
// than re-applied, since member orders may have advanced past
// preparing_shipment and must never move backwards.
func (s *Store) ShipBatch(ctx context.Context, batchID string, now time.Time) (*models.OrderBatch, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var batch models.OrderBatch
	err = tx.GetContext(ctx, &batch,
		"SELECT * FROM batches WHERE id = $1 FOR UPDATE", batchID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("batch %s: %w", batchID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if batch.Status != models.BatchStatusReadyToShip {
		return nil, fmt.Errorf("batch %s is not ready to ship: %w", batchID, ErrInvalidTransition)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE batches SET status = $1, actual_ship_date = $2 WHERE id = $3`,
		models.BatchStatusShipping, now, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to update batch status: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE orders SET
			status = $1,
			batch_shipped_at = COALESCE(batch_shipped_at, $2),
			batch_id = $3,
			batch_number = $4,
			updated_at = NOW()
		WHERE id = ANY($5)`,
		models.OrderStatusPreparingShipment, now, batch.ID, batch.BatchNumber,
		batch.OrderIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to update batch orders: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows != int64(len(batch.OrderIDs)) {
		return nil, fmt.Errorf("batch %s: updated %d of %d orders, aborting", batchID, rows, len(batch.OrderIDs))
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	batch.Status = models.BatchStatusShipping
	batch.ActualShipDate = &now
	return &batch, nil
}

// CompleteBatch marks a shipped batch as completed (operator action).
func (s *Store) CompleteBatch(ctx context.Context, batchID string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE batches SET status = $1 WHERE id = $2 AND status = $3",
		models.BatchStatusCompleted, batchID, models.BatchStatusShipping)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("batch %s is not shipping: %w", batchID, ErrInvalidTransition)
	}
	return nil
}
