package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/ledgerline/internal/common"
	"github.com/Veraticus/ledgerline/internal/model"
)

// CreateBatch persists a batch and one queued record per document in a
// single transaction. A document whose external identifier already has a
// record for the tenant fails the whole batch with common.ErrDuplicateEntry.
func (s *SQLiteStorage) CreateBatch(ctx context.Context, batch *model.BatchJob, documents []model.DocumentSnapshot) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if batch == nil {
		return fmt.Errorf("%w: batch", ErrNilParameter)
	}
	if err := validateString(batch.BatchID, "batchID"); err != nil {
		return err
	}
	if err := validateString(batch.TenantID, "tenantID"); err != nil {
		return err
	}
	if len(documents) == 0 {
		return fmt.Errorf("%w: documents", ErrEmptySlice)
	}

	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = s.now()
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO batches (batch_id, tenant_id, duplicates, created_at)
			VALUES (?, ?, ?, ?)
		`, batch.BatchID, batch.TenantID, batch.Duplicates, batch.CreatedAt); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("batch %s: %w", batch.BatchID, common.ErrDuplicateEntry)
			}
			return fmt.Errorf("failed to insert batch: %w", err)
		}

		batch.DocumentIDs = batch.DocumentIDs[:0]
		for i := range documents {
			doc := &documents[i]
			if doc.TenantID != batch.TenantID {
				return fmt.Errorf("document %s belongs to tenant %s, not %s", doc.DocumentID, doc.TenantID, batch.TenantID)
			}

			snapshot, err := json.Marshal(doc)
			if err != nil {
				return fmt.Errorf("failed to encode snapshot %s: %w", doc.DocumentID, err)
			}

			if _, err := tx.ExecContext(ctx, `
				INSERT INTO classification_records (
					document_id, tenant_id, batch_id, external_id, position,
					status, snapshot, created_at, updated_at
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			`,
				doc.DocumentID,
				doc.TenantID,
				batch.BatchID,
				doc.DedupKey(),
				i,
				string(model.StatusQueued),
				string(snapshot),
				batch.CreatedAt,
				batch.CreatedAt,
			); err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("document %s: %w", doc.DocumentID, common.ErrDuplicateEntry)
				}
				return fmt.Errorf("failed to insert record %s: %w", doc.DocumentID, err)
			}

			if err := insertHistoryTx(ctx, tx, model.HistoryEntry{
				DocumentID:     doc.DocumentID,
				TenantID:       doc.TenantID,
				CounterpartyID: doc.CounterpartyKey(),
				Action:         model.ActionCreated,
				ToStatus:       model.StatusQueued,
				CreatedAt:      batch.CreatedAt,
			}); err != nil {
				return err
			}

			batch.DocumentIDs = append(batch.DocumentIDs, doc.DocumentID)
		}
		return nil
	})
}

// GetBatch returns a batch with its document membership in submission order.
func (s *SQLiteStorage) GetBatch(ctx context.Context, batchID string) (*model.BatchJob, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(batchID, "batchID"); err != nil {
		return nil, err
	}

	var (
		batch      model.BatchJob
		canceledAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT batch_id, tenant_id, duplicates, created_at, canceled_at
		FROM batches WHERE batch_id = ?
	`, batchID).Scan(&batch.BatchID, &batch.TenantID, &batch.Duplicates, &batch.CreatedAt, &canceledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("batch %s: %w", batchID, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	batch.CanceledAt = timePtr(canceledAt)

	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id FROM classification_records
		WHERE batch_id = ? ORDER BY position
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to get batch documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan batch document: %w", err)
		}
		batch.DocumentIDs = append(batch.DocumentIDs, id)
	}
	return &batch, rows.Err()
}

// MarkBatchCanceled records the cancellation time. Canceling twice keeps the
// first timestamp.
func (s *SQLiteStorage) MarkBatchCanceled(ctx context.Context, batchID string, at time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(batchID, "batchID"); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE batches SET canceled_at = COALESCE(canceled_at, ?) WHERE batch_id = ?
	`, at, batchID)
	if err != nil {
		return fmt.Errorf("failed to cancel batch: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("batch %s: %w", batchID, common.ErrNotFound)
	}
	return nil
}

// FindExistingExternalIDs maps each dedup key that already has a record for
// the tenant to that record's document id.
func (s *SQLiteStorage) FindExistingExternalIDs(ctx context.Context, tenantID string, keys []string) (map[string]string, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(tenantID, "tenantID"); err != nil {
		return nil, err
	}

	found := make(map[string]string)
	stmt, err := s.db.PrepareContext(ctx, `
		SELECT document_id FROM classification_records
		WHERE tenant_id = ? AND external_id = ?
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dedup lookup: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, key := range keys {
		var documentID string
		err := stmt.QueryRowContext(ctx, tenantID, key).Scan(&documentID)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to look up external id %s: %w", key, err)
		}
		found[key] = documentID
	}
	return found, nil
}

func insertHistoryTx(ctx context.Context, tx *sql.Tx, entry model.HistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO classification_history (
			id, document_id, tenant_id, counterparty_id, action,
			from_status, to_status, code, actor, notes, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID,
		entry.DocumentID,
		entry.TenantID,
		entry.CounterpartyID,
		string(entry.Action),
		nullString(string(entry.FromStatus)),
		string(entry.ToStatus),
		nullString(entry.Code),
		nullString(entry.Actor),
		nullString(entry.Notes),
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save classification history: %w", err)
	}
	return nil
}
