package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Veraticus/ledgerline/internal/common"
	"github.com/Veraticus/ledgerline/internal/model"
)

const memoryColumns = `id, tenant_id, normalized_description, counterparty_id, original_code,
	corrected_code, embedding, embedding_version, hit_count, created_at, updated_at`

// UpsertCorrectionMemory stores a learned decision. An existing entry for the
// same tenant, description and counterparty is overwritten.
func (s *SQLiteStorage) UpsertCorrectionMemory(ctx context.Context, entry *model.CorrectionMemoryEntry) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("%w: entry", ErrNilParameter)
	}
	if err := validateString(entry.TenantID, "tenantID"); err != nil {
		return err
	}
	if err := validateString(entry.NormalizedDescription, "normalizedDescription"); err != nil {
		return err
	}
	if err := validateString(entry.CorrectedCode, "correctedCode"); err != nil {
		return err
	}

	now := s.now()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO correction_memory (`+memoryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(tenant_id, normalized_description, counterparty_id) DO UPDATE SET
			original_code = excluded.original_code,
			corrected_code = excluded.corrected_code,
			embedding = excluded.embedding,
			embedding_version = excluded.embedding_version,
			updated_at = excluded.updated_at
	`,
		entry.ID,
		entry.TenantID,
		entry.NormalizedDescription,
		entry.CounterpartyID,
		entry.OriginalCode,
		entry.CorrectedCode,
		encodeVector(entry.Embedding),
		entry.EmbeddingVersion,
		entry.CreatedAt,
		entry.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save correction memory: %w", err)
	}
	return nil
}

// GetCorrectionMemory returns the entry stored under the exact key or
// common.ErrNotFound.
func (s *SQLiteStorage) GetCorrectionMemory(ctx context.Context, tenantID, normalizedDescription, counterpartyID string) (*model.CorrectionMemoryEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(tenantID, "tenantID"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM correction_memory
		WHERE tenant_id = ? AND normalized_description = ? AND counterparty_id = ?`,
		tenantID, normalizedDescription, counterpartyID)
	entry, err := scanMemoryEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("correction memory: %w", common.ErrNotFound)
	}
	return entry, err
}

// GetCounterpartyMemory returns a tenant's entries for one counterparty.
func (s *SQLiteStorage) GetCounterpartyMemory(ctx context.Context, tenantID, counterpartyID string) ([]model.CorrectionMemoryEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(tenantID, "tenantID"); err != nil {
		return nil, err
	}

	return s.queryMemory(ctx, `SELECT `+memoryColumns+` FROM correction_memory
		WHERE tenant_id = ? AND counterparty_id = ?
		ORDER BY updated_at DESC, id`, tenantID, counterpartyID)
}

// ListCorrectionMemory returns a tenant's most recently updated entries.
func (s *SQLiteStorage) ListCorrectionMemory(ctx context.Context, tenantID string, limit int) ([]model.CorrectionMemoryEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(tenantID, "tenantID"); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, ErrInvalidPageSize
	}

	return s.queryMemory(ctx, `SELECT `+memoryColumns+` FROM correction_memory
		WHERE tenant_id = ?
		ORDER BY updated_at DESC, id
		LIMIT ?`, tenantID, limit)
}

// IncrementMemoryHit counts an automatic application of an entry.
func (s *SQLiteStorage) IncrementMemoryHit(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `UPDATE correction_memory SET hit_count = hit_count + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to update memory hit count: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("correction memory %s: %w", id, common.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStorage) queryMemory(ctx context.Context, query string, args ...any) ([]model.CorrectionMemoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query correction memory: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.CorrectionMemoryEntry
	for rows.Next() {
		entry, err := scanMemoryEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

func scanMemoryEntry(row rowScanner) (*model.CorrectionMemoryEntry, error) {
	var (
		entry model.CorrectionMemoryEntry
		blob  []byte
	)
	if err := row.Scan(
		&entry.ID,
		&entry.TenantID,
		&entry.NormalizedDescription,
		&entry.CounterpartyID,
		&entry.OriginalCode,
		&entry.CorrectedCode,
		&blob,
		&entry.EmbeddingVersion,
		&entry.HitCount,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan correction memory: %w", err)
	}

	vec, err := decodeVector(blob)
	if err != nil {
		return nil, fmt.Errorf("correction memory %s: %w", entry.ID, err)
	}
	entry.Embedding = vec
	return &entry, nil
}
