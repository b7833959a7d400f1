package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Veraticus/ledgerline/internal/common"
	"github.com/Veraticus/ledgerline/internal/model"
)

// UpsertCatalogEntries inserts or replaces chart-of-accounts entries.
func (s *SQLiteStorage) UpsertCatalogEntries(ctx context.Context, entries []model.CatalogEntry) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateCatalogEntries(entries); err != nil {
		return err
	}

	now := s.now()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO catalog_entries (
				code, family_code, subfamily_code, level, name, description,
				embedding, embedding_version, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(code) DO UPDATE SET
				family_code = excluded.family_code,
				subfamily_code = excluded.subfamily_code,
				level = excluded.level,
				name = excluded.name,
				description = excluded.description,
				embedding = COALESCE(excluded.embedding, catalog_entries.embedding),
				embedding_version = CASE WHEN excluded.embedding IS NULL
					THEN catalog_entries.embedding_version
					ELSE excluded.embedding_version END,
				updated_at = excluded.updated_at
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare catalog statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, entry := range entries {
			entry.Normalize()
			if _, err := stmt.ExecContext(ctx,
				entry.Code,
				entry.FamilyCode,
				entry.SubfamilyCode,
				string(entry.Level),
				entry.Name,
				entry.Description,
				encodeVector(entry.Embedding),
				entry.EmbeddingVersion,
				now,
			); err != nil {
				return fmt.Errorf("failed to save catalog entry %s: %w", entry.Code, err)
			}
		}
		return nil
	})
}

// GetCatalogEntries returns every catalog entry ordered by code.
func (s *SQLiteStorage) GetCatalogEntries(ctx context.Context) ([]model.CatalogEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT code, family_code, subfamily_code, level, name, description,
		       embedding, embedding_version, updated_at
		FROM catalog_entries
		ORDER BY code
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.CatalogEntry
	for rows.Next() {
		entry, err := scanCatalogEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// GetCatalogEntry returns the entry for code or common.ErrNotFound.
func (s *SQLiteStorage) GetCatalogEntry(ctx context.Context, code string) (*model.CatalogEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(code, "code"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT code, family_code, subfamily_code, level, name, description,
		       embedding, embedding_version, updated_at
		FROM catalog_entries
		WHERE code = ?
	`, code)
	entry, err := scanCatalogEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("catalog entry %s: %w", code, common.ErrNotFound)
	}
	return entry, err
}

func accountExistsTx(ctx context.Context, tx *sql.Tx, code string) (bool, error) {
	var exists bool
	err := tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM catalog_entries WHERE code = ? AND level = ?)
	`, code, string(model.LevelAccount)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check catalog entry: %w", err)
	}
	return exists, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCatalogEntry(row rowScanner) (*model.CatalogEntry, error) {
	var (
		entry     model.CatalogEntry
		level     string
		blob      []byte
		updatedAt sql.NullTime
	)
	if err := row.Scan(
		&entry.Code,
		&entry.FamilyCode,
		&entry.SubfamilyCode,
		&level,
		&entry.Name,
		&entry.Description,
		&blob,
		&entry.EmbeddingVersion,
		&updatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan catalog entry: %w", err)
	}

	vec, err := decodeVector(blob)
	if err != nil {
		return nil, fmt.Errorf("catalog entry %s: %w", entry.Code, err)
	}
	entry.Embedding = vec
	entry.Level = model.CatalogLevel(level)
	if updatedAt.Valid {
		entry.UpdatedAt = updatedAt.Time
	}
	return &entry, nil
}
