package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 4

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

func execAll(tx *sql.Tx, queries []string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Chart of accounts and steering rules",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS catalog_entries (
					code TEXT PRIMARY KEY,
					family_code TEXT NOT NULL,
					subfamily_code TEXT NOT NULL DEFAULT '',
					level TEXT NOT NULL,
					name TEXT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					embedding BLOB,
					embedding_version TEXT NOT NULL DEFAULT '',
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_catalog_family ON catalog_entries(family_code)`,
				`CREATE INDEX idx_catalog_subfamily ON catalog_entries(subfamily_code)`,

				`CREATE TABLE IF NOT EXISTS steering_rules (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					version TEXT NOT NULL,
					pattern TEXT NOT NULL,
					subfamily_code TEXT NOT NULL,
					weight REAL NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					is_active INTEGER NOT NULL DEFAULT 1,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					UNIQUE(version, pattern, subfamily_code)
				)`,
				`CREATE INDEX idx_steering_rules_version ON steering_rules(version, is_active)`,
			})
		},
	},
	{
		Version:     2,
		Description: "Batches, classification records and audit history",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS batches (
					batch_id TEXT PRIMARY KEY,
					tenant_id TEXT NOT NULL,
					duplicates INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME NOT NULL,
					canceled_at DATETIME
				)`,

				`CREATE TABLE IF NOT EXISTS classification_records (
					document_id TEXT PRIMARY KEY,
					tenant_id TEXT NOT NULL,
					batch_id TEXT NOT NULL,
					external_id TEXT NOT NULL,
					position INTEGER NOT NULL DEFAULT 0,
					status TEXT NOT NULL,
					snapshot TEXT NOT NULL,
					selected_code TEXT,
					family_code TEXT,
					subfamily_code TEXT,
					confidence_family REAL NOT NULL DEFAULT 0,
					confidence_code REAL NOT NULL DEFAULT 0,
					explanation TEXT,
					alternatives TEXT,
					model_version TEXT,
					model_tier TEXT,
					tier_reasons TEXT,
					embedding_version TEXT,
					rule_table_version TEXT,
					source TEXT,
					failure_reason TEXT,
					review_required INTEGER NOT NULL DEFAULT 0,
					classified_at DATETIME,
					confirmed_at DATETIME,
					confirmed_by TEXT,
					corrected_at DATETIME,
					corrected_by TEXT,
					corrected_code TEXT,
					correction_notes TEXT,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL,
					UNIQUE(tenant_id, external_id),
					FOREIGN KEY (batch_id) REFERENCES batches(batch_id)
				)`,
				`CREATE INDEX idx_records_batch ON classification_records(batch_id, position)`,
				`CREATE INDEX idx_records_tenant_status ON classification_records(tenant_id, status)`,

				`CREATE TABLE IF NOT EXISTS classification_history (
					id TEXT PRIMARY KEY,
					document_id TEXT NOT NULL,
					tenant_id TEXT NOT NULL,
					counterparty_id TEXT NOT NULL DEFAULT '',
					action TEXT NOT NULL,
					from_status TEXT,
					to_status TEXT NOT NULL,
					code TEXT,
					actor TEXT,
					notes TEXT,
					created_at DATETIME NOT NULL,
					FOREIGN KEY (document_id) REFERENCES classification_records(document_id)
				)`,
				`CREATE INDEX idx_history_document ON classification_history(document_id, created_at)`,
				`CREATE INDEX idx_history_counterparty ON classification_history(tenant_id, counterparty_id, action)`,
			})
		},
	},
	{
		Version:     3,
		Description: "Learning memory",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS correction_memory (
					id TEXT PRIMARY KEY,
					tenant_id TEXT NOT NULL,
					normalized_description TEXT NOT NULL,
					counterparty_id TEXT NOT NULL DEFAULT '',
					original_code TEXT NOT NULL DEFAULT '',
					corrected_code TEXT NOT NULL,
					embedding BLOB,
					embedding_version TEXT NOT NULL DEFAULT '',
					hit_count INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL,
					UNIQUE(tenant_id, normalized_description, counterparty_id)
				)`,
				`CREATE INDEX idx_memory_counterparty ON correction_memory(tenant_id, counterparty_id)`,
			})
		},
	},
	{
		Version:     4,
		Description: "Ledger postings for reviewed records",
		Up: func(tx *sql.Tx) error {
			if err := execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS ledger_entries (
					id TEXT PRIMARY KEY,
					document_id TEXT NOT NULL UNIQUE,
					tenant_id TEXT NOT NULL,
					code TEXT NOT NULL,
					amount TEXT NOT NULL,
					currency TEXT NOT NULL DEFAULT '',
					posted_by TEXT NOT NULL,
					posted_at DATETIME NOT NULL,
					FOREIGN KEY (document_id) REFERENCES classification_records(document_id)
				)`,
			}); err != nil {
				return err
			}
			slog.Debug("Created ledger_entries table")
			return nil
		},
	},
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	currentVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	finalVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}

// SchemaVersion returns the schema version recorded in the database.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}
