package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/ledgerline/internal/model"
	"github.com/Veraticus/ledgerline/internal/service"
)

func postLedgerTx(ctx context.Context, tx *sql.Tx, record *model.ClassificationRecord, code, userID string, at time.Time) error {
	amount := decimal.Zero
	currency := ""
	if record.Snapshot != nil {
		amount = record.Snapshot.Amount
		currency = record.Snapshot.Currency
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, document_id, tenant_id, code, amount, currency, posted_by, posted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), record.DocumentID, record.TenantID, code, amount.String(), currency, userID, at)
	if err != nil {
		return fmt.Errorf("failed to post ledger entry: %w", err)
	}
	return nil
}

// GetLedgerEntries returns the postings written for a document.
func (s *SQLiteStorage) GetLedgerEntries(ctx context.Context, documentID string) ([]service.LedgerEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(documentID, "documentID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, tenant_id, code, amount, currency, posted_by, posted_at
		FROM ledger_entries WHERE document_id = ? ORDER BY posted_at
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []service.LedgerEntry
	for rows.Next() {
		var (
			entry  service.LedgerEntry
			amount string
		)
		if err := rows.Scan(&entry.ID, &entry.DocumentID, &entry.TenantID, &entry.Code,
			&amount, &entry.Currency, &entry.PostedBy, &entry.PostedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entry.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("ledger entry %s has a corrupt amount: %w", entry.ID, err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
