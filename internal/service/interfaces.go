// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/ledgerline/internal/model"
)

// Storage defines the contract for our persistence layer.
type Storage interface {
	// Catalog operations
	UpsertCatalogEntries(ctx context.Context, entries []model.CatalogEntry) error
	GetCatalogEntries(ctx context.Context) ([]model.CatalogEntry, error)
	GetCatalogEntry(ctx context.Context, code string) (*model.CatalogEntry, error)

	// Steering rule operations
	SaveSteeringRules(ctx context.Context, rules []model.SteeringRule) error
	GetActiveSteeringRules(ctx context.Context) ([]model.SteeringRule, error)
	ListSteeringRules(ctx context.Context) ([]model.SteeringRule, error)

	// Batch operations
	CreateBatch(ctx context.Context, batch *model.BatchJob, documents []model.DocumentSnapshot) error
	GetBatch(ctx context.Context, batchID string) (*model.BatchJob, error)
	MarkBatchCanceled(ctx context.Context, batchID string, at time.Time) error
	FindExistingExternalIDs(ctx context.Context, tenantID string, keys []string) (map[string]string, error)

	// Record operations
	GetRecord(ctx context.Context, documentID string) (*model.ClassificationRecord, error)
	GetBatchRecords(ctx context.Context, batchID string) ([]model.ClassificationRecord, error)
	ListPendingRecords(ctx context.Context, tenantID string, limit, offset int) ([]model.ClassificationRecord, int, error)
	StartRecord(ctx context.Context, documentID string) error
	CompleteRecord(ctx context.Context, documentID string, from model.RecordStatus, outcome *model.Outcome) error
	ConfirmRecord(ctx context.Context, documentID, userID string, at time.Time) (*model.ClassificationRecord, error)
	CorrectRecord(ctx context.Context, documentID, userID, code, notes string, at time.Time) (*model.ClassificationRecord, error)
	GetRecordHistory(ctx context.Context, documentID string) ([]model.HistoryEntry, error)
	CountCorrections(ctx context.Context, tenantID, counterpartyID string) (int, error)
	GetLedgerEntries(ctx context.Context, documentID string) ([]LedgerEntry, error)

	// Learning memory operations
	UpsertCorrectionMemory(ctx context.Context, entry *model.CorrectionMemoryEntry) error
	GetCorrectionMemory(ctx context.Context, tenantID, normalizedDescription, counterpartyID string) (*model.CorrectionMemoryEntry, error)
	GetCounterpartyMemory(ctx context.Context, tenantID, counterpartyID string) ([]model.CorrectionMemoryEntry, error)
	IncrementMemoryHit(ctx context.Context, id string) error
	ListCorrectionMemory(ctx context.Context, tenantID string, limit int) ([]model.CorrectionMemoryEntry, error)

	// Database management
	Migrate(ctx context.Context) error
	Close() error
}

// LedgerEntry is the accounting posting written when a record is confirmed
// or corrected.
type LedgerEntry struct {
	PostedAt   time.Time
	Amount     decimal.Decimal
	ID         string
	DocumentID string
	TenantID   string
	Code       string
	Currency   string
	PostedBy   string
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
