// Package review is the human side of a classification: reviewers confirm
// or correct pending suggestions, and every reviewed decision is written back
// into the learning memory.
package review

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Veraticus/ledgerline/internal/common"
	"github.com/Veraticus/ledgerline/internal/memory"
	"github.com/Veraticus/ledgerline/internal/model"
)

// Page size bounds for ListPending.
const (
	DefaultPageSize = 20
	MaxPageSize     = 200
)

// Store is the record persistence review needs.
type Store interface {
	GetRecord(ctx context.Context, documentID string) (*model.ClassificationRecord, error)
	ListPendingRecords(ctx context.Context, tenantID string, limit, offset int) ([]model.ClassificationRecord, int, error)
	ConfirmRecord(ctx context.Context, documentID, userID string, at time.Time) (*model.ClassificationRecord, error)
	CorrectRecord(ctx context.Context, documentID, userID, code, notes string, at time.Time) (*model.ClassificationRecord, error)
	GetRecordHistory(ctx context.Context, documentID string) ([]model.HistoryEntry, error)
}

// MemoryWriter records reviewed decisions. Implementations must not fail
// the caller.
type MemoryWriter interface {
	Record(ctx context.Context, key memory.Key, originalCode, finalCode string)
}

// ConfirmCommand accepts the suggested code.
type ConfirmCommand struct {
	DocumentID string `json:"document_id" validate:"required"`
	UserID     string `json:"user_id" validate:"required"`
}

// CorrectCommand replaces the suggested code with the reviewer's choice.
type CorrectCommand struct {
	DocumentID    string `json:"document_id" validate:"required"`
	UserID        string `json:"user_id" validate:"required"`
	CorrectedCode string `json:"corrected_code" validate:"required"`
	Notes         string `json:"notes" validate:"max=2000"`
}

// PendingQuery selects one page of the review queue. Pages start at 1.
type PendingQuery struct {
	TenantID string `json:"tenant_id" validate:"required"`
	Page     int    `json:"page" validate:"gte=0"`
	PageSize int    `json:"page_size" validate:"gte=0,lte=200"`
}

// PendingPage is one page of records awaiting review.
type PendingPage struct {
	Records  []model.ClassificationRecord `json:"records"`
	Page     int                          `json:"page"`
	PageSize int                          `json:"page_size"`
	Total    int                          `json:"total"`
}

// HasMore reports whether later pages exist.
func (p PendingPage) HasMore() bool {
	return p.Page*p.PageSize < p.Total
}

// Service implements the review operations.
type Service struct {
	store  Store
	memory MemoryWriter
	logger *slog.Logger
	now    func() time.Time
}

// New creates a review service. mem may be nil to skip memory write-back.
func New(store Store, mem MemoryWriter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		memory: mem,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Confirm accepts the pending suggestion. It returns a ConflictError if the
// record is no longer pending confirmation.
func (s *Service) Confirm(ctx context.Context, cmd ConfirmCommand) (*model.ClassificationRecord, error) {
	cmd.DocumentID = strings.TrimSpace(cmd.DocumentID)
	cmd.UserID = strings.TrimSpace(cmd.UserID)
	if err := common.ValidateStruct(cmd); err != nil {
		return nil, err
	}

	record, err := s.store.ConfirmRecord(ctx, cmd.DocumentID, cmd.UserID, s.now())
	if err != nil {
		return nil, fmt.Errorf("confirm %s: %w", cmd.DocumentID, err)
	}

	s.logger.Info("Classification confirmed",
		"document_id", record.DocumentID,
		"code", record.SelectedCode,
		"user_id", cmd.UserID)

	s.remember(ctx, record, record.SelectedCode, record.SelectedCode)
	return record, nil
}

// Correct replaces the suggestion with the reviewer's code. An unknown code
// is a ValidationError and nothing is written. The memory write happens
// after the record is committed and never fails the correction.
func (s *Service) Correct(ctx context.Context, cmd CorrectCommand) (*model.ClassificationRecord, error) {
	cmd.DocumentID = strings.TrimSpace(cmd.DocumentID)
	cmd.UserID = strings.TrimSpace(cmd.UserID)
	cmd.CorrectedCode = strings.TrimSpace(cmd.CorrectedCode)
	if err := common.ValidateStruct(cmd); err != nil {
		return nil, err
	}

	record, err := s.store.CorrectRecord(ctx, cmd.DocumentID, cmd.UserID, cmd.CorrectedCode, cmd.Notes, s.now())
	if err != nil {
		return nil, fmt.Errorf("correct %s: %w", cmd.DocumentID, err)
	}

	s.logger.Info("Classification corrected",
		"document_id", record.DocumentID,
		"from", record.SelectedCode,
		"to", record.CorrectedCode,
		"user_id", cmd.UserID)

	s.remember(ctx, record, record.SelectedCode, record.CorrectedCode)
	return record, nil
}

// ListPending returns one page of the tenant's pending records, records
// flagged for mandatory review first.
func (s *Service) ListPending(ctx context.Context, q PendingQuery) (PendingPage, error) {
	if err := common.ValidateStruct(q); err != nil {
		return PendingPage{}, err
	}
	if q.Page == 0 {
		q.Page = 1
	}
	if q.PageSize == 0 {
		q.PageSize = DefaultPageSize
	}

	records, total, err := s.store.ListPendingRecords(ctx, q.TenantID, q.PageSize, (q.Page-1)*q.PageSize)
	if err != nil {
		return PendingPage{}, fmt.Errorf("list pending for %s: %w", q.TenantID, err)
	}

	return PendingPage{
		Records:  records,
		Page:     q.Page,
		PageSize: q.PageSize,
		Total:    total,
	}, nil
}

// Get returns one record.
func (s *Service) Get(ctx context.Context, documentID string) (*model.ClassificationRecord, error) {
	return s.store.GetRecord(ctx, documentID)
}

// History returns the audit trail of one record.
func (s *Service) History(ctx context.Context, documentID string) ([]model.HistoryEntry, error) {
	return s.store.GetRecordHistory(ctx, documentID)
}

func (s *Service) remember(ctx context.Context, record *model.ClassificationRecord, originalCode, finalCode string) {
	if s.memory == nil || record.Snapshot == nil {
		return
	}
	s.memory.Record(ctx, memory.KeyFor(record.Snapshot), originalCode, finalCode)
}
