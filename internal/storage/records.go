package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/ledgerline/internal/common"
	"github.com/Veraticus/ledgerline/internal/model"
)

const recordColumns = `
	document_id, tenant_id, batch_id, external_id, status, snapshot,
	selected_code, family_code, subfamily_code, confidence_family, confidence_code,
	explanation, alternatives, model_version, model_tier, tier_reasons,
	embedding_version, rule_table_version, source, failure_reason, review_required,
	classified_at, confirmed_at, confirmed_by, corrected_at, corrected_by,
	corrected_code, correction_notes, created_at, updated_at`

// GetRecord returns the record for a document or common.ErrNotFound.
func (s *SQLiteStorage) GetRecord(ctx context.Context, documentID string) (*model.ClassificationRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(documentID, "documentID"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM classification_records WHERE document_id = ?`, documentID)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %s: %w", documentID, common.ErrNotFound)
	}
	return record, err
}

func getRecordTx(ctx context.Context, tx *sql.Tx, documentID string) (*model.ClassificationRecord, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM classification_records WHERE document_id = ?`, documentID)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %s: %w", documentID, common.ErrNotFound)
	}
	return record, err
}

// GetBatchRecords returns a batch's records in submission order.
func (s *SQLiteStorage) GetBatchRecords(ctx context.Context, batchID string) ([]model.ClassificationRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(batchID, "batchID"); err != nil {
		return nil, err
	}

	return s.queryRecords(ctx, `SELECT `+recordColumns+`
		FROM classification_records WHERE batch_id = ? ORDER BY position`, batchID)
}

// ListPendingRecords returns one page of a tenant's records awaiting review,
// oldest first, together with the total number pending.
func (s *SQLiteStorage) ListPendingRecords(ctx context.Context, tenantID string, limit, offset int) ([]model.ClassificationRecord, int, error) {
	if err := validateContext(ctx); err != nil {
		return nil, 0, err
	}
	if err := validateString(tenantID, "tenantID"); err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		return nil, 0, ErrInvalidPageSize
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM classification_records WHERE tenant_id = ? AND status = ?
	`, tenantID, string(model.StatusPendingConfirmation)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count pending records: %w", err)
	}

	records, err := s.queryRecords(ctx, `SELECT `+recordColumns+`
		FROM classification_records
		WHERE tenant_id = ? AND status = ?
		ORDER BY review_required DESC, classified_at, document_id
		LIMIT ? OFFSET ?`,
		tenantID, string(model.StatusPendingConfirmation), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// StartRecord moves a queued record to running. It returns a ConflictError
// if the record is no longer queued, which is how a canceled or duplicate
// run loses the race.
func (s *SQLiteStorage) StartRecord(ctx context.Context, documentID string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(documentID, "documentID"); err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		return transitionTx(ctx, tx, documentID, model.StatusQueued, model.StatusRunning, s.now())
	})
}

// CompleteRecord lands a record on pending_confirmation or not_classified
// from the given run state, writing the outcome and an audit row atomically.
func (s *SQLiteStorage) CompleteRecord(ctx context.Context, documentID string, from model.RecordStatus, outcome *model.Outcome) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(documentID, "documentID"); err != nil {
		return err
	}
	if from != model.StatusQueued && from != model.StatusRunning {
		return fmt.Errorf("%w: cannot complete from %s", ErrInvalidStatus, from)
	}
	if err := validateOutcome(outcome); err != nil {
		return err
	}

	now := s.now()
	to := model.StatusPendingConfirmation
	action := model.ActionClassified
	if outcome.Failed() {
		to = model.StatusNotClassified
		action = model.ActionFailed
	}

	alternatives, err := json.Marshal(outcome.AlternativeCandidates)
	if err != nil {
		return fmt.Errorf("failed to encode alternatives: %w", err)
	}
	reasons, err := json.Marshal(outcome.TierReasons)
	if err != nil {
		return fmt.Errorf("failed to encode tier reasons: %w", err)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if outcome.SelectedCode != "" {
			exists, err := accountExistsTx(ctx, tx, outcome.SelectedCode)
			if err != nil {
				return err
			}
			if !exists {
				return common.NewValidationError("selected_code", "%s is not an account in the catalog", outcome.SelectedCode)
			}
		}

		result, err := tx.ExecContext(ctx, `
			UPDATE classification_records SET
				status = ?,
				selected_code = ?,
				family_code = ?,
				subfamily_code = ?,
				confidence_family = ?,
				confidence_code = ?,
				explanation = ?,
				alternatives = ?,
				model_version = ?,
				model_tier = ?,
				tier_reasons = ?,
				embedding_version = ?,
				rule_table_version = ?,
				source = ?,
				failure_reason = ?,
				review_required = ?,
				classified_at = ?,
				updated_at = ?
			WHERE document_id = ? AND status = ?
		`,
			string(to),
			nullString(outcome.SelectedCode),
			nullString(outcome.FamilyCode),
			nullString(outcome.SubfamilyCode),
			outcome.ConfidenceFamily,
			outcome.ConfidenceCode,
			nullString(outcome.Explanation),
			string(alternatives),
			nullString(outcome.ModelVersion),
			nullString(string(outcome.ModelTier)),
			string(reasons),
			nullString(outcome.EmbeddingVersion),
			nullString(outcome.RuleTableVersion),
			nullString(string(outcome.Source)),
			nullString(string(outcome.FailureReason)),
			outcome.ReviewRequired,
			now,
			now,
			documentID,
			string(from),
		)
		if err != nil {
			return fmt.Errorf("failed to complete record: %w", err)
		}
		if err := checkTransition(ctx, tx, result, documentID); err != nil {
			return err
		}

		record, err := getRecordTx(ctx, tx, documentID)
		if err != nil {
			return err
		}

		return insertHistoryTx(ctx, tx, model.HistoryEntry{
			DocumentID:     documentID,
			TenantID:       record.TenantID,
			CounterpartyID: counterpartyOf(record),
			Action:         action,
			FromStatus:     from,
			ToStatus:       to,
			Code:           outcome.SelectedCode,
			Notes:          string(outcome.FailureReason),
			CreatedAt:      now,
		})
	})
}

// ConfirmRecord accepts the suggested code. The status change, the audit row
// and the ledger posting commit together; a record that is not pending
// yields a ConflictError and no writes.
func (s *SQLiteStorage) ConfirmRecord(ctx context.Context, documentID, userID string, at time.Time) (*model.ClassificationRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(documentID, "documentID"); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}

	var record *model.ClassificationRecord
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE classification_records SET
				status = ?, confirmed_at = ?, confirmed_by = ?, updated_at = ?
			WHERE document_id = ? AND status = ?
		`, string(model.StatusConfirmed), at, userID, at, documentID, string(model.StatusPendingConfirmation))
		if err != nil {
			return fmt.Errorf("failed to confirm record: %w", err)
		}
		if err := checkTransition(ctx, tx, result, documentID); err != nil {
			return err
		}

		record, err = getRecordTx(ctx, tx, documentID)
		if err != nil {
			return err
		}

		if err := insertHistoryTx(ctx, tx, model.HistoryEntry{
			DocumentID:     documentID,
			TenantID:       record.TenantID,
			CounterpartyID: counterpartyOf(record),
			Action:         model.ActionConfirmed,
			FromStatus:     model.StatusPendingConfirmation,
			ToStatus:       model.StatusConfirmed,
			Code:           record.SelectedCode,
			Actor:          userID,
			CreatedAt:      at,
		}); err != nil {
			return err
		}

		return postLedgerTx(ctx, tx, record, record.SelectedCode, userID, at)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// CorrectRecord replaces the suggested code with one chosen by a reviewer.
// A code that is not a catalog account yields a ValidationError and no
// writes; a record that is not pending yields a ConflictError.
func (s *SQLiteStorage) CorrectRecord(ctx context.Context, documentID, userID, code, notes string, at time.Time) (*model.ClassificationRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(documentID, "documentID"); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}
	if err := validateString(code, "code"); err != nil {
		return nil, err
	}

	var record *model.ClassificationRecord
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		exists, err := accountExistsTx(ctx, tx, code)
		if err != nil {
			return err
		}
		if !exists {
			return common.NewValidationError("corrected_code", "%s is not an account in the catalog", code)
		}

		result, err := tx.ExecContext(ctx, `
			UPDATE classification_records SET
				status = ?, corrected_at = ?, corrected_by = ?, corrected_code = ?,
				correction_notes = ?, updated_at = ?
			WHERE document_id = ? AND status = ?
		`, string(model.StatusCorrected), at, userID, code, nullString(notes), at,
			documentID, string(model.StatusPendingConfirmation))
		if err != nil {
			return fmt.Errorf("failed to correct record: %w", err)
		}
		if err := checkTransition(ctx, tx, result, documentID); err != nil {
			return err
		}

		record, err = getRecordTx(ctx, tx, documentID)
		if err != nil {
			return err
		}

		if err := insertHistoryTx(ctx, tx, model.HistoryEntry{
			DocumentID:     documentID,
			TenantID:       record.TenantID,
			CounterpartyID: counterpartyOf(record),
			Action:         model.ActionCorrected,
			FromStatus:     model.StatusPendingConfirmation,
			ToStatus:       model.StatusCorrected,
			Code:           code,
			Actor:          userID,
			Notes:          notes,
			CreatedAt:      at,
		}); err != nil {
			return err
		}

		return postLedgerTx(ctx, tx, record, code, userID, at)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// GetRecordHistory returns a document's audit trail, oldest first.
func (s *SQLiteStorage) GetRecordHistory(ctx context.Context, documentID string) ([]model.HistoryEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(documentID, "documentID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, tenant_id, counterparty_id, action, from_status,
		       to_status, code, actor, notes, created_at
		FROM classification_history
		WHERE document_id = ?
		ORDER BY rowid
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.HistoryEntry
	for rows.Next() {
		var (
			entry                         model.HistoryEntry
			action, to                    string
			from, code, actor, notesField sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.DocumentID, &entry.TenantID, &entry.CounterpartyID,
			&action, &from, &to, &code, &actor, &notesField, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		entry.Action = model.HistoryAction(action)
		entry.FromStatus = model.RecordStatus(from.String)
		entry.ToStatus = model.RecordStatus(to)
		entry.Code = code.String
		entry.Actor = actor.String
		entry.Notes = notesField.String
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// CountCorrections returns how many of a counterparty's records reviewers
// have corrected for the tenant.
func (s *SQLiteStorage) CountCorrections(ctx context.Context, tenantID, counterpartyID string) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if tenantID == "" || counterpartyID == "" {
		return 0, nil
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM classification_history
		WHERE tenant_id = ? AND counterparty_id = ? AND action = ?
	`, tenantID, counterpartyID, string(model.ActionCorrected)).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count corrections: %w", err)
	}
	return count, nil
}

func transitionTx(ctx context.Context, tx *sql.Tx, documentID string, from, to model.RecordStatus, at time.Time) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE classification_records SET status = ?, updated_at = ?
		WHERE document_id = ? AND status = ?
	`, string(to), at, documentID, string(from))
	if err != nil {
		return fmt.Errorf("failed to move record to %s: %w", to, err)
	}
	return checkTransition(ctx, tx, result, documentID)
}

// checkTransition turns a conditional update that matched nothing into a
// ConflictError carrying the record's actual status.
func checkTransition(ctx context.Context, tx *sql.Tx, result sql.Result, documentID string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM classification_records WHERE document_id = ?`, documentID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("record %s: %w", documentID, common.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read record status: %w", err)
	}
	return &common.ConflictError{DocumentID: documentID, CurrentStatus: current}
}

func counterpartyOf(record *model.ClassificationRecord) string {
	if record.Snapshot == nil {
		return ""
	}
	return record.Snapshot.CounterpartyKey()
}

func (s *SQLiteStorage) queryRecords(ctx context.Context, query string, args ...any) ([]model.ClassificationRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []model.ClassificationRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

func scanRecord(row rowScanner) (*model.ClassificationRecord, error) {
	var (
		r                                                  model.ClassificationRecord
		status, snapshot                                   string
		selected, family, subfamily, explanation           sql.NullString
		alternatives, modelVersion, modelTier, tierReasons sql.NullString
		embeddingVersion, ruleVersion, source, failure     sql.NullString
		confirmedBy, correctedBy, correctedCode, notes     sql.NullString
		classifiedAt, confirmedAt, correctedAt             sql.NullTime
	)

	if err := row.Scan(
		&r.DocumentID, &r.TenantID, &r.BatchID, &r.ExternalID, &status, &snapshot,
		&selected, &family, &subfamily, &r.ConfidenceFamily, &r.ConfidenceCode,
		&explanation, &alternatives, &modelVersion, &modelTier, &tierReasons,
		&embeddingVersion, &ruleVersion, &source, &failure, &r.ReviewRequired,
		&classifiedAt, &confirmedAt, &confirmedBy, &correctedAt, &correctedBy,
		&correctedCode, &notes, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}

	r.Status = model.RecordStatus(status)
	r.SelectedCode = selected.String
	r.FamilyCode = family.String
	r.SubfamilyCode = subfamily.String
	r.Explanation = explanation.String
	r.ModelVersion = modelVersion.String
	r.ModelTier = model.ModelTier(modelTier.String)
	r.EmbeddingVersion = embeddingVersion.String
	r.RuleTableVersion = ruleVersion.String
	r.Source = model.DecisionSource(source.String)
	r.FailureReason = model.FailureReason(failure.String)
	r.ConfirmedBy = confirmedBy.String
	r.CorrectedBy = correctedBy.String
	r.CorrectedCode = correctedCode.String
	r.CorrectionNotes = notes.String
	r.ClassifiedAt = timePtr(classifiedAt)
	r.ConfirmedAt = timePtr(confirmedAt)
	r.CorrectedAt = timePtr(correctedAt)

	var doc model.DocumentSnapshot
	if err := json.Unmarshal([]byte(snapshot), &doc); err != nil {
		return nil, fmt.Errorf("record %s has a corrupt snapshot: %w", r.DocumentID, err)
	}
	r.Snapshot = &doc

	if alternatives.Valid && alternatives.String != "" {
		if err := json.Unmarshal([]byte(alternatives.String), &r.AlternativeCandidates); err != nil {
			return nil, fmt.Errorf("record %s has corrupt alternatives: %w", r.DocumentID, err)
		}
	}
	if tierReasons.Valid && tierReasons.String != "" {
		if err := json.Unmarshal([]byte(tierReasons.String), &r.TierReasons); err != nil {
			return nil, fmt.Errorf("record %s has corrupt tier reasons: %w", r.DocumentID, err)
		}
	}
	return &r, nil
}
