package model

import "time"

// RecordStatus is the persisted state of a classification record.
type RecordStatus string

// Record status constants. Queued and running are orchestrator run states
// and never shown to reviewers.
const (
	StatusQueued              RecordStatus = "queued"
	StatusRunning             RecordStatus = "running"
	StatusPendingConfirmation RecordStatus = "pending_confirmation"
	StatusConfirmed           RecordStatus = "confirmed"
	StatusCorrected           RecordStatus = "corrected"
	StatusNotClassified       RecordStatus = "not_classified"
)

// IsTerminal reports whether the pipeline is done with a record in this status.
func (s RecordStatus) IsTerminal() bool {
	return s != StatusQueued && s != StatusRunning
}

// FailureReason explains why a record ended as not_classified.
type FailureReason string

// Failure reason constants.
const (
	FailureTimeout            FailureReason = "timeout"
	FailureServiceUnavailable FailureReason = "service_unavailable"
	FailureNoCandidates       FailureReason = "no_candidates"
	FailureNoFit              FailureReason = "no_fit"
	FailureInvalidResponse    FailureReason = "invalid_response"
	FailureCanceled           FailureReason = "canceled"
	FailureError              FailureReason = "error"
)

// DecisionSource records where a suggestion came from.
type DecisionSource string

// Decision source constants.
const (
	SourcePipeline DecisionSource = "pipeline"
	SourceMemory   DecisionSource = "memory"
)

// ClassificationRecord is the persisted decision for one document.
type ClassificationRecord struct {
	ClassifiedAt          *time.Time             `json:"classified_at,omitempty"`
	ConfirmedAt           *time.Time             `json:"confirmed_at,omitempty"`
	CorrectedAt           *time.Time             `json:"corrected_at,omitempty"`
	CreatedAt             time.Time              `json:"created_at"`
	UpdatedAt             time.Time              `json:"updated_at"`
	Snapshot              *DocumentSnapshot      `json:"snapshot,omitempty"`
	DocumentID            string                 `json:"document_id"`
	TenantID              string                 `json:"tenant_id"`
	BatchID               string                 `json:"batch_id"`
	ExternalID            string                 `json:"external_id"`
	Status                RecordStatus           `json:"status"`
	SelectedCode          string                 `json:"selected_code,omitempty"`
	FamilyCode            string                 `json:"family_code,omitempty"`
	SubfamilyCode         string                 `json:"subfamily_code,omitempty"`
	Explanation           string                 `json:"explanation,omitempty"`
	ModelVersion          string                 `json:"model_version,omitempty"`
	ModelTier             ModelTier              `json:"model_tier,omitempty"`
	EmbeddingVersion      string                 `json:"embedding_version,omitempty"`
	RuleTableVersion      string                 `json:"rule_table_version,omitempty"`
	Source                DecisionSource         `json:"source,omitempty"`
	FailureReason         FailureReason          `json:"failure_reason,omitempty"`
	ConfirmedBy           string                 `json:"confirmed_by,omitempty"`
	CorrectedBy           string                 `json:"corrected_by,omitempty"`
	CorrectedCode         string                 `json:"corrected_code,omitempty"`
	CorrectionNotes       string                 `json:"correction_notes,omitempty"`
	TierReasons           []string               `json:"tier_reasons,omitempty"`
	AlternativeCandidates []AlternativeCandidate `json:"alternative_candidates,omitempty"`
	ConfidenceFamily      float64                `json:"confidence_family"`
	ConfidenceCode        float64                `json:"confidence_code"`
	ReviewRequired        bool                   `json:"review_required"`
}

// EffectiveCode is the code the record finally books to: the correction if
// there is one, otherwise the selected code.
func (r *ClassificationRecord) EffectiveCode() string {
	if r.Status == StatusCorrected && r.CorrectedCode != "" {
		return r.CorrectedCode
	}
	return r.SelectedCode
}

// Outcome is what a pipeline run produced for a record. Exactly one of a
// successful suggestion or a failure reason is set.
type Outcome struct {
	SelectedCode          string
	FamilyCode            string
	SubfamilyCode         string
	Explanation           string
	ModelVersion          string
	ModelTier             ModelTier
	EmbeddingVersion      string
	RuleTableVersion      string
	Source                DecisionSource
	FailureReason         FailureReason
	TierReasons           []string
	AlternativeCandidates []AlternativeCandidate
	ConfidenceFamily      float64
	ConfidenceCode        float64
	ReviewRequired        bool
}

// Failed reports whether the outcome ends the record as not_classified.
func (o *Outcome) Failed() bool {
	return o.FailureReason != ""
}

// HistoryAction names an audit-history entry.
type HistoryAction string

// History action constants.
const (
	ActionCreated    HistoryAction = "created"
	ActionClassified HistoryAction = "classified"
	ActionFailed     HistoryAction = "failed"
	ActionConfirmed  HistoryAction = "confirmed"
	ActionCorrected  HistoryAction = "corrected"
)

// HistoryEntry is one row of a record's audit trail.
type HistoryEntry struct {
	CreatedAt      time.Time     `json:"created_at"`
	ID             string        `json:"id"`
	DocumentID     string        `json:"document_id"`
	TenantID       string        `json:"tenant_id"`
	CounterpartyID string        `json:"counterparty_id,omitempty"`
	Action         HistoryAction `json:"action"`
	FromStatus     RecordStatus  `json:"from_status,omitempty"`
	ToStatus       RecordStatus  `json:"to_status"`
	Code           string        `json:"code,omitempty"`
	Actor          string        `json:"actor,omitempty"`
	Notes          string        `json:"notes,omitempty"`
}
