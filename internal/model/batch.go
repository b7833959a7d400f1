package model

import "time"

// BatchJob groups the documents submitted together. Membership never changes
// after creation; per-document progress lives on the records.
type BatchJob struct {
	CreatedAt   time.Time  `json:"created_at"`
	CanceledAt  *time.Time `json:"canceled_at,omitempty"`
	BatchID     string     `json:"batch_id"`
	TenantID    string     `json:"tenant_id"`
	DocumentIDs []string   `json:"document_ids"`
	Duplicates  int        `json:"duplicates"`
}

// BatchStatus is a point-in-time view of a batch computed from its records.
type BatchStatus struct {
	Counts         map[RecordStatus]int  `json:"counts"`
	FailureReasons map[FailureReason]int `json:"failure_reasons,omitempty"`
	BatchID        string                `json:"batch_id"`
	TenantID       string                `json:"tenant_id"`
	Total          int                   `json:"total"`
	Duplicates     int                   `json:"duplicates"`
	Canceled       bool                  `json:"canceled"`
}

// Done reports whether every record in the batch has left the run states.
func (s *BatchStatus) Done() bool {
	return s.Counts[StatusQueued] == 0 && s.Counts[StatusRunning] == 0
}

// Completed returns how many records reached a terminal status.
func (s *BatchStatus) Completed() int {
	return s.Total - s.Counts[StatusQueued] - s.Counts[StatusRunning]
}
