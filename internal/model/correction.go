package model

import "time"

// CorrectionMemoryEntry is a learned decision keyed by tenant, normalized
// description and counterparty. Later writes for the same key win.
type CorrectionMemoryEntry struct {
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
	ID                    string    `json:"id"`
	TenantID              string    `json:"tenant_id"`
	NormalizedDescription string    `json:"normalized_description"`
	CounterpartyID        string    `json:"counterparty_id"`
	OriginalCode          string    `json:"original_code"`
	CorrectedCode         string    `json:"corrected_code"`
	EmbeddingVersion      string    `json:"embedding_version,omitempty"`
	Embedding             []float32 `json:"-"`
	HitCount              int       `json:"hit_count"`
}

// MemoryMatch is a lookup hit together with how closely it matched.
type MemoryMatch struct {
	Entry      CorrectionMemoryEntry
	Similarity float64
}
