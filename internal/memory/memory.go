// Package memory remembers reviewed decisions so that repeat documents from
// the same counterparty can skip the reasoning pipeline.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Veraticus/ledgerline/internal/common"
	"github.com/Veraticus/ledgerline/internal/embedding"
	"github.com/Veraticus/ledgerline/internal/model"
	"github.com/Veraticus/ledgerline/internal/textnorm"
)

// DefaultAutoApplyThreshold is the similarity at or above which a
// remembered decision is applied without running the pipeline.
const DefaultAutoApplyThreshold = 0.92

// Store persists correction memory.
type Store interface {
	UpsertCorrectionMemory(ctx context.Context, entry *model.CorrectionMemoryEntry) error
	GetCorrectionMemory(ctx context.Context, tenantID, normalizedDescription, counterpartyID string) (*model.CorrectionMemoryEntry, error)
	GetCounterpartyMemory(ctx context.Context, tenantID, counterpartyID string) ([]model.CorrectionMemoryEntry, error)
	IncrementMemoryHit(ctx context.Context, id string) error
}

// Memory is the learning memory.
type Memory struct {
	store     Store
	embedder  embedding.Embedder
	logger    *slog.Logger
	threshold float64
}

// New creates a learning memory. A threshold of zero uses the default.
func New(store Store, embedder embedding.Embedder, threshold float64, logger *slog.Logger) *Memory {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultAutoApplyThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Memory{store: store, embedder: embedder, threshold: threshold, logger: logger}
}

// Threshold returns the auto-apply similarity threshold.
func (m *Memory) Threshold() float64 {
	return m.threshold
}

// Key is what a memory entry is looked up by.
type Key struct {
	TenantID       string
	Description    string
	CounterpartyID string
}

// KeyFor derives the memory key of a document.
func KeyFor(d *model.DocumentSnapshot) Key {
	return Key{
		TenantID:       d.TenantID,
		Description:    textnorm.Normalize(d.Description),
		CounterpartyID: d.CounterpartyKey(),
	}
}

// Lookup returns the best remembered decision whose similarity reaches the
// threshold, or nil. An exact key match has similarity 1. Otherwise the
// tenant's entries for the same counterparty are compared by embedding,
// considering only entries embedded with the current version.
func (m *Memory) Lookup(ctx context.Context, key Key) (*model.MemoryMatch, error) {
	if key.TenantID == "" || key.Description == "" {
		return nil, nil
	}

	entry, err := m.store.GetCorrectionMemory(ctx, key.TenantID, key.Description, key.CounterpartyID)
	switch {
	case err == nil:
		return &model.MemoryMatch{Entry: *entry, Similarity: 1}, nil
	case !errors.Is(err, common.ErrNotFound):
		return nil, fmt.Errorf("memory lookup failed: %w", err)
	}

	if key.CounterpartyID == "" {
		return nil, nil
	}

	entries, err := m.store.GetCounterpartyMemory(ctx, key.TenantID, key.CounterpartyID)
	if err != nil {
		return nil, fmt.Errorf("memory lookup failed: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	vector, err := embedding.EmbedOne(ctx, m.embedder, key.Description)
	if err != nil {
		return nil, fmt.Errorf("failed to embed memory key: %w", err)
	}

	version := m.embedder.Version()
	var best *model.MemoryMatch
	for _, candidate := range entries {
		if candidate.EmbeddingVersion != version || len(candidate.Embedding) == 0 {
			continue
		}
		sim := embedding.Cosine(vector, candidate.Embedding)
		if sim < m.threshold {
			continue
		}
		if best == nil || sim > best.Similarity ||
			(sim == best.Similarity && strings.Compare(candidate.ID, best.Entry.ID) < 0) {
			best = &model.MemoryMatch{Entry: candidate, Similarity: sim}
		}
	}
	return best, nil
}

// RecordHit counts an automatic application. Failures are logged only.
func (m *Memory) RecordHit(ctx context.Context, match *model.MemoryMatch) {
	if match == nil || match.Entry.ID == "" {
		return
	}
	if err := m.store.IncrementMemoryHit(ctx, match.Entry.ID); err != nil {
		m.logger.Warn("Failed to record memory hit", "entry_id", match.Entry.ID, "error", err)
	}
}

// Record stores a reviewed decision. It is best-effort: failures are logged
// and never returned, so a reviewer's correction cannot be undone by a
// memory write. If embedding fails the entry is still stored for exact-key
// lookups.
func (m *Memory) Record(ctx context.Context, key Key, originalCode, finalCode string) {
	if key.TenantID == "" || key.Description == "" || finalCode == "" {
		return
	}

	entry := &model.CorrectionMemoryEntry{
		TenantID:              key.TenantID,
		NormalizedDescription: key.Description,
		CounterpartyID:        key.CounterpartyID,
		OriginalCode:          originalCode,
		CorrectedCode:         finalCode,
	}

	vector, err := embedding.EmbedOne(ctx, m.embedder, key.Description)
	if err != nil {
		m.logger.Warn("Failed to embed memory entry, storing without vector",
			"tenant_id", key.TenantID, "error", err)
	} else {
		entry.Embedding = vector
		entry.EmbeddingVersion = m.embedder.Version()
	}

	if err := m.store.UpsertCorrectionMemory(ctx, entry); err != nil {
		m.logger.Error("Failed to write learning memory",
			"tenant_id", key.TenantID,
			"counterparty_id", key.CounterpartyID,
			"code", finalCode,
			"error", err)
		return
	}

	m.logger.Debug("Recorded learning memory",
		"tenant_id", key.TenantID,
		"counterparty_id", key.CounterpartyID,
		"code", finalCode)
}
