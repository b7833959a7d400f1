package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Veraticus/ledgerline/internal/memory"
	"github.com/Veraticus/ledgerline/internal/model"
	"github.com/Veraticus/ledgerline/internal/selector"
)

// Classifier runs the hierarchical decision for one document.
type Classifier interface {
	Classify(ctx context.Context, doc *model.DocumentSnapshot, signals selector.Signals) (*model.Outcome, error)
}

// MemoryLookup finds reviewed decisions that can be applied directly.
type MemoryLookup interface {
	Lookup(ctx context.Context, key memory.Key) (*model.MemoryMatch, error)
	RecordHit(ctx context.Context, match *model.MemoryMatch)
}

// AccountChecker reports whether a code is a postable account.
type AccountChecker interface {
	IsAccount(code string) bool
}

// CorrectionCounter reads how often a counterparty's suggestions were
// corrected.
type CorrectionCounter interface {
	CountCorrections(ctx context.Context, tenantID, counterpartyID string) (int, error)
}

// Pipeline is one document's path from snapshot to outcome: learning memory
// first, then the hierarchical classifier.
type Pipeline struct {
	classifier Classifier
	memory     MemoryLookup
	accounts   AccountChecker
	stats      CorrectionCounter
	logger     *slog.Logger
}

// NewPipeline creates a pipeline. memory and stats may be nil.
func NewPipeline(classifier Classifier, mem MemoryLookup, accounts AccountChecker, stats CorrectionCounter, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		classifier: classifier,
		memory:     mem,
		accounts:   accounts,
		stats:      stats,
		logger:     logger,
	}
}

// Run produces the outcome for one document. A remembered decision for the
// same description and counterparty short-circuits the reasoning stages.
func (p *Pipeline) Run(ctx context.Context, doc *model.DocumentSnapshot) (*model.Outcome, error) {
	logger := p.logger.With("document_id", doc.DocumentID)

	if outcome := p.fromMemory(ctx, doc, logger); outcome != nil {
		return outcome, nil
	}

	signals := selector.Signals{}
	if p.stats != nil {
		corrections, err := p.stats.CountCorrections(ctx, doc.TenantID, doc.CounterpartyKey())
		if err != nil {
			logger.Warn("Failed to read counterparty corrections", "error", err)
		} else {
			signals.CounterpartyCorrections = corrections
		}
	}

	outcome, err := p.classifier.Classify(ctx, doc, signals)
	if err != nil {
		return nil, fmt.Errorf("classify document %s: %w", doc.DocumentID, err)
	}
	return outcome, nil
}

func (p *Pipeline) fromMemory(ctx context.Context, doc *model.DocumentSnapshot, logger *slog.Logger) *model.Outcome {
	if p.memory == nil {
		return nil
	}

	match, err := p.memory.Lookup(ctx, memory.KeyFor(doc))
	if err != nil {
		logger.Warn("Learning memory lookup failed, running full pipeline", "error", err)
		return nil
	}
	if match == nil {
		return nil
	}

	code := match.Entry.CorrectedCode
	if p.accounts != nil && !p.accounts.IsAccount(code) {
		logger.Warn("Remembered code is no longer an account, ignoring memory", "code", code)
		return nil
	}

	p.memory.RecordHit(ctx, match)
	logger.Info("Applied learned decision",
		"code", code,
		"similarity", match.Similarity,
		"counterparty_id", match.Entry.CounterpartyID)

	return &model.Outcome{
		SelectedCode:     code,
		FamilyCode:       model.FamilyOf(code),
		SubfamilyCode:    model.SubfamilyOf(code),
		Explanation:      fmt.Sprintf("Applied a reviewed decision for this counterparty and description (similarity %.2f).", match.Similarity),
		EmbeddingVersion: match.Entry.EmbeddingVersion,
		Source:           model.SourceMemory,
		ConfidenceFamily: match.Similarity,
		ConfidenceCode:   match.Similarity,
	}
}
