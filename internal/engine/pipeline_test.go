package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/ledgerline/internal/embedding"
	"github.com/Veraticus/ledgerline/internal/memory"
	"github.com/Veraticus/ledgerline/internal/model"
	"github.com/Veraticus/ledgerline/internal/selector"
	"github.com/Veraticus/ledgerline/internal/testutil"
	"github.com/Veraticus/ledgerline/internal/testutil/chart"
)

type countingClassifier struct {
	signals []selector.Signals
	outcome *model.Outcome
	err     error
}

func (c *countingClassifier) Classify(_ context.Context, _ *model.DocumentSnapshot, signals selector.Signals) (*model.Outcome, error) {
	c.signals = append(c.signals, signals)
	return c.outcome, c.err
}

type stubMemory struct {
	match *model.MemoryMatch
	err   error
	hits  int
}

func (m *stubMemory) Lookup(context.Context, memory.Key) (*model.MemoryMatch, error) {
	return m.match, m.err
}

func (m *stubMemory) RecordHit(context.Context, *model.MemoryMatch) {
	m.hits++
}

type accountSet map[string]bool

func (a accountSet) IsAccount(code string) bool { return a[code] }

type fixedCounter int

func (c fixedCounter) CountCorrections(context.Context, string, string) (int, error) {
	return int(c), nil
}

type failingCounter struct{}

func (failingCounter) CountCorrections(context.Context, string, string) (int, error) {
	return 0, errors.New("database is locked")
}

func TestPipeline_MemoryHitSkipsClassifier(t *testing.T) {
	classifier := &countingClassifier{outcome: sellingOther()}
	mem := &stubMemory{match: &model.MemoryMatch{
		Entry: model.CorrectionMemoryEntry{
			ID:             "mem-1",
			CounterpartyID: "amazon-mx",
			CorrectedCode:  chart.AccountFreight.String(),
		},
		Similarity: 0.95,
	}}
	accounts := accountSet{chart.AccountFreight.String(): true}

	p := NewPipeline(classifier, mem, accounts, fixedCounter(0), quietLogger)
	doc := document("doc-1")
	outcome, err := p.Run(context.Background(), &doc)
	require.NoError(t, err)

	assert.Empty(t, classifier.signals, "reasoning must not run on a memory hit")
	assert.Equal(t, 1, mem.hits)
	assert.Equal(t, model.SourceMemory, outcome.Source)
	assert.Equal(t, chart.AccountFreight.String(), outcome.SelectedCode)
	assert.Equal(t, "602", outcome.SubfamilyCode)
	assert.Equal(t, "600", outcome.FamilyCode)
	assert.InDelta(t, 0.95, outcome.ConfidenceCode, 1e-9)
	assert.False(t, outcome.Failed())
}

func TestPipeline_FallsThroughToClassifier(t *testing.T) {
	stale := &model.MemoryMatch{
		Entry:      model.CorrectionMemoryEntry{ID: "mem-1", CorrectedCode: "602.99"},
		Similarity: 1,
	}

	tests := []struct {
		name            string
		memory          MemoryLookup
		stats           CorrectionCounter
		wantCorrections int
	}{
		{name: "no memory configured", stats: fixedCounter(4), wantCorrections: 4},
		{name: "memory miss", memory: &stubMemory{}, stats: fixedCounter(1), wantCorrections: 1},
		{name: "memory lookup error", memory: &stubMemory{err: errors.New("timeout")}, stats: fixedCounter(2), wantCorrections: 2},
		{name: "remembered code left the catalog", memory: &stubMemory{match: stale}},
		{name: "statistics unavailable", memory: &stubMemory{}, stats: failingCounter{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classifier := &countingClassifier{outcome: sellingOther()}
			p := NewPipeline(classifier, tt.memory, accountSet{}, tt.stats, quietLogger)

			doc := document("doc-1")
			outcome, err := p.Run(context.Background(), &doc)
			require.NoError(t, err)

			require.Len(t, classifier.signals, 1)
			assert.Equal(t, tt.wantCorrections, classifier.signals[0].CounterpartyCorrections)
			assert.Equal(t, model.SourcePipeline, outcome.Source)
			if sm, ok := tt.memory.(*stubMemory); ok {
				assert.Zero(t, sm.hits)
			}
		})
	}
}

func TestPipeline_ClassifierError(t *testing.T) {
	classifier := &countingClassifier{err: errors.New("reasoning service unavailable")}
	p := NewPipeline(classifier, nil, nil, nil, quietLogger)

	doc := document("doc-1")
	outcome, err := p.Run(context.Background(), &doc)
	require.Error(t, err)
	assert.Nil(t, outcome)
	assert.Contains(t, err.Error(), "doc-1")
}

func TestPipeline_LearnsFromReviewedDecision(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	index := db.Index()

	mem := memory.New(db.Storage, embedding.NewHashEmbedder(embedding.DefaultHashDimensions), 0, quietLogger)
	doc := document("doc-1")
	mem.Record(ctx, memory.KeyFor(&doc), chart.AccountGeneralOther.String(), chart.AccountSellingOther.String())

	classifier := &countingClassifier{outcome: sellingOther()}
	p := NewPipeline(classifier, mem, index, db.Storage, quietLogger)

	repeat := document("doc-2")
	outcome, err := p.Run(ctx, &repeat)
	require.NoError(t, err)

	assert.Empty(t, classifier.signals)
	assert.Equal(t, model.SourceMemory, outcome.Source)
	assert.Equal(t, chart.AccountSellingOther.String(), outcome.SelectedCode)

	entries, err := db.Storage.ListCorrectionMemory(ctx, tenant, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].HitCount)
}
