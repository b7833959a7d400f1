package chart_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/ledgerline/internal/embedding"
	"github.com/Veraticus/ledgerline/internal/model"
	"github.com/Veraticus/ledgerline/internal/testutil/chart"
)

func TestBuilder(t *testing.T) {
	entries := chart.NewBuilder(t).
		WithFixture(chart.FixtureExpenses).
		WithAccount("603.99", "Custom", "").
		Build()

	require.NotEmpty(t, entries)
	for i := 1; i < len(entries); i++ {
		assert.Less(t, entries[i-1].Code, entries[i].Code)
	}

	last := entries[len(entries)-1]
	assert.Equal(t, "603.99", last.Code)
	assert.Equal(t, "603", last.SubfamilyCode)
	assert.Equal(t, "600", last.FamilyCode)
	assert.Equal(t, model.LevelAccount, last.Level)
}

func TestBuildIndex(t *testing.T) {
	embedder := embedding.NewHashEmbedder(embedding.DefaultHashDimensions)
	index := chart.NewBuilder(t).WithBasicChart().BuildIndex(embedder)

	assert.True(t, index.IsAccount(chart.AccountSellingOther.String()))
	assert.False(t, index.IsAccount(chart.SubfamilySelling.String()))
	assert.Len(t, index.Families(), 2)
	assert.Len(t, index.Subfamilies(chart.FamilyExpenses.String()), 3)

	entry, ok := index.Entry(chart.AccountSellingOther.String())
	require.True(t, ok)
	assert.Equal(t, embedder.Version(), entry.EmbeddingVersion)
	assert.NotEmpty(t, entry.Embedding)
}
