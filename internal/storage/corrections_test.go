package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/ledgerline/internal/common"
	"github.com/Veraticus/ledgerline/internal/model"
)

func TestCorrectionMemory(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	entry := &model.CorrectionMemoryEntry{
		TenantID:              "acme",
		NormalizedDescription: "tarifas de almacenamiento",
		CounterpartyID:        "amazon-mx",
		OriginalCode:          "601.84",
		CorrectedCode:         "602.84",
		Embedding:             []float32{0.5, 0.5},
		EmbeddingVersion:      "hash-v1",
	}
	require.NoError(t, store.UpsertCorrectionMemory(ctx, entry))
	firstID := entry.ID

	// Last writer wins for the same key.
	again := &model.CorrectionMemoryEntry{
		TenantID:              "acme",
		NormalizedDescription: "tarifas de almacenamiento",
		CounterpartyID:        "amazon-mx",
		OriginalCode:          "602.84",
		CorrectedCode:         "602.85",
	}
	require.NoError(t, store.UpsertCorrectionMemory(ctx, again))

	got, err := store.GetCorrectionMemory(ctx, "acme", "tarifas de almacenamiento", "amazon-mx")
	require.NoError(t, err)
	assert.Equal(t, firstID, got.ID)
	assert.Equal(t, "602.85", got.CorrectedCode)
	assert.Nil(t, got.Embedding)

	require.NoError(t, store.IncrementMemoryHit(ctx, got.ID))
	got, err = store.GetCorrectionMemory(ctx, "acme", "tarifas de almacenamiento", "amazon-mx")
	require.NoError(t, err)
	assert.Equal(t, 1, got.HitCount)

	_, err = store.GetCorrectionMemory(ctx, "acme", "other", "amazon-mx")
	require.ErrorIs(t, err, common.ErrNotFound)

	byCounterparty, err := store.GetCounterpartyMemory(ctx, "acme", "amazon-mx")
	require.NoError(t, err)
	assert.Len(t, byCounterparty, 1)

	listed, err := store.ListCorrectionMemory(ctx, "acme", 10)
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	require.ErrorIs(t, store.IncrementMemoryHit(ctx, "missing"), common.ErrNotFound)
}
