package storage

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/ledgerline/internal/model"
)

func createTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()

	store, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func seedCatalog(t *testing.T, store *SQLiteStorage) {
	t.Helper()

	entries := []model.CatalogEntry{
		{Code: "600", Name: "Gastos"},
		{Code: "601", Name: "Gastos generales"},
		{Code: "601.84", Name: "Otros gastos generales", Embedding: []float32{0.1, 0.2, 0.3}, EmbeddingVersion: "v1"},
		{Code: "602", Name: "Gastos de venta"},
		{Code: "602.84", Name: "Almacenaje", Embedding: []float32{0.3, 0.2, 0.1}, EmbeddingVersion: "v1"},
	}
	require.NoError(t, store.UpsertCatalogEntries(context.Background(), entries))
}

func testDocument(id string) model.DocumentSnapshot {
	return model.DocumentSnapshot{
		DocumentID:       id,
		ExternalID:       "ext-" + id,
		TenantID:         "acme",
		Description:      "Tarifas de almacenamiento",
		CounterpartyName: "Amazon Mexico",
		CounterpartyID:   "amazon-mx",
		Amount:           decimal.RequireFromString("612.73"),
		Currency:         "MXN",
	}
}

func createTestBatch(t *testing.T, store *SQLiteStorage, batchID string, ids ...string) *model.BatchJob {
	t.Helper()

	docs := make([]model.DocumentSnapshot, 0, len(ids))
	for _, id := range ids {
		docs = append(docs, testDocument(id))
	}
	batch := &model.BatchJob{BatchID: batchID, TenantID: "acme"}
	require.NoError(t, store.CreateBatch(context.Background(), batch, docs))
	return batch
}

// pendingRecord drives a record to pending_confirmation with code 602.84.
func pendingRecord(t *testing.T, store *SQLiteStorage, documentID string) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, store.StartRecord(ctx, documentID))
	require.NoError(t, store.CompleteRecord(ctx, documentID, model.StatusRunning, &model.Outcome{
		SelectedCode:     "602.84",
		FamilyCode:       "600",
		SubfamilyCode:    "602",
		ConfidenceFamily: 0.9,
		ConfidenceCode:   0.88,
		Explanation:      "storage fees",
		ModelTier:        model.TierAccurate,
		TierReasons:      []string{"small_gap"},
		Source:           model.SourcePipeline,
		AlternativeCandidates: []model.AlternativeCandidate{
			{Code: "601.84", Name: "Otros gastos generales", Similarity: 0.71, Confidence: 0.1},
		},
	}))
}

func countRows(t *testing.T, store *SQLiteStorage, table string) int {
	t.Helper()
	var n int
	require.NoError(t, store.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&n))
	return n
}
