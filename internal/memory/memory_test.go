package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/ledgerline/internal/embedding"
	"github.com/Veraticus/ledgerline/internal/model"
	"github.com/Veraticus/ledgerline/internal/storage"
)

func newTestMemory(t *testing.T) (*Memory, *storage.SQLiteStorage) {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(context.Background()))

	return New(store, embedding.NewHashEmbedder(128), 0, nil), store
}

func TestKeyFor(t *testing.T) {
	key := KeyFor(&model.DocumentSnapshot{
		TenantID:       "acme",
		Description:    "  Comisión por VENTA ",
		CounterpartyID: "amazon-mx",
	})
	assert.Equal(t, Key{TenantID: "acme", Description: "comision por venta", CounterpartyID: "amazon-mx"}, key)
}

func TestMemory_ExactHit(t *testing.T) {
	mem, _ := newTestMemory(t)
	ctx := context.Background()
	key := Key{TenantID: "acme", Description: "tarifas de almacenamiento", CounterpartyID: "amazon-mx"}

	match, err := mem.Lookup(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, match)

	mem.Record(ctx, key, "601.84", "602.84")

	match, err = mem.Lookup(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.InDelta(t, 1.0, match.Similarity, 1e-9)
	assert.Equal(t, "602.84", match.Entry.CorrectedCode)
	assert.Equal(t, "601.84", match.Entry.OriginalCode)

	// Other tenants never see it.
	other := key
	other.TenantID = "globex"
	match, err = mem.Lookup(ctx, other)
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestMemory_SimilarityHit(t *testing.T) {
	mem, _ := newTestMemory(t)
	ctx := context.Background()
	mem.Record(ctx, Key{TenantID: "acme", Description: "tarifas de almacenamiento fba", CounterpartyID: "amazon-mx"}, "", "602.84")

	tests := []struct {
		name    string
		key     Key
		wantHit bool
	}{
		{
			name:    "same words reordered",
			key:     Key{TenantID: "acme", Description: "fba tarifas de almacenamiento", CounterpartyID: "amazon-mx"},
			wantHit: true,
		},
		{
			name: "different description",
			key:  Key{TenantID: "acme", Description: "licencia anual de software", CounterpartyID: "amazon-mx"},
		},
		{
			name: "different counterparty",
			key:  Key{TenantID: "acme", Description: "fba tarifas de almacenamiento", CounterpartyID: "mercado-libre"},
		},
		{
			name: "no counterparty",
			key:  Key{TenantID: "acme", Description: "fba tarifas de almacenamiento"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match, err := mem.Lookup(ctx, tt.key)
			require.NoError(t, err)
			if !tt.wantHit {
				assert.Nil(t, match)
				return
			}
			require.NotNil(t, match)
			assert.GreaterOrEqual(t, match.Similarity, mem.Threshold())
			assert.Equal(t, "602.84", match.Entry.CorrectedCode)
		})
	}
}

func TestMemory_IgnoresOtherEmbeddingVersions(t *testing.T) {
	_, store := newTestMemory(t)
	ctx := context.Background()

	old := New(store, embedding.NewHashEmbedder(64), 0, nil)
	old.Record(ctx, Key{TenantID: "acme", Description: "tarifas de almacenamiento fba", CounterpartyID: "amazon-mx"}, "", "602.84")

	current := New(store, embedding.NewHashEmbedder(128), 0, nil)
	match, err := current.Lookup(ctx, Key{TenantID: "acme", Description: "fba tarifas de almacenamiento", CounterpartyID: "amazon-mx"})
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestMemory_RecordHit(t *testing.T) {
	mem, store := newTestMemory(t)
	ctx := context.Background()
	key := Key{TenantID: "acme", Description: "fletes", CounterpartyID: "dhl"}
	mem.Record(ctx, key, "", "602.72")

	match, err := mem.Lookup(ctx, key)
	require.NoError(t, err)
	mem.RecordHit(ctx, match)
	mem.RecordHit(ctx, nil)

	entry, err := store.GetCorrectionMemory(ctx, "acme", "fletes", "dhl")
	require.NoError(t, err)
	assert.Equal(t, 1, entry.HitCount)
}

type brokenStore struct {
	Store
	upserts int
}

func (b *brokenStore) UpsertCorrectionMemory(context.Context, *model.CorrectionMemoryEntry) error {
	b.upserts++
	return errors.New("disk full")
}

type brokenEmbedder struct{}

func (brokenEmbedder) Version() string { return "broken" }
func (brokenEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("embedding service down")
}

func TestMemory_RecordIsBestEffort(t *testing.T) {
	ctx := context.Background()
	key := Key{TenantID: "acme", Description: "fletes", CounterpartyID: "dhl"}

	t.Run("store failure is swallowed", func(t *testing.T) {
		store := &brokenStore{}
		mem := New(store, embedding.NewHashEmbedder(8), 0, nil)
		assert.NotPanics(t, func() { mem.Record(ctx, key, "", "602.72") })
		assert.Equal(t, 1, store.upserts)
	})

	t.Run("embed failure still stores for exact lookups", func(t *testing.T) {
		_, store := newTestMemory(t)
		mem := New(store, brokenEmbedder{}, 0, nil)
		mem.Record(ctx, key, "", "602.72")

		match, err := mem.Lookup(ctx, key)
		require.NoError(t, err)
		require.NotNil(t, match)
		assert.Empty(t, match.Entry.EmbeddingVersion)
	})
}
