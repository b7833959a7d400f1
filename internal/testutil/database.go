// Package testutil provides shared test infrastructure: an isolated in-memory
// database with migrations applied and an optional seeded chart of accounts.
package testutil

import (
	"context"
	"testing"

	"github.com/Veraticus/ledgerline/internal/catalog"
	"github.com/Veraticus/ledgerline/internal/embedding"
	"github.com/Veraticus/ledgerline/internal/model"
	"github.com/Veraticus/ledgerline/internal/storage"
	"github.com/Veraticus/ledgerline/internal/testutil/chart"
)

// TestDB is a migrated in-memory database for one test.
type TestDB struct {
	Storage  *storage.SQLiteStorage
	Embedder embedding.Embedder
	t        testing.TB
	Catalog  []model.CatalogEntry
}

// TestDBOptions configures SetupTestDBWithOptions.
type TestDBOptions struct {
	CustomSetup    func(context.Context, *storage.SQLiteStorage) error
	Embedder       embedding.Embedder
	Chart          func(*chart.Builder) *chart.Builder
	Rules          []model.SteeringRule
	SkipMigrations bool
}

// SetupTestDB creates a database seeded with the basic chart.
//
//	db := testutil.SetupTestDB(t)
//	index := db.Index()
func SetupTestDB(t testing.TB) *TestDB {
	t.Helper()
	return SetupTestDBWithOptions(t, TestDBOptions{
		Chart: func(b *chart.Builder) *chart.Builder { return b.WithBasicChart() },
	})
}

// SetupTestDBWithBuilder creates a database seeded with a custom chart.
func SetupTestDBWithBuilder(t testing.TB, configure func(*chart.Builder) *chart.Builder) *TestDB {
	t.Helper()
	return SetupTestDBWithOptions(t, TestDBOptions{Chart: configure})
}

// SetupTestDBWithOptions creates a database with custom options.
func SetupTestDBWithOptions(t testing.TB, opts TestDBOptions) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	if !opts.SkipMigrations {
		if err := store.Migrate(ctx); err != nil {
			t.Fatalf("failed to run migrations: %v", err)
		}
	}

	embedder := opts.Embedder
	if embedder == nil {
		embedder = embedding.NewHashEmbedder(embedding.DefaultHashDimensions)
	}

	db := &TestDB{Storage: store, Embedder: embedder, t: t}

	if opts.Chart != nil {
		db.Catalog = opts.Chart(chart.NewBuilder(t)).Seed(ctx, store, embedder)
	}

	if len(opts.Rules) > 0 {
		if err := store.SaveSteeringRules(ctx, opts.Rules); err != nil {
			t.Fatalf("failed to seed steering rules: %v", err)
		}
	}

	if opts.CustomSetup != nil {
		if err := opts.CustomSetup(ctx, store); err != nil {
			t.Fatalf("custom setup failed: %v", err)
		}
	}

	return db
}

// Index loads the stored catalog into an index.
func (db *TestDB) Index() *catalog.Index {
	db.t.Helper()

	index, err := catalog.Load(context.Background(), db.Storage)
	if err != nil {
		db.t.Fatalf("failed to load catalog: %v", err)
	}
	return index
}
