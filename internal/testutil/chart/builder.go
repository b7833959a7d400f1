package chart

import (
	"context"
	"sort"
	"testing"

	"github.com/Veraticus/ledgerline/internal/catalog"
	"github.com/Veraticus/ledgerline/internal/embedding"
	"github.com/Veraticus/ledgerline/internal/model"
)

// Builder assembles catalog entries for a test.
type Builder struct {
	t       testing.TB
	entries map[AccountCode]Entry
}

// NewBuilder creates an empty builder.
func NewBuilder(t testing.TB) *Builder {
	t.Helper()
	return &Builder{t: t, entries: make(map[AccountCode]Entry)}
}

// WithAccount adds or replaces one entry. Headers above it are synthesized by
// the catalog if not added explicitly.
func (b *Builder) WithAccount(code AccountCode, name, description string) *Builder {
	b.entries[code] = Entry{Code: code, Name: name, Description: description}
	return b
}

// WithFixture adds every entry of a fixture.
func (b *Builder) WithFixture(f Fixture) *Builder {
	for _, e := range f.Entries {
		b.entries[e.Code] = e
	}
	return b
}

// WithBasicChart adds the expense and asset fixtures.
func (b *Builder) WithBasicChart() *Builder {
	return b.WithFixture(FixtureExpenses).WithFixture(FixtureAssets)
}

// Build returns the entries ordered by code, without vectors.
func (b *Builder) Build() []model.CatalogEntry {
	out := make([]model.CatalogEntry, 0, len(b.entries))
	for _, e := range b.entries {
		entry := model.CatalogEntry{Code: e.Code.String(), Name: e.Name, Description: e.Description}
		entry.Normalize()
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// BuildEmbedded returns the entries with account vectors produced by embedder.
func (b *Builder) BuildEmbedded(embedder embedding.Embedder) []model.CatalogEntry {
	b.t.Helper()

	entries := b.Build()
	version := embedder.Version()
	for i := range entries {
		if entries[i].Level != model.LevelAccount {
			continue
		}
		vec, err := embedding.EmbedOne(context.Background(), embedder, entries[i].EmbeddingText())
		if err != nil {
			b.t.Fatalf("failed to embed %s: %v", entries[i].Code, err)
		}
		entries[i].Embedding = vec
		entries[i].EmbeddingVersion = version
	}
	return entries
}

// BuildIndex returns an index over the embedded entries.
func (b *Builder) BuildIndex(embedder embedding.Embedder) *catalog.Index {
	b.t.Helper()
	return catalog.NewIndex(b.BuildEmbedded(embedder))
}

// Seed imports the entries into store through the catalog importer.
func (b *Builder) Seed(ctx context.Context, store catalog.EntryStore, embedder embedding.Embedder) []model.CatalogEntry {
	b.t.Helper()

	entries := b.Build()
	if _, err := catalog.NewImporter(store, embedder, nil).Import(ctx, entries); err != nil {
		b.t.Fatalf("failed to seed catalog: %v", err)
	}
	return entries
}
