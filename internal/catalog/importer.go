package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/Veraticus/ledgerline/internal/embedding"
	"github.com/Veraticus/ledgerline/internal/model"
)

// EntryStore persists catalog entries.
type EntryStore interface {
	UpsertCatalogEntries(ctx context.Context, entries []model.CatalogEntry) error
}

// Importer loads chart-of-accounts entries and embeds the accounts that lack
// a vector for the current embedder.
type Importer struct {
	store    EntryStore
	embedder embedding.Embedder
	logger   *slog.Logger
}

// NewImporter creates an importer.
func NewImporter(store EntryStore, embedder embedding.Embedder, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{store: store, embedder: embedder, logger: logger}
}

// ImportJSON reads a JSON array of entries from r and imports it.
func (im *Importer) ImportJSON(ctx context.Context, r io.Reader) (int, error) {
	var entries []model.CatalogEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return 0, fmt.Errorf("failed to decode catalog: %w", err)
	}
	return im.Import(ctx, entries)
}

// Import embeds and stores entries. Accounts whose vector was produced by a
// different embedding version are re-embedded; headers are stored without
// vectors.
func (im *Importer) Import(ctx context.Context, entries []model.CatalogEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	version := im.embedder.Version()
	var (
		texts []string
		slots []int
	)
	for i := range entries {
		entries[i].Normalize()
		if entries[i].Level != model.LevelAccount {
			entries[i].Embedding = nil
			continue
		}
		if len(entries[i].Embedding) > 0 && entries[i].EmbeddingVersion == version {
			continue
		}
		texts = append(texts, entries[i].EmbeddingText())
		slots = append(slots, i)
	}

	if len(texts) > 0 {
		im.logger.Info("Embedding catalog accounts", "count", len(texts), "embedding_version", version)
		vecs, err := im.embedder.Embed(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("failed to embed catalog: %w", err)
		}
		if len(vecs) != len(texts) {
			return 0, fmt.Errorf("embedder returned %d vectors for %d accounts", len(vecs), len(texts))
		}
		for j, slot := range slots {
			entries[slot].Embedding = vecs[j]
			entries[slot].EmbeddingVersion = version
		}
	}

	if err := im.store.UpsertCatalogEntries(ctx, entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}
