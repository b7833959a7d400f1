package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Veraticus/ledgerline/internal/catalog"
	"github.com/Veraticus/ledgerline/internal/classifier"
	"github.com/Veraticus/ledgerline/internal/embedding"
	"github.com/Veraticus/ledgerline/internal/engine"
	"github.com/Veraticus/ledgerline/internal/llm"
	"github.com/Veraticus/ledgerline/internal/memory"
	"github.com/Veraticus/ledgerline/internal/retrieval"
	"github.com/Veraticus/ledgerline/internal/review"
	"github.com/Veraticus/ledgerline/internal/rules"
	"github.com/Veraticus/ledgerline/internal/selector"
	"github.com/Veraticus/ledgerline/internal/storage"
)

// initStorage opens the configured database and brings its schema up to date.
func initStorage(ctx context.Context) (*storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorageWithDriver(appCfg.Database.Driver, appCfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// reviewApp is the wiring for commands that only read and review records.
type reviewApp struct {
	store    *storage.SQLiteStorage
	embedder *embedding.CachedEmbedder
	memory   *memory.Memory
	review   *review.Service
}

func newReviewApp(ctx context.Context) (*reviewApp, error) {
	store, err := initStorage(ctx)
	if err != nil {
		return nil, err
	}

	embedder, err := embedding.New(ctx, appCfg.Embedding)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	logger := slog.Default()
	mem := memory.New(store, embedder, appCfg.MemoryThreshold, logger.With("component", "memory"))

	return &reviewApp{
		store:    store,
		embedder: embedder,
		memory:   mem,
		review:   review.New(store, mem, logger.With("component", "review")),
	}, nil
}

func (a *reviewApp) Close() error {
	return errors.Join(a.embedder.Close(), a.store.Close())
}

// classifyApp adds the classification pipeline and batch orchestrator.
type classifyApp struct {
	*reviewApp
	reasoner     *llm.Reasoner
	orchestrator *engine.Orchestrator
}

func newClassifyApp(ctx context.Context) (*classifyApp, error) {
	base, err := newReviewApp(ctx)
	if err != nil {
		return nil, err
	}

	app, err := base.withPipeline(ctx)
	if err != nil {
		_ = base.Close()
		return nil, err
	}
	return app, nil
}

func (a *reviewApp) withPipeline(ctx context.Context) (*classifyApp, error) {
	logger := slog.Default()

	index, err := catalog.Load(ctx, a.store)
	if err != nil {
		return nil, err
	}
	if index.Len() == 0 {
		return nil, fmt.Errorf("the chart of accounts is empty, run 'ledgerline catalog import' first")
	}

	detector, err := rules.Load(ctx, a.store)
	if err != nil {
		return nil, err
	}
	if detector.Len() == 0 {
		logger.Warn("No steering rules loaded, run 'ledgerline rules seed' to install the defaults")
	}

	reasoner, err := llm.New(ctx, appCfg.LLM, logger.With("component", "llm"))
	if err != nil {
		return nil, fmt.Errorf("failed to create reasoning client: %w", err)
	}

	retriever := retrieval.New(index, a.embedder,
		retrieval.WithTopK(appCfg.Classifier.TopK),
		retrieval.WithLogger(logger.With("component", "retrieval")))

	cls, err := classifier.New(retriever, reasoner, selector.New(appCfg.Selector), detector,
		appCfg.Classifier, logger.With("component", "classifier"))
	if err != nil {
		_ = reasoner.Close()
		return nil, err
	}

	pipeline := engine.NewPipeline(cls, a.memory, index, a.store, logger.With("component", "pipeline"))

	return &classifyApp{
		reviewApp:    a,
		reasoner:     reasoner,
		orchestrator: engine.New(a.store, pipeline, appCfg.Batch, logger.With("component", "orchestrator")),
	}, nil
}

// Close waits for running batches, bounded by ctx, then releases resources.
func (a *classifyApp) Close(ctx context.Context) error {
	shutdownErr := a.orchestrator.Shutdown(ctx)
	return errors.Join(shutdownErr, a.reasoner.Close(), a.reviewApp.Close())
}

// tracker returns an orchestrator that can report and cancel batches but
// never runs documents.
func (a *reviewApp) tracker() *engine.Orchestrator {
	return engine.New(a.store, nil, appCfg.Batch, slog.Default().With("component", "orchestrator"))
}
