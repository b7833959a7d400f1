// Package engine schedules classification runs for submitted batches and
// drives each document through the pipeline.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/Veraticus/ledgerline/internal/common"
	"github.com/Veraticus/ledgerline/internal/llm"
	"github.com/Veraticus/ledgerline/internal/model"
)

const (
	// DefaultWorkers is the global number of concurrent pipeline runs.
	DefaultWorkers = 3
	// DefaultRunTimeout bounds one document's pipeline run, retries included.
	DefaultRunTimeout = 5 * time.Minute

	waitPollInterval = 500 * time.Millisecond
)

// ErrShuttingDown is returned by Submit and Resume after Shutdown was called.
var ErrShuttingDown = errors.New("orchestrator is shutting down")

// Store persists batches and the records the orchestrator drives.
type Store interface {
	CreateBatch(ctx context.Context, batch *model.BatchJob, documents []model.DocumentSnapshot) error
	GetBatch(ctx context.Context, batchID string) (*model.BatchJob, error)
	MarkBatchCanceled(ctx context.Context, batchID string, at time.Time) error
	FindExistingExternalIDs(ctx context.Context, tenantID string, keys []string) (map[string]string, error)
	GetBatchRecords(ctx context.Context, batchID string) ([]model.ClassificationRecord, error)
	StartRecord(ctx context.Context, documentID string) error
	CompleteRecord(ctx context.Context, documentID string, from model.RecordStatus, outcome *model.Outcome) error
}

// Runner produces the outcome for one document.
type Runner interface {
	Run(ctx context.Context, doc *model.DocumentSnapshot) (*model.Outcome, error)
}

// Config sizes the worker pool.
type Config struct {
	Workers    int
	RunTimeout time.Duration
}

// DefaultConfig returns the standard pool settings.
func DefaultConfig() Config {
	return Config{Workers: DefaultWorkers, RunTimeout: DefaultRunTimeout}
}

// Orchestrator accepts batches and runs their documents under a global
// concurrency limit shared by every batch.
type Orchestrator struct {
	store   Store
	runner  Runner
	sem     *semaphore.Weighted
	logger  *slog.Logger
	now     func() time.Time
	batches map[string]*batchRun
	cfg     Config
	wg      sync.WaitGroup
	mu      sync.Mutex
	closed  bool
}

type batchRun struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an orchestrator.
func New(store Store, runner Runner, cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = DefaultRunTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:   store,
		runner:  runner,
		sem:     semaphore.NewWeighted(int64(cfg.Workers)),
		logger:  logger,
		now:     time.Now,
		batches: make(map[string]*batchRun),
		cfg:     cfg,
	}
}

// Submit validates and deduplicates the documents, persists one queued
// record per remaining document and schedules them. It returns as soon as
// the batch is stored; runs continue in the background.
func (o *Orchestrator) Submit(ctx context.Context, tenantID string, documents []model.DocumentSnapshot) (*model.BatchJob, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, common.NewValidationError("tenant_id", "is required")
	}
	if len(documents) == 0 {
		return nil, common.ErrNoDocuments
	}

	docs, err := prepare(tenantID, documents)
	if err != nil {
		return nil, err
	}

	accepted, duplicates, err := o.dedup(ctx, tenantID, docs)
	if err != nil {
		return nil, err
	}
	if len(accepted) == 0 {
		return nil, fmt.Errorf("%w: all %d documents were already submitted", common.ErrNoDocuments, duplicates)
	}

	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return nil, ErrShuttingDown
	}

	batch := &model.BatchJob{
		BatchID:    ulid.Make().String(),
		TenantID:   tenantID,
		Duplicates: duplicates,
		CreatedAt:  o.now(),
	}
	if err := o.store.CreateBatch(ctx, batch, accepted); err != nil {
		return nil, fmt.Errorf("failed to create batch: %w", err)
	}

	o.logger.Info("Batch submitted",
		"batch_id", batch.BatchID,
		"tenant_id", tenantID,
		"documents", len(accepted),
		"duplicates", duplicates)

	if err := o.start(ctx, batch.BatchID, accepted); err != nil {
		return nil, common.NewUserError(
			fmt.Sprintf("batch %s was stored but not started; run 'ledgerline batch resume %s' to classify it", batch.BatchID, batch.BatchID),
			err)
	}
	return batch, nil
}

// prepare copies the documents, fills a missing tenant and validates each.
func prepare(tenantID string, documents []model.DocumentSnapshot) ([]model.DocumentSnapshot, error) {
	docs := make([]model.DocumentSnapshot, len(documents))
	for i := range documents {
		doc := documents[i]
		if doc.TenantID == "" {
			doc.TenantID = tenantID
		}
		if doc.TenantID != tenantID {
			return nil, common.NewValidationError(fmt.Sprintf("documents[%d].tenant_id", i),
				"belongs to tenant %s, not %s", doc.TenantID, tenantID)
		}
		if err := doc.Validate(); err != nil {
			return nil, common.NewValidationError(fmt.Sprintf("documents[%d]", i), "%v", err)
		}
		docs[i] = doc
	}
	return docs, nil
}

// dedup drops documents whose dedup key repeats within the submission or
// already has a record for the tenant.
func (o *Orchestrator) dedup(ctx context.Context, tenantID string, docs []model.DocumentSnapshot) ([]model.DocumentSnapshot, int, error) {
	seen := make(map[string]bool, len(docs))
	keys := make([]string, 0, len(docs))
	unique := make([]model.DocumentSnapshot, 0, len(docs))
	for _, doc := range docs {
		key := doc.DedupKey()
		if seen[key] {
			o.logger.Debug("Dropping duplicate within submission", "document_id", doc.DocumentID, "external_id", key)
			continue
		}
		seen[key] = true
		keys = append(keys, key)
		unique = append(unique, doc)
	}

	existing, err := o.store.FindExistingExternalIDs(ctx, tenantID, keys)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to check for duplicates: %w", err)
	}

	accepted := unique[:0]
	for _, doc := range unique {
		if documentID, ok := existing[doc.DedupKey()]; ok {
			o.logger.Debug("Dropping previously submitted document",
				"document_id", doc.DocumentID,
				"existing_document_id", documentID)
			continue
		}
		accepted = append(accepted, doc)
	}
	return accepted, len(docs) - len(accepted), nil
}

// start dispatches documents on a context detached from the caller, so the
// batch outlives the request that submitted it.
func (o *Orchestrator) start(ctx context.Context, batchID string, docs []model.DocumentSnapshot) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrShuttingDown
	}
	if _, active := o.batches[batchID]; active {
		return fmt.Errorf("batch %s is already running", batchID)
	}

	batchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	run := &batchRun{cancel: cancel, done: make(chan struct{})}
	o.batches[batchID] = run

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer close(run.done)
		defer cancel()

		o.dispatch(batchCtx, batchID, docs)

		o.mu.Lock()
		delete(o.batches, batchID)
		o.mu.Unlock()
	}()
	return nil
}

func (o *Orchestrator) dispatch(ctx context.Context, batchID string, docs []model.DocumentSnapshot) {
	logger := o.logger.With("batch_id", batchID)
	started := o.now()

	var g errgroup.Group
	for i := range docs {
		doc := &docs[i]
		if err := o.sem.Acquire(ctx, 1); err != nil {
			o.cancelQueued(docs[i:], logger)
			break
		}
		g.Go(func() error {
			defer o.sem.Release(1)
			o.runDocument(ctx, doc, logger)
			return nil
		})
	}
	_ = g.Wait()

	logger.Info("Batch dispatch finished", "documents", len(docs), "duration", o.now().Sub(started))
}

// runDocument drives one record from queued to a terminal status. Record
// writes use a context that batch cancellation cannot interrupt.
func (o *Orchestrator) runDocument(ctx context.Context, doc *model.DocumentSnapshot, logger *slog.Logger) {
	logger = logger.With("document_id", doc.DocumentID)
	persist := context.WithoutCancel(ctx)

	if ctx.Err() != nil {
		o.complete(persist, doc.DocumentID, model.StatusQueued, canceledOutcome(), logger)
		return
	}

	if err := o.store.StartRecord(persist, doc.DocumentID); err != nil {
		logger.Warn("Skipping document that is no longer queued", "error", err)
		return
	}

	outcome, release := o.execute(persist, doc, logger)
	o.complete(persist, doc.DocumentID, model.StatusRunning, outcome, logger)
	release()
}

type runResult struct {
	outcome *model.Outcome
	err     error
}

// execute runs the pipeline under the per-run deadline. When the deadline
// passes first a timeout outcome is returned at once. release blocks until
// the pipeline goroutine has returned, so the worker slot stays taken until
// then.
func (o *Orchestrator) execute(ctx context.Context, doc *model.DocumentSnapshot, logger *slog.Logger) (*model.Outcome, func()) {
	runCtx, cancel := context.WithTimeout(ctx, o.cfg.RunTimeout)

	results := make(chan runResult, 1)
	finished := make(chan struct{})
	release := func() {
		<-finished
		cancel()
	}
	go func() {
		defer close(finished)
		defer func() {
			if r := recover(); r != nil {
				results <- runResult{err: fmt.Errorf("pipeline panic: %v", r)}
			}
		}()
		outcome, err := o.runner.Run(runCtx, doc)
		results <- runResult{outcome: outcome, err: err}
	}()

	select {
	case res := <-results:
		switch {
		case res.err != nil:
			if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
				return o.timeoutOutcome(doc, logger), release
			}
			logger.Warn("Pipeline run failed", "error", res.err)
			return failureOutcome(res.err), release
		case res.outcome == nil:
			return &model.Outcome{
				FailureReason: model.FailureError,
				Explanation:   "pipeline returned no outcome",
				Source:        model.SourcePipeline,
			}, release
		default:
			return res.outcome, release
		}
	case <-runCtx.Done():
		return o.timeoutOutcome(doc, logger), release
	}
}

func (o *Orchestrator) timeoutOutcome(doc *model.DocumentSnapshot, logger *slog.Logger) *model.Outcome {
	err := &common.TimeoutError{DocumentID: doc.DocumentID, Limit: o.cfg.RunTimeout.String()}
	logger.Warn("Pipeline run timed out", "limit", o.cfg.RunTimeout)
	return &model.Outcome{
		FailureReason: model.FailureTimeout,
		Explanation:   err.Error(),
		Source:        model.SourcePipeline,
	}
}

// complete lands the record. An outcome the store rejects (for example a
// code that left the catalog) is recorded as a failure instead, so a record
// never stays running.
func (o *Orchestrator) complete(ctx context.Context, documentID string, from model.RecordStatus, outcome *model.Outcome, logger *slog.Logger) {
	err := o.store.CompleteRecord(ctx, documentID, from, outcome)
	if err == nil {
		if outcome.Failed() {
			logger.Info("Document not classified", "reason", outcome.FailureReason)
		} else {
			logger.Info("Document classified", "code", outcome.SelectedCode, "source", outcome.Source)
		}
		return
	}

	if errors.Is(err, common.ErrConflict) || errors.Is(err, common.ErrNotFound) || outcome.Failed() {
		logger.Error("Failed to complete record", "from", from, "error", err)
		return
	}

	logger.Error("Store rejected classification outcome, recording failure",
		"code", outcome.SelectedCode,
		"error", err)
	fallback := &model.Outcome{
		FailureReason: model.FailureError,
		Explanation:   "the suggested account could not be stored: " + err.Error(),
		ModelVersion:  outcome.ModelVersion,
		ModelTier:     outcome.ModelTier,
		Source:        outcome.Source,
	}
	if err := o.store.CompleteRecord(ctx, documentID, from, fallback); err != nil {
		logger.Error("Failed to record fallback failure", "error", err)
	}
}

// cancelQueued marks documents that never got a worker slot as canceled.
func (o *Orchestrator) cancelQueued(docs []model.DocumentSnapshot, logger *slog.Logger) {
	logger.Info("Batch canceled, skipping queued documents", "remaining", len(docs))
	ctx := context.Background()
	for i := range docs {
		o.complete(ctx, docs[i].DocumentID, model.StatusQueued, canceledOutcome(), logger.With("document_id", docs[i].DocumentID))
	}
}

func canceledOutcome() *model.Outcome {
	return &model.Outcome{
		FailureReason: model.FailureCanceled,
		Explanation:   "batch was canceled before this document started",
		Source:        model.SourcePipeline,
	}
}

func failureOutcome(err error) *model.Outcome {
	return &model.Outcome{
		FailureReason: reasonFor(err),
		Explanation:   err.Error(),
		Source:        model.SourcePipeline,
	}
}

// reasonFor maps a run error onto the failure reason stored on the record.
func reasonFor(err error) model.FailureReason {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return model.FailureTimeout
	case errors.Is(err, common.ErrServiceUnavailable), common.IsTransient(err):
		return model.FailureServiceUnavailable
	case errors.Is(err, common.ErrInvalidChoice), errors.Is(err, llm.ErrInvalidResponse):
		return model.FailureInvalidResponse
	case errors.Is(err, context.Canceled):
		return model.FailureCanceled
	default:
		return model.FailureError
	}
}

// Status computes a batch's progress from its records.
func (o *Orchestrator) Status(ctx context.Context, batchID string) (*model.BatchStatus, error) {
	batch, err := o.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	records, err := o.store.GetBatchRecords(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to get batch records: %w", err)
	}

	status := &model.BatchStatus{
		Counts:         make(map[model.RecordStatus]int),
		FailureReasons: make(map[model.FailureReason]int),
		BatchID:        batch.BatchID,
		TenantID:       batch.TenantID,
		Total:          len(records),
		Duplicates:     batch.Duplicates,
		Canceled:       batch.CanceledAt != nil,
	}
	for _, record := range records {
		status.Counts[record.Status]++
		if record.FailureReason != "" {
			status.FailureReasons[record.FailureReason]++
		}
	}
	return status, nil
}

// Cancel stops scheduling the batch's documents that have not started.
// Runs already in flight finish or time out. Canceling a batch that this
// process is not running marks its queued records canceled directly.
func (o *Orchestrator) Cancel(ctx context.Context, batchID string) error {
	if err := o.store.MarkBatchCanceled(ctx, batchID, o.now()); err != nil {
		return fmt.Errorf("failed to cancel batch %s: %w", batchID, err)
	}

	o.mu.Lock()
	run, active := o.batches[batchID]
	o.mu.Unlock()

	logger := o.logger.With("batch_id", batchID)
	if active {
		run.cancel()
		logger.Info("Batch cancellation requested")
		return nil
	}

	records, err := o.store.GetBatchRecords(ctx, batchID)
	if err != nil {
		return fmt.Errorf("failed to get batch records: %w", err)
	}
	swept := 0
	for _, record := range records {
		if record.Status != model.StatusQueued {
			continue
		}
		if err := o.store.CompleteRecord(ctx, record.DocumentID, model.StatusQueued, canceledOutcome()); err != nil {
			if errors.Is(err, common.ErrConflict) {
				continue
			}
			return fmt.Errorf("failed to cancel document %s: %w", record.DocumentID, err)
		}
		swept++
	}
	logger.Info("Canceled queued documents of inactive batch", "documents", swept)
	return nil
}

// Resume schedules the queued records of a batch that is not running in
// this process, such as one left behind by a restart. Records stranded in
// running are closed as failed since their run cannot be recovered.
// Resuming a batch this process is still running is a conflict.
func (o *Orchestrator) Resume(ctx context.Context, batchID string) (int, error) {
	o.mu.Lock()
	_, active := o.batches[batchID]
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return 0, ErrShuttingDown
	}
	if active {
		return 0, common.NewUserError("batch is still running in this process", common.ErrConflict)
	}

	batch, err := o.store.GetBatch(ctx, batchID)
	if err != nil {
		return 0, fmt.Errorf("failed to get batch: %w", err)
	}
	if batch.CanceledAt != nil {
		return 0, common.NewUserError("batch was canceled", common.ErrConflict)
	}

	records, err := o.store.GetBatchRecords(ctx, batchID)
	if err != nil {
		return 0, fmt.Errorf("failed to get batch records: %w", err)
	}

	var queued []model.DocumentSnapshot
	for _, record := range records {
		switch record.Status {
		case model.StatusQueued:
			if record.Snapshot != nil {
				queued = append(queued, *record.Snapshot)
			}
		case model.StatusRunning:
			o.complete(ctx, record.DocumentID, model.StatusRunning, &model.Outcome{
				FailureReason: model.FailureError,
				Explanation:   "run was interrupted before it finished",
				Source:        model.SourcePipeline,
			}, o.logger.With("batch_id", batchID, "document_id", record.DocumentID))
		}
	}
	if len(queued) == 0 {
		return 0, nil
	}

	if err := o.start(ctx, batchID, queued); err != nil {
		return 0, err
	}
	o.logger.Info("Batch resumed", "batch_id", batchID, "documents", len(queued))
	return len(queued), nil
}

// Wait blocks until every record in the batch has left the run states.
func (o *Orchestrator) Wait(ctx context.Context, batchID string) (*model.BatchStatus, error) {
	o.mu.Lock()
	run, active := o.batches[batchID]
	o.mu.Unlock()

	if active {
		select {
		case <-run.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()
	for {
		status, err := o.Status(ctx, batchID)
		if err != nil {
			return nil, err
		}
		if status.Done() {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Shutdown stops accepting batches and waits for running ones. If ctx ends
// first, remaining batches are canceled and ctx's error is returned.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		o.mu.Lock()
		for _, run := range o.batches {
			run.cancel()
		}
		o.mu.Unlock()
		return ctx.Err()
	}
}
