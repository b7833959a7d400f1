package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/ledgerline/internal/common"
	"github.com/Veraticus/ledgerline/internal/llm"
	"github.com/Veraticus/ledgerline/internal/model"
	"github.com/Veraticus/ledgerline/internal/testutil"
	"github.com/Veraticus/ledgerline/internal/testutil/chart"
)

const tenant = "acme"

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func document(id string) model.DocumentSnapshot {
	return model.DocumentSnapshot{
		DocumentID:       id,
		ExternalID:       "uuid-" + id,
		TenantID:         tenant,
		Description:      "Tarifas de almacenamiento de Logística de Amazon",
		CounterpartyName: "AMAZON MEXICO",
		CounterpartyID:   "amazon-mx",
		Amount:           decimal.RequireFromString("612.73"),
		Currency:         "MXN",
	}
}

func documents(n int) []model.DocumentSnapshot {
	docs := make([]model.DocumentSnapshot, n)
	for i := range docs {
		docs[i] = document(fmt.Sprintf("doc-%02d", i))
	}
	return docs
}

func sellingOther() *model.Outcome {
	return &model.Outcome{
		SelectedCode:     chart.AccountSellingOther.String(),
		FamilyCode:       chart.FamilyExpenses.String(),
		SubfamilyCode:    chart.SubfamilySelling.String(),
		ConfidenceFamily: 0.9,
		ConfidenceCode:   0.88,
		ModelTier:        model.TierFast,
		Source:           model.SourcePipeline,
	}
}

// runnerFunc adapts a function to Runner.
type runnerFunc func(ctx context.Context, doc *model.DocumentSnapshot) (*model.Outcome, error)

func (f runnerFunc) Run(ctx context.Context, doc *model.DocumentSnapshot) (*model.Outcome, error) {
	return f(ctx, doc)
}

func newOrchestrator(t *testing.T, runner Runner, cfg Config) (*Orchestrator, *testutil.TestDB) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	o := New(db.Storage, runner, cfg, quietLogger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.Shutdown(ctx)
	})
	return o, db
}

func wait(t *testing.T, o *Orchestrator, batchID string) *model.BatchStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	status, err := o.Wait(ctx, batchID)
	require.NoError(t, err)
	return status
}

func TestOrchestrator_ConcurrencyLimitNeverExceeded(t *testing.T) {
	var inFlight, peak atomic.Int32
	runner := runnerFunc(func(_ context.Context, _ *model.DocumentSnapshot) (*model.Outcome, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(15 * time.Millisecond)
		return sellingOther(), nil
	})

	o, _ := newOrchestrator(t, runner, Config{Workers: 2, RunTimeout: time.Second})

	ctx := context.Background()
	first, err := o.Submit(ctx, tenant, documents(6))
	require.NoError(t, err)

	second := documents(6)
	for i := range second {
		second[i].DocumentID = fmt.Sprintf("other-%02d", i)
		second[i].ExternalID = fmt.Sprintf("uuid-other-%02d", i)
	}
	other, err := o.Submit(ctx, tenant, second)
	require.NoError(t, err)

	for _, batchID := range []string{first.BatchID, other.BatchID} {
		status := wait(t, o, batchID)
		assert.Equal(t, 6, status.Counts[model.StatusPendingConfirmation])
		assert.Equal(t, 6, status.Completed())
	}
	assert.LessOrEqual(t, peak.Load(), int32(2), "the pool is global across batches")
	assert.Positive(t, peak.Load())
}

func TestOrchestrator_SubmitDeduplicates(t *testing.T) {
	var calls atomic.Int32
	runner := runnerFunc(func(_ context.Context, _ *model.DocumentSnapshot) (*model.Outcome, error) {
		calls.Add(1)
		return sellingOther(), nil
	})
	o, _ := newOrchestrator(t, runner, DefaultConfig())
	ctx := context.Background()

	docs := documents(3)
	repeat := document("doc-repeat")
	repeat.ExternalID = " UUID-DOC-00 "
	docs = append(docs, repeat)

	batch, err := o.Submit(ctx, tenant, docs)
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Duplicates)
	assert.Equal(t, []string{"doc-00", "doc-01", "doc-02"}, batch.DocumentIDs)
	wait(t, o, batch.BatchID)

	again := append(documents(2), document("doc-new"))
	again[0].DocumentID = "doc-00-reupload"
	again[1].DocumentID = "doc-01-reupload"
	second, err := o.Submit(ctx, tenant, again)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-new"}, second.DocumentIDs)

	status := wait(t, o, second.BatchID)
	assert.Equal(t, 2, status.Duplicates)
	assert.Equal(t, 1, status.Total)
	assert.Equal(t, int32(4), calls.Load())

	_, err = o.Submit(ctx, tenant, documents(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrNoDocuments)
}

func TestOrchestrator_SubmitValidation(t *testing.T) {
	o, _ := newOrchestrator(t, runnerFunc(func(context.Context, *model.DocumentSnapshot) (*model.Outcome, error) {
		return sellingOther(), nil
	}), DefaultConfig())

	missingDescription := document("doc-1")
	missingDescription.Description = ""
	foreign := document("doc-2")
	foreign.TenantID = "globex"

	tests := []struct {
		name    string
		tenant  string
		docs    []model.DocumentSnapshot
		wantErr error
	}{
		{name: "missing tenant", tenant: " ", docs: documents(1), wantErr: common.ErrValidation},
		{name: "no documents", tenant: tenant, wantErr: common.ErrNoDocuments},
		{name: "missing description", tenant: tenant, docs: []model.DocumentSnapshot{missingDescription}, wantErr: common.ErrValidation},
		{name: "other tenant", tenant: tenant, docs: []model.DocumentSnapshot{foreign}, wantErr: common.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch, err := o.Submit(context.Background(), tt.tenant, tt.docs)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, batch)
		})
	}
}

func TestOrchestrator_FillsMissingTenant(t *testing.T) {
	o, db := newOrchestrator(t, runnerFunc(func(_ context.Context, doc *model.DocumentSnapshot) (*model.Outcome, error) {
		return sellingOther(), nil
	}), DefaultConfig())

	doc := document("doc-1")
	doc.TenantID = ""
	batch, err := o.Submit(context.Background(), tenant, []model.DocumentSnapshot{doc})
	require.NoError(t, err)
	wait(t, o, batch.BatchID)

	record, err := db.Storage.GetRecord(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, tenant, record.TenantID)
}

func TestOrchestrator_RunTimeout(t *testing.T) {
	tests := []struct {
		name   string
		runner runnerFunc
	}{
		{
			name: "run honors its context",
			runner: func(ctx context.Context, _ *model.DocumentSnapshot) (*model.Outcome, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
		},
		{
			name: "run ignores its context",
			runner: func(_ context.Context, _ *model.DocumentSnapshot) (*model.Outcome, error) {
				time.Sleep(150 * time.Millisecond)
				return sellingOther(), nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, db := newOrchestrator(t, tt.runner, Config{Workers: 1, RunTimeout: 20 * time.Millisecond})

			batch, err := o.Submit(context.Background(), tenant, documents(1))
			require.NoError(t, err)
			status := wait(t, o, batch.BatchID)

			assert.Equal(t, 1, status.Counts[model.StatusNotClassified])
			assert.Equal(t, 1, status.FailureReasons[model.FailureTimeout])

			record, err := db.Storage.GetRecord(context.Background(), "doc-00")
			require.NoError(t, err)
			assert.Contains(t, record.Explanation, "exceeded run timeout")
			assert.Empty(t, record.SelectedCode)
		})
	}
}

func TestOrchestrator_FailureReasons(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want model.FailureReason
	}{
		{
			name: "rate limit exhausted",
			err:  &common.TransientServiceError{StatusCode: 429, Err: common.ErrMaxRetries},
			want: model.FailureServiceUnavailable,
		},
		{
			name: "service unavailable",
			err:  fmt.Errorf("classify: %w", common.ErrServiceUnavailable),
			want: model.FailureServiceUnavailable,
		},
		{
			name: "contract violation",
			err:  fmt.Errorf("final stage: %w", llm.ErrInvalidResponse),
			want: model.FailureInvalidResponse,
		},
		{
			name: "unexpected",
			err:  errors.New("boom"),
			want: model.FailureError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, db := newOrchestrator(t, runnerFunc(func(context.Context, *model.DocumentSnapshot) (*model.Outcome, error) {
				return nil, tt.err
			}), DefaultConfig())

			batch, err := o.Submit(context.Background(), tenant, documents(2))
			require.NoError(t, err)
			status := wait(t, o, batch.BatchID)

			assert.Equal(t, 2, status.FailureReasons[tt.want])

			record, err := db.Storage.GetRecord(context.Background(), "doc-01")
			require.NoError(t, err)
			assert.Equal(t, model.StatusNotClassified, record.Status)
			assert.Equal(t, tt.want, record.FailureReason)
		})
	}
}

func TestReasonFor(t *testing.T) {
	tests := []struct {
		err  error
		want model.FailureReason
	}{
		{context.DeadlineExceeded, model.FailureTimeout},
		{&common.TimeoutError{DocumentID: "d", Limit: "1s"}, model.FailureTimeout},
		{fmt.Errorf("wrapped: %w", common.ErrRateLimit), model.FailureServiceUnavailable},
		{common.ErrInvalidChoice, model.FailureInvalidResponse},
		{context.Canceled, model.FailureCanceled},
		{errors.New("disk on fire"), model.FailureError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, reasonFor(tt.err))
		})
	}
}

func TestOrchestrator_PanicBecomesFailure(t *testing.T) {
	o, _ := newOrchestrator(t, runnerFunc(func(context.Context, *model.DocumentSnapshot) (*model.Outcome, error) {
		panic("nil map")
	}), DefaultConfig())

	batch, err := o.Submit(context.Background(), tenant, documents(2))
	require.NoError(t, err)
	status := wait(t, o, batch.BatchID)
	assert.Equal(t, 2, status.FailureReasons[model.FailureError])
}

func TestOrchestrator_RejectedOutcomeIsRecordedAsFailure(t *testing.T) {
	o, db := newOrchestrator(t, runnerFunc(func(context.Context, *model.DocumentSnapshot) (*model.Outcome, error) {
		outcome := sellingOther()
		outcome.SelectedCode = "699.99"
		outcome.SubfamilyCode = "699"
		return outcome, nil
	}), DefaultConfig())

	batch, err := o.Submit(context.Background(), tenant, documents(1))
	require.NoError(t, err)
	status := wait(t, o, batch.BatchID)
	assert.Equal(t, 1, status.FailureReasons[model.FailureError])

	record, err := db.Storage.GetRecord(context.Background(), "doc-00")
	require.NoError(t, err)
	assert.Equal(t, model.StatusNotClassified, record.Status)
	assert.Contains(t, record.Explanation, "699.99")
}

func TestOrchestrator_Cancel(t *testing.T) {
	started := make(chan struct{}, 3)
	release := make(chan struct{})
	runner := runnerFunc(func(_ context.Context, _ *model.DocumentSnapshot) (*model.Outcome, error) {
		started <- struct{}{}
		<-release
		return sellingOther(), nil
	})
	o, db := newOrchestrator(t, runner, Config{Workers: 1, RunTimeout: 5 * time.Second})
	ctx := context.Background()

	batch, err := o.Submit(ctx, tenant, documents(3))
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first document never started")
	}

	require.NoError(t, o.Cancel(ctx, batch.BatchID))
	close(release)

	status := wait(t, o, batch.BatchID)
	assert.True(t, status.Canceled)
	assert.Equal(t, 1, status.Counts[model.StatusPendingConfirmation], "in-flight run finishes")
	assert.Equal(t, 2, status.FailureReasons[model.FailureCanceled])

	record, err := db.Storage.GetRecord(ctx, "doc-02")
	require.NoError(t, err)
	assert.Equal(t, model.StatusNotClassified, record.Status)
}

func TestOrchestrator_CancelInactiveBatch(t *testing.T) {
	o, db := newOrchestrator(t, runnerFunc(func(context.Context, *model.DocumentSnapshot) (*model.Outcome, error) {
		t.Error("no document should run")
		return sellingOther(), nil
	}), DefaultConfig())
	ctx := context.Background()

	require.NoError(t, db.Storage.CreateBatch(ctx, &model.BatchJob{BatchID: "restarted", TenantID: tenant}, documents(2)))
	require.NoError(t, o.Cancel(ctx, "restarted"))

	status, err := o.Status(ctx, "restarted")
	require.NoError(t, err)
	assert.True(t, status.Done())
	assert.True(t, status.Canceled)
	assert.Equal(t, 2, status.FailureReasons[model.FailureCanceled])

	err = o.Cancel(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestOrchestrator_Resume(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	o, db := newOrchestrator(t, runnerFunc(func(_ context.Context, doc *model.DocumentSnapshot) (*model.Outcome, error) {
		mu.Lock()
		seen = append(seen, doc.DocumentID)
		mu.Unlock()
		return sellingOther(), nil
	}), DefaultConfig())
	ctx := context.Background()

	require.NoError(t, db.Storage.CreateBatch(ctx, &model.BatchJob{BatchID: "restarted", TenantID: tenant}, documents(3)))
	require.NoError(t, db.Storage.StartRecord(ctx, "doc-00"))

	n, err := o.Resume(ctx, "restarted")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	status := wait(t, o, "restarted")
	assert.Equal(t, 2, status.Counts[model.StatusPendingConfirmation])
	assert.Equal(t, 1, status.FailureReasons[model.FailureError])

	mu.Lock()
	assert.ElementsMatch(t, []string{"doc-01", "doc-02"}, seen)
	mu.Unlock()

	n, err = o.Resume(ctx, "restarted")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOrchestrator_ResumeActiveBatch(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	o, db := newOrchestrator(t, runnerFunc(func(context.Context, *model.DocumentSnapshot) (*model.Outcome, error) {
		started <- struct{}{}
		<-release
		return sellingOther(), nil
	}), DefaultConfig())
	ctx := context.Background()

	batch, err := o.Submit(ctx, tenant, documents(1))
	require.NoError(t, err)
	<-started

	n, err := o.Resume(ctx, batch.BatchID)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrConflict)
	assert.Zero(t, n)

	record, err := db.Storage.GetRecord(ctx, "doc-00")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRunning, record.Status)

	close(release)
	status := wait(t, o, batch.BatchID)
	assert.Equal(t, 1, status.Counts[model.StatusPendingConfirmation])
	assert.Empty(t, status.FailureReasons)
}

// shutdownOnCreate shuts the orchestrator down right after the batch is
// stored, before its documents are scheduled.
type shutdownOnCreate struct {
	Store
	o       *Orchestrator
	batchID string
}

func (s *shutdownOnCreate) CreateBatch(ctx context.Context, batch *model.BatchJob, docs []model.DocumentSnapshot) error {
	if err := s.Store.CreateBatch(ctx, batch, docs); err != nil {
		return err
	}
	s.batchID = batch.BatchID
	return s.o.Shutdown(ctx)
}

func TestOrchestrator_SubmitDuringShutdown(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	runner := runnerFunc(func(context.Context, *model.DocumentSnapshot) (*model.Outcome, error) {
		return sellingOther(), nil
	})

	store := &shutdownOnCreate{Store: db.Storage}
	store.o = New(store, runner, DefaultConfig(), quietLogger)

	batch, err := store.o.Submit(ctx, tenant, documents(2))
	require.Error(t, err)
	assert.Nil(t, batch)
	assert.ErrorIs(t, err, ErrShuttingDown)

	var userErr *common.UserError
	require.ErrorAs(t, err, &userErr)
	assert.Contains(t, userErr.UserMessage, "ledgerline batch resume "+store.batchID)

	records, err := db.Storage.GetBatchRecords(ctx, store.batchID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, record := range records {
		assert.Equal(t, model.StatusQueued, record.Status)
	}

	restarted := New(db.Storage, runner, DefaultConfig(), quietLogger)
	t.Cleanup(func() { _ = restarted.Shutdown(context.Background()) })
	n, err := restarted.Resume(ctx, store.batchID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	status := wait(t, restarted, store.batchID)
	assert.Equal(t, 2, status.Counts[model.StatusPendingConfirmation])
}

func TestOrchestrator_SubmitAfterShutdown(t *testing.T) {
	o, _ := newOrchestrator(t, runnerFunc(func(context.Context, *model.DocumentSnapshot) (*model.Outcome, error) {
		return sellingOther(), nil
	}), DefaultConfig())

	require.NoError(t, o.Shutdown(context.Background()))

	_, err := o.Submit(context.Background(), tenant, documents(1))
	assert.ErrorIs(t, err, ErrShuttingDown)
}
