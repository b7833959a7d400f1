package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/ledgerline/internal/common"
	"github.com/Veraticus/ledgerline/internal/model"
	"github.com/Veraticus/ledgerline/internal/review"
	"github.com/Veraticus/ledgerline/internal/testutil"
	"github.com/Veraticus/ledgerline/internal/testutil/chart"
)

const tenant = "acme"

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type stubTracker map[string]*model.BatchStatus

func (s stubTracker) Status(_ context.Context, batchID string) (*model.BatchStatus, error) {
	status, ok := s[batchID]
	if !ok {
		return nil, fmt.Errorf("batch %s: %w", batchID, common.ErrNotFound)
	}
	return status, nil
}

func testHandlers(t *testing.T, pending ...string) *Handlers {
	t.Helper()
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	if len(pending) > 0 {
		docs := make([]model.DocumentSnapshot, 0, len(pending))
		for _, id := range pending {
			docs = append(docs, model.DocumentSnapshot{
				DocumentID:       id,
				ExternalID:       "uuid-" + id,
				TenantID:         tenant,
				Description:      "Tarifas de almacenamiento de Logística de Amazon",
				CounterpartyName: "AMAZON MEXICO",
				Amount:           decimal.RequireFromString("612.73"),
			})
		}
		require.NoError(t, db.Storage.CreateBatch(ctx, &model.BatchJob{BatchID: "batch-1", TenantID: tenant}, docs))
		for _, id := range pending {
			require.NoError(t, db.Storage.StartRecord(ctx, id))
			require.NoError(t, db.Storage.CompleteRecord(ctx, id, model.StatusRunning, &model.Outcome{
				SelectedCode:     chart.AccountSellingOther.String(),
				FamilyCode:       chart.FamilyExpenses.String(),
				SubfamilyCode:    chart.SubfamilySelling.String(),
				ConfidenceFamily: 0.9,
				ConfidenceCode:   0.85,
				Source:           model.SourcePipeline,
			}))
		}
	}

	tracker := stubTracker{"batch-1": {
		BatchID:  "batch-1",
		TenantID: tenant,
		Total:    3,
		Counts: map[model.RecordStatus]int{
			model.StatusPendingConfirmation: 2,
			model.StatusRunning:             1,
		},
	}}
	return NewHandlers(review.New(db.Storage, nil, quietLogger), tracker, quietLogger)
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

func resultJSON(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	require.NotEmpty(t, result.Content)
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &payload))
	return payload
}

func errorCode(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.True(t, result.IsError, "expected error result")
	payload := resultJSON(t, result)
	errObj, ok := payload["error"].(map[string]any)
	require.True(t, ok, "error payload missing")
	code, _ := errObj["code"].(string)
	return code
}

func TestHandlePending(t *testing.T) {
	h := testHandlers(t, "doc-1", "doc-2", "doc-3")
	ctx := context.Background()

	tests := []struct {
		name        string
		args        map[string]any
		wantCode    string
		wantRecords int
		wantMore    bool
	}{
		{name: "first page", args: map[string]any{"tenant_id": tenant, "page_size": 2}, wantRecords: 2, wantMore: true},
		{name: "last page", args: map[string]any{"tenant_id": tenant, "page": 2, "page_size": 2}, wantRecords: 1},
		{name: "default page size", args: map[string]any{"tenant_id": tenant}, wantRecords: 3},
		{name: "missing tenant", args: map[string]any{}, wantCode: CodeInvalidRequest},
		{name: "page size too large", args: map[string]any{"tenant_id": tenant, "page_size": 500}, wantCode: CodeInvalidRequest},
		{name: "malformed page", args: map[string]any{"tenant_id": tenant, "page": "two"}, wantCode: CodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := h.HandlePending(ctx, makeRequest(tt.args))
			require.NoError(t, err)

			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, errorCode(t, result))
				return
			}
			require.False(t, result.IsError)
			payload := resultJSON(t, result)
			records, _ := payload["records"].([]any)
			assert.Len(t, records, tt.wantRecords)
			assert.Equal(t, tt.wantMore, payload["has_more"])
			assert.InDelta(t, 3, payload["total"], 0)
		})
	}
}

func TestHandleConfirm(t *testing.T) {
	h := testHandlers(t, "doc-1")
	ctx := context.Background()

	result, err := h.HandleConfirm(ctx, makeRequest(map[string]any{"document_id": "doc-1", "user_id": "maria"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	payload := resultJSON(t, result)
	assert.Equal(t, string(model.StatusConfirmed), payload["status"])
	assert.Equal(t, "maria", payload["confirmed_by"])

	result, err = h.HandleConfirm(ctx, makeRequest(map[string]any{"document_id": "doc-1", "user_id": "maria"}))
	require.NoError(t, err)
	assert.Equal(t, CodeConflict, errorCode(t, result))
	details := resultJSON(t, result)["error"].(map[string]any)["details"].(map[string]any)
	assert.Equal(t, string(model.StatusConfirmed), details["current_status"])

	result, err = h.HandleConfirm(ctx, makeRequest(map[string]any{"document_id": "missing", "user_id": "maria"}))
	require.NoError(t, err)
	assert.Equal(t, CodeNotFound, errorCode(t, result))

	result, err = h.HandleConfirm(ctx, makeRequest(map[string]any{"document_id": "doc-1"}))
	require.NoError(t, err)
	assert.Equal(t, CodeInvalidRequest, errorCode(t, result))
}

func TestHandleCorrect(t *testing.T) {
	h := testHandlers(t, "doc-1", "doc-2")
	ctx := context.Background()

	tests := []struct {
		name     string
		args     map[string]any
		wantCode string
	}{
		{
			name:     "header code rejected",
			args:     map[string]any{"document_id": "doc-1", "user_id": "maria", "corrected_code": "602"},
			wantCode: CodeInvalidRequest,
		},
		{
			name:     "unknown code rejected",
			args:     map[string]any{"document_id": "doc-1", "user_id": "maria", "corrected_code": "699.99"},
			wantCode: CodeInvalidRequest,
		},
		{
			name: "valid correction",
			args: map[string]any{
				"document_id":    "doc-1",
				"user_id":        "maria",
				"corrected_code": chart.AccountFreight.String(),
				"notes":          "Envío a cliente",
			},
		},
		{
			name:     "already corrected",
			args:     map[string]any{"document_id": "doc-1", "user_id": "maria", "corrected_code": chart.AccountFreight.String()},
			wantCode: CodeConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := h.HandleCorrect(ctx, makeRequest(tt.args))
			require.NoError(t, err)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, errorCode(t, result))
				return
			}
			require.False(t, result.IsError)
			payload := resultJSON(t, result)
			assert.Equal(t, string(model.StatusCorrected), payload["status"])
			assert.Equal(t, chart.AccountFreight.String(), payload["corrected_code"])
		})
	}

	result, err := h.HandleHistory(ctx, makeRequest(map[string]any{"document_id": "doc-1"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	history, _ := resultJSON(t, result)["history"].([]any)
	assert.Len(t, history, 3, "created, classified, corrected")
}

func TestHandleBatchStatus(t *testing.T) {
	h := testHandlers(t)
	ctx := context.Background()

	result, err := h.HandleBatchStatus(ctx, makeRequest(map[string]any{"batch_id": "batch-1"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	payload := resultJSON(t, result)
	assert.Equal(t, "batch-1", payload["batch_id"])
	assert.InDelta(t, 2, payload["completed"], 0)
	assert.Equal(t, false, payload["done"])

	result, err = h.HandleBatchStatus(ctx, makeRequest(map[string]any{"batch_id": "nope"}))
	require.NoError(t, err)
	assert.Equal(t, CodeNotFound, errorCode(t, result))

	result, err = h.HandleBatchStatus(ctx, makeRequest(map[string]any{}))
	require.NoError(t, err)
	assert.Equal(t, CodeInvalidRequest, errorCode(t, result))
}

func TestNewServerRegistersAllTools(t *testing.T) {
	h := testHandlers(t)
	s := NewServer(h, "test")
	require.NotNil(t, s)

	assert.Equal(t, []string{
		"batch_status",
		"review_confirm",
		"review_correct",
		"review_history",
		"review_pending",
	}, ToolNames())
	for _, name := range ToolNames() {
		assert.Equal(t, name, toolRegistry[name].def.Name)
	}
}
