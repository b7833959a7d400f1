package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Veraticus/ledgerline/internal/common"
	"github.com/Veraticus/ledgerline/internal/model"
	"github.com/Veraticus/ledgerline/internal/review"
)

// Reviewer is the review service the tools call.
type Reviewer interface {
	ListPending(ctx context.Context, q review.PendingQuery) (review.PendingPage, error)
	Confirm(ctx context.Context, cmd review.ConfirmCommand) (*model.ClassificationRecord, error)
	Correct(ctx context.Context, cmd review.CorrectCommand) (*model.ClassificationRecord, error)
	History(ctx context.Context, documentID string) ([]model.HistoryEntry, error)
}

// BatchTracker reports batch progress.
type BatchTracker interface {
	Status(ctx context.Context, batchID string) (*model.BatchStatus, error)
}

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	reviewer Reviewer
	batches  BatchTracker
	logger   *slog.Logger
}

// NewHandlers creates the tool handlers.
func NewHandlers(reviewer Reviewer, batches BatchTracker, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{reviewer: reviewer, batches: batches, logger: logger}
}

// DocumentRequest identifies one document.
type DocumentRequest struct {
	DocumentID string `json:"document_id"`
}

// BatchRequest identifies one batch.
type BatchRequest struct {
	BatchID string `json:"batch_id"`
}

// PendingResult is the review_pending payload.
type PendingResult struct {
	review.PendingPage
	HasMore bool `json:"has_more"`
}

// BatchStatusResult is the batch_status payload.
type BatchStatusResult struct {
	*model.BatchStatus
	Completed int  `json:"completed"`
	Done      bool `json:"done"`
}

// HandlePending handles the review_pending tool call.
func (h *Handlers) HandlePending(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[review.PendingQuery](req)
	if err != nil {
		return invalidRequest(err.Error()), nil
	}

	page, err := h.reviewer.ListPending(ctx, input)
	if err != nil {
		return h.errorResult("review_pending", err), nil
	}
	return mcp.NewToolResultJSON(PendingResult{PendingPage: page, HasMore: page.HasMore()})
}

// HandleConfirm handles the review_confirm tool call.
func (h *Handlers) HandleConfirm(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[review.ConfirmCommand](req)
	if err != nil {
		return invalidRequest(err.Error()), nil
	}

	record, err := h.reviewer.Confirm(ctx, input)
	if err != nil {
		return h.errorResult("review_confirm", err), nil
	}
	return mcp.NewToolResultJSON(record)
}

// HandleCorrect handles the review_correct tool call.
func (h *Handlers) HandleCorrect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[review.CorrectCommand](req)
	if err != nil {
		return invalidRequest(err.Error()), nil
	}

	record, err := h.reviewer.Correct(ctx, input)
	if err != nil {
		return h.errorResult("review_correct", err), nil
	}
	return mcp.NewToolResultJSON(record)
}

// HandleHistory handles the review_history tool call.
func (h *Handlers) HandleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[DocumentRequest](req)
	if err != nil {
		return invalidRequest(err.Error()), nil
	}
	if strings.TrimSpace(input.DocumentID) == "" {
		return invalidRequest("document_id is required"), nil
	}

	entries, err := h.reviewer.History(ctx, input.DocumentID)
	if err != nil {
		return h.errorResult("review_history", err), nil
	}
	return mcp.NewToolResultJSON(map[string]any{"document_id": input.DocumentID, "history": entries})
}

// HandleBatchStatus handles the batch_status tool call.
func (h *Handlers) HandleBatchStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[BatchRequest](req)
	if err != nil {
		return invalidRequest(err.Error()), nil
	}
	if strings.TrimSpace(input.BatchID) == "" {
		return invalidRequest("batch_id is required"), nil
	}

	status, err := h.batches.Status(ctx, input.BatchID)
	if err != nil {
		return h.errorResult("batch_status", err), nil
	}
	return mcp.NewToolResultJSON(BatchStatusResult{
		BatchStatus: status,
		Completed:   status.Completed(),
		Done:        status.Done(),
	})
}

// Error codes returned in tool error payloads.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeNotFound       = "NOT_FOUND"
	CodeConflict       = "CONFLICT"
	CodeInternal       = "INTERNAL"
)

// errorResult maps domain errors onto a tool error. Internal errors are
// logged and reported without detail.
func (h *Handlers) errorResult(tool string, err error) *mcp.CallToolResult {
	var (
		validation *common.ValidationError
		conflict   *common.ConflictError
	)
	switch {
	case errors.As(err, &validation):
		return toolError(CodeInvalidRequest, validation.Error(), 400, nil)
	case errors.As(err, &conflict):
		return toolError(CodeConflict, conflict.Error(), 409, map[string]any{
			"document_id":    conflict.DocumentID,
			"current_status": conflict.CurrentStatus,
		})
	case errors.Is(err, common.ErrNotFound):
		return toolError(CodeNotFound, err.Error(), 404, nil)
	default:
		h.logger.Error("Tool call failed", "tool", tool, "error", err)
		return toolError(CodeInternal, "an internal error occurred", 500, nil)
	}
}

func invalidRequest(message string) *mcp.CallToolResult {
	return toolError(CodeInvalidRequest, message, 400, nil)
}

func toolError(code, message string, status int, details map[string]any) *mcp.CallToolResult {
	errorObj := map[string]any{
		"code":    code,
		"message": message,
		"status":  status,
	}
	if details != nil {
		errorObj["details"] = details
	}

	content, _ := json.Marshal(map[string]any{"error": errorObj})
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}
