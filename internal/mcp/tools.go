package mcp

import "github.com/mark3labs/mcp-go/mcp"

var pendingToolDef = mcp.NewTool("review_pending",
	mcp.WithDescription("List classification suggestions awaiting review for a tenant. Records flagged for mandatory review come first."),
	mcp.WithString("tenant_id",
		mcp.Required(),
		mcp.Description("Tenant whose review queue to list"),
	),
	mcp.WithNumber("page",
		mcp.Description("Page number, starting at 1"),
	),
	mcp.WithNumber("page_size",
		mcp.Description("Records per page (default 20, max 200)"),
	),
)

var confirmToolDef = mcp.NewTool("review_confirm",
	mcp.WithDescription("Accept the suggested account for a pending document."),
	mcp.WithString("document_id",
		mcp.Required(),
		mcp.Description("Document to confirm"),
	),
	mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("Reviewer confirming the suggestion"),
	),
)

var correctToolDef = mcp.NewTool("review_correct",
	mcp.WithDescription("Replace the suggested account of a pending document. The corrected code must be an account in the catalog."),
	mcp.WithString("document_id",
		mcp.Required(),
		mcp.Description("Document to correct"),
	),
	mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("Reviewer making the correction"),
	),
	mcp.WithString("corrected_code",
		mcp.Required(),
		mcp.Description("Account code to book the document to, for example 602.84"),
	),
	mcp.WithString("notes",
		mcp.Description("Why the suggestion was wrong"),
	),
)

var historyToolDef = mcp.NewTool("review_history",
	mcp.WithDescription("Show the audit trail of a document's classification record."),
	mcp.WithString("document_id",
		mcp.Required(),
		mcp.Description("Document whose history to show"),
	),
)

var batchStatusToolDef = mcp.NewTool("batch_status",
	mcp.WithDescription("Report progress of a submitted batch: record counts by status and failure reasons."),
	mcp.WithString("batch_id",
		mcp.Required(),
		mcp.Description("Batch identifier returned at submission"),
	),
)
