// Package mcp exposes the review queue and batch progress as MCP tools over
// stdio, so an assistant can walk a reviewer through pending suggestions.
package mcp

import (
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

var toolRegistry = map[string]toolEntry{
	"review_pending": {
		def:     pendingToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandlePending },
	},
	"review_confirm": {
		def:     confirmToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleConfirm },
	},
	"review_correct": {
		def:     correctToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCorrect },
	},
	"review_history": {
		def:     historyToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleHistory },
	},
	"batch_status": {
		def:     batchStatusToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleBatchStatus },
	},
}

// ToolNames returns the registered tool names in sorted order.
func ToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewServer creates an MCP server with every review tool registered.
func NewServer(h *Handlers, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"ledgerline",
		version,
		server.WithToolCapabilities(true),
	)
	for _, name := range ToolNames() {
		entry := toolRegistry[name]
		s.AddTool(entry.def, entry.handler(h))
	}
	return s
}

// Serve runs the server on stdio until the client disconnects.
func Serve(h *Handlers, version string) error {
	return server.ServeStdio(NewServer(h, version))
}
