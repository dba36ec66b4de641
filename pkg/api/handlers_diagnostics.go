package api

import (
	"context"

	"github.com/ihiteshgupta/pwa-lifecycle/pkg/mcp"
)

// Diagnostics tool handlers

func (h *Handler) handleGetUpdateHistory(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	limit := getInt(args, "limit", 20)
	if limit <= 0 {
		return h.errorResult(NewInvalidInputError("limit must be positive"))
	}

	history, err := h.coord.TransitionHistory(ctx, limit)
	if err != nil {
		return h.errorResult(classify("update history", err))
	}

	return h.successResult(history)
}

func (h *Handler) handleGetDiagnostics(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	return h.successResult(h.coord.Diagnostics())
}
