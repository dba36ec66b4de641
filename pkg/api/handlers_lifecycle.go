package api

import (
	"context"
	"time"

	"github.com/ihiteshgupta/pwa-lifecycle/internal/install"
	"github.com/ihiteshgupta/pwa-lifecycle/internal/surface"
	"github.com/ihiteshgupta/pwa-lifecycle/internal/update"
	"github.com/ihiteshgupta/pwa-lifecycle/pkg/mcp"
)

const defaultApplyTimeout = 10 * time.Second

// manualInstallInstructions is shown when installable but no native prompt exists.
const manualInstallInstructions = "Open the browser menu and choose \"Install app\" or \"Add to Home Screen\"."

// InstallResult is the result of install_app.
type InstallResult struct {
	Outcome               install.Outcome `json:"outcome"`
	RequiresManualInstall bool            `json:"requires_manual_install"`
	Instructions          string          `json:"instructions,omitempty"`
}

// ApplyResult is the result of apply_update.
type ApplyResult struct {
	Result update.ApplyResult `json:"result"`
}

// Surfaces reports which UI surfaces may render for this page view.
type Surfaces struct {
	PrimaryModal          bool                `json:"primary_modal"`
	FloatingButton        bool                `json:"floating_button"`
	UpdateBanner          bool                `json:"update_banner"`
	RequiresManualInstall bool                `json:"requires_manual_install"`
	StatusPanel           surface.StatusPanel `json:"status_panel"`
}

// Snapshot and surface handlers

func (h *Handler) handleGetSnapshot(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	return h.successResult(h.coord.Snapshot())
}

func (h *Handler) handleGetSurfaces(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	return h.successResult(h.surfaces())
}

func (h *Handler) surfaces() Surfaces {
	snap := h.coord.Snapshot()
	return Surfaces{
		PrimaryModal:          h.modal.Visible(),
		FloatingButton:        h.floating.Visible(),
		UpdateBanner:          h.banner.Visible(),
		RequiresManualInstall: snap.RequiresManualInstall,
		StatusPanel:           surface.NewStatusPanel(snap),
	}
}

// Action handlers

func (h *Handler) handleInstallApp(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	timeout := getInt(args, "timeout_seconds", 0)
	if timeout < 0 {
		return h.errorResult(NewInvalidInputError("timeout_seconds must be non-negative"))
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
		defer cancel()
	}

	outcome := h.modal.Install(ctx)
	result := InstallResult{Outcome: outcome}
	if outcome == install.OutcomeUnavailable && h.coord.Snapshot().RequiresManualInstall {
		result.RequiresManualInstall = true
		result.Instructions = manualInstallInstructions
	}
	return h.successResult(result)
}

func (h *Handler) handleApplyUpdate(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	timeout := getInt(args, "timeout_seconds", 0)
	if timeout < 0 {
		return h.errorResult(NewInvalidInputError("timeout_seconds must be non-negative"))
	}
	wait := defaultApplyTimeout
	if timeout > 0 {
		wait = time.Duration(timeout) * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	return h.successResult(ApplyResult{Result: h.banner.Apply(ctx)})
}

func (h *Handler) handleDismissSession(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	if err := h.floating.Dismiss(ctx); err != nil {
		h.log.Warn("session dismissal failed", "error", err)
		return h.errorResult(classify(ToolDismissSession, err))
	}
	return h.successResult(h.coord.Snapshot())
}

func (h *Handler) handleDismissPermanent(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	if err := h.modal.DontAskAgain(ctx); err != nil {
		h.log.Warn("permanent dismissal failed", "error", err)
		return h.errorResult(classify(ToolDismissPermanent, err))
	}
	return h.successResult(h.coord.Snapshot())
}

func (h *Handler) handleResetDismissals(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	if err := h.coord.ResetDismissals(ctx); err != nil {
		h.log.Warn("dismissal reset failed", "error", err)
		return h.errorResult(classify(ToolResetDismissals, err))
	}
	return h.successResult(h.coord.Snapshot())
}

func (h *Handler) handleCloseUpdateBanner(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	if getBool(args, "navigate", false) {
		h.banner.Navigate()
	} else {
		h.banner.Close()
	}
	return h.successResult(h.surfaces())
}
