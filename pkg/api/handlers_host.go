package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/ihiteshgupta/pwa-lifecycle/internal/lifecycle"
	"github.com/ihiteshgupta/pwa-lifecycle/internal/platform"
	"github.com/ihiteshgupta/pwa-lifecycle/pkg/mcp"
)

// DispatchResult is the result of dispatch_platform_event.
type DispatchResult struct {
	Event            string             `json:"event"`
	DefaultPrevented bool               `json:"default_prevented,omitempty"`
	WorkerID         string             `json:"worker_id,omitempty"`
	Snapshot         lifecycle.Snapshot `json:"snapshot"`
}

var displayModes = map[string]platform.DisplayMode{
	string(platform.DisplayBrowser):    platform.DisplayBrowser,
	string(platform.DisplayStandalone): platform.DisplayStandalone,
	string(platform.DisplayFullscreen): platform.DisplayFullscreen,
	string(platform.DisplayMinimalUI):  platform.DisplayMinimalUI,
}

// Host event handlers

func (h *Handler) handleDispatchPlatformEvent(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	event := getString(args, "event")
	if event == "" {
		return h.errorResult(NewInvalidInputError("event is required"))
	}

	result := DispatchResult{Event: event}

	switch event {
	case HostEventInstallOffered:
		offer := h.host.OfferInstall()
		if offer == nil {
			return h.errorResult(NewUnavailableError("install offers are not supported by this page"))
		}
		result.DefaultPrevented = offer.DefaultPrevented()
	case HostEventAppInstalled:
		h.host.MarkInstalled()
	case HostEventOnline:
		h.host.SetOnline(true)
	case HostEventOffline:
		h.host.SetOnline(false)
	case HostEventConnectionChange:
		effectiveType := getString(args, "effective_type")
		if effectiveType == "" {
			return h.errorResult(NewInvalidInputError("effective_type is required for connection_change"))
		}
		h.host.SetEffectiveType(effectiveType)
	case HostEventDisplayModeChange:
		mode, ok := displayModes[getString(args, "display_mode")]
		if !ok {
			return h.errorResult(NewInvalidInputError(fmt.Sprintf("invalid display_mode: %q", getString(args, "display_mode"))))
		}
		h.host.SetDisplayMode(mode)
	case HostEventUpdateFound:
		w, err := h.host.BeginUpdate()
		if err != nil {
			return h.errorResult(classify(event, err))
		}
		result.WorkerID = w.ID()
	case HostEventUpdateInstalled:
		if err := h.host.FinishUpdate(); err != nil {
			return h.errorResult(classify(event, err))
		}
	case HostEventUpdateDiscarded:
		if err := h.host.DiscardUpdate(); err != nil {
			return h.errorResult(classify(event, err))
		}
	default:
		return h.errorResult(NewInvalidInputError(fmt.Sprintf("Unknown event: %s", event)))
	}

	h.log.Debug("platform event dispatched", "event", event)
	result.Snapshot = h.coord.Snapshot()
	return h.successResult(result)
}

func (h *Handler) handleResolveInstallPrompt(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	var choice platform.Choice
	switch getString(args, "choice") {
	case string(platform.ChoiceAccepted):
		choice = platform.ChoiceAccepted
	case string(platform.ChoiceDismissed):
		choice = platform.ChoiceDismissed
	default:
		return h.errorResult(NewInvalidInputError("choice must be accepted or dismissed"))
	}

	if err := h.host.ResolvePrompt(choice); err != nil {
		if errors.Is(err, platform.ErrNoPendingPrompt) {
			return h.errorResult(NewUnavailableError("no install prompt is waiting"))
		}
		return h.errorResult(NewInternalError(err))
	}

	return h.successResult(map[string]interface{}{
		"choice": choice,
	})
}
