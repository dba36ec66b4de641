package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ihiteshgupta/pwa-lifecycle/internal/health"
	"github.com/ihiteshgupta/pwa-lifecycle/internal/platform"
	"github.com/ihiteshgupta/pwa-lifecycle/internal/store"
	"github.com/ihiteshgupta/pwa-lifecycle/internal/surface"
	"github.com/ihiteshgupta/pwa-lifecycle/pkg/mcp"
)

// Coordinator defines the lifecycle operations the tools expose.
type Coordinator interface {
	surface.Coordinator

	ResetDismissals(ctx context.Context) error
	Diagnostics() health.Status
	TransitionHistory(ctx context.Context, limit int) ([]store.Transition, error)
}

// Host defines the platform helpers the embedding browser drives.
type Host interface {
	OfferInstall() *platform.InstallOffer
	MarkInstalled()
	SetOnline(online bool)
	SetEffectiveType(effectiveType string)
	SetDisplayMode(mode platform.DisplayMode)
	BeginUpdate() (platform.Worker, error)
	FinishUpdate() error
	DiscardUpdate() error
	ResolvePrompt(choice platform.Choice) error
}

// Options tune the surfaces owned by the handler.
type Options struct {
	FloatingButtonDelay time.Duration
	Log                 *slog.Logger
}

// Handler implements the MCP ToolHandler and ResourceProvider interfaces.
// It owns one page view's surfaces.
type Handler struct {
	coord Coordinator
	host  Host
	log   *slog.Logger

	modal    *surface.PrimaryModal
	floating *surface.FloatingButton
	banner   *surface.UpdateBanner

	closeOnce sync.Once
}

// NewHandler creates a new tool handler.
func NewHandler(coord Coordinator, host Host, opts Options) *Handler {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		coord:    coord,
		host:     host,
		log:      log,
		modal:    surface.NewPrimaryModal(coord),
		floating: surface.NewFloatingButton(coord, opts.FloatingButtonDelay, log.With("component", "floating_button")),
		banner:   surface.NewUpdateBanner(coord),
	}
}

// Close releases the surfaces' subscriptions and timers.
func (h *Handler) Close() {
	h.closeOnce.Do(h.floating.Close)
}

// GetTools returns all available tool definitions.
func (h *Handler) GetTools() []mcp.Tool {
	return GetAllTools()
}

// HandleTool handles a tool invocation and returns the result.
func (h *Handler) HandleTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	switch name {
	// Snapshot
	case ToolGetLifecycleSnapshot:
		return h.handleGetSnapshot(ctx, args)
	case ToolGetSurfaces:
		return h.handleGetSurfaces(ctx, args)

	// Actions
	case ToolInstallApp:
		return h.handleInstallApp(ctx, args)
	case ToolApplyUpdate:
		return h.handleApplyUpdate(ctx, args)
	case ToolDismissSession:
		return h.handleDismissSession(ctx, args)
	case ToolDismissPermanent:
		return h.handleDismissPermanent(ctx, args)
	case ToolResetDismissals:
		return h.handleResetDismissals(ctx, args)
	case ToolCloseUpdateBanner:
		return h.handleCloseUpdateBanner(ctx, args)

	// Host
	case ToolDispatchPlatformEvent:
		return h.handleDispatchPlatformEvent(ctx, args)
	case ToolResolveInstallPrompt:
		return h.handleResolveInstallPrompt(ctx, args)

	// Diagnostics
	case ToolGetUpdateHistory:
		return h.handleGetUpdateHistory(ctx, args)
	case ToolGetDiagnostics:
		return h.handleGetDiagnostics(ctx, args)

	default:
		return h.errorResult(NewInvalidInputError(fmt.Sprintf("Unknown tool: %s", name)))
	}
}

// ListResources returns the readable resources.
func (h *Handler) ListResources() []mcp.Resource {
	return []mcp.Resource{
		{
			URI:         SnapshotURI,
			Name:        "Lifecycle snapshot",
			Description: "Current install, update and network lifecycle snapshot",
			MimeType:    "application/json",
		},
	}
}

// ReadResource returns the content of a resource.
func (h *Handler) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	if uri != SnapshotURI {
		return nil, fmt.Errorf("%w: %s", mcp.ErrResourceNotFound, uri)
	}
	data, err := json.MarshalIndent(h.coord.Snapshot(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return &mcp.ReadResourceResult{
		Contents: []mcp.ResourceContent{{URI: uri, MimeType: "application/json", Text: string(data)}},
	}, nil
}

// Helper methods

func (h *Handler) successResult(data interface{}) (*mcp.CallToolResult, error) {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return h.errorResult(NewInternalError(err))
	}
	return &mcp.CallToolResult{
		Content: []mcp.ContentBlock{mcp.TextContent(string(jsonData))},
	}, nil
}

func (h *Handler) errorResult(err *MCPError) (*mcp.CallToolResult, error) {
	return &mcp.CallToolResult{
		Content: []mcp.ContentBlock{mcp.TextContent(err.JSON())},
		IsError: true,
	}, nil
}

func getString(args map[string]interface{}, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func getInt(args map[string]interface{}, key string, defaultVal int) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	if v, ok := args[key].(int); ok {
		return v
	}
	return defaultVal
}

func getBool(args map[string]interface{}, key string, defaultVal bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return defaultVal
}
