package api

import (
	"github.com/ihiteshgupta/pwa-lifecycle/pkg/mcp"
)

// Tool name constants
const (
	// Snapshot (2)
	ToolGetLifecycleSnapshot = "get_lifecycle_snapshot"
	ToolGetSurfaces          = "get_surfaces"

	// Actions (6)
	ToolInstallApp        = "install_app"
	ToolApplyUpdate       = "apply_update"
	ToolDismissSession    = "dismiss_session"
	ToolDismissPermanent  = "dismiss_permanent"
	ToolResetDismissals   = "reset_dismissals"
	ToolCloseUpdateBanner = "close_update_banner"

	// Host (2)
	ToolDispatchPlatformEvent = "dispatch_platform_event"
	ToolResolveInstallPrompt  = "resolve_install_prompt"

	// Diagnostics (2)
	ToolGetUpdateHistory = "get_update_history"
	ToolGetDiagnostics   = "get_diagnostics"
)

// Host event names accepted by dispatch_platform_event.
const (
	HostEventInstallOffered    = "install_offered"
	HostEventAppInstalled      = "app_installed"
	HostEventOnline            = "online"
	HostEventOffline           = "offline"
	HostEventConnectionChange  = "connection_change"
	HostEventDisplayModeChange = "display_mode_change"
	HostEventUpdateFound       = "update_found"
	HostEventUpdateInstalled   = "update_installed"
	HostEventUpdateDiscarded   = "update_discarded"
)

// SnapshotURI is the resource URI of the current lifecycle snapshot.
const SnapshotURI = "lifecycle://snapshot"

// GetAllTools returns all 12 tool definitions.
func GetAllTools() []mcp.Tool {
	return []mcp.Tool{
		// ============ SNAPSHOT (2) ============
		{
			Name:        ToolGetLifecycleSnapshot,
			Description: "Get the current install, update and network lifecycle snapshot",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        ToolGetSurfaces,
			Description: "Get which UI surfaces may render: install modal, floating install button, update banner, status panel",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},

		// ============ ACTIONS (6) ============
		{
			Name:        ToolInstallApp,
			Description: "Show the native install prompt and wait for the user's choice. Returns accepted, dismissed or unavailable",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"timeout_seconds": propInt("How long to wait for the user's choice (default: wait until answered)"),
				},
			},
		},
		{
			Name:        ToolApplyUpdate,
			Description: "Hand control to the waiting update and reload the page. Returns applied, pending or unavailable",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"timeout_seconds": propInt("How long to wait for the new version to take control (default: 10)"),
				},
			},
		},
		{
			Name:        ToolDismissSession,
			Description: "Hide the floating install button for the rest of this session",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        ToolDismissPermanent,
			Description: "Never show the install modal again (\"don't ask again\")",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        ToolResetDismissals,
			Description: "Clear both install dismissal flags",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        ToolCloseUpdateBanner,
			Description: "Close the update banner for the current view, or bring it back on navigation",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"navigate": propBool("Start a new view instead of closing (default: false)"),
				},
			},
		},

		// ============ HOST (2) ============
		{
			Name:        ToolDispatchPlatformEvent,
			Description: "Inject a platform event from the embedding browser",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"event": propEnum("Event to fire", []string{
						HostEventInstallOffered, HostEventAppInstalled,
						HostEventOnline, HostEventOffline,
						HostEventConnectionChange, HostEventDisplayModeChange,
						HostEventUpdateFound, HostEventUpdateInstalled,
						HostEventUpdateDiscarded,
					}),
					"effective_type": prop("string", "Connection quality for connection_change (slow-2g, 2g, 3g, 4g)"),
					"display_mode":   prop("string", "Display mode for display_mode_change (browser, standalone, fullscreen, minimal-ui)"),
				},
				"required": []string{"event"},
			},
		},
		{
			Name:        ToolResolveInstallPrompt,
			Description: "Answer the native install prompt that is waiting for the user",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"choice": propEnum("The user's choice", []string{"accepted", "dismissed"}),
				},
				"required": []string{"choice"},
			},
		},

		// ============ DIAGNOSTICS (2) ============
		{
			Name:        ToolGetUpdateHistory,
			Description: "Get recent background-update worker state transitions, newest first",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"limit": propInt("Maximum number of transitions to return (default: 20)"),
				},
			},
		},
		{
			Name:        ToolGetDiagnostics,
			Description: "Get coordinator health counters: events, publishes, registration and storage failures",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
	}
}

// Helper functions for schema creation
func prop(typeName, description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        typeName,
		"description": description,
	}
}

func propInt(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "integer",
		"description": description,
	}
}

func propBool(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "boolean",
		"description": description,
	}
}

func propEnum(description string, values []string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": description,
		"enum":        values,
	}
}
