// Package main is the entry point for the PWA lifecycle coordinator.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ihiteshgupta/pwa-lifecycle/internal/config"
	"github.com/ihiteshgupta/pwa-lifecycle/internal/lifecycle"
	"github.com/ihiteshgupta/pwa-lifecycle/internal/platform"
	"github.com/ihiteshgupta/pwa-lifecycle/internal/store"
	"github.com/ihiteshgupta/pwa-lifecycle/pkg/api"
	"github.com/ihiteshgupta/pwa-lifecycle/pkg/mcp"
)

var (
	configPath = flag.String("config", "config.yaml", "Path to config file")
	logLevel   = flag.String("log-level", "", "Log level (debug, info, warn, error)")

	// Capabilities of the embedding page
	installAPI    = flag.Bool("install-api", true, "Page fires install offers")
	workersAPI    = flag.Bool("workers", true, "Page supports background-update workers")
	controlled    = flag.Bool("controlled", false, "An older worker already controls the page")
	waitingWorker = flag.Bool("waiting-worker", false, "A new worker is already waiting at load")
	connectionAPI = flag.Bool("connection-api", true, "Page exposes connection quality")
	effectiveType = flag.String("effective-type", "4g", "Initial connection quality")
	displayMode   = flag.String("display-mode", "browser", "Initial display mode (browser, standalone, fullscreen, minimal-ui)")
	standalone    = flag.Bool("standalone", false, "Navigator standalone flag is set")
	offline       = flag.Bool("offline", false, "Page starts offline")
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Override log level from flag if provided
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	// Validate config
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	// Setup logging. Stdout carries the JSON-RPC stream.
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var logHandler slog.Handler
	if cfg.LogFormat == "text" {
		logHandler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		logHandler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("PWA lifecycle coordinator starting",
		"config", *configPath,
		"log_level", cfg.LogLevel,
	)

	// Durable storage. An empty path runs with storage disabled.
	deps := lifecycle.Deps{
		Durable: store.DisabledPrefs{},
		Session: store.NewSessionStore(cfg.SessionTTL),
		Log:     logger,
	}
	if cfg.StorePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.StorePath), 0700); err != nil {
			logger.Error("Failed to create data directory", "error", err)
			os.Exit(1)
		}
		storeDB, err := store.NewSQLiteStore(cfg.StorePath)
		if err != nil {
			logger.Error("Failed to initialize store", "error", err)
			os.Exit(1)
		}
		defer storeDB.Close()
		deps.Durable = storeDB.Prefs
		deps.History = storeDB.Transitions
	} else {
		logger.Warn("Store path empty, dismissals will not survive a reload")
	}

	// Set up signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	host := platform.NewHost(platform.HostOptions{
		Online:              !*offline,
		ConnectionAPI:       *connectionAPI,
		EffectiveType:       *effectiveType,
		DisplayMode:         platform.DisplayMode(*displayMode),
		NavigatorStandalone: *standalone,
		InstallPrompt:       *installAPI,
		Workers:             *workersAPI,
		Controlled:          *controlled,
		WaitingWorker:       *waitingWorker,
	})

	coord := lifecycle.New(host, cfg, deps)
	defer coord.Close()

	handler := api.NewHandler(coord, host, api.Options{
		FloatingButtonDelay: cfg.FloatingButtonDelay,
		Log:                 logger.With("component", "api"),
	})
	defer handler.Close()

	// Initialize MCP server with stdio transport
	mcpServer := mcp.NewServer(os.Stdin, os.Stdout, handler, logger)

	// The embedding browser shows the native prompt and performs reloads
	host.OnPrompt(func() {
		if err := mcpServer.Notify(mcp.NotifyInstallPrompt, nil); err != nil {
			logger.Warn("Failed to forward install prompt", "error", err)
		}
	})
	host.OnReload(func() {
		if err := mcpServer.Notify(mcp.NotifyReload, nil); err != nil {
			logger.Warn("Failed to forward reload request", "error", err)
		}
	})

	logger.Info("Coordinator initialized",
		"store_path", cfg.StorePath,
		"install_api", *installAPI,
		"workers", *workersAPI,
	)

	// Run MCP server in goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- mcpServer.Run(ctx)
	}()

	// Wait for shutdown signal or server error
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", "signal", sig)
		cancel()
	case err := <-errChan:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("MCP server error", "error", err)
		}
	}

	logger.Info("PWA lifecycle coordinator stopped")
}
