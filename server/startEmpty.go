package server

import (
	"context"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/mcpserve/mcpserve/server/events"
	"github.com/mcpserve/mcpserve/server/extra"
	"github.com/mcpserve/mcpserve/server/mcp"
	"github.com/mcpserve/mcpserve/server/mcp/capability"
	"github.com/mcpserve/mcpserve/server/mcp/validators"
	"github.com/mcpserve/mcpserve/server/transport"
	"github.com/mcpserve/mcpserve/shared/config"
)

// StartServer starts a bare MCP server and hands back the capability
// instances so the caller can register tools, resources and prompts at
// runtime.
func StartServer(ctx context.Context, logger *zap.Logger, cfg config.IConfig, overwriteListenAddr string) (
	*capability.ToolsCapability,
	*capability.ResourcesCapability,
	*capability.PromptsCapability,
	*capability.CompletionCapability,
	error,
) {
	bus := events.NewBus()
	sessionManager, err := mcp.NewManager(logger, cfg, bus)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	sessionManager.AddValidator(validators.CreateDefaultValidators(cfg, logger)...)

	baseCapability := capability.NewBase(logger, sessionManager)
	toolsCapability := capability.NewToolsCapability(sessionManager, logger)
	resourcesCapability := capability.NewResourcesCapability(sessionManager, logger)
	promptsCapability := capability.NewPromptsCapability(logger, sessionManager)
	completionCapability := capability.NewCompletionCapability(logger)

	sessionManager.AddCapability(baseCapability, toolsCapability, resourcesCapability, promptsCapability, completionCapability)

	// Closed sessions take their resource subscriptions with them.
	closed := bus.Subscribe(events.TopicSessionClosed)
	go func() {
		for raw := range closed {
			if event, ok := raw.(events.Event); ok {
				resourcesCapability.RemoveSessionSubscriptions(event.SessionID)
			}
		}
	}()

	// Set up transport and HTTP server
	streamTransport, err := transport.New(sessionManager, logger, cfg)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	mux := http.NewServeMux()
	streamTransport.RegisterHandlers(mux)

	// Register status handler
	logger.Info("Registering status handler", zap.String("path", "/status"))
	mux.HandleFunc("/status", extra.StatusHandler(cfg, sessionManager.GetServerInfo(), sessionManager, logger))

	var listenAddr string
	if overwriteListenAddr == "" {
		listenAddr, err = cfg.ListenAddr()
		if err != nil {
			logger.Error("Failed to get listen address", zap.Error(err))
			return nil, nil, nil, nil, err
		}
	} else {
		listenAddr = overwriteListenAddr
	}
	server := &http.Server{
		Addr:    listenAddr,
		Handler: mux,
	}

	// Start HTTP server in a goroutine
	logger.Debug("Starting HTTP server", zap.String("addr", listenAddr))
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Set up graceful shutdown
	go func() {
		<-ctx.Done()
		logger.Info("Shutting down HTTP server")

		// Create a deadline for server shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		sessionManager.CloseAllSessions()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", zap.Error(err))
		}
		bus.Close()

		logger.Info("HTTP server stopped")
	}()

	return toolsCapability, resourcesCapability, promptsCapability, completionCapability, nil
}
