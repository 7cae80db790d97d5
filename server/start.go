package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/mcpserve/mcpserve/server/auth"
	"github.com/mcpserve/mcpserve/server/events"
	"github.com/mcpserve/mcpserve/server/extra"
	"github.com/mcpserve/mcpserve/server/mcp"
	"github.com/mcpserve/mcpserve/server/mcp/capability"
	"github.com/mcpserve/mcpserve/server/mcp/validators"
	"github.com/mcpserve/mcpserve/server/transport"
	"github.com/mcpserve/mcpserve/shared"
	"github.com/mcpserve/mcpserve/shared/config"
	"go.uber.org/zap"
)

// Start builds and starts the MCP server with the provided options.
// It returns a listener error channel; the server shuts down when the
// context is cancelled.
func Start(ctx context.Context, logger *zap.Logger, cfg config.IConfig, options ...ServerOption) (
	<-chan error,
	error,
) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}

	// --- 1. Initialize ServerBuilder ---
	listenAddr, err := cfg.ListenAddr()
	if err != nil {
		return nil, fmt.Errorf("failed to get listen address: %w", err)
	}

	bus := events.NewBus()
	sessionManager, err := mcp.NewManager(logger, cfg, bus)
	if err != nil {
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}

	builder := &ServerBuilder{
		ctx:          ctx,
		logger:       logger,
		cfg:          cfg,
		listenAddr:   listenAddr,
		bus:          bus,
		manager:      sessionManager,
		mux:          http.NewServeMux(),
		capabilities: make([]shared.IServerCapability, 0),
	}

	// --- 2. Apply Server Options ---
	logger.Info("Applying server configuration options...")
	for _, option := range options {
		if err := option(builder); err != nil {
			return nil, fmt.Errorf("failed to apply server option: %w", err)
		}
	}
	logger.Info("Server options applied successfully.")

	// --- 3. Finalize Setup based on Builder State ---
	defaultValidators := validators.CreateDefaultValidators(cfg, logger)
	if builder.authCap != nil {
		// The method table must accept the mounted auth methods.
		for _, v := range defaultValidators {
			if mv, ok := v.(*validators.MethodValidator); ok {
				mv.AddMethod(builder.authCap.Methods()...)
			}
		}
	}
	sessionManager.AddValidator(defaultValidators...)

	if len(builder.capabilities) > 0 {
		logger.Info("Registering capabilities with session manager", zap.Int("count", len(builder.capabilities)))
		sessionManager.AddCapability(builder.capabilities...)
	} else {
		logger.Info("No capabilities registered.")
	}

	// Session teardown duties: drop the closed session's resource
	// subscriptions.
	if builder.resourcesCap != nil {
		closed := bus.Subscribe(events.TopicSessionClosed)
		resourcesCap := builder.resourcesCap
		go func() {
			for raw := range closed {
				if event, ok := raw.(events.Event); ok {
					resourcesCap.RemoveSessionSubscriptions(event.SessionID)
				}
			}
		}()
	}

	// --- 4. Transport & HTTP ---
	transportOptions := builder.transportOptions
	if builder.tokenValidator != nil {
		transportOptions = append(transportOptions, transport.WithTokenValidator(builder.tokenValidator))
	}
	transportInstance, err := transport.New(sessionManager, logger, cfg, transportOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}
	transportInstance.RegisterHandlers(builder.mux)

	logger.Info("Registering status handler", zap.String("path", "/status"))
	builder.mux.HandleFunc("/status", extra.StatusHandler(cfg, sessionManager.GetServerInfo(), sessionManager, logger))

	serverInstance, listenerErrChan, startErr := transport.StartHTTPServer(
		ctx,
		logger,
		cfg,
		builder.mux,
		builder.listenAddr,
	)
	if startErr != nil {
		return nil, fmt.Errorf("failed to start HTTP server: %w", startErr)
	}

	// --- 5. Listener errors and graceful shutdown ---
	go func() {
		select {
		case err, ok := <-listenerErrChan:
			if ok && err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Fatal("Server listener failed", zap.Error(err))
				os.Exit(1)
			}
			logger.Info("Server listener stopped.")
		case <-ctx.Done():
			logger.Info("Shutdown signal received, stopping server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			sessionManager.CloseAllSessions()
			transport.ShutdownHTTPServer(shutdownCtx, logger, serverInstance)
			bus.Close()
			logger.Info("Server stopped.")
		}
	}()

	return listenerErrChan, nil
}

// --- Server Options ---

// WithListenAddr overrides the listen address from the config.
func WithListenAddr(addr string) ServerOption {
	return func(b *ServerBuilder) error {
		// Allow empty addr to mean "use config default"
		if addr != "" {
			b.listenAddr = addr
			b.logger.Info("Overriding listen address", zap.String("newAddress", addr))
		}
		return nil
	}
}

// WithSessionTimeout configures the idle session timeout.
func WithSessionTimeout(timeout time.Duration) ServerOption {
	return func(b *ServerBuilder) error {
		b.transportOptions = append(b.transportOptions, transport.WithSessionTimeout(timeout))
		return nil
	}
}

// WithResponseMode overrides the configured POST response mode.
func WithResponseMode(mode config.ResponseMode) ServerOption {
	return func(b *ServerBuilder) error {
		b.transportOptions = append(b.transportOptions, transport.WithResponseMode(mode))
		return nil
	}
}

// WithStandaloneStream enables or disables the GET SSE stream.
func WithStandaloneStream(enabled bool) ServerOption {
	return func(b *ServerBuilder) error {
		b.transportOptions = append(b.transportOptions, transport.WithStandaloneStream(enabled))
		return nil
	}
}

// WithOAuth mounts the OAuth 2.1 methods backed by the given store and
// turns on bearer token validation at the transport.
func WithOAuth(store auth.Store) ServerOption {
	return func(b *ServerBuilder) error {
		if store == nil {
			store = auth.NewMemoryStore()
		}
		_, err := b.EnsureAuthCapability(store)
		return err
	}
}

// WithSampling enables server-initiated sampling requests to clients that
// advertise the capability.
func WithSampling() ServerOption {
	return func(b *ServerBuilder) error {
		_, err := b.EnsureSamplingCapability()
		return err
	}
}

// WithRoots enables listing client roots and watching for root changes.
func WithRoots(handler capability.RootsChangedHandler) ServerOption {
	return func(b *ServerBuilder) error {
		rootsCap, err := b.EnsureRootsCapability()
		if err != nil {
			return err
		}
		if handler != nil {
			rootsCap.OnRootsChanged(handler)
		}
		return nil
	}
}
