package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mcpserve/mcpserve/server"
	"github.com/mcpserve/mcpserve/server/auth"
	"github.com/mcpserve/mcpserve/server/cmd/mcpserve/democapability"
	"github.com/mcpserve/mcpserve/server/events"
	"github.com/mcpserve/mcpserve/server/mcp"
	"github.com/mcpserve/mcpserve/server/transport"
	"github.com/mcpserve/mcpserve/shared/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	loggerConfig := zap.NewProductionConfig()
	loggerConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := loggerConfig.Build()
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	port := flag.Int("port", 0, "Port to run the server on")
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	stdio := flag.Bool("stdio", false, "Serve a single session over stdin/stdout instead of HTTP")
	oauth := flag.Bool("oauth", false, "Mount the OAuth 2.1 methods with an in-memory token store")
	flag.Parse()

	cfg, err := config.NewYamlConfig(*configPath, logger)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	overwriteListenAddr := ""
	if *port != 0 {
		overwriteListenAddr = fmt.Sprintf(":%d", *port)
	}

	// Create a context that cancels on SIGINT or SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signalCh
		logger.Info("Received shutdown signal, stopping server...")
		cancel()
	}()

	if *stdio {
		runStdio(ctx, logger, cfg)
		return
	}

	serverOptions := democapability.BuildOptions(logger)
	if overwriteListenAddr != "" {
		serverOptions = append(serverOptions, server.WithListenAddr(overwriteListenAddr))
	}
	if *oauth {
		serverOptions = append(serverOptions, server.WithOAuth(auth.NewMemoryStore()))
	}

	errChan, err := server.Start(ctx, logger, cfg, serverOptions...)
	if err != nil {
		logger.Fatal("Failed to start server", zap.Error(err))
	}

	// --- Wait for Termination ---
	select {
	case startErr := <-errChan:
		if startErr != nil {
			logger.Fatal("Server encountered an error", zap.Error(startErr))
		} else {
			logger.Info("Server shutdown initiated cleanly")
		}
	case <-ctx.Done():
		logger.Info("Server context done")
	}

	logger.Info("Server stopped")
}

// runStdio serves exactly one session over stdin/stdout. Logs go to stderr
// so they do not corrupt the protocol stream.
func runStdio(ctx context.Context, logger *zap.Logger, cfg config.IConfig) {
	stderrConfig := zap.NewProductionConfig()
	stderrConfig.OutputPaths = []string{"stderr"}
	stderrConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	stderrLogger, err := stderrConfig.Build()
	if err != nil {
		logger.Fatal("Failed to initialize stderr logger", zap.Error(err))
	}
	defer stderrLogger.Sync()

	bus := events.NewBus()
	defer bus.Close()
	manager, err := mcp.NewManager(stderrLogger, cfg, bus)
	if err != nil {
		stderrLogger.Fatal("Failed to create session manager", zap.Error(err))
	}
	if err := democapability.Register(manager, cfg, stderrLogger); err != nil {
		stderrLogger.Fatal("Failed to register demo capabilities", zap.Error(err))
	}

	if err := transport.ServeStdio(ctx, manager, stderrLogger, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		stderrLogger.Fatal("Stdio transport failed", zap.Error(err))
	}
}
