package server

import (
	"context"
	"net/http"

	"github.com/mcpserve/mcpserve/server/auth"
	"github.com/mcpserve/mcpserve/server/events"
	"github.com/mcpserve/mcpserve/server/mcp"
	"github.com/mcpserve/mcpserve/server/mcp/capability"
	"github.com/mcpserve/mcpserve/server/transport"
	"github.com/mcpserve/mcpserve/shared"
	"github.com/mcpserve/mcpserve/shared/config"
	"go.uber.org/zap"
)

type ServerBuilder struct {
	ctx          context.Context
	logger       *zap.Logger
	cfg          config.IConfig
	listenAddr   string
	bus          *events.Bus
	manager      *mcp.Manager
	mux          *http.ServeMux
	capabilities []shared.IServerCapability

	// Capability instances (created lazily)
	baseCap       *capability.BaseCapability
	toolsCap      *capability.ToolsCapability
	resourcesCap  *capability.ResourcesCapability
	promptsCap    *capability.PromptsCapability
	completionCap *capability.CompletionCapability
	samplingCap   *capability.SamplingCapability
	rootsCap      *capability.RootsCapability
	authCap       *auth.Capability

	// Settings consumed when the transport is constructed
	transportOptions []transport.TransportOption
	tokenValidator   auth.TokenValidator
}

// EnsureMCPBaseCapability creates the BaseCapability if it doesn't exist.
func (b *ServerBuilder) EnsureMCPBaseCapability() error {
	if b.baseCap == nil {
		b.logger.Debug("Initializing BaseCapability")
		b.baseCap = capability.NewBase(b.logger, b.manager)
		b.capabilities = append(b.capabilities, b.baseCap)
	}
	return nil
}

// EnsureToolsCapability creates the ToolsCapability if it doesn't exist.
func (b *ServerBuilder) EnsureToolsCapability() (*capability.ToolsCapability, error) {
	if err := b.EnsureMCPBaseCapability(); err != nil {
		return nil, err
	}
	if b.toolsCap == nil {
		b.logger.Debug("Initializing ToolsCapability")
		b.toolsCap = capability.NewToolsCapability(b.manager, b.logger)
		b.capabilities = append(b.capabilities, b.toolsCap)
	}
	return b.toolsCap, nil
}

// EnsurePromptsCapability creates the PromptsCapability if it doesn't exist.
func (b *ServerBuilder) EnsurePromptsCapability() (*capability.PromptsCapability, error) {
	if err := b.EnsureMCPBaseCapability(); err != nil {
		return nil, err
	}
	if b.promptsCap == nil {
		b.logger.Debug("Initializing PromptsCapability")
		b.promptsCap = capability.NewPromptsCapability(b.logger, b.manager)
		b.capabilities = append(b.capabilities, b.promptsCap)
	}
	return b.promptsCap, nil
}

// EnsureResourcesCapability creates the ResourcesCapability if it doesn't exist.
func (b *ServerBuilder) EnsureResourcesCapability() (*capability.ResourcesCapability, error) {
	if err := b.EnsureMCPBaseCapability(); err != nil {
		return nil, err
	}
	if b.resourcesCap == nil {
		b.logger.Debug("Initializing ResourcesCapability")
		b.resourcesCap = capability.NewResourcesCapability(b.manager, b.logger)
		b.capabilities = append(b.capabilities, b.resourcesCap)
	}
	return b.resourcesCap, nil
}

// EnsureCompletionCapability creates the CompletionCapability if it doesn't exist.
func (b *ServerBuilder) EnsureCompletionCapability() (*capability.CompletionCapability, error) {
	if err := b.EnsureMCPBaseCapability(); err != nil {
		return nil, err
	}
	if b.completionCap == nil {
		b.logger.Debug("Initializing CompletionCapability")
		b.completionCap = capability.NewCompletionCapability(b.logger)
		b.capabilities = append(b.capabilities, b.completionCap)
	}
	return b.completionCap, nil
}

// EnsureSamplingCapability creates the SamplingCapability if it doesn't exist.
func (b *ServerBuilder) EnsureSamplingCapability() (*capability.SamplingCapability, error) {
	if err := b.EnsureMCPBaseCapability(); err != nil {
		return nil, err
	}
	if b.samplingCap == nil {
		b.logger.Debug("Initializing SamplingCapability")
		b.samplingCap = capability.NewSamplingCapability(b.logger)
	}
	return b.samplingCap, nil
}

// EnsureRootsCapability creates the RootsCapability if it doesn't exist.
func (b *ServerBuilder) EnsureRootsCapability() (*capability.RootsCapability, error) {
	if err := b.EnsureMCPBaseCapability(); err != nil {
		return nil, err
	}
	if b.rootsCap == nil {
		b.logger.Debug("Initializing RootsCapability")
		b.rootsCap = capability.NewRootsCapability(b.logger)
		b.capabilities = append(b.capabilities, b.rootsCap)
	}
	return b.rootsCap, nil
}

// EnsureAuthCapability creates the OAuth capability backed by the given
// store, and installs bearer token validation on the transport.
func (b *ServerBuilder) EnsureAuthCapability(store auth.Store) (*auth.Capability, error) {
	if err := b.EnsureMCPBaseCapability(); err != nil {
		return nil, err
	}
	if b.authCap == nil {
		b.logger.Debug("Initializing OAuth capability")
		b.authCap = auth.NewCapability(b.logger, b.cfg, store)
		b.capabilities = append(b.capabilities, b.authCap)
		b.tokenValidator = auth.NewStoreValidator(store)
	}
	return b.authCap, nil
}

// ServerOption defines a function type for configuring the ServerBuilder.
type ServerOption func(*ServerBuilder) error
