package capability

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mcpserve/mcpserve/server/mcp"
	"github.com/mcpserve/mcpserve/shared"

	schema "github.com/mcpserve/mcpserve/shared/mcp/2025/schema"
	"go.uber.org/zap"
)

// PromptHandler renders a prompt. It receives the message (carrying the
// session and arguments) and returns metadata, prompt messages, and an error.
type PromptHandler func(msg *shared.Message) (*schema.Meta, []schema.PromptMessage, error)

var _ shared.IServerCapability = (*PromptsCapability)(nil)

// PromptsCapability handles prompt registration and rendering.
type PromptsCapability struct {
	logger    *zap.Logger
	manager   mcp.ISessionManager
	mu        sync.RWMutex
	prompts   map[string]*Prompt
	templates map[string]*Template
	handlers  map[string]func(*shared.Message) (interface{}, error)
}

// Prompt is a fixed prompt without arguments.
type Prompt struct {
	schema.Prompt
	Handler      PromptHandler
	LastModified time.Time
}

// Template is a parameterized prompt.
type Template struct {
	schema.Prompt
	Handler      PromptHandler
	LastModified time.Time
}

// NewPromptsCapability creates a new PromptsCapability.
func NewPromptsCapability(logger *zap.Logger, manager mcp.ISessionManager) *PromptsCapability {
	pc := &PromptsCapability{
		logger:    logger,
		manager:   manager,
		prompts:   make(map[string]*Prompt),
		templates: make(map[string]*Template),
	}
	pc.handlers = map[string]func(*shared.Message) (interface{}, error){
		"prompts/list": pc.handlePromptsList,
		"prompts/get":  pc.handlePromptsGet,
	}
	return pc
}

func (pc *PromptsCapability) GetHandlers() map[string]func(*shared.Message) (interface{}, error) {
	return pc.handlers
}

func (pc *PromptsCapability) SetCapabilities(s *schema.ServerCapabilities) {
	s.Prompts = &schema.Capability{ListChanged: true}
}

// AddPrompt registers a fixed prompt.
func (pc *PromptsCapability) AddPrompt(name string, description string, handler PromptHandler) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if _, exists := pc.prompts[name]; exists {
		return fmt.Errorf("prompt '%s' already exists", name)
	}
	if _, exists := pc.templates[name]; exists {
		return fmt.Errorf("template '%s' already exists", name)
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil for prompt '%s'", name)
	}

	pc.prompts[name] = &Prompt{
		Prompt: schema.Prompt{
			Name:        name,
			Description: description,
		},
		Handler:      handler,
		LastModified: time.Now(),
	}
	pc.logger.Info("Added prompt", zap.String("name", name))
	go pc.broadcastPromptsChanged()
	return nil
}

// UpdatePrompt replaces an existing prompt.
func (pc *PromptsCapability) UpdatePrompt(name string, description string, handler PromptHandler) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	prompt, exists := pc.prompts[name]
	if !exists {
		return fmt.Errorf("prompt '%s' not found", name)
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil for prompt '%s'", name)
	}
	prompt.Description = description
	prompt.Handler = handler
	prompt.LastModified = time.Now()
	pc.logger.Info("Updated prompt", zap.String("name", name))
	go pc.broadcastPromptsChanged()
	return nil
}

// DeletePrompt removes a prompt by name.
func (pc *PromptsCapability) DeletePrompt(name string) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if _, exists := pc.prompts[name]; !exists {
		return fmt.Errorf("prompt '%s' not found", name)
	}
	delete(pc.prompts, name)
	pc.logger.Info("Deleted prompt", zap.String("name", name))
	go pc.broadcastPromptsChanged()
	return nil
}

// AddTemplate registers a parameterized prompt.
func (pc *PromptsCapability) AddTemplate(name string, description string, arguments []schema.PromptArgument, handler PromptHandler) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if _, exists := pc.templates[name]; exists {
		return fmt.Errorf("template '%s' already exists", name)
	}
	if _, exists := pc.prompts[name]; exists {
		return fmt.Errorf("prompt '%s' already exists", name)
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil for template '%s'", name)
	}

	pc.templates[name] = &Template{
		Prompt: schema.Prompt{
			Name:        name,
			Description: description,
			Arguments:   arguments,
		},
		Handler:      handler,
		LastModified: time.Now(),
	}
	pc.logger.Info("Added prompt template", zap.String("name", name))
	go pc.broadcastPromptsChanged()
	return nil
}

// DeleteTemplate removes a prompt template by name.
func (pc *PromptsCapability) DeleteTemplate(name string) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if _, exists := pc.templates[name]; !exists {
		return fmt.Errorf("template '%s' not found", name)
	}
	delete(pc.templates, name)
	pc.logger.Info("Deleted prompt template", zap.String("name", name))
	go pc.broadcastPromptsChanged()
	return nil
}

func (pc *PromptsCapability) broadcastPromptsChanged() {
	if pc.manager == nil {
		pc.logger.Error("Cannot broadcast prompt list changed: manager not set")
		return
	}
	pc.manager.NotifyEligibleSessions("notifications/prompts/list_changed", nil)
}

// handlePromptsList handles the "prompts/list" request.
func (pc *PromptsCapability) handlePromptsList(msg *shared.Message) (interface{}, error) {
	logger := pc.logger.With(zap.String("sessionID", msg.Session.GetID()), zap.String("method", "prompts/list"))

	pc.mu.RLock()
	defer pc.mu.RUnlock()

	var params schema.ListPromptsRequestParams
	if msg.Params != nil {
		if err := json.Unmarshal(*msg.Params, &params); err != nil {
			logger.Warn("Failed to unmarshal pagination params", zap.Error(err))
			return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: fmt.Sprintf("invalid parameters: %v", err)}
		}
	}

	allPrompts := make([]schema.Prompt, 0, len(pc.prompts)+len(pc.templates))
	for _, prompt := range pc.prompts {
		allPrompts = append(allPrompts, prompt.Prompt)
	}
	for _, template := range pc.templates {
		allPrompts = append(allPrompts, template.Prompt)
	}

	result := schema.ListPromptsResult{
		Prompts:         allPrompts,
		PaginatedResult: schema.PaginatedResult{NextCursor: nil},
	}
	logger.Debug("Returning prompt list", zap.Int("count", len(result.Prompts)))
	return result, nil
}

// handlePromptsGet handles the "prompts/get" request.
func (pc *PromptsCapability) handlePromptsGet(msg *shared.Message) (interface{}, error) {
	logger := pc.logger.With(zap.String("sessionID", msg.Session.GetID()), zap.String("method", "prompts/get"))

	var params schema.GetPromptRequestParams
	if msg.Params == nil {
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: "invalid request: missing params"}
	}
	if err := json.Unmarshal(*msg.Params, &params); err != nil {
		logger.Error("Failed to unmarshal prompts/get params", zap.Error(err))
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: fmt.Sprintf("invalid parameters: %v", err)}
	}
	logger = logger.With(zap.String("promptName", params.Name))

	pc.mu.RLock()
	prompt, promptExists := pc.prompts[params.Name]
	template, templateExists := pc.templates[params.Name]
	pc.mu.RUnlock()

	var handler PromptHandler
	var description string
	switch {
	case promptExists:
		handler = prompt.Handler
		description = prompt.Description
	case templateExists:
		handler = template.Handler
		description = template.Description
	default:
		logger.Warn("Prompt not found")
		return nil, &shared.JSONRPCError{
			Code:    shared.JSONRPCErrorPromptNotFound,
			Message: fmt.Sprintf("prompt not found: %s", params.Name),
		}
	}

	if handler == nil {
		logger.Error("Prompt found but handler is nil")
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInternal, Message: fmt.Sprintf("no handler available for prompt %s", params.Name)}
	}

	meta, messages, err := handler(msg)
	if err != nil {
		logger.Error("Prompt handler returned an error", zap.Error(err))
		return nil, shared.NewJSONRPCError(err)
	}

	result := schema.GetPromptResult{
		Meta:        meta,
		Description: description,
		Messages:    messages,
	}
	logger.Debug("Successfully rendered prompt", zap.Int("messageCount", len(result.Messages)))
	return result, nil
}
