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

// ToolHandler is the function signature for tool calls. It receives the
// message (carrying the session) and the parsed arguments, and returns
// metadata, result content, and an error. A returned error marks the call
// result with isError; it does not fail the JSON-RPC exchange.
type ToolHandler func(msg *shared.Message, arguments schema.Arguments) (*schema.Meta, []schema.Content, error)

// ToolsCapability handles tool registration and invocation.
type ToolsCapability struct {
	manager  *mcp.Manager
	logger   *zap.Logger
	mu       sync.RWMutex
	tools    map[string]*Tool
	handlers map[string]func(*shared.Message) (interface{}, error)
}

// Tool pairs a tool definition with its handler.
type Tool struct {
	schema.Tool
	Handler ToolHandler
}

// NewToolsCapability creates a new ToolsCapability.
func NewToolsCapability(manager *mcp.Manager, logger *zap.Logger) *ToolsCapability {
	tc := &ToolsCapability{
		manager: manager,
		logger:  logger,
		tools:   make(map[string]*Tool),
	}
	tc.handlers = map[string]func(*shared.Message) (interface{}, error){
		"tools/list": tc.handleToolsList,
		"tools/call": tc.handleToolsCall,
	}
	return tc
}

func (tc *ToolsCapability) GetHandlers() map[string]func(*shared.Message) (interface{}, error) {
	return tc.handlers
}

func (tc *ToolsCapability) SetCapabilities(s *schema.ServerCapabilities) {
	s.Tools = &schema.Capability{ListChanged: true}
}

// AddTool registers a new tool and notifies connected clients.
func (tc *ToolsCapability) AddTool(name string, description string, inputSchema *schema.JSONSchemaProperty, annotations *schema.ToolAnnotations, handler ToolHandler) error {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if _, exists := tc.tools[name]; exists {
		return fmt.Errorf("tool with name '%s' already exists", name)
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil for tool '%s'", name)
	}

	tc.tools[name] = &Tool{
		Tool: schema.Tool{
			Name:        name,
			Description: description,
			InputSchema: inputSchema,
			Annotations: annotations,
		},
		Handler: handler,
	}

	tc.logger.Info("Added tool", zap.String("name", name))
	go tc.broadcastToolsChanged()
	return nil
}

// UpdateTool replaces an existing tool's definition and handler.
func (tc *ToolsCapability) UpdateTool(name string, description string, inputSchema *schema.JSONSchemaProperty, annotations *schema.ToolAnnotations, handler ToolHandler) error {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	tool, exists := tc.tools[name]
	if !exists {
		return fmt.Errorf("tool with name '%s' does not exist", name)
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil for tool '%s'", name)
	}

	tool.Description = description
	tool.InputSchema = inputSchema
	tool.Annotations = annotations
	tool.Handler = handler

	tc.logger.Info("Updated tool", zap.String("name", name))
	go tc.broadcastToolsChanged()
	return nil
}

// DeleteTool removes a tool by name.
func (tc *ToolsCapability) DeleteTool(name string) error {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if _, exists := tc.tools[name]; !exists {
		return fmt.Errorf("tool with name '%s' does not exist", name)
	}

	delete(tc.tools, name)
	tc.logger.Info("Deleted tool", zap.String("name", name))
	go tc.broadcastToolsChanged()
	return nil
}

func (tc *ToolsCapability) broadcastToolsChanged() {
	if tc.manager == nil {
		tc.logger.Error("Cannot broadcast tool list changed: manager not set")
		return
	}
	tc.manager.NotifyEligibleSessions("notifications/tools/list_changed", nil)
}

// handleToolsList handles the "tools/list" request.
func (tc *ToolsCapability) handleToolsList(msg *shared.Message) (interface{}, error) {
	logger := tc.logger.With(zap.String("sessionID", msg.Session.GetID()), zap.String("method", "tools/list"))

	tc.mu.RLock()
	defer tc.mu.RUnlock()

	var params schema.ListToolsRequestParams
	if msg.Params != nil {
		if err := json.Unmarshal(*msg.Params, &params); err != nil {
			logger.Warn("Failed to unmarshal pagination params", zap.Error(err))
			return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: fmt.Sprintf("invalid parameters: %v", err)}
		}
	}

	toolsList := make([]schema.Tool, 0, len(tc.tools))
	for _, tool := range tc.tools {
		toolsList = append(toolsList, tool.Tool)
	}

	result := schema.ListToolsResult{
		Tools: toolsList,
		PaginatedResult: schema.PaginatedResult{
			NextCursor: nil,
		},
	}

	logger.Debug("Returning tool list", zap.Int("count", len(result.Tools)))
	return result, nil
}

// handleToolsCall handles the "tools/call" request.
func (tc *ToolsCapability) handleToolsCall(msg *shared.Message) (interface{}, error) {
	logger := tc.logger.With(zap.String("sessionID", msg.Session.GetID()), zap.String("method", "tools/call"))

	var params schema.CallToolRequestParams
	if msg.Params == nil {
		logger.Warn("Missing parameters in tools/call request")
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: "invalid request: missing params"}
	}
	if err := json.Unmarshal(*msg.Params, &params); err != nil {
		logger.Error("Failed to unmarshal tools/call params", zap.Error(err))
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: fmt.Sprintf("invalid parameters: %v", err)}
	}
	logger = logger.With(zap.String("toolName", params.Name))

	tc.mu.RLock()
	tool, exists := tc.tools[params.Name]
	tc.mu.RUnlock()

	if !exists {
		logger.Warn("Tool not found")
		return nil, &shared.JSONRPCError{
			Code:    shared.JSONRPCErrorToolNotFound,
			Message: fmt.Sprintf("tool not found: %s", params.Name),
		}
	}

	startTime := time.Now()
	meta, content, err := tool.Handler(msg, params.Arguments)
	duration := time.Since(startTime)

	result := schema.CallToolResult{
		Meta:    meta,
		Content: content,
		IsError: err != nil,
	}

	if err != nil {
		logger.Error("Tool handler returned an error", zap.Error(err), zap.Duration("duration", duration))
		if len(result.Content) == 0 {
			result.Content = schema.NewTextContent(err.Error())
		}
		return result, nil
	}

	logger.Info("Tool call successful", zap.Duration("duration", duration))
	return result, nil
}
