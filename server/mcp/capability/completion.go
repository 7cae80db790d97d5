package capability

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mcpserve/mcpserve/shared"

	schema "github.com/mcpserve/mcpserve/shared/mcp/2025/schema"
	"go.uber.org/zap"
)

// CompletionResult is the result of a completion/complete request.
type CompletionResult = schema.CompleteResult

// CompletionArgument names the argument being completed and its current value.
type CompletionArgument = schema.CompleteArgument

// CompletionHandler produces suggestions for an argument value.
type CompletionHandler func(msg *shared.Message, arg CompletionArgument) (*schema.CompletionInfo, error)

// The ref field of a completion request is either a prompt or a resource
// reference, discriminated by type.
type completionRefBase struct {
	Type string `json:"type"`
}

type completionPromptRef struct {
	completionRefBase
	Name string `json:"name"`
}

type completionResourceRef struct {
	completionRefBase
	URI string `json:"uri"`
}

var _ shared.IServerCapability = (*CompletionCapability)(nil)

// CompletionCapability handles argument completion for prompts and resources.
type CompletionCapability struct {
	logger             *zap.Logger
	mu                 sync.RWMutex
	promptCompleters   map[string]CompletionHandler // prompt name -> handler
	resourceCompleters map[string]CompletionHandler // resource URI or URI template -> handler
	handlers           map[string]func(*shared.Message) (interface{}, error)
}

// NewCompletionCapability creates a new CompletionCapability.
func NewCompletionCapability(logger *zap.Logger) *CompletionCapability {
	cc := &CompletionCapability{
		logger:             logger,
		promptCompleters:   make(map[string]CompletionHandler),
		resourceCompleters: make(map[string]CompletionHandler),
	}
	cc.handlers = map[string]func(*shared.Message) (interface{}, error){
		"completion/complete": cc.handleCompletionComplete,
	}
	return cc
}

func (cc *CompletionCapability) GetHandlers() map[string]func(*shared.Message) (interface{}, error) {
	return cc.handlers
}

func (cc *CompletionCapability) SetCapabilities(s *schema.ServerCapabilities) {
	s.Completions = &struct{}{}
}

// AddPromptCompleter registers a completer for a prompt's arguments.
func (cc *CompletionCapability) AddPromptCompleter(promptName string, handler CompletionHandler) {
	if handler == nil {
		cc.logger.Warn("Ignoring nil prompt completer", zap.String("promptName", promptName))
		return
	}
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.promptCompleters[promptName] = handler
	cc.logger.Info("Added prompt completer", zap.String("promptName", promptName))
}

// AddResourceCompleter registers a completer for a resource URI or URI template.
func (cc *CompletionCapability) AddResourceCompleter(resourceURI string, handler CompletionHandler) {
	if handler == nil {
		cc.logger.Warn("Ignoring nil resource completer", zap.String("resourceURI", resourceURI))
		return
	}
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.resourceCompleters[resourceURI] = handler
	cc.logger.Info("Added resource completer", zap.String("resourceURI", resourceURI))
}

// RemovePromptCompleter removes a prompt completer.
func (cc *CompletionCapability) RemovePromptCompleter(promptName string) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	delete(cc.promptCompleters, promptName)
}

// RemoveResourceCompleter removes a resource completer.
func (cc *CompletionCapability) RemoveResourceCompleter(resourceURI string) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	delete(cc.resourceCompleters, resourceURI)
}

// findResourceCompleter matches a URI exactly first, then against registered
// URI templates.
func (cc *CompletionCapability) findResourceCompleter(uri string) (CompletionHandler, bool) {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	if handler, exists := cc.resourceCompleters[uri]; exists {
		return handler, true
	}
	for pattern, handler := range cc.resourceCompleters {
		if _, ok := matchTemplate(pattern, uri); ok {
			return handler, true
		}
	}
	return nil, false
}

// handleCompletionComplete handles the "completion/complete" request.
// Unknown references yield an empty suggestion list rather than an error.
func (cc *CompletionCapability) handleCompletionComplete(msg *shared.Message) (interface{}, error) {
	logger := cc.logger.With(zap.String("sessionID", msg.Session.GetID()), zap.String("method", "completion/complete"))

	var params schema.CompletionRequestParams
	if msg.Params == nil {
		logger.Warn("Missing parameters in completion request")
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: "invalid request: missing params"}
	}
	if err := json.Unmarshal(*msg.Params, &params); err != nil {
		logger.Error("Failed to unmarshal completion params", zap.Error(err))
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: fmt.Sprintf("invalid parameters: %v", err)}
	}

	var refType completionRefBase
	if err := json.Unmarshal(params.Ref, &refType); err != nil {
		logger.Error("Failed to unmarshal completion reference", zap.Error(err))
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: fmt.Sprintf("invalid reference: %v", err)}
	}

	var handler CompletionHandler
	var exists bool
	var refIdentifier string

	switch refType.Type {
	case "ref/prompt":
		var promptRef completionPromptRef
		if err := json.Unmarshal(params.Ref, &promptRef); err != nil {
			return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: fmt.Sprintf("invalid prompt reference: %v", err)}
		}
		refIdentifier = promptRef.Name
		cc.mu.RLock()
		handler, exists = cc.promptCompleters[refIdentifier]
		cc.mu.RUnlock()

	case "ref/resource":
		var resourceRef completionResourceRef
		if err := json.Unmarshal(params.Ref, &resourceRef); err != nil {
			return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: fmt.Sprintf("invalid resource reference: %v", err)}
		}
		refIdentifier = resourceRef.URI
		handler, exists = cc.findResourceCompleter(refIdentifier)

	default:
		logger.Warn("Unsupported completion reference type", zap.String("type", refType.Type))
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: fmt.Sprintf("unsupported reference type: %s", refType.Type)}
	}

	if !exists {
		logger.Debug("No completion handler registered",
			zap.String("refType", refType.Type), zap.String("ref", refIdentifier))
		return CompletionResult{Completion: schema.CompletionInfo{Values: []string{}}}, nil
	}

	completionInfo, err := handler(msg, params.Argument)
	if err != nil {
		logger.Error("Completion handler returned an error", zap.Error(err), zap.String("ref", refIdentifier))
		return nil, shared.NewJSONRPCError(err)
	}
	if completionInfo == nil {
		completionInfo = &schema.CompletionInfo{Values: []string{}}
	}
	if completionInfo.Values == nil {
		completionInfo.Values = []string{}
	}

	logger.Debug("Completion successful",
		zap.String("ref", refIdentifier),
		zap.Int("suggestionCount", len(completionInfo.Values)))
	return CompletionResult{Completion: *completionInfo}, nil
}
