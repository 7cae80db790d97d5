package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mcpserve/mcpserve/shared"

	schema "github.com/mcpserve/mcpserve/shared/mcp/2025/schema"
	"go.uber.org/zap"
)

// DefaultRootsTimeout bounds how long the server waits for the client to
// answer a roots/list request.
const DefaultRootsTimeout = 30 * time.Second

// RootsChangedHandler is invoked when a client reports that its roots changed.
type RootsChangedHandler func(session shared.ISession)

var _ shared.IServerCapability = (*RootsCapability)(nil)

// RootsCapability queries clients for their filesystem roots and reacts to
// notifications/roots/list_changed.
type RootsCapability struct {
	logger   *zap.Logger
	timeout  time.Duration
	mu       sync.RWMutex
	onChange []RootsChangedHandler
	handlers map[string]func(*shared.Message) (interface{}, error)
}

// NewRootsCapability creates a new RootsCapability.
func NewRootsCapability(logger *zap.Logger) *RootsCapability {
	rc := &RootsCapability{
		logger:  logger,
		timeout: DefaultRootsTimeout,
	}
	rc.handlers = map[string]func(*shared.Message) (interface{}, error){
		"notifications/roots/list_changed": rc.handleRootsListChanged,
	}
	return rc
}

func (rc *RootsCapability) GetHandlers() map[string]func(*shared.Message) (interface{}, error) {
	return rc.handlers
}

// SetCapabilities is a no-op: roots are a client capability.
func (rc *RootsCapability) SetCapabilities(s *schema.ServerCapabilities) {
}

// OnRootsChanged registers a callback fired when a client's roots change.
func (rc *RootsCapability) OnRootsChanged(handler RootsChangedHandler) {
	if handler == nil {
		return
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.onChange = append(rc.onChange, handler)
}

func (rc *RootsCapability) handleRootsListChanged(msg *shared.Message) (interface{}, error) {
	rc.logger.Debug("Client roots changed", zap.String("sessionID", msg.Session.GetID()))

	rc.mu.RLock()
	handlers := make([]RootsChangedHandler, len(rc.onChange))
	copy(handlers, rc.onChange)
	rc.mu.RUnlock()

	for _, handler := range handlers {
		go func(h RootsChangedHandler) {
			defer func() {
				if r := recover(); r != nil {
					rc.logger.Error("Panic recovered in roots changed handler", zap.Any("panic", r))
				}
			}()
			h(msg.Session)
		}(handler)
	}
	return nil, nil
}

// clientSupportsRoots reports whether the session's client advertised the
// roots capability.
func clientSupportsRoots(session shared.ISession) bool {
	capable, ok := session.(interface {
		GetClientCapabilities() *schema.ClientCapabilities
	})
	if !ok {
		return false
	}
	caps := capable.GetClientCapabilities()
	return caps != nil && caps.Roots != nil
}

// ListRoots sends roots/list to the session's client and waits for the
// response. The pending request is dropped if the context expires or the
// timeout elapses.
func (rc *RootsCapability) ListRoots(ctx context.Context, session shared.ISession) ([]schema.Root, error) {
	logger := rc.logger.With(zap.String("sessionID", session.GetID()), zap.String("method", "roots/list"))

	if !clientSupportsRoots(session) {
		logger.Debug("Client did not advertise roots capability")
		return nil, &shared.JSONRPCError{
			Code:    shared.JSONRPCErrorFeatureDisabled,
			Message: "client does not support roots",
		}
	}

	resultChan := make(chan *shared.Message, 1)
	requestID, err := session.SendRequest("roots/list", map[string]interface{}{}, func(msg *shared.Message) {
		resultChan <- msg
	})
	if err != nil {
		logger.Warn("Failed to send roots request", zap.Error(err))
		return nil, shared.NewJSONRPCError(err)
	}

	timer := time.NewTimer(rc.timeout)
	defer timer.Stop()

	select {
	case msg := <-resultChan:
		if msg.Error != nil {
			logger.Debug("Client rejected roots request", zap.Int("code", msg.Error.Code))
			return nil, msg.Error
		}
		if msg.Result == nil {
			return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInternal, Message: "empty roots response"}
		}
		var result schema.ListRootsResult
		if err := json.Unmarshal(*msg.Result, &result); err != nil {
			logger.Error("Failed to unmarshal roots result", zap.Error(err))
			return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInternal, Message: fmt.Sprintf("invalid roots response: %v", err)}
		}
		logger.Debug("Received client roots", zap.Int("count", len(result.Roots)))
		return result.Roots, nil

	case <-ctx.Done():
		session.GetRequestManager().Cancel(requestID)
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorOperationCancelled, Message: "roots request cancelled"}

	case <-timer.C:
		session.GetRequestManager().Cancel(requestID)
		logger.Warn("Roots request timed out", zap.Duration("timeout", rc.timeout))
		return nil, shared.NewRetryableError(shared.JSONRPCErrorTimeout, 1, "roots request timed out after %s", rc.timeout)
	}
}
