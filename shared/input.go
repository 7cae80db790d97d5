package shared

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mcpserve/mcpserve/shared/mcp/2025/schema"
	"go.uber.org/zap"
)

// IOperationAware is implemented by sessions that track in-flight requests
// as cancellable operations. BeginOperation registers the request before its
// handler runs; CompleteOperation removes it and reports whether it was
// cancelled in the meantime.
type IOperationAware interface {
	BeginOperation(id *schema.RequestID, method string)
	CompleteOperation(id *schema.RequestID) (cancelled bool)
}

// Input queues incoming messages, runs them through the validator chain and
// dispatches each to its method handler on a dedicated goroutine.
type Input struct {
	Mu              sync.RWMutex
	input           chan *Message
	logger          *zap.Logger
	validators      []MessageValidator
	methodHandlers  sync.Map // method name -> handler func
	notFoundHandler atomic.Value
	capabilities    []ICapability
}

func NewInput(logger *zap.Logger) *Input {
	i := &Input{
		validators: []MessageValidator{},
		logger:     logger,
	}
	i.notFoundHandler.Store(func(msg *Message) (interface{}, error) {
		return nil, &JSONRPCError{
			Code:    JSONRPCErrorMethodNotFound,
			Message: fmt.Sprintf("Method not found: %s", NilIfNil(msg.Method)),
		}
	})
	return i
}

type MessageValidator interface {
	Validate(*Message) error
}

// Put validates and enqueues a message for processing.
func (i *Input) Put(msg *Message) error {
	i.Mu.Lock()
	copyOfValidators := make([]MessageValidator, len(i.validators))
	copy(copyOfValidators, i.validators)
	i.Mu.Unlock()

	for _, validator := range copyOfValidators {
		if err := validator.Validate(msg); err != nil {
			i.logger.Debug("Message rejected by validator",
				zap.String("sessionID", msg.Session.GetID()),
				zap.Any("messageID", msg.ID),
				zap.Stringp("method", msg.Method),
				zap.Error(err),
			)
			// A rejected request still owes the client exactly one response.
			if msg.IsRequest() {
				msg.Session.SendResponse(msg.ID, nil, NewJSONRPCError(err))
			}
			return err
		}
	}
	// Until the handshake starts, initialize is the only method a session
	// may invoke, regardless of which transport delivered the message.
	if msg.Method != nil && *msg.Method != "initialize" &&
		msg.Session.GetStatus() == StatusNew {
		sessionErr := &JSONRPCError{
			Code:    JSONRPCErrorInvalidRequest,
			Message: "session not initialized",
		}
		if msg.IsRequest() {
			msg.Session.SendResponse(msg.ID, nil, sessionErr)
		}
		return sessionErr
	}
	msg.Session.UpdateLastActivity()

	select {
	case i.input <- msg:
		i.logger.Debug("Message queued",
			zap.String("sessionID", msg.Session.GetID()),
			zap.Any("messageID", msg.ID),
			zap.Stringp("method", msg.Method),
		)
	default:
		i.logger.Error("Input channel full, dropping message",
			zap.String("sessionID", msg.Session.GetID()),
			zap.Any("messageID", msg.ID),
			zap.Stringp("method", msg.Method),
		)
		if !msg.ID.IsEmpty() {
			go msg.Session.SendResponse(msg.ID, nil, NewError(JSONRPCErrorServerOverloaded, "message processor busy, message dropped"))
		}
		return errors.New("input processor busy, input channel full")
	}
	return nil
}

// Process runs the dispatch loop until the input channel is closed.
func (i *Input) Process() {
	i.logger.Debug("Input - message processing loop started")
	i.input = make(chan *Message, 100)
	defer func() {
		close(i.input)
		i.input = nil
		i.logger.Info("Input - message processing loop stopped")
	}()
	for msg := range i.input {
		if msg.Session == nil {
			i.logger.Error("Received message with nil session in processing queue")
			continue
		}
		logger := i.logger.With(zap.String("sessionID", msg.Session.GetID()))
		if msg.Method == nil && msg.ID.IsEmpty() {
			logger.Error("Received invalid message (no method or ID)")
			continue
		}

		go i.dispatch(msg, logger)
	}
}

func (i *Input) dispatch(msg *Message, logger *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic recovered during message processing",
				zap.Any("panic", r), zap.Any("msgId", msg.ID))
			if !msg.ID.IsEmpty() {
				if oa, ok := msg.Session.(IOperationAware); ok {
					oa.CompleteOperation(msg.ID)
				}
				msg.Session.SendResponse(msg.ID, nil, &JSONRPCError{
					Code:    JSONRPCErrorInternal,
					Message: "internal server error during processing",
				})
			}
		}
	}()

	if msg.Method == nil {
		// A response to a server-initiated request.
		if !msg.Session.GetRequestManager().ProcessResponse(msg) {
			logger.Warn("Received response for unknown or timed-out request",
				zap.String("responseID", msg.ID.String()))
		}
		return
	}

	handler, exists := i.GetHandler(*msg.Method)
	if !exists {
		logger.Error("Handler not found", zap.String("method", *msg.Method))
		if !msg.ID.IsEmpty() {
			msg.Session.SendResponse(msg.ID, nil, &JSONRPCError{
				Code:    JSONRPCErrorMethodNotFound,
				Message: fmt.Sprintf("Method not found: %s", *msg.Method),
			})
		}
		return
	}

	oa, trackOp := msg.Session.(IOperationAware)
	trackOp = trackOp && msg.IsRequest() && isTrackedMethod(*msg.Method)
	if trackOp {
		oa.BeginOperation(msg.ID, *msg.Method)
	}

	response, err := handler(msg)

	if trackOp {
		if cancelled := oa.CompleteOperation(msg.ID); cancelled {
			response = nil
			err = &JSONRPCError{
				Code:    JSONRPCErrorOperationCancelled,
				Message: fmt.Sprintf("operation cancelled: %s", *msg.Method),
			}
		}
	}

	if !msg.ID.IsEmpty() && !isNotificationMethod(msg.Method) {
		msg.Session.SendResponse(msg.ID, response, err)
	} else if err != nil {
		logger.Error("Error handling notification",
			zap.String("method", *msg.Method), zap.Error(err))
	}
}

func isNotificationMethod(method *string) bool {
	return method != nil && strings.HasPrefix(*method, "notifications/")
}

// isTrackedMethod limits operation tracking to long-running entity methods.
// Lifecycle and bookkeeping methods are never cancellable.
func isTrackedMethod(method string) bool {
	switch method {
	case "initialize", "ping", "cancel", "health/check":
		return false
	}
	return !strings.HasPrefix(method, "notifications/") && !strings.HasPrefix(method, "auth/")
}

// AddNotFoundHandle registers a handler for methods without a specific handler.
func (i *Input) AddNotFoundHandle(handler func(*Message) (interface{}, error)) {
	i.notFoundHandler.Store(handler)
	i.logger.Debug("Registered not-found handler")
}

// GetHandler retrieves a handler for a specific method.
func (i *Input) GetHandler(method string) (func(*Message) (interface{}, error), bool) {
	handler, exists := i.methodHandlers.Load(method)
	if !exists {
		notFoundFunc := i.notFoundHandler.Load()
		if notFoundFuncTyped, ok := notFoundFunc.(func(*Message) (interface{}, error)); ok {
			return notFoundFuncTyped, true
		}
		return nil, false
	}
	return handler.(func(*Message) (interface{}, error)), true
}

// AddValidator adds custom message validators.
func (i *Input) AddValidator(validators ...MessageValidator) {
	i.Mu.Lock()
	defer i.Mu.Unlock()
	i.validators = append(i.validators, validators...)
}

// AddServerCapability registers server capability handlers. The typed
// parameter keeps client capabilities out at compile time.
func (i *Input) AddServerCapability(capabilities ...IServerCapability) {
	for _, capability := range capabilities {
		i.addCapability(capability.(ICapability))
	}
}

func (i *Input) AddClientCapability(capabilities ...IClientCapability) {
	for _, capability := range capabilities {
		i.addCapability(capability.(ICapability))
	}
}

func (i *Input) addCapability(capability ICapability) {
	i.capabilities = append(i.capabilities, capability)
	for method, handler := range capability.GetHandlers() {
		i.methodHandlers.Store(method, handler)
		i.logger.Debug("Registered handler from capability",
			zap.String("capability", fmt.Sprintf("%T", capability)),
			zap.String("method", method))
	}
}

// SetCapabilities pushes the negotiated capability structure to every
// registered capability so each can advertise what it serves.
func (i *Input) SetCapabilities(clientOrServerCapabilities any) {
	if clientCapabilities, ok := clientOrServerCapabilities.(*schema.ClientCapabilities); ok {
		for _, capability := range i.capabilities {
			if clientCapability, ok := capability.(IClientCapability); ok {
				clientCapability.SetCapabilities(clientCapabilities)
			} else {
				i.logger.Error("Capability does not implement IClientCapability",
					zap.String("capability", fmt.Sprintf("%T", capability)))
			}
		}
	} else if serverCapabilities, ok := clientOrServerCapabilities.(*schema.ServerCapabilities); ok {
		for _, capability := range i.capabilities {
			if serverCapability, ok := capability.(IServerCapability); ok {
				serverCapability.SetCapabilities(serverCapabilities)
			} else {
				i.logger.Error("Capability does not implement IServerCapability",
					zap.String("capability", fmt.Sprintf("%T", capability)))
			}
		}
	} else {
		i.logger.Error("clientOrServerCapabilities must be a *ClientCapabilities or *ServerCapabilities",
			zap.String("argument", fmt.Sprintf("%T", clientOrServerCapabilities)))
	}
}
