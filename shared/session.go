package shared

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mcpserve/mcpserve/shared/mcp/2025/schema"
	"go.uber.org/zap"
)

// SessionStatus represents the current state of a session.
type SessionStatus int

const (
	StatusNew SessionStatus = iota
	StatusConnecting
	StatusConnected
)

type ISession interface {
	GetID() string

	AcquireOutput() (<-chan *Message, bool)
	ReleaseOutput()
	Input() *Input

	SendResponse(msgId *schema.RequestID, result interface{}, err error)
	SendNotification(method string, params map[string]any)
	SendRequest(method string, params interface{}, callback RequestCallback) (*schema.RequestID, error)
	SendRequestSync(method string, params interface{}) <-chan *Message

	SetNegotiatedVersion(version string)
	GetNegotiatedVersion() string

	GetLastActivity() time.Time
	UpdateLastActivity()

	GetStatus() SessionStatus
	SetStatus(status SessionStatus)
	Close() error
	GetRequestManager() *RequestManager
	NextMessageID() schema.RequestID
	GetParamsMutex() *sync.RWMutex
	GetParams() *sync.Map
	GetLogger() *zap.Logger
}

var _ ISession = (*BaseSession)(nil)

// BaseSession provides common session fields and behavior shared by every
// transport binding.
type BaseSession struct {
	Mu                sync.RWMutex
	ID                string
	messageID         uint64
	CreatedAt         time.Time
	LastActivity      atomic.Value
	status            SessionStatus
	ParamsMutex       sync.RWMutex
	Params            *sync.Map
	RequestManager    *RequestManager
	output            chan *Message
	isOutputAcquired  bool
	Logger            *zap.Logger
	negotiatedVersion string
	inputProcessor    *Input
}

// NewBaseSession creates a new base session with a fresh UUID identifier.
func NewBaseSession(logger *zap.Logger, inputProcessor *Input, params *sync.Map) *BaseSession {
	if params == nil {
		params = &sync.Map{}
	}
	sessionID := uuid.New().String()
	sessionLogger := logger.With(zap.String("session_id", sessionID))
	sessionLogger.Debug("Creating new session")
	s := &BaseSession{
		Logger:         sessionLogger,
		ID:             sessionID,
		CreatedAt:      time.Now(),
		status:         StatusNew,
		Params:         params,
		RequestManager: NewRequestManager(sessionLogger),
		output:         make(chan *Message, 100),
		inputProcessor: inputProcessor,
	}
	s.UpdateLastActivity()
	return s
}

// RandomSecret returns 32 random bytes in URL-safe base64, used for opaque
// secrets that must not be guessable.
func RandomSecret() string {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic(err)
	}
	return base64.URLEncoding.EncodeToString(key)
}

func (s *BaseSession) NextMessageID() schema.RequestID {
	return schema.RequestID_FromUInt64(atomic.AddUint64(&s.messageID, 1))
}

// GetID returns the unique session identifier.
func (s *BaseSession) GetID() string {
	return s.ID
}

func (s *BaseSession) GetParams() *sync.Map {
	return s.Params
}

func (s *BaseSession) GetParamsMutex() *sync.RWMutex {
	return &s.ParamsMutex
}

// GetStatus returns the current status of the session.
func (s *BaseSession) GetStatus() SessionStatus {
	s.Mu.RLock()
	defer s.Mu.RUnlock()
	return s.status
}

// SetStatus updates the status of the session.
func (s *BaseSession) SetStatus(status SessionStatus) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.status = status
}

// UpdateLastActivity refreshes the idle timer for the session.
func (s *BaseSession) UpdateLastActivity() {
	s.LastActivity.Store(time.Now())
}

func (s *BaseSession) GetLastActivity() time.Time {
	return s.LastActivity.Load().(time.Time)
}

// GetRequestManager returns the request manager for this session.
func (s *BaseSession) GetRequestManager() *RequestManager {
	s.Mu.RLock()
	defer s.Mu.RUnlock()
	return s.RequestManager
}

func (s *BaseSession) Close() error {
	s.Mu.Lock()
	s.status = StatusNew
	if s.output == nil {
		s.Mu.Unlock()
		s.Logger.Error("Double close of session")
		return nil
	}
	close(s.output)
	s.isOutputAcquired = false
	s.output = nil
	s.Mu.Unlock()

	s.RequestManager.FailAll(&JSONRPCError{
		Code:    JSONRPCErrorConnectionClosed,
		Message: "session closed",
	})
	return nil
}

// AcquireOutput hands the output channel to exactly one consumer at a time.
func (s *BaseSession) AcquireOutput() (<-chan *Message, bool) {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	if s.isOutputAcquired || s.output == nil {
		s.Logger.Debug("Output channel is not available",
			zap.Bool("outputAcquired", s.isOutputAcquired),
			zap.Bool("outputIsNil", s.output == nil),
		)
		return nil, false
	}
	s.isOutputAcquired = true
	return s.output, true
}

func (s *BaseSession) ReleaseOutput() {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.isOutputAcquired = false
}

// SetNegotiatedVersion stores the protocol version agreed upon during initialization.
func (s *BaseSession) SetNegotiatedVersion(version string) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.negotiatedVersion = version
}

// GetNegotiatedVersion retrieves the negotiated protocol version for the session.
func (s *BaseSession) GetNegotiatedVersion() string {
	s.Mu.RLock()
	defer s.Mu.RUnlock()
	return s.negotiatedVersion
}

// SendNotification sends a notification (a message without an ID) to the output channel.
func (s *BaseSession) SendNotification(method string, params map[string]any) {
	var jsonParams *json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			s.Logger.Error("failed to marshal notification params", zap.Error(err))
			return
		}
		raw := json.RawMessage(data)
		jsonParams = &raw
	}

	s.Mu.RLock()
	outputChan := s.output
	s.Mu.RUnlock()
	if outputChan == nil {
		s.Logger.Warn("Cannot send notification, session closed", zap.String("method", method))
		return
	}

	s.UpdateLastActivity()
	select {
	case outputChan <- &Message{
		Session:   s,
		Timestamp: time.Now(),
		Method:    &method,
		Params:    jsonParams,
	}:
	default:
		s.Logger.Error("Failed to send notification, output channel full", zap.String("method", method))
	}
}

// SendRequest sends a server-initiated request; the callback fires when the
// matching response arrives.
func (s *BaseSession) SendRequest(method string, params interface{}, callback RequestCallback) (*schema.RequestID, error) {
	if s.GetStatus() != StatusConnected && method != "initialize" {
		s.Logger.Warn("Request sent to not connected session",
			zap.String("method", method),
		)
	}

	msgID := s.NextMessageID()
	var jsonParams *json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request parameters: %w", err)
		}
		raw := json.RawMessage(data)
		jsonParams = &raw
	}

	msg := &Message{
		ID:        &msgID,
		Method:    &method,
		Session:   s,
		Params:    jsonParams,
		Timestamp: time.Now(),
	}

	s.RequestManager.RegisterRequest(&msgID, callback)

	s.Mu.RLock()
	outputChan := s.output
	s.Mu.RUnlock()
	if outputChan == nil {
		s.RequestManager.Cancel(&msgID)
		return nil, fmt.Errorf("session closed")
	}

	s.UpdateLastActivity()
	outputChan <- msg

	return &msgID, nil
}

// SendRequestSync sends a request and returns a channel that yields the
// response. Paginated results are followed automatically; each page is
// delivered on the channel, which closes after the last one.
func (s *BaseSession) SendRequestSync(method string, params interface{}) <-chan *Message {
	resultChan := make(chan *Message, 1)
	pendingRequests := &atomic.Int32{}

	var reader func(msg *Message)
	reader = func(msg *Message) {
		if msg.Result != nil {
			var paginated schema.PaginatedResult
			if err := json.Unmarshal(*msg.Result, &paginated); err == nil {
				if paginated.NextCursor != nil {
					pendingRequests.Add(1)
					s.SendRequest(method, &schema.PaginatedRequestParams{Cursor: paginated.NextCursor}, reader)
				}
			}
		}
		resultChan <- msg
		if pendingRequests.Add(-1) == 0 {
			close(resultChan)
		}
		msg.Processed = true
	}

	pendingRequests.Add(1)
	_, err := s.SendRequest(method, params, reader)
	if err != nil {
		resultChan <- &Message{
			Error: &JSONRPCError{
				Code:    JSONRPCErrorInternal,
				Message: err.Error(),
			},
		}
		close(resultChan)
	}
	return resultChan
}

// SendResponse sends a response message to the output channel. Go errors are
// converted to JSON-RPC error objects, preserving the code when the error
// already is a *JSONRPCError.
func (s *BaseSession) SendResponse(msgId *schema.RequestID, result interface{}, err error) {
	if result == nil && err == nil {
		s.Logger.Error("SendResponse called with nil result and nil error", zap.Any("msgId", msgId))
		return
	}

	var jsonResult *json.RawMessage
	var jsonRpcError *JSONRPCError

	if err != nil {
		jsonRpcError = NewJSONRPCError(err)
		result = nil
	} else {
		data, marshalErr := json.Marshal(result)
		if marshalErr != nil {
			s.Logger.Error("Failed to marshal response result", zap.Error(marshalErr), zap.Any("msgId", msgId))
			jsonRpcError = &JSONRPCError{
				Code:    JSONRPCErrorInternal,
				Message: fmt.Sprintf("Failed to marshal result: %v", marshalErr),
			}
		} else {
			raw := json.RawMessage(data)
			jsonResult = &raw
		}
	}

	msg := &Message{
		Session:   s,
		Timestamp: time.Now(),
		ID:        msgId,
		Result:    jsonResult,
		Error:     jsonRpcError,
	}

	s.Mu.RLock()
	outputChan := s.output
	currentStatus := s.status
	s.Mu.RUnlock()

	isInitializeResponse := false
	if result != nil {
		_, isInitializeResponse = result.(schema.InitializeResult)
	}

	if outputChan == nil {
		s.Logger.Warn("Cannot send response, session closed", zap.Any("msgId", msgId))
		return
	}

	// Clients may send requests before notifications/initialized, so
	// Connecting sessions are allowed through.
	if currentStatus != StatusConnected &&
		currentStatus != StatusConnecting &&
		!isInitializeResponse && jsonRpcError == nil {
		s.Logger.Warn("Attempting to send response on non-connected session",
			zap.Any("msgId", msgId),
			zap.Int("status", int(currentStatus)),
		)
		return
	}

	select {
	case outputChan <- msg:
		s.UpdateLastActivity()
	default:
		s.Logger.Error("Failed to send response, output channel full", zap.Any("msgId", msgId))
	}
}

func (s *BaseSession) Input() *Input {
	return s.inputProcessor
}

func (s *BaseSession) GetLogger() *zap.Logger {
	return s.Logger
}
