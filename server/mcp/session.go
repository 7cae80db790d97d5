package mcp

import (
	"encoding/json"
	"sync"

	"github.com/mcpserve/mcpserve/shared"
	"github.com/mcpserve/mcpserve/shared/mcp/2025/schema"
	"go.uber.org/zap"
)

type IDownstreamSession interface {
	shared.ISession
	SetClientInfo(info schema.Implementation, caps schema.ClientCapabilities)
}

var _ IDownstreamSession = (*Session)(nil)
var _ shared.IOperationAware = (*Session)(nil)

// Session represents one client connection. The operation tracker is shared
// with the manager's other sessions; request-scoped lookups carry the
// session id.
type Session struct {
	*shared.BaseSession
	manager    ISessionManager
	UserID     string
	operations *operationTracker

	ClientCapabilities *schema.ClientCapabilities `json:"-"`
	ClientInfo         schema.Implementation      `json:"-"`
}

// NewSession creates a new session. Client info and capabilities are filled
// in during initialization. The manager swaps in its shared operation
// tracker when it registers the session.
func NewSession(manager ISessionManager, userID string, inputProcessor *shared.Input, params *sync.Map) *Session {
	return &Session{
		BaseSession: shared.NewBaseSession(manager.GetLogger(), inputProcessor, params),
		manager:     manager,
		UserID:      userID,
		operations:  newOperationTracker(),
	}
}

func (s *Session) Close() error {
	logger := s.BaseSession.Logger
	logger.Debug("Closing server session")
	s.operations.cancelAllForSession(s.ID)
	err := s.BaseSession.Close()
	if err != nil {
		logger.Error("Error while closing base session", zap.Error(err))
	}
	return err
}

// SetClientInfo stores the client's capabilities and implementation info.
func (s *Session) SetClientInfo(info schema.Implementation, caps schema.ClientCapabilities) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.ClientInfo = info
	s.ClientCapabilities = &caps
}

// GetClientInfo retrieves the client's implementation info.
func (s *Session) GetClientInfo() schema.Implementation {
	s.Mu.RLock()
	defer s.Mu.RUnlock()
	return s.ClientInfo
}

// GetUserID returns the authenticated user this session belongs to, empty
// for anonymous sessions.
func (s *Session) GetUserID() string {
	return s.UserID
}

// GetClientCapabilities retrieves the client's reported capabilities.
func (s *Session) GetClientCapabilities() *schema.ClientCapabilities {
	s.Mu.RLock()
	defer s.Mu.RUnlock()
	return s.ClientCapabilities
}

// BeginOperation registers a request as a cancellable operation.
func (s *Session) BeginOperation(id *schema.RequestID, method string) {
	s.operations.begin(s.ID, id, method)
}

// CompleteOperation removes the operation and reports whether it was
// cancelled while the handler ran.
func (s *Session) CompleteOperation(id *schema.RequestID) bool {
	return s.operations.completeByRequest(s.ID, id)
}

// OperationForRequest lets handlers poll the cancellation flag of the
// request they are serving.
func (s *Session) OperationForRequest(id *schema.RequestID) (*Operation, bool) {
	return s.operations.getByRequest(s.ID, id)
}

// CancelOperation flags the operation with the given id. The second return
// value distinguishes an unknown id from one owned by another session.
func (s *Session) CancelOperation(opID string) (found bool, owned bool) {
	op, ok := s.operations.getByOpID(opID)
	if !ok {
		return false, false
	}
	if op.SessionID != s.ID {
		return true, false
	}
	op.Cancel()
	return true, true
}

// CancelOperationByRequestID handles notifications/cancelled, which refers
// to the original request id rather than the operation id.
func (s *Session) CancelOperationByRequestID(requestID *schema.RequestID) bool {
	return s.operations.cancelByRequest(s.ID, requestID)
}

// SendProgress emits notifications/progress for the operation identified by
// its progress token.
func (s *Session) SendProgress(token schema.ProgressToken, progress float64, total *float64, message *string) {
	params := map[string]any{
		"progressToken": token,
		"progress":      progress,
	}
	if total != nil {
		params["total"] = *total
	}
	if message != nil {
		params["message"] = *message
	}
	s.SendNotification("notifications/progress", params)
}

// ProgressTokenFor extracts the _meta.progressToken of a request, if the
// client asked for progress updates.
func ProgressTokenFor(msg *shared.Message) (schema.ProgressToken, bool) {
	if msg == nil || msg.Params == nil {
		return nil, false
	}
	var params struct {
		Meta struct {
			ProgressToken schema.ProgressToken `json:"progressToken"`
		} `json:"_meta"`
	}
	if err := json.Unmarshal(*msg.Params, &params); err != nil {
		return nil, false
	}
	if params.Meta.ProgressToken == nil {
		return nil, false
	}
	return params.Meta.ProgressToken, true
}
