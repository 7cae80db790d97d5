package shared

import (
	"sync"
	"time"

	"github.com/mcpserve/mcpserve/shared/mcp/2025/schema"
	"go.uber.org/zap"
)

// RequestCallback handles the response to a previously sent request.
type RequestCallback func(msg *Message)

// Request holds information about a sent request.
type Request struct {
	Callback  RequestCallback
	Timestamp time.Time
}

// RequestManager correlates server-initiated requests with their responses.
type RequestManager struct {
	requests map[string]Request
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewRequestManager creates a new RequestManager instance.
func NewRequestManager(logger *zap.Logger) *RequestManager {
	return &RequestManager{
		requests: make(map[string]Request),
		logger:   logger,
	}
}

// RegisterRequest registers a request with its callback for later processing.
func (rm *RequestManager) RegisterRequest(id *schema.RequestID, callback RequestCallback) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.requests[id.String()] = Request{
		Callback:  callback,
		Timestamp: time.Now(),
	}
	rm.logger.Debug("RegisterRequest", zap.String("message_id", id.String()), zap.Int("requests_len", len(rm.requests)))
}

// ProcessResponse invokes the callback registered for the response's id.
// Returns true if a callback was found and invoked.
func (rm *RequestManager) ProcessResponse(msg *Message) bool {
	if msg.ID == nil {
		rm.logger.Error("No message ID found")
		return false
	}

	rm.mu.Lock()
	request, exists := rm.requests[msg.ID.String()]
	if exists {
		delete(rm.requests, msg.ID.String())
	}
	rm.mu.Unlock()

	if !exists || request.Callback == nil {
		rm.logger.Warn("No callback found for message", zap.String("message_id", msg.ID.String()))
		return false
	}

	request.Callback(msg)
	msg.Processed = true
	return true
}

// Cancel drops a pending request without invoking its callback.
// Returns true if the request was still pending.
func (rm *RequestManager) Cancel(id *schema.RequestID) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if _, exists := rm.requests[id.String()]; !exists {
		return false
	}
	delete(rm.requests, id.String())
	return true
}

// FailAll invokes every pending callback with the given error and clears the
// map. Used when the session goes away with requests still outstanding.
func (rm *RequestManager) FailAll(rpcErr *JSONRPCError) {
	rm.mu.Lock()
	pending := rm.requests
	rm.requests = make(map[string]Request)
	rm.mu.Unlock()

	for idStr, request := range pending {
		if request.Callback == nil {
			continue
		}
		id := schema.RequestID{Value: idStr}
		request.Callback(&Message{ID: &id, Error: rpcErr, Timestamp: time.Now()})
	}
}
