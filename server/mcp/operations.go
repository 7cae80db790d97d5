package mcp

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mcpserve/mcpserve/shared/mcp/2025/schema"
)

// Operation tracks one in-flight request so it can be cancelled and report
// progress. The cancelled flag is atomic: handlers poll it from their own
// goroutines while cancel requests set it from the dispatch path.
type Operation struct {
	ID        string
	RequestID *schema.RequestID
	SessionID string
	Method    string
	StartedAt time.Time
	cancelled atomic.Bool
}

// Cancel marks the operation cancelled. The running handler is not
// interrupted; it is expected to observe the flag and return.
func (o *Operation) Cancel() {
	o.cancelled.Store(true)
}

// IsCancelled reports whether a cancel arrived for this operation.
func (o *Operation) IsCancelled() bool {
	return o.cancelled.Load()
}

// operationTracker indexes live operations by request id and by operation
// id. One tracker is shared by all sessions of a manager so that cancel by
// operation id can tell an unknown id apart from one owned by another
// session. Request ids are client-chosen and may collide across sessions,
// so the request index is keyed per session.
type operationTracker struct {
	mu        sync.Mutex
	byRequest map[string]*Operation
	byOpID    map[string]*Operation
}

func requestKey(sessionID string, requestID *schema.RequestID) string {
	return sessionID + "\x00" + requestID.String()
}

func newOperationTracker() *operationTracker {
	return &operationTracker{
		byRequest: make(map[string]*Operation),
		byOpID:    make(map[string]*Operation),
	}
}

func (t *operationTracker) begin(sessionID string, requestID *schema.RequestID, method string) *Operation {
	op := &Operation{
		ID:        uuid.New().String(),
		RequestID: requestID,
		SessionID: sessionID,
		Method:    method,
		StartedAt: time.Now(),
	}
	t.mu.Lock()
	t.byRequest[requestKey(sessionID, requestID)] = op
	t.byOpID[op.ID] = op
	t.mu.Unlock()
	return op
}

// completeByRequest removes the operation and reports whether it had been
// cancelled before completion.
func (t *operationTracker) completeByRequest(sessionID string, requestID *schema.RequestID) (cancelled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := requestKey(sessionID, requestID)
	op, ok := t.byRequest[key]
	if !ok {
		return false
	}
	delete(t.byRequest, key)
	delete(t.byOpID, op.ID)
	return op.IsCancelled()
}

func (t *operationTracker) getByOpID(opID string) (*Operation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	op, ok := t.byOpID[opID]
	return op, ok
}

func (t *operationTracker) getByRequest(sessionID string, requestID *schema.RequestID) (*Operation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	op, ok := t.byRequest[requestKey(sessionID, requestID)]
	return op, ok
}

func (t *operationTracker) cancelByRequest(sessionID string, requestID *schema.RequestID) bool {
	t.mu.Lock()
	op, ok := t.byRequest[requestKey(sessionID, requestID)]
	t.mu.Unlock()
	if !ok {
		return false
	}
	op.Cancel()
	return true
}

// cancelAllForSession flags every live operation of one session, used when
// that session goes away.
func (t *operationTracker) cancelAllForSession(sessionID string) {
	t.mu.Lock()
	ops := make([]*Operation, 0)
	for _, op := range t.byOpID {
		if op.SessionID == sessionID {
			ops = append(ops, op)
		}
	}
	t.mu.Unlock()
	for _, op := range ops {
		op.Cancel()
	}
}
