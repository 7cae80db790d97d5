package transport

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/mcpserve/mcpserve/shared"
	"github.com/mcpserve/mcpserve/shared/mcp/2025/schema"
	"go.uber.org/zap"
)

// sessionRouter owns the single consumer of a streamable session's output
// channel and routes each outgoing message to the HTTP response that is
// waiting for it: a blocked JSON POST, a per-request SSE stream, the async
// response store, or the standalone GET stream.
type sessionRouter struct {
	transport *Transport
	session   shared.ISession
	logger    *zap.Logger
	done      chan struct{}

	mu         sync.Mutex
	syncSlots  map[string]chan *shared.Message
	sseStreams map[string]chan *shared.Message
	asyncIDs   map[string]bool
	get        *standaloneStream
}

// standaloneStream is the session's GET SSE stream. A second GET supersedes
// the first; the old handler observes its done channel closing.
type standaloneStream struct {
	ch   chan *shared.Message
	done chan struct{}
}

// router returns the session's router, starting its pump on first use.
func (t *Transport) router(session shared.ISession) *sessionRouter {
	t.mu.Lock()
	if r, ok := t.routers[session.GetID()]; ok {
		t.mu.Unlock()
		return r
	}
	r := &sessionRouter{
		transport:  t,
		session:    session,
		logger:     t.logger.With(zap.String("sessionId", session.GetID())),
		done:       make(chan struct{}),
		syncSlots:  make(map[string]chan *shared.Message),
		sseStreams: make(map[string]chan *shared.Message),
		asyncIDs:   make(map[string]bool),
	}
	t.routers[session.GetID()] = r
	t.mu.Unlock()

	go r.pump()
	return r
}

// pump drains the session output until the session closes.
func (r *sessionRouter) pump() {
	output, ok := r.session.AcquireOutput()
	if !ok {
		r.logger.Error("Failed to acquire session output for routing")
		r.shutdown()
		return
	}
	defer r.session.ReleaseOutput()

	for msg := range output {
		if msg == nil {
			continue
		}
		if msg.ID != nil && msg.Method == nil {
			r.routeResponse(msg)
		} else {
			r.routeServerMessage(msg)
		}
	}
	r.logger.Debug("Session output closed, stopping router")
	r.shutdown()
}

// routeResponse delivers a response to whichever slot registered its request
// id. Responses nobody waits for fall through to the GET stream.
func (r *sessionRouter) routeResponse(msg *shared.Message) {
	key := msg.ID.String()

	r.mu.Lock()
	if slot, ok := r.syncSlots[key]; ok {
		delete(r.syncSlots, key)
		r.mu.Unlock()
		slot <- msg
		return
	}
	if stream, ok := r.sseStreams[key]; ok {
		delete(r.sseStreams, key)
		r.mu.Unlock()
		select {
		case stream <- msg:
		default:
			r.logger.Warn("Per-request stream full, dropping response", zap.String("requestId", key))
		}
		return
	}
	if r.asyncIDs[key] {
		delete(r.asyncIDs, key)
		r.mu.Unlock()
		body, err := json.Marshal(msg)
		if err != nil {
			r.logger.Error("Failed to marshal async response", zap.Error(err), zap.String("requestId", key))
			return
		}
		r.transport.storeAsyncResponse(r.session.GetID(), key, body)
		return
	}
	get := r.get
	r.mu.Unlock()

	if get != nil {
		r.sendToStream(get, msg)
		return
	}
	r.logger.Warn("Dropping response with no waiting consumer", zap.String("requestId", key))
}

// routeServerMessage delivers notifications and server-initiated requests.
// The GET stream is preferred; with none open, any in-flight per-request SSE
// stream gets them so callers still receive progress.
func (r *sessionRouter) routeServerMessage(msg *shared.Message) {
	r.mu.Lock()
	get := r.get
	var fallback chan *shared.Message
	if get == nil {
		for _, stream := range r.sseStreams {
			fallback = stream
			break
		}
	}
	r.mu.Unlock()

	if get != nil {
		r.sendToStream(get, msg)
		return
	}
	if fallback != nil {
		select {
		case fallback <- msg:
		default:
			r.logger.Warn("Per-request stream full, dropping server message", zap.Stringp("method", msg.Method))
		}
		return
	}
	r.logger.Debug("No open stream for server message", zap.Stringp("method", msg.Method))
}

func (r *sessionRouter) sendToStream(stream *standaloneStream, msg *shared.Message) {
	select {
	case stream.ch <- msg:
	case <-stream.done:
	default:
		r.logger.Warn("GET stream full, dropping message", zap.Stringp("method", msg.Method))
	}
}

// registerSync registers a JSON-sync batch. All request ids share one slot
// channel; the handler reads until it has one response per id.
func (r *sessionRouter) registerSync(ids []*schema.RequestID) (chan *shared.Message, func()) {
	slot := make(chan *shared.Message, len(ids))
	r.mu.Lock()
	for _, id := range ids {
		r.syncSlots[id.String()] = slot
	}
	r.mu.Unlock()
	return slot, func() {
		r.mu.Lock()
		for _, id := range ids {
			if r.syncSlots[id.String()] == slot {
				delete(r.syncSlots, id.String())
			}
		}
		r.mu.Unlock()
	}
}

// registerSSE registers a per-request SSE batch sharing one stream channel.
func (r *sessionRouter) registerSSE(ids []*schema.RequestID) (chan *shared.Message, func()) {
	stream := make(chan *shared.Message, 16)
	r.mu.Lock()
	for _, id := range ids {
		r.sseStreams[id.String()] = stream
	}
	r.mu.Unlock()
	return stream, func() {
		r.mu.Lock()
		for _, id := range ids {
			if r.sseStreams[id.String()] == stream {
				delete(r.sseStreams, id.String())
			}
		}
		r.mu.Unlock()
	}
}

// registerAsync marks request ids whose responses go to the async store.
func (r *sessionRouter) registerAsync(ids []*schema.RequestID) {
	r.mu.Lock()
	for _, id := range ids {
		r.asyncIDs[id.String()] = true
	}
	r.mu.Unlock()
}

// attachGetStream installs the session's standalone stream, superseding any
// previous one.
func (r *sessionRouter) attachGetStream() *standaloneStream {
	stream := &standaloneStream{
		ch:   make(chan *shared.Message, 32),
		done: make(chan struct{}),
	}
	r.mu.Lock()
	old := r.get
	r.get = stream
	r.mu.Unlock()
	if old != nil {
		close(old.done)
	}
	return stream
}

// detachGetStream removes the stream if it is still the current one.
func (r *sessionRouter) detachGetStream(stream *standaloneStream) {
	r.mu.Lock()
	if r.get == stream {
		r.get = nil
	}
	r.mu.Unlock()
}

// shutdown tears the router down after the session closes.
func (r *sessionRouter) shutdown() {
	r.mu.Lock()
	get := r.get
	r.get = nil
	r.syncSlots = make(map[string]chan *shared.Message)
	r.sseStreams = make(map[string]chan *shared.Message)
	r.asyncIDs = make(map[string]bool)
	r.mu.Unlock()

	if get != nil {
		close(get.done)
	}
	close(r.done)

	t := r.transport
	t.mu.Lock()
	if t.routers[r.session.GetID()] == r {
		delete(t.routers, r.session.GetID())
	}
	t.mu.Unlock()
	t.events.Drop(r.session.GetID())
}

// storeAsyncResponse keeps a response for polling, GCed after asyncResponseTTL.
func (t *Transport) storeAsyncResponse(sessionID, requestID string, body []byte) {
	t.mu.Lock()
	t.asyncResps[sessionID+":"+requestID] = &asyncResponse{body: body, createdAt: time.Now()}
	t.mu.Unlock()
}

// takeAsyncResponse returns and evicts a stored response.
func (t *Transport) takeAsyncResponse(key string) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	resp, ok := t.asyncResps[key]
	if !ok {
		return nil, false
	}
	delete(t.asyncResps, key)
	return resp.body, true
}
