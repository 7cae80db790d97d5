package transport

import (
	"strconv"
	"sync"
	"sync/atomic"
)

// DefaultEventBufferSize is how many SSE events are retained per session for
// Last-Event-ID replay.
const DefaultEventBufferSize = 256

// StoredEvent is one SSE event retained for replay.
type StoredEvent struct {
	ID    uint64
	Event string
	Data  []byte
}

// IDString returns the event id as it appears on the wire.
func (e StoredEvent) IDString() string {
	return strconv.FormatUint(e.ID, 10)
}

// EventStore assigns monotonically increasing event ids and retains a bounded
// ring of recent events per session so a reconnecting client can resume with
// Last-Event-ID.
type EventStore struct {
	counter uint64
	size    int

	mu    sync.Mutex
	rings map[string]*eventRing
}

type eventRing struct {
	events []StoredEvent
	next   int
	filled bool
}

// NewEventStore creates a store retaining size events per session.
func NewEventStore(size int) *EventStore {
	if size <= 0 {
		size = DefaultEventBufferSize
	}
	return &EventStore{
		size:  size,
		rings: make(map[string]*eventRing),
	}
}

// NextID returns the next event id without storing anything. Per-request
// streams use this; they close with the response and are never resumed.
func (s *EventStore) NextID() string {
	return strconv.FormatUint(atomic.AddUint64(&s.counter, 1), 10)
}

// Append stores an event under the session and returns its assigned id.
func (s *EventStore) Append(sessionID, event string, data []byte) StoredEvent {
	stored := StoredEvent{
		ID:    atomic.AddUint64(&s.counter, 1),
		Event: event,
		Data:  data,
	}

	s.mu.Lock()
	ring, ok := s.rings[sessionID]
	if !ok {
		ring = &eventRing{events: make([]StoredEvent, s.size)}
		s.rings[sessionID] = ring
	}
	ring.events[ring.next] = stored
	ring.next++
	if ring.next == len(ring.events) {
		ring.next = 0
		ring.filled = true
	}
	s.mu.Unlock()

	return stored
}

// Replay returns the session's buffered events with id greater than afterID,
// oldest first. Events that fell off the ring are gone; the caller resumes
// from whatever is left.
func (s *EventStore) Replay(sessionID string, afterID uint64) []StoredEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	ring, ok := s.rings[sessionID]
	if !ok {
		return nil
	}

	var ordered []StoredEvent
	if ring.filled {
		ordered = append(ordered, ring.events[ring.next:]...)
	}
	ordered = append(ordered, ring.events[:ring.next]...)

	var result []StoredEvent
	for _, e := range ordered {
		if e.ID > afterID {
			result = append(result, e)
		}
	}
	return result
}

// Drop discards the session's buffered events.
func (s *EventStore) Drop(sessionID string) {
	s.mu.Lock()
	delete(s.rings, sessionID)
	s.mu.Unlock()
}
