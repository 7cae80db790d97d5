// Package events carries server lifecycle events between loosely coupled
// components over an in-process pub/sub bus.
package events

import (
	"time"

	"github.com/cskr/pubsub"
)

const (
	TopicSessionConnected = "session.connected"
	TopicSessionClosed    = "session.closed"
	TopicListChanged      = "list.changed"
	TopicResourceUpdated  = "resource.updated"
)

// Event is the payload published on every topic.
type Event struct {
	Topic     string
	SessionID string
	Detail    string
	Timestamp time.Time
}

// Bus wraps the pub/sub engine. Publishing never blocks; slow subscribers
// miss events instead of stalling the server.
type Bus struct {
	ps *pubsub.PubSub
}

func NewBus() *Bus {
	return &Bus{ps: pubsub.New(32)}
}

func (b *Bus) Publish(topic, sessionID, detail string) {
	b.ps.TryPub(Event{
		Topic:     topic,
		SessionID: sessionID,
		Detail:    detail,
		Timestamp: time.Now(),
	}, topic)
}

func (b *Bus) Subscribe(topics ...string) chan interface{} {
	return b.ps.Sub(topics...)
}

func (b *Bus) Unsubscribe(ch chan interface{}, topics ...string) {
	b.ps.Unsub(ch, topics...)
}

func (b *Bus) Close() {
	b.ps.Shutdown()
}
