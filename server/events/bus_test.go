package events_test

import (
	"testing"
	"time"

	"github.com/mcpserve/mcpserve/server/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch chan interface{}) events.Event {
	t.Helper()
	select {
	case raw := <-ch:
		event, ok := raw.(events.Event)
		require.True(t, ok, "expected events.Event, got %T", raw)
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("no event arrived")
		return events.Event{}
	}
}

func TestBus_PublishSubscribe(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	ch := bus.Subscribe(events.TopicSessionConnected)
	bus.Publish(events.TopicSessionConnected, "session-1", "client connected")

	event := receive(t, ch)
	assert.Equal(t, events.TopicSessionConnected, event.Topic)
	assert.Equal(t, "session-1", event.SessionID)
	assert.Equal(t, "client connected", event.Detail)
	assert.False(t, event.Timestamp.IsZero())
}

func TestBus_TopicsAreIsolated(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	closed := bus.Subscribe(events.TopicSessionClosed)
	bus.Publish(events.TopicSessionConnected, "session-1", "")
	bus.Publish(events.TopicSessionClosed, "session-2", "")

	event := receive(t, closed)
	assert.Equal(t, "session-2", event.SessionID)
}

func TestBus_MultipleSubscribersEachReceive(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	a := bus.Subscribe(events.TopicResourceUpdated)
	b := bus.Subscribe(events.TopicResourceUpdated)
	bus.Publish(events.TopicResourceUpdated, "", "doc://readme")

	assert.Equal(t, "doc://readme", receive(t, a).Detail)
	assert.Equal(t, "doc://readme", receive(t, b).Detail)
}

func TestBus_PublishWithoutSubscribersDoesNotBlock(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(events.TopicListChanged, "", "tools")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked with no subscribers")
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	ch := bus.Subscribe(events.TopicSessionConnected)
	bus.Unsubscribe(ch, events.TopicSessionConnected)

	bus.Publish(events.TopicSessionConnected, "session-1", "")

	// Unsub closes the channel once it drains.
	select {
	case _, open := <-ch:
		assert.False(t, open, "expected channel closed after unsubscribe")
	case <-time.After(2 * time.Second):
		t.Fatal("channel never closed after unsubscribe")
	}
}
