package transport_test

import (
	"fmt"
	"strconv"
	"testing"

	"github.com/mcpserve/mcpserve/server/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventStore_NextIDMonotonic(t *testing.T) {
	store := transport.NewEventStore(8)

	prev := uint64(0)
	for i := 0; i < 10; i++ {
		id, err := strconv.ParseUint(store.NextID(), 10, 64)
		require.NoError(t, err)
		assert.Greater(t, id, prev)
		prev = id
	}
}

func TestEventStore_AppendAndReplay(t *testing.T) {
	store := transport.NewEventStore(8)

	first := store.Append("s1", "message", []byte(`{"n":1}`))
	second := store.Append("s1", "message", []byte(`{"n":2}`))
	third := store.Append("s1", "message", []byte(`{"n":3}`))

	events := store.Replay("s1", 0)
	require.Len(t, events, 3)
	assert.Equal(t, first.ID, events[0].ID)
	assert.Equal(t, second.ID, events[1].ID)
	assert.Equal(t, third.ID, events[2].ID)

	// Resuming mid-stream skips everything at or before the cursor.
	resumed := store.Replay("s1", second.ID)
	require.Len(t, resumed, 1)
	assert.Equal(t, third.ID, resumed[0].ID)
	assert.Equal(t, []byte(`{"n":3}`), resumed[0].Data)
}

func TestEventStore_RingEvictsOldest(t *testing.T) {
	store := transport.NewEventStore(4)

	var ids []uint64
	for i := 0; i < 6; i++ {
		ev := store.Append("s1", "message", []byte(fmt.Sprintf(`{"n":%d}`, i)))
		ids = append(ids, ev.ID)
	}

	events := store.Replay("s1", 0)
	require.Len(t, events, 4)
	// Only the newest four survive, oldest first.
	for i, ev := range events {
		assert.Equal(t, ids[i+2], ev.ID)
	}
}

func TestEventStore_SessionsAreIsolated(t *testing.T) {
	store := transport.NewEventStore(8)

	store.Append("s1", "message", []byte(`{"owner":"s1"}`))
	store.Append("s2", "message", []byte(`{"owner":"s2"}`))

	events := store.Replay("s1", 0)
	require.Len(t, events, 1)
	assert.Contains(t, string(events[0].Data), "s1")

	assert.Nil(t, store.Replay("unknown", 0))
}

func TestEventStore_Drop(t *testing.T) {
	store := transport.NewEventStore(8)

	store.Append("s1", "message", []byte(`{}`))
	require.Len(t, store.Replay("s1", 0), 1)

	store.Drop("s1")
	assert.Nil(t, store.Replay("s1", 0))
}

func TestEventStore_IDString(t *testing.T) {
	ev := transport.StoredEvent{ID: 42}
	assert.Equal(t, "42", ev.IDString())
}
