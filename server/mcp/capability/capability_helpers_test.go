package capability_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/mcpserve/mcpserve/server/events"
	"github.com/mcpserve/mcpserve/server/mcp"
	"github.com/mcpserve/mcpserve/shared"
	"github.com/mcpserve/mcpserve/shared/config"
	schema "github.com/mcpserve/mcpserve/shared/mcp/2025/schema"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(t *testing.T) *mcp.Manager {
	t.Helper()
	cfg := config.NewInternalConfig()
	cfg.ServerNameValue = "CapabilityTestServer"
	cfg.ServerVersionValue = "0.0.1"
	bus := events.NewBus()
	manager, err := mcp.NewManager(zap.NewNop(), cfg, bus)
	require.NoError(t, err)
	t.Cleanup(func() {
		manager.CloseAllSessions()
		bus.Close()
	})
	return manager
}

// connectedSession returns a connected session with its output channel, so
// tests can watch the notifications a capability sends.
func connectedSession(t *testing.T, manager *mcp.Manager) (*mcp.Session, <-chan *shared.Message) {
	t.Helper()
	session, ok := manager.CreateSession("", nil).(*mcp.Session)
	require.True(t, ok)
	session.SetStatus(shared.StatusConnected)
	out, acquired := session.AcquireOutput()
	require.True(t, acquired)
	return session, out
}

func reqMsg(session shared.ISession, id uint64, method string, params string) *shared.Message {
	msg := &shared.Message{Session: session, Method: &method, Timestamp: time.Now()}
	if id != 0 {
		reqID := schema.RequestID_FromUInt64(id)
		msg.ID = &reqID
	}
	if params != "" {
		raw := json.RawMessage(params)
		msg.Params = &raw
	}
	return msg
}

func rpcErr(t *testing.T, err error) *shared.JSONRPCError {
	t.Helper()
	require.Error(t, err)
	rpcError, ok := err.(*shared.JSONRPCError)
	require.True(t, ok, "expected *shared.JSONRPCError, got %T", err)
	return rpcError
}

func awaitNotification(t *testing.T, out <-chan *shared.Message, method string) *shared.Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-out:
			if msg != nil && msg.Method != nil && *msg.Method == method {
				return msg
			}
		case <-deadline:
			t.Fatalf("notification %s never arrived", method)
			return nil
		}
	}
}

func expectNoMessage(t *testing.T, out <-chan *shared.Message) {
	t.Helper()
	select {
	case msg := <-out:
		t.Fatalf("unexpected message: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}
