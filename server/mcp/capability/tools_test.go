package capability_test

import (
	"errors"
	"testing"

	"github.com/mcpserve/mcpserve/server/mcp/capability"
	"github.com/mcpserve/mcpserve/shared"
	schema "github.com/mcpserve/mcpserve/shared/mcp/2025/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func echoToolHandler(msg *shared.Message, args schema.Arguments) (*schema.Meta, []schema.Content, error) {
	text, _ := args["text"].(string)
	return nil, schema.NewTextContent(text), nil
}

func TestTools_AddUpdateDelete(t *testing.T) {
	manager := newTestManager(t)
	tc := capability.NewToolsCapability(manager, zap.NewNop())

	require.NoError(t, tc.AddTool("echo", "Echoes text back", nil, nil, echoToolHandler))

	t.Run("DuplicateRejected", func(t *testing.T) {
		err := tc.AddTool("echo", "again", nil, nil, echoToolHandler)
		assert.ErrorContains(t, err, "already exists")
	})

	t.Run("NilHandlerRejected", func(t *testing.T) {
		err := tc.AddTool("broken", "no handler", nil, nil, nil)
		assert.ErrorContains(t, err, "handler cannot be nil")
	})

	t.Run("UpdateExisting", func(t *testing.T) {
		require.NoError(t, tc.UpdateTool("echo", "Echoes, now louder", nil, nil, echoToolHandler))
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		err := tc.UpdateTool("ghost", "", nil, nil, echoToolHandler)
		assert.ErrorContains(t, err, "does not exist")
	})

	t.Run("DeleteExisting", func(t *testing.T) {
		require.NoError(t, tc.DeleteTool("echo"))
		assert.ErrorContains(t, tc.DeleteTool("echo"), "does not exist")
	})
}

func TestTools_List(t *testing.T) {
	manager := newTestManager(t)
	tc := capability.NewToolsCapability(manager, zap.NewNop())
	require.NoError(t, tc.AddTool("echo", "Echoes text back", nil, nil, echoToolHandler))
	require.NoError(t, tc.AddTool("reverse", "Reverses text", nil, nil, echoToolHandler))

	session, _ := connectedSession(t, manager)
	raw, err := tc.GetHandlers()["tools/list"](reqMsg(session, 1, "tools/list", ""))
	require.NoError(t, err)

	result, ok := raw.(schema.ListToolsResult)
	require.True(t, ok)
	assert.Len(t, result.Tools, 2)
	assert.Nil(t, result.NextCursor)
}

func TestTools_Call(t *testing.T) {
	manager := newTestManager(t)
	tc := capability.NewToolsCapability(manager, zap.NewNop())
	require.NoError(t, tc.AddTool("echo", "Echoes text back", nil, nil, echoToolHandler))
	require.NoError(t, tc.AddTool("fail", "Always fails", nil, nil,
		func(msg *shared.Message, args schema.Arguments) (*schema.Meta, []schema.Content, error) {
			return nil, nil, errors.New("tool blew up")
		}))

	call := tc.GetHandlers()["tools/call"]
	session, _ := connectedSession(t, manager)

	t.Run("Success", func(t *testing.T) {
		raw, err := call(reqMsg(session, 1, "tools/call", `{"name":"echo","arguments":{"text":"hello"}}`))
		require.NoError(t, err)

		result, ok := raw.(schema.CallToolResult)
		require.True(t, ok)
		assert.False(t, result.IsError)
		require.Len(t, result.Content, 1)
		require.NotNil(t, result.Content[0].Text)
		assert.Equal(t, "hello", *result.Content[0].Text)
	})

	t.Run("HandlerErrorBecomesIsError", func(t *testing.T) {
		// A tool failure is a successful JSON-RPC exchange carrying isError.
		raw, err := call(reqMsg(session, 2, "tools/call", `{"name":"fail","arguments":{}}`))
		require.NoError(t, err)

		result, ok := raw.(schema.CallToolResult)
		require.True(t, ok)
		assert.True(t, result.IsError)
		require.NotEmpty(t, result.Content)
		require.NotNil(t, result.Content[0].Text)
		assert.Contains(t, *result.Content[0].Text, "tool blew up")
	})

	t.Run("UnknownTool", func(t *testing.T) {
		_, err := call(reqMsg(session, 3, "tools/call", `{"name":"missing","arguments":{}}`))
		assert.Equal(t, shared.JSONRPCErrorToolNotFound, rpcErr(t, err).Code)
	})

	t.Run("MissingParams", func(t *testing.T) {
		_, err := call(reqMsg(session, 4, "tools/call", ""))
		assert.Equal(t, shared.JSONRPCErrorInvalidParams, rpcErr(t, err).Code)
	})
}

func TestTools_AddBroadcastsListChanged(t *testing.T) {
	manager := newTestManager(t)
	tc := capability.NewToolsCapability(manager, zap.NewNop())

	_, out := connectedSession(t, manager)

	require.NoError(t, tc.AddTool("late", "Added at runtime", nil, nil, echoToolHandler))
	awaitNotification(t, out, "notifications/tools/list_changed")
}
