package shared_test

import (
	"encoding/json"
	"testing"

	"github.com/mcpserve/mcpserve/shared"
	"github.com/mcpserve/mcpserve/shared/mcp/2025/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestMessageKind(t *testing.T) {
	id := schema.RequestID{Value: "1"}

	request := &shared.Message{ID: &id, Method: strPtr("tools/list")}
	assert.True(t, request.IsRequest())
	assert.False(t, request.IsNotification())
	assert.False(t, request.IsResponse())

	notification := &shared.Message{Method: strPtr("notifications/initialized")}
	assert.False(t, notification.IsRequest())
	assert.True(t, notification.IsNotification())
	assert.False(t, notification.IsResponse())

	raw := json.RawMessage(`{}`)
	response := &shared.Message{ID: &id, Result: &raw}
	assert.False(t, response.IsRequest())
	assert.False(t, response.IsNotification())
	assert.True(t, response.IsResponse())
}

func TestParseMessages_Single(t *testing.T) {
	msgs, err := shared.ParseMessages(nil, []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.NotNil(t, msgs[0].Method)
	assert.Equal(t, "ping", *msgs[0].Method)
	assert.True(t, msgs[0].IsRequest())
	assert.False(t, msgs[0].Timestamp.IsZero())
}

func TestParseMessages_BatchPreservesOrder(t *testing.T) {
	body := `[
		{"jsonrpc":"2.0","id":1,"method":"tools/list"},
		{"jsonrpc":"2.0","method":"notifications/initialized"},
		{"jsonrpc":"2.0","id":2,"method":"resources/list"}
	]`
	msgs, err := shared.ParseMessages(nil, []byte(body))
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "tools/list", *msgs[0].Method)
	assert.Equal(t, "notifications/initialized", *msgs[1].Method)
	assert.Equal(t, "resources/list", *msgs[2].Method)
	assert.True(t, msgs[1].IsNotification())
}

func TestParseMessages_StringAndNumberIDs(t *testing.T) {
	msgs, err := shared.ParseMessages(nil, []byte(`[{"jsonrpc":"2.0","id":"abc","method":"ping"},{"jsonrpc":"2.0","id":42,"method":"ping"}]`))
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "abc", msgs[0].ID.Value)
	assert.Equal(t, float64(42), msgs[1].ID.Value)
}

func TestParseMessages_InvalidJSON(t *testing.T) {
	_, err := shared.ParseMessages(nil, []byte(`{"jsonrpc":"2.0",`))
	require.Error(t, err)

	_, err = shared.ParseMessages(nil, []byte(`"just a string"`))
	require.Error(t, err)
}

func TestMessage_MarshalJSON_Request(t *testing.T) {
	id := schema.RequestID{Value: "7"}
	params := json.RawMessage(`{"uri":"doc://a"}`)
	msg := &shared.Message{ID: &id, Method: strPtr("resources/read"), Params: &params}

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, `"2.0"`, string(decoded["jsonrpc"]))
	assert.Equal(t, `"resources/read"`, string(decoded["method"]))
	assert.JSONEq(t, `{"uri":"doc://a"}`, string(decoded["params"]))
}

func TestMessage_MarshalJSON_Result(t *testing.T) {
	id := schema.RequestID{Value: "3"}
	result := json.RawMessage(`{"tools":[]}`)
	msg := &shared.Message{ID: &id, Result: &result}

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, `"2.0"`, string(decoded["jsonrpc"]))
	assert.JSONEq(t, `{"tools":[]}`, string(decoded["result"]))
	_, hasMethod := decoded["method"]
	assert.False(t, hasMethod)
}

func TestMessage_MarshalJSON_ErrorWinsOverResult(t *testing.T) {
	id := schema.RequestID{Value: "9"}
	result := json.RawMessage(`{}`)
	msg := &shared.Message{
		ID:     &id,
		Result: &result,
		Error:  &shared.JSONRPCError{Code: shared.JSONRPCErrorInternal, Message: "boom"},
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded struct {
		JSONRPC string               `json:"jsonrpc"`
		Error   *shared.JSONRPCError `json:"error"`
		Result  *json.RawMessage     `json:"result"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.NotNil(t, decoded.Error)
	assert.Equal(t, shared.JSONRPCErrorInternal, decoded.Error.Code)
	assert.Nil(t, decoded.Result)
}
