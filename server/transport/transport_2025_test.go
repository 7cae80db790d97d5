package transport_test

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/mcpserve/mcpserve/server/mcp/validators"
	"github.com/mcpserve/mcpserve/shared"
	"github.com/mcpserve/mcpserve/shared/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func jsonModeConfig(cfg *config.InternalConfig) {
	cfg.SetResponseMode(config.ResponseModeJSON)
}

func TestStreamablePost_InitializeJSON(t *testing.T) {
	env := setupServerTest(t, jsonModeConfig)

	resp := makePostRequest(t, env.server.URL+"/mcp", initializeBody(1, "2025-03-26"), nil)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")
	assert.NotEmpty(t, resp.Header.Get("Mcp-Session-Id"))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	reply := decodeReply(t, body)
	require.Nil(t, reply.Error)
	require.NotNil(t, reply.ID)
	assert.Equal(t, "1", reply.ID.String())

	var result struct {
		ProtocolVersion string `json:"protocolVersion"`
		ServerInfo      struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"serverInfo"`
	}
	require.NoError(t, json.Unmarshal(reply.Result, &result))
	assert.Equal(t, "2025-03-26", result.ProtocolVersion)
	assert.Equal(t, "TestServer", result.ServerInfo.Name)
	assert.Equal(t, "1.2.3", result.ServerInfo.Version)
}

func TestStreamablePost_VersionNegotiation(t *testing.T) {
	env := setupServerTest(t, jsonModeConfig)

	t.Run("OlderSupportedVersion", func(t *testing.T) {
		resp := makePostRequest(t, env.server.URL+"/mcp", initializeBody(1, "2024-11-05"), nil)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		reply := decodeReply(t, body)
		require.Nil(t, reply.Error)

		var result struct {
			ProtocolVersion string `json:"protocolVersion"`
		}
		require.NoError(t, json.Unmarshal(reply.Result, &result))
		assert.Equal(t, "2024-11-05", result.ProtocolVersion)
	})

	t.Run("FutureVersionGetsLatest", func(t *testing.T) {
		resp := makePostRequest(t, env.server.URL+"/mcp", initializeBody(1, "2026-01-01"), nil)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		reply := decodeReply(t, body)
		require.Nil(t, reply.Error)

		var result struct {
			ProtocolVersion string `json:"protocolVersion"`
		}
		require.NoError(t, json.Unmarshal(reply.Result, &result))
		assert.Equal(t, "2025-03-26", result.ProtocolVersion)
	})

	t.Run("TooOldVersionRejected", func(t *testing.T) {
		resp := makePostRequest(t, env.server.URL+"/mcp", initializeBody(1, "2023-01-01"), nil)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		reply := decodeReply(t, body)
		require.NotNil(t, reply.Error)
		assert.Equal(t, shared.JSONRPCErrorIncompatibleVersion, reply.Error.Code)
	})
}

func TestStreamablePost_NotificationsOnlyReturns202(t *testing.T) {
	env := setupServerTest(t, jsonModeConfig)
	sessionID := initializeSession(t, env)

	resp := makePostRequest(t, env.server.URL+"/mcp",
		notificationBody("notifications/initialized", nil), sessionHeader(sessionID))
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, sessionID, resp.Header.Get("Mcp-Session-Id"))
}

func TestStreamablePost_EchoRoundTrip(t *testing.T) {
	env := setupServerTest(t, jsonModeConfig)
	sessionID := initializeSession(t, env)

	resp := makePostRequest(t, env.server.URL+"/mcp",
		requestBody(7, "test/echo", map[string]interface{}{"hello": "world"}),
		sessionHeader(sessionID))
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	reply := decodeReply(t, body)
	require.Nil(t, reply.Error)
	assert.Equal(t, "7", reply.ID.String())

	var result struct {
		Echo map[string]interface{} `json:"echo"`
	}
	require.NoError(t, json.Unmarshal(reply.Result, &result))
	assert.Equal(t, "world", result.Echo["hello"])
}

func TestStreamablePost_HandlerErrorSurfacesAsJSONRPCError(t *testing.T) {
	env := setupServerTest(t, jsonModeConfig)
	sessionID := initializeSession(t, env)

	resp := makePostRequest(t, env.server.URL+"/mcp",
		requestBody(2, "test/fail", nil), sessionHeader(sessionID))
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	reply := decodeReply(t, body)
	require.NotNil(t, reply.Error)
	assert.Equal(t, shared.JSONRPCErrorInternal, reply.Error.Code)
	assert.Contains(t, reply.Error.Message, "deliberate failure")
}

func TestStreamablePost_Batch(t *testing.T) {
	env := setupServerTest(t, jsonModeConfig)
	sessionID := initializeSession(t, env)

	batch := batchBody(
		requestBody(10, "ping", nil),
		requestBody(11, "ping", nil),
		requestBody(12, "ping", nil),
	)
	resp := makePostRequest(t, env.server.URL+"/mcp", batch, sessionHeader(sessionID))
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var replies []json.RawMessage
	require.NoError(t, json.Unmarshal(body, &replies))
	require.Len(t, replies, 3)

	// Responses can arrive in any order.
	seen := make(map[string]bool)
	for _, raw := range replies {
		reply := decodeReply(t, raw)
		require.Nil(t, reply.Error)
		seen[reply.ID.String()] = true
	}
	assert.Equal(t, map[string]bool{"10": true, "11": true, "12": true}, seen)
}

func TestStreamablePost_BatchWithDefaultValidators(t *testing.T) {
	env := setupServerTest(t, jsonModeConfig)
	env.manager.AddValidator(validators.CreateDefaultValidators(env.cfg, zap.NewNop())...)
	sessionID := initializeSession(t, env)

	// A method the validator chain rejects must still get its error entry;
	// the batch must not wait out the request timeout for it.
	batch := batchBody(
		requestBody(20, "ping", nil),
		notificationBody("notifications/ping", nil),
		requestBody(21, "unknown/method", nil),
	)
	start := time.Now()
	resp := makePostRequest(t, env.server.URL+"/mcp", batch, sessionHeader(sessionID))
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Less(t, time.Since(start), 3*time.Second)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var replies []json.RawMessage
	require.NoError(t, json.Unmarshal(body, &replies))
	require.Len(t, replies, 2, "both requests need a response, the notification none")

	byID := make(map[string]rpcReply, len(replies))
	for _, raw := range replies {
		reply := decodeReply(t, raw)
		require.NotNil(t, reply.ID)
		byID[reply.ID.String()] = reply
	}

	require.Contains(t, byID, "20")
	assert.Nil(t, byID["20"].Error)

	require.Contains(t, byID, "21")
	require.NotNil(t, byID["21"].Error)
	assert.Equal(t, shared.JSONRPCErrorMethodNotFound, byID["21"].Error.Code)
}

func TestStreamablePost_SSEModeSingleResponseClosesStream(t *testing.T) {
	env := setupServerTest(t, nil) // default mode is sse

	resp := makePostRequest(t, env.server.URL+"/mcp", initializeBody(1, "2025-03-26"), nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")
	assert.NotEmpty(t, resp.Header.Get("Mcp-Session-Id"))

	reader := bufio.NewReader(resp.Body)
	ev, err := readNextSseEvent(reader)
	require.NoError(t, err)
	assert.Equal(t, "message", ev.Event)
	assert.NotEmpty(t, ev.ID)

	reply := decodeReply(t, []byte(ev.Data))
	require.Nil(t, reply.Error)
	assert.Equal(t, "1", reply.ID.String())

	// The stream must end right after the terminal response.
	_, err = readNextSseEvent(reader)
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamablePost_SSEModeDowngradesWithoutAcceptHeader(t *testing.T) {
	env := setupServerTest(t, nil)

	resp := makePostRequest(t, env.server.URL+"/mcp", initializeBody(1, "2025-03-26"),
		map[string]string{"Accept": "application/json"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	reply := decodeReply(t, body)
	require.Nil(t, reply.Error)
}

func TestStreamablePost_NonInitializeOnFreshSessionRejected(t *testing.T) {
	env := setupServerTest(t, jsonModeConfig)

	resp := makePostRequest(t, env.server.URL+"/mcp", requestBody(1, "ping", nil), nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	reply := decodeReply(t, body)
	require.NotNil(t, reply.Error)
	assert.Equal(t, shared.JSONRPCErrorInvalidRequest, reply.Error.Code)
	assert.Contains(t, reply.Error.Message, "not initialized")
}

func TestStreamablePost_UnknownSessionIDReissued(t *testing.T) {
	env := setupServerTest(t, jsonModeConfig)

	resp := makePostRequest(t, env.server.URL+"/mcp", initializeBody(1, "2025-03-26"),
		sessionHeader("no-such-session"))
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	newID := resp.Header.Get("Mcp-Session-Id")
	assert.NotEmpty(t, newID)
	assert.NotEqual(t, "no-such-session", newID)
}

func TestStreamablePost_InvalidBodies(t *testing.T) {
	env := setupServerTest(t, jsonModeConfig)

	t.Run("MalformedJSON", func(t *testing.T) {
		resp := makePostRequest(t, env.server.URL+"/mcp", "{not json", nil)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		reply := decodeReply(t, body)
		require.NotNil(t, reply.Error)
		assert.Equal(t, shared.JSONRPCErrorParseError, reply.Error.Code)
	})

	t.Run("EmptyBatch", func(t *testing.T) {
		resp := makePostRequest(t, env.server.URL+"/mcp", "[]", nil)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		reply := decodeReply(t, body)
		require.NotNil(t, reply.Error)
		assert.Equal(t, shared.JSONRPCErrorInvalidRequest, reply.Error.Code)
	})

	t.Run("WrongContentType", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, env.server.URL+"/mcp",
			strings.NewReader(initializeBody(1, "2025-03-26")))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "text/plain")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	})
}

func TestStreamableOptions_CORSPreflight(t *testing.T) {
	env := setupServerTest(t, jsonModeConfig)

	req, err := http.NewRequest(http.MethodOptions, env.server.URL+"/mcp", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "POST, OPTIONS, GET, DELETE", resp.Header.Get("Access-Control-Allow-Methods"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "mcp-session-id")
}

func TestStreamableGet_DisabledReturns405(t *testing.T) {
	env := setupServerTest(t, func(cfg *config.InternalConfig) {
		cfg.SetResponseMode(config.ResponseModeJSON)
		cfg.SetStandaloneStreamEnabled(false)
	})
	sessionID := initializeSession(t, env)

	resp := makeGetRequest(t, env.server.URL+"/mcp", sessionHeader(sessionID))
	defer resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "POST, OPTIONS, DELETE", resp.Header.Get("Allow"))
}

func TestStreamableGet_MalformedLastEventID(t *testing.T) {
	env := setupServerTest(t, jsonModeConfig)
	sessionID := initializeSession(t, env)

	headers := sessionHeader(sessionID)
	headers["Last-Event-ID"] = "not-a-number"
	resp := makeGetRequest(t, env.server.URL+"/mcp", headers)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStreamableGet_ServerNotificationsArrive(t *testing.T) {
	env := setupServerTest(t, jsonModeConfig)
	sessionID := initializeSession(t, env)

	resp := makeGetRequest(t, env.server.URL+"/mcp", sessionHeader(sessionID))
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	reader := bufio.NewReader(resp.Body)

	// The stream opens with a keepalive comment; consume it before
	// triggering the notification so the stream is surely attached.
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, ":"))

	session, err := env.manager.GetSession(sessionID)
	require.NoError(t, err)
	session.SendNotification("notifications/resources/updated",
		map[string]any{"uri": "test://thing"})

	ev, err := readNextSseEvent(reader)
	require.NoError(t, err)
	assert.Equal(t, "message", ev.Event)
	require.NotEmpty(t, ev.ID)
	_, err = strconv.ParseUint(ev.ID, 10, 64)
	assert.NoError(t, err, "event id must be a stringified integer")

	var notif struct {
		Method string `json:"method"`
		Params struct {
			URI string `json:"uri"`
		} `json:"params"`
	}
	require.NoError(t, json.Unmarshal([]byte(ev.Data), &notif))
	assert.Equal(t, "notifications/resources/updated", notif.Method)
	assert.Equal(t, "test://thing", notif.Params.URI)
}

func TestStreamableGet_ReplayAfterReconnect(t *testing.T) {
	env := setupServerTest(t, jsonModeConfig)
	sessionID := initializeSession(t, env)

	// First stream receives one event, which lands in the replay buffer.
	first := makeGetRequest(t, env.server.URL+"/mcp", sessionHeader(sessionID))
	reader := bufio.NewReader(first.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, ":"))

	session, err := env.manager.GetSession(sessionID)
	require.NoError(t, err)
	session.SendNotification("notifications/resources/updated",
		map[string]any{"uri": "test://replayed"})

	ev, err := readNextSseEvent(reader)
	require.NoError(t, err)
	firstID := ev.ID
	first.Body.Close()

	// Reconnect asking for everything after event 0.
	headers := sessionHeader(sessionID)
	headers["Last-Event-ID"] = "0"
	second := makeGetRequest(t, env.server.URL+"/mcp", headers)
	defer second.Body.Close()
	require.Equal(t, http.StatusOK, second.StatusCode)

	replayReader := bufio.NewReader(second.Body)
	replayed, err := readNextSseEvent(replayReader)
	require.NoError(t, err)
	assert.Equal(t, firstID, replayed.ID)
	assert.Contains(t, replayed.Data, "test://replayed")
}

func TestStreamableDelete_TerminatesSession(t *testing.T) {
	env := setupServerTest(t, jsonModeConfig)
	sessionID := initializeSession(t, env)

	resp := makeDeleteRequest(t, env.server.URL+"/mcp", sessionHeader(sessionID))
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// The terminated id is tombstoned: everything bearing it answers 404.
	resp = makePostRequest(t, env.server.URL+"/mcp", requestBody(1, "ping", nil),
		sessionHeader(sessionID))
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = makeDeleteRequest(t, env.server.URL+"/mcp", sessionHeader(sessionID))
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStreamableDelete_MissingHeader(t *testing.T) {
	env := setupServerTest(t, jsonModeConfig)

	resp := makeDeleteRequest(t, env.server.URL+"/mcp", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStreamableDelete_UnknownSession(t *testing.T) {
	env := setupServerTest(t, jsonModeConfig)

	resp := makeDeleteRequest(t, env.server.URL+"/mcp", sessionHeader("never-existed"))
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAsyncMode_PollForResponse(t *testing.T) {
	env := setupServerTest(t, func(cfg *config.InternalConfig) {
		cfg.SetResponseMode(config.ResponseModeJSONAsync)
	})

	resp := makePostRequest(t, env.server.URL+"/mcp", initializeBody(1, "2025-03-26"), nil)
	defer resp.Body.Close()

	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	sessionID := resp.Header.Get("Mcp-Session-Id")
	require.NotEmpty(t, sessionID)
	location := resp.Header.Get("Location")
	require.Equal(t, "/mcp/responses/"+sessionID+":1", location)

	body := pollAsync(t, env.server.URL+location, 2*time.Second)
	reply := decodeReply(t, body)
	require.Nil(t, reply.Error)
	assert.Equal(t, "1", reply.ID.String())

	// The stored response is evicted on read; the next poll finds nothing.
	client := &http.Client{Timeout: 2 * time.Second}
	again, err := client.Get(env.server.URL + location)
	require.NoError(t, err)
	again.Body.Close()
	assert.Equal(t, http.StatusNoContent, again.StatusCode)
}

func TestAsyncMode_BatchListsAllLocations(t *testing.T) {
	env := setupServerTest(t, func(cfg *config.InternalConfig) {
		cfg.SetResponseMode(config.ResponseModeJSONAsync)
	})

	resp := makePostRequest(t, env.server.URL+"/mcp", initializeBody(1, "2025-03-26"), nil)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	sessionID := resp.Header.Get("Mcp-Session-Id")
	require.NotEmpty(t, sessionID)
	pollAsync(t, env.server.URL+resp.Header.Get("Location"), 2*time.Second)

	batch := batchBody(
		requestBody(2, "ping", nil),
		requestBody(3, "ping", nil),
	)
	resp = makePostRequest(t, env.server.URL+"/mcp", batch, sessionHeader(sessionID))
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "/mcp/responses/"+sessionID+":2", resp.Header.Get("Location"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var ack struct {
		Locations []string `json:"locations"`
	}
	require.NoError(t, json.Unmarshal(body, &ack))
	require.Equal(t, []string{
		"/mcp/responses/" + sessionID + ":2",
		"/mcp/responses/" + sessionID + ":3",
	}, ack.Locations)

	// Every member of the batch is pollable, not just the first.
	for _, location := range ack.Locations {
		reply := decodeReply(t, pollAsync(t, env.server.URL+location, 2*time.Second))
		require.Nil(t, reply.Error)
	}
}

func TestAsyncResponses_BadRequests(t *testing.T) {
	env := setupServerTest(t, jsonModeConfig)
	sessionID := initializeSession(t, env)

	t.Run("MalformedKey", func(t *testing.T) {
		resp, err := http.Get(env.server.URL + "/mcp/responses/no-colon-here")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("UnknownSession", func(t *testing.T) {
		resp, err := http.Get(env.server.URL + "/mcp/responses/ghost:1")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("PendingResponseGives204", func(t *testing.T) {
		resp, err := http.Get(env.server.URL + "/mcp/responses/" + sessionID + ":999")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	})

	t.Run("MethodNotAllowed", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodDelete, env.server.URL+"/mcp/responses/"+sessionID+":1", nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}

func TestStreamable_UnsupportedMethod(t *testing.T) {
	env := setupServerTest(t, jsonModeConfig)

	req, err := http.NewRequest(http.MethodPatch, env.server.URL+"/mcp", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "POST, OPTIONS, GET, DELETE", resp.Header.Get("Allow"))
}
