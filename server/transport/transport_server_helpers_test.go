package transport_test

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mcpserve/mcpserve/server/events"
	"github.com/mcpserve/mcpserve/server/mcp"
	"github.com/mcpserve/mcpserve/server/mcp/capability"
	"github.com/mcpserve/mcpserve/server/transport"
	"github.com/mcpserve/mcpserve/shared"
	"github.com/mcpserve/mcpserve/shared/config"
	schema2025 "github.com/mcpserve/mcpserve/shared/mcp/2025/schema"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// echoCapability provides test-only methods so tests can exercise routing
// without depending on the real tool/resource capabilities.
type echoCapability struct{}

func (c *echoCapability) GetHandlers() map[string]func(*shared.Message) (interface{}, error) {
	return map[string]func(*shared.Message) (interface{}, error){
		"test/echo": func(msg *shared.Message) (interface{}, error) {
			var params map[string]interface{}
			if msg.Params != nil {
				_ = json.Unmarshal(*msg.Params, &params)
			}
			return map[string]interface{}{"echo": params}, nil
		},
		"test/fail": func(msg *shared.Message) (interface{}, error) {
			return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInternal, Message: "deliberate failure"}
		},
		"test/slow": func(msg *shared.Message) (interface{}, error) {
			time.Sleep(200 * time.Millisecond)
			return map[string]interface{}{"done": true}, nil
		},
	}
}

func (c *echoCapability) SetCapabilities(s *schema2025.ServerCapabilities) {}

type testEnv struct {
	transport *transport.Transport
	manager   *mcp.Manager
	cfg       *config.InternalConfig
	server    *httptest.Server
	bus       *events.Bus
}

// setupServerTest wires a real session manager behind the transport so
// responses travel the same path they do in production.
func setupServerTest(t *testing.T, configure func(*config.InternalConfig), options ...transport.TransportOption) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	cfg := config.NewInternalConfig()
	cfg.ServerNameValue = "TestServer"
	cfg.ServerVersionValue = "1.2.3"
	if configure != nil {
		configure(cfg)
	}

	bus := events.NewBus()
	manager, err := mcp.NewManager(logger, cfg, bus)
	require.NoError(t, err)
	manager.AddCapability(capability.NewBase(logger, manager), &echoCapability{})

	tp, err := transport.New(manager, logger, cfg, options...)
	require.NoError(t, err)

	mux := http.NewServeMux()
	tp.RegisterHandlers(mux)
	server := httptest.NewServer(mux)

	t.Cleanup(func() {
		server.Close()
		manager.CloseAllSessions()
		bus.Close()
	})

	// Give the input processor goroutine a moment to start.
	time.Sleep(10 * time.Millisecond)

	return &testEnv{
		transport: tp,
		manager:   manager,
		cfg:       cfg,
		server:    server,
		bus:       bus,
	}
}

// --- Client interaction helpers ---

func makePostRequest(t *testing.T, url string, body string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	return resp
}

func makeGetRequest(t *testing.T, url string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	// No client timeout: SSE streams stay open; tests close the body.
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func makeDeleteRequest(t *testing.T, url string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	return resp
}

// sseEvent is one parsed server-sent event.
type sseEvent struct {
	ID    string
	Event string
	Data  string
}

// readNextSseEvent reads the next complete event, skipping comment lines.
func readNextSseEvent(reader *bufio.Reader) (sseEvent, error) {
	ev := sseEvent{Event: "message"}
	gotField := false
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF && gotField {
				return ev, nil
			}
			return ev, err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if gotField {
				return ev, nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.Event = value
			gotField = true
		case "data":
			if ev.Data != "" {
				ev.Data += "\n"
			}
			ev.Data += value
			gotField = true
		case "id":
			ev.ID = value
			gotField = true
		}
	}
}

// --- JSON-RPC body builders ---

func initializeBody(id interface{}, protocolVersion string) string {
	params := map[string]interface{}{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]interface{}{},
		"clientInfo":      map[string]interface{}{"name": "test-client", "version": "0.1.0"},
	}
	return requestBody(id, "initialize", params)
}

func requestBody(id interface{}, method string, params interface{}) string {
	msg := map[string]interface{}{
		"jsonrpc": shared.JSONRPCVersion,
		"id":      id,
		"method":  method,
	}
	if params != nil {
		msg["params"] = params
	}
	data, _ := json.Marshal(msg)
	return string(data)
}

func notificationBody(method string, params interface{}) string {
	msg := map[string]interface{}{
		"jsonrpc": shared.JSONRPCVersion,
		"method":  method,
	}
	if params != nil {
		msg["params"] = params
	}
	data, _ := json.Marshal(msg)
	return string(data)
}

func batchBody(messages ...string) string {
	return "[" + strings.Join(messages, ",") + "]"
}

// rpcReply covers both success and error response shapes.
type rpcReply struct {
	JSONRPC string                `json:"jsonrpc"`
	ID      *schema2025.RequestID `json:"id"`
	Result  json.RawMessage       `json:"result"`
	Error   *shared.JSONRPCError  `json:"error"`
}

func decodeReply(t *testing.T, data []byte) rpcReply {
	t.Helper()
	var reply rpcReply
	require.NoError(t, json.Unmarshal(data, &reply), "not a JSON-RPC reply: %s", string(data))
	return reply
}

// initializeSession performs the initialize POST and returns the session id.
// The environment must be in json response mode.
func initializeSession(t *testing.T, env *testEnv) string {
	t.Helper()
	resp := makePostRequest(t, env.server.URL+"/mcp", initializeBody(1, "2025-03-26"), nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sessionID := resp.Header.Get("Mcp-Session-Id")
	require.NotEmpty(t, sessionID)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	reply := decodeReply(t, body)
	require.Nil(t, reply.Error, "initialize failed: %v", reply.Error)
	require.NotNil(t, reply.Result)
	return sessionID
}

func sessionHeader(sessionID string) map[string]string {
	return map[string]string{"Mcp-Session-Id": sessionID}
}

// pollAsync polls the async response URL until it answers 200 or the
// deadline passes.
func pollAsync(t *testing.T, url string, deadline time.Duration) []byte {
	t.Helper()
	client := &http.Client{Timeout: 2 * time.Second}
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		resp, err := client.Get(url)
		require.NoError(t, err)
		if resp.StatusCode == http.StatusOK {
			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			require.NoError(t, err)
			return body
		}
		resp.Body.Close()
		require.Equal(t, http.StatusNoContent, resp.StatusCode,
			"unexpected poll status %d", resp.StatusCode)
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("async response never appeared at %s", url)
	return nil
}
