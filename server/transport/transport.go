package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mcpserve/mcpserve/server/auth"
	"github.com/mcpserve/mcpserve/server/mcp"
	"github.com/mcpserve/mcpserve/shared"
	"github.com/mcpserve/mcpserve/shared/config"
	"github.com/mcpserve/mcpserve/shared/mcp/2025/schema"
	"go.uber.org/zap"
)

const (
	SESSION_ID_KEY2024 = "sessionId"       // Query parameter for session ID (2024-11-05 compatibility)
	MCP2024_AUTH_KEY   = "key"             // Query parameter for authentication key (2024-11-05 compatibility)
	MCP2024_PATH       = "/sse"            // SSE stream endpoint (2024-11-05 compatibility)
	MCP2024_POST_PATH  = "/message"        // Message posting endpoint (2024-11-05 compatibility)
	MCP2025_PATH       = "/mcp"            // Unified streamable endpoint
	RESPONSES_PATH     = "/mcp/responses/" // Polling endpoint for async JSON responses
	MCP_SESSION_HEADER = "Mcp-Session-Id"  // Header for session ID

	// Content Types
	contentTypeJSON = "application/json"
	contentTypeSSE  = "text/event-stream"

	// HTTP Statuses
	statusAccepted            = http.StatusAccepted            // 202
	statusNoContent           = http.StatusNoContent           // 204
	statusNotFound            = http.StatusNotFound            // 404
	statusBadRequest          = http.StatusBadRequest          // 400
	statusMethodNotAllowed    = http.StatusMethodNotAllowed    // 405
	statusUnauthorized        = http.StatusUnauthorized        // 401
	statusInternalServerError = http.StatusInternalServerError // 500

	// How long stored async responses survive before garbage collection.
	asyncResponseTTL = 5 * time.Minute

	// How long a terminated session ID keeps answering 404 before its
	// tombstone is dropped.
	terminatedTombstoneTTL = time.Hour

	keepaliveInterval = 15 * time.Second
)

// Transport manages MCP HTTP connections supporting multiple protocol versions.
type Transport struct {
	sessionManager  mcp.ISessionManager
	logger          *zap.Logger
	authManager     AuthenticationManager
	tokenValidator  auth.TokenValidator
	config          config.IConfig
	serverInfo      schema.Implementation
	responseMode    config.ResponseMode
	getStreamOn     bool          // Whether GET opens a standalone SSE stream
	requestTimeout  time.Duration // How long POST waits for handler responses
	maxBodyBytes    int64         // Request body size cap
	sessionTimeout  time.Duration // Idle timeout for sessions
	cleanupInterval time.Duration // How often to check for idle sessions

	events *EventStore

	mu         sync.Mutex
	routers    map[string]*sessionRouter // session ID -> router (streamable sessions only)
	terminated map[string]time.Time      // session ID -> DELETE time, answers 404
	asyncResps map[string]*asyncResponse // "<sessionID>:<requestID>" -> stored response
}

type asyncResponse struct {
	body      []byte
	createdAt time.Time
}

// TransportOption defines a function type for configuring the Transport.
type TransportOption func(*Transport) error

// WithResponseMode overrides the configured POST response mode.
func WithResponseMode(mode config.ResponseMode) TransportOption {
	return func(t *Transport) error {
		switch mode {
		case config.ResponseModeSSE, config.ResponseModeJSON, config.ResponseModeJSONAsync:
			t.responseMode = mode
			return nil
		}
		return fmt.Errorf("unknown response mode %q", mode)
	}
}

// WithStandaloneStream enables or disables the GET SSE stream.
func WithStandaloneStream(enabled bool) TransportOption {
	return func(t *Transport) error {
		t.getStreamOn = enabled
		return nil
	}
}

// WithTokenValidator installs a bearer token validator. When set, bearer
// tokens are resolved through it before falling back to API key lookup.
func WithTokenValidator(v auth.TokenValidator) TransportOption {
	return func(t *Transport) error {
		t.tokenValidator = v
		return nil
	}
}

// WithSessionTimeout sets the idle timeout for sessions.
func WithSessionTimeout(timeout time.Duration) TransportOption {
	return func(t *Transport) error {
		if timeout <= 0 {
			return errors.New("session timeout must be positive")
		}
		t.sessionTimeout = timeout
		return nil
	}
}

// WithCleanupInterval sets the interval for checking idle sessions
func WithCleanupInterval(interval time.Duration) TransportOption {
	return func(t *Transport) error {
		if interval <= 0 {
			return errors.New("cleanup interval must be positive")
		}
		t.cleanupInterval = interval
		return nil
	}
}

// WithRequestTimeout sets how long POST handlers wait for responses.
func WithRequestTimeout(timeout time.Duration) TransportOption {
	return func(t *Transport) error {
		if timeout <= 0 {
			return errors.New("request timeout must be positive")
		}
		t.requestTimeout = timeout
		return nil
	}
}

// New creates a new MCP HTTP transport handler.
func New(mcpManager mcp.ISessionManager, logger *zap.Logger, cfg config.IConfig, options ...TransportOption) (*Transport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if mcpManager == nil {
		return nil, errors.New("session manager cannot be nil")
	}
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}

	serverName, err := cfg.ServerName()
	if err != nil {
		return nil, fmt.Errorf("failed to get server name from config: %w", err)
	}
	serverVersion, err := cfg.ServerVersion()
	if err != nil {
		return nil, fmt.Errorf("failed to get server version from config: %w", err)
	}

	transport := &Transport{
		sessionManager: mcpManager,
		logger:         logger.Named("transport"),
		authManager:    NewAuthenticator(cfg, logger),
		config:         cfg,
		serverInfo: schema.Implementation{
			Name:    serverName,
			Version: serverVersion,
		},
		responseMode:    config.ResponseModeSSE,
		requestTimeout:  config.DefaultRequestTimeout,
		maxBodyBytes:    config.DefaultMaxBodyBytes,
		cleanupInterval: time.Minute,
		sessionTimeout:  config.DefaultSessionIdleTimeout,
		events:          NewEventStore(DefaultEventBufferSize),
		routers:         make(map[string]*sessionRouter),
		terminated:      make(map[string]time.Time),
		asyncResps:      make(map[string]*asyncResponse),
	}

	if mode, err := cfg.ResponseMode(); err == nil && mode != "" {
		transport.responseMode = mode
	}
	if on, err := cfg.StandaloneStreamEnabled(); err == nil {
		transport.getStreamOn = on
	}
	if timeout, err := cfg.RequestTimeout(); err == nil && timeout > 0 {
		transport.requestTimeout = timeout
	}
	if maxBody, err := cfg.MaxBodyBytes(); err == nil && maxBody > 0 {
		transport.maxBodyBytes = maxBody
	}
	if idle, err := cfg.SessionIdleTimeout(); err == nil && idle > 0 {
		transport.sessionTimeout = idle
	}

	for _, option := range options {
		if err := option(transport); err != nil {
			return nil, fmt.Errorf("failed to apply transport option: %w", err)
		}
	}

	if transport.sessionTimeout > 0 {
		go transport.startSessionCleanup()
	}
	go transport.startAsyncResponseGC()

	logger.Info("MCP HTTP Transport created",
		zap.String("responseMode", string(transport.responseMode)),
		zap.Bool("standaloneStream", transport.getStreamOn),
		zap.Duration("requestTimeout", transport.requestTimeout),
		zap.Duration("sessionTimeout", transport.sessionTimeout),
	)

	return transport, nil
}

// SetAuthManager allows changing the authentication manager.
func (t *Transport) SetAuthManager(authManager AuthenticationManager) {
	t.authManager = authManager
}

// RegisterHandlers registers the MCP handlers with the HTTP mux.
func (t *Transport) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc(MCP2025_PATH, t.HandleMCP())
	mux.HandleFunc(RESPONSES_PATH, t.HandleAsyncResponses())
	mux.HandleFunc(MCP2024_PATH, t.Handle2024SSE())
	mux.HandleFunc(MCP2024_POST_PATH, t.Handle2024Message())
	t.logger.Info("Registered MCP handlers",
		zap.String("path", MCP2025_PATH),
		zap.String("path2024", MCP2024_PATH),
	)
}

// setCORSHeaders emits the CORS headers on every HTTP response.
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept, X-Session-ID, mcp-session-id, last-event-id")
}

// HandleMCP dispatches requests on the unified streamable endpoint.
func (t *Transport) HandleMCP() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := t.logger

		logger.Debug("Received request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remoteAddr", r.RemoteAddr),
		)

		setCORSHeaders(w)

		if t.isTerminated(r.Header.Get(MCP_SESSION_HEADER)) {
			http.Error(w, "Not Found: Session terminated", statusNotFound)
			return
		}

		switch r.Method {
		case http.MethodPost:
			t.handlePOST(w, r, logger)
		case http.MethodGet:
			t.handleGET(w, r, logger)
		case http.MethodDelete:
			t.handleDELETE(w, r, logger)
		case http.MethodOptions:
			w.WriteHeader(http.StatusNoContent)
		default:
			logger.Warn("Method not allowed", zap.String("method", r.Method))
			w.Header().Set("Allow", "POST, OPTIONS, GET, DELETE")
			http.Error(w, "Method Not Allowed", statusMethodNotAllowed)
		}
	}
}

// Handle2024SSE serves the legacy SSE stream endpoint.
func (t *Transport) Handle2024SSE() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		switch r.Method {
		case http.MethodGet:
			t.handle2024GET(w, r, t.logger)
		case http.MethodPost:
			// Some legacy clients post to the stream endpoint directly.
			t.handle2024POST(w, r, t.logger)
		case http.MethodOptions:
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, "Method Not Allowed", statusMethodNotAllowed)
		}
	}
}

// Handle2024Message serves the legacy message posting endpoint.
func (t *Transport) Handle2024Message() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		switch r.Method {
		case http.MethodPost:
			t.handle2024POST(w, r, t.logger)
		case http.MethodOptions:
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, "Method Not Allowed", statusMethodNotAllowed)
		}
	}
}

// markTerminated records a DELETEd session ID so later requests get 404.
func (t *Transport) markTerminated(sessionID string) {
	t.mu.Lock()
	t.terminated[sessionID] = time.Now()
	t.mu.Unlock()
}

func (t *Transport) isTerminated(sessionID string) bool {
	if sessionID == "" {
		return false
	}
	t.mu.Lock()
	_, ok := t.terminated[sessionID]
	t.mu.Unlock()
	return ok
}

// startSessionCleanup periodically closes idle sessions and drops expired
// terminated tombstones.
func (t *Transport) startSessionCleanup() {
	ticker := time.NewTicker(t.cleanupInterval)
	defer ticker.Stop()
	t.logger.Info("Starting session cleanup routine",
		zap.Duration("interval", t.cleanupInterval),
		zap.Duration("timeout", t.sessionTimeout),
	)
	for range ticker.C {
		t.sessionManager.CleanupIdleSessions(t.sessionTimeout)

		now := time.Now()
		t.mu.Lock()
		for id, deleted := range t.terminated {
			if now.Sub(deleted) > terminatedTombstoneTTL {
				delete(t.terminated, id)
			}
		}
		t.mu.Unlock()
	}
}

// startAsyncResponseGC evicts stored async responses that were never polled.
func (t *Transport) startAsyncResponseGC() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		now := time.Now()
		t.mu.Lock()
		for key, resp := range t.asyncResps {
			if now.Sub(resp.createdAt) > asyncResponseTTL {
				delete(t.asyncResps, key)
			}
		}
		t.mu.Unlock()
	}
}

// --- Helper to send JSON responses ---
func sendJSONResponse(w http.ResponseWriter, statusCode int, data interface{}, logger *zap.Logger) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(statusCode)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			logger.Error("Failed to encode JSON response", zap.Error(err))
		}
	}
}

// --- Helper to send JSON-RPC errors ---
func sendJSONRPCErrorResponse(w http.ResponseWriter, id *schema.RequestID, code int, message string, data interface{}, logger *zap.Logger) {
	errResp := shared.JSONRPCErrorResponse{
		JSONRPC: shared.JSONRPCVersion,
		ID:      id, // Can be nil for some errors (like parse error)
		Error: &shared.JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
	logger.Warn("Sending JSON-RPC Error",
		zap.Int("code", code),
		zap.String("message", message),
		zap.Any("reqID", id),
	)
	// JSON-RPC errors still return 200 OK at the HTTP level.
	sendJSONResponse(w, http.StatusOK, errResp, logger)
}

// extractAuthKey tries to get the auth key from Header or Query params.
func (t *Transport) extractAuthKey(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" && strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return r.URL.Query().Get(MCP2024_AUTH_KEY)
}

// getSession resolves the session for a request, creating one when allowed.
// An unknown session ID is not an error; a fresh session is allocated and
// its ID echoed back, so clients recover transparently after a restart.
func (t *Transport) getSession(w http.ResponseWriter, r *http.Request, logger *zap.Logger, allowCreate bool) (shared.ISession, error) {
	sessionID := r.Header.Get(MCP_SESSION_HEADER)
	if sessionID == "" {
		sessionID = r.URL.Query().Get(SESSION_ID_KEY2024)
	}

	if sessionID != "" {
		session, err := t.sessionManager.GetSession(sessionID)
		if err == nil {
			return session, nil
		}
		if !allowCreate {
			logger.Warn("Session not found", zap.String("sessionId", sessionID), zap.Error(err))
			http.Error(w, "Not Found: Session expired or invalid", statusNotFound)
			return nil, err
		}
		logger.Debug("Unknown session ID presented, allocating a new session",
			zap.String("sessionId", sessionID),
		)
	} else if !allowCreate {
		logger.Warn("Request without session ID on an endpoint that requires one")
		http.Error(w, "Not Found: Session expired or invalid", statusNotFound)
		return nil, mcp.ErrSessionNotFound
	}

	authKey := t.extractAuthKey(r)

	// Bearer tokens issued by the OAuth subsystem resolve through the
	// token validator first; API keys are the fallback.
	if t.tokenValidator != nil && authKey != "" {
		token, err := t.tokenValidator.Validate(r.Context(), authKey)
		if err == nil {
			sessionParams := &sync.Map{}
			SaveRemoteAddr(sessionParams, r.RemoteAddr)
			SaveAuthKey(sessionParams, authKey)
			SaveUserId(sessionParams, token.UserID)
			if len(token.Scopes) > 0 {
				SaveScopes(sessionParams, token.Scopes)
			}
			return t.sessionManager.CreateSession(token.UserID, sessionParams), nil
		}
		logger.Debug("Bearer token not recognized, falling back to API key auth", zap.Error(err))
	}

	userID, sessionParams, err := t.authManager.Authenticate(authKey, r.RemoteAddr)
	if err != nil {
		logger.Warn("Authentication failed", zap.String("remoteAddr", r.RemoteAddr), zap.Error(err))
		http.Error(w, "Authentication failed: "+err.Error(), statusUnauthorized)
		return nil, err
	}

	return t.sessionManager.CreateSession(userID, sessionParams), nil
}
