package transport

import (
	"net/http"

	"go.uber.org/zap"
)

// handleDELETE terminates the named session. The ID is tombstoned so any
// later request bearing it gets 404 instead of a fresh session.
func (t *Transport) handleDELETE(w http.ResponseWriter, r *http.Request, logger *zap.Logger) {
	sessionID := r.Header.Get(MCP_SESSION_HEADER)
	if sessionID == "" {
		logger.Warn("Missing Mcp-Session-Id header for DELETE request")
		http.Error(w, "Bad Request: Mcp-Session-Id header required", statusBadRequest)
		return
	}

	if _, err := t.sessionManager.GetSession(sessionID); err != nil {
		logger.Warn("Session not found for DELETE request", zap.String("sessionId", sessionID), zap.Error(err))
		http.Error(w, "Not Found: Session expired or invalid", statusNotFound)
		return
	}

	logger.Info("Received DELETE request, terminating session", zap.String("sessionId", sessionID))
	t.markTerminated(sessionID)
	// Closing the session ends its output channel; the router shuts down
	// and every open stream for the session terminates.
	t.sessionManager.CloseSession(sessionID)

	w.WriteHeader(statusNoContent)
}
