package transport

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// HandleAsyncResponses serves the polling endpoint for the JSON-async
// response mode. 200 returns the stored response and evicts it; 204 means
// the handler has not finished yet.
func (t *Transport) HandleAsyncResponses() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		logger := t.logger

		switch r.Method {
		case http.MethodGet:
		case http.MethodOptions:
			w.WriteHeader(http.StatusNoContent)
			return
		default:
			http.Error(w, "Method Not Allowed", statusMethodNotAllowed)
			return
		}

		key := strings.TrimPrefix(r.URL.Path, RESPONSES_PATH)
		sessionID, _, found := strings.Cut(key, ":")
		if !found || sessionID == "" {
			http.Error(w, "Bad Request: expected <sessionId>:<requestId>", statusBadRequest)
			return
		}

		if t.isTerminated(sessionID) {
			http.Error(w, "Not Found: Session terminated", statusNotFound)
			return
		}
		if _, err := t.sessionManager.GetSession(sessionID); err != nil {
			logger.Debug("Poll for unknown session", zap.String("sessionId", sessionID))
			http.Error(w, "Not Found: Session expired or invalid", statusNotFound)
			return
		}

		body, ok := t.takeAsyncResponse(key)
		if !ok {
			w.WriteHeader(statusNoContent)
			return
		}

		w.Header().Set("Content-Type", contentTypeJSON)
		w.Header().Set(MCP_SESSION_HEADER, sessionID)
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(body); err != nil {
			logger.Error("Failed to write async response", zap.Error(err))
		}
	}
}
