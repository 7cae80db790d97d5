package transport

import (
	"io"
	"net/http"
	"time"

	"github.com/mcpserve/mcpserve/shared"
	"go.uber.org/zap"
)

// handle2024POST processes legacy message posting. The session comes from
// the sessionId query parameter; responses travel on the SSE stream, so the
// POST itself always answers 202 Accepted.
func (t *Transport) handle2024POST(w http.ResponseWriter, r *http.Request, logger *zap.Logger) {
	session, err := t.getSession(w, r, logger, false)
	if err != nil {
		logger.Warn("Session not found for legacy POST", zap.Error(err))
		// http.Error was already called by getSession if session not found
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, t.maxBodyBytes)
	bodyBytes, bodyErr := io.ReadAll(r.Body)
	if bodyErr != nil {
		logger.Error("Failed to read request body for legacy POST", zap.Error(bodyErr))
		w.WriteHeader(statusAccepted)
		return
	}
	defer r.Body.Close()

	msgs, err := shared.ParseMessages(session, bodyBytes)
	if err != nil {
		logger.Error("Failed to parse JSON-RPC message(s) for legacy POST", zap.Error(err))
		w.WriteHeader(statusAccepted)
		return
	}

	for _, msg := range msgs {
		msg.Session = session
		msg.Timestamp = time.Now()
		if handleErr := session.Input().Put(msg); handleErr != nil {
			// Errors surface on the SSE stream, not on this POST.
			logger.Error("Error handling message in legacy POST", zap.Error(handleErr), zap.String("sessionId", session.GetID()), zap.Any("msgId", msg.ID))
		}
	}

	w.WriteHeader(statusAccepted)
	logger.Debug("POST processed, returning 202 Accepted", zap.String("sessionId", session.GetID()), zap.Int("messageCount", len(msgs)))
}
