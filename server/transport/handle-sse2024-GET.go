package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mcpserve/mcpserve/shared"
	"go.uber.org/zap"
)

const (
	sseEventEndpoint = "endpoint"
	sseEventMessage  = "message"
	sseEventPing     = "ping"
)

// handle2024GET opens the legacy persistent SSE stream. The first event is
// the mandatory 'endpoint' event telling the client where to POST messages
// for this session.
func (t *Transport) handle2024GET(w http.ResponseWriter, r *http.Request, logger *zap.Logger) {
	logger = logger.With(zap.String("method", "handle2024GET"))
	session, err := t.getSession(w, r, logger, true)
	if err != nil {
		logger.Error("Failed to get session", zap.Error(err))
		return
	}

	output, ok := session.AcquireOutput()
	if !ok {
		logger.Error("Failed to acquire output channel for legacy SSE stream", zap.String("sessionId", session.GetID()))
		http.Error(w, "Failed to acquire output channel", statusInternalServerError)
		return
	}
	defer session.ReleaseOutput()

	w.Header().Set("Content-Type", contentTypeSSE)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	endpointPath := MCP2024_POST_PATH + "?" + SESSION_ID_KEY2024 + "=" + session.GetID()

	flusher, ok := w.(http.Flusher)
	if !ok {
		logger.Error("Streaming unsupported for SSE", zap.String("sessionId", session.GetID()))
		t.sessionManager.CloseSession(session.GetID())
		http.Error(w, "Streaming unsupported", statusInternalServerError)
		return
	}

	// Send the mandatory 'endpoint' event
	fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", "endpoint-event-id", sseEventEndpoint, endpointPath)
	flusher.Flush()
	logger.Debug("Sent endpoint event", zap.String("sessionId", session.GetID()), zap.String("endpoint", endpointPath))

	session.SetStatus(shared.StatusConnected)
	logger.Info("Session status set to Connected", zap.String("sessionId", session.GetID()))

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	defer logger.Debug("Stopped forwarding session output to legacy SSE stream", zap.String("sessionId", session.GetID()))

	go func() {
		for {
			select {
			case <-r.Context().Done():
				logger.Info("Legacy SSE client disconnected (context done)", zap.String("sessionId", session.GetID()))
				t.sessionManager.CloseSession(session.GetID())
				return
			case msg, ok := <-output:
				if !ok {
					logger.Info("Session output channel closed", zap.String("sessionId", session.GetID()))
					return
				}
				if msg == nil {
					continue
				}

				data, err := json.Marshal(msg)
				if err != nil {
					logger.Error("Failed to marshal message for SSE", zap.Error(err), zap.Any("msgId", msg.ID), zap.Stringp("method", msg.Method))
					continue
				}

				fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", t.events.NextID(), sseEventMessage, data)
				flusher.Flush()
				session.UpdateLastActivity()
			case <-ticker.C:
				// Double-check context before sending keepalive to avoid a
				// write race on disconnect.
				select {
				case <-r.Context().Done():
					return
				default:
					fmt.Fprintf(w, "event: %s\ndata: %s\n\n", sseEventPing, `{}`)
					flusher.Flush()
				}
			}
		}
	}()

	// Keep the handler alive while the goroutine runs.
	// The client disconnecting will cancel the request context.
	<-r.Context().Done()
}
