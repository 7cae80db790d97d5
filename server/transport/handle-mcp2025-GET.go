package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// handleGET opens the session's standalone SSE stream for server-initiated
// messages. At most one stream per session; a newer GET supersedes the
// current one.
func (t *Transport) handleGET(w http.ResponseWriter, r *http.Request, logger *zap.Logger) {
	if !t.getStreamOn {
		logger.Debug("Standalone stream disabled, rejecting GET")
		w.Header().Set("Allow", "POST, OPTIONS, DELETE")
		http.Error(w, "Method Not Allowed", statusMethodNotAllowed)
		return
	}

	session, err := t.getSession(w, r, logger, true)
	if err != nil {
		return
	}

	var replayAfter uint64
	var replay bool
	if lastEventID := r.Header.Get("Last-Event-ID"); lastEventID != "" {
		replayAfter, err = strconv.ParseUint(lastEventID, 10, 64)
		if err != nil {
			logger.Warn("Malformed Last-Event-ID", zap.String("lastEventId", lastEventID))
			http.Error(w, "Bad Request: malformed Last-Event-ID", statusBadRequest)
			return
		}
		replay = true
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		logger.Error("Streaming unsupported for SSE", zap.String("sessionId", session.GetID()))
		http.Error(w, "Streaming unsupported", statusInternalServerError)
		return
	}

	router := t.router(session)
	stream := router.attachGetStream()
	defer router.detachGetStream(stream)

	w.Header().Set("Content-Type", contentTypeSSE)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set(MCP_SESSION_HEADER, session.GetID())
	w.WriteHeader(http.StatusOK)

	// Immediate comment defeats proxy buffering.
	fmt.Fprint(w, ":keepalive\n\n")
	flusher.Flush()

	if replay {
		for _, event := range t.events.Replay(session.GetID(), replayAfter) {
			fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", event.IDString(), event.Event, event.Data)
		}
		flusher.Flush()
	}

	logger.Info("Standalone stream opened",
		zap.String("sessionId", session.GetID()),
		zap.Bool("replay", replay),
	)

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			logger.Info("Standalone stream client disconnected", zap.String("sessionId", session.GetID()))
			return

		case <-stream.done:
			logger.Info("Standalone stream superseded", zap.String("sessionId", session.GetID()))
			return

		case <-router.done:
			logger.Info("Session closed, ending standalone stream", zap.String("sessionId", session.GetID()))
			return

		case msg := <-stream.ch:
			if msg == nil {
				continue
			}
			data, err := json.Marshal(msg)
			if err != nil {
				logger.Error("Failed to marshal SSE event data", zap.Error(err))
				continue
			}
			event := t.events.Append(session.GetID(), sseEventMessage, data)
			fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", event.IDString(), event.Event, data)
			flusher.Flush()
			session.UpdateLastActivity()

		case <-ticker.C:
			fmt.Fprint(w, ":keepalive\n\n")
			flusher.Flush()
		}
	}
}
