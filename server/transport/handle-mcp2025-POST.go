package transport

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mcpserve/mcpserve/shared"
	"github.com/mcpserve/mcpserve/shared/config"
	"github.com/mcpserve/mcpserve/shared/mcp/2025/schema"
	"go.uber.org/zap"
)

// handlePOST processes POST requests on the streamable endpoint per the
// 2025-03-26 specification: notifications get 202, requests are answered in
// one of three shapes depending on the configured response mode.
func (t *Transport) handlePOST(w http.ResponseWriter, r *http.Request, logger *zap.Logger) {
	contentType := r.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(strings.ToLower(contentType), contentTypeJSON) {
		logger.Warn("Unsupported content type", zap.String("contentType", contentType))
		http.Error(w, "Unsupported Media Type: application/json required", http.StatusUnsupportedMediaType)
		return
	}

	session, err := t.getSession(w, r, logger, true)
	if err != nil {
		// getSession already wrote the HTTP error.
		return
	}
	router := t.router(session)

	r.Body = http.MaxBytesReader(w, r.Body, t.maxBodyBytes)
	bodyBytes, bodyErr := io.ReadAll(r.Body)
	if bodyErr != nil {
		logger.Error("Failed to read request body", zap.Error(bodyErr))
		sendJSONRPCErrorResponse(w, nil, shared.JSONRPCErrorRequestTooLarge, "Failed to read request body", nil, logger)
		return
	}
	defer r.Body.Close()

	msgs, err := shared.ParseMessages(session, bodyBytes)
	if err != nil {
		logger.Error("Failed to parse JSON-RPC message(s)", zap.Error(err))
		sendJSONRPCErrorResponse(w, nil, shared.JSONRPCErrorParseError, "Invalid JSON", err.Error(), logger)
		return
	}
	if len(msgs) == 0 {
		sendJSONRPCErrorResponse(w, nil, shared.JSONRPCErrorInvalidRequest, "Empty batch", nil, logger)
		return
	}

	isInitializeRequest := msgs[0].Method != nil && *msgs[0].Method == "initialize"

	// Clients often send requests before notifications/initialized, so
	// Connecting sessions are allowed through.
	if !isInitializeRequest &&
		session.GetStatus() != shared.StatusConnecting &&
		session.GetStatus() != shared.StatusConnected {
		logger.Warn("Received non-initialize request for non-connected session",
			zap.String("sessionId", session.GetID()),
			zap.Int("status", int(session.GetStatus())),
		)
		sendJSONRPCErrorResponse(w, nil, shared.JSONRPCErrorInvalidRequest, "Session not initialized", nil, logger)
		return
	}

	mode := t.responseMode
	acceptHeader := strings.ToLower(r.Header.Get("Accept"))
	if mode == config.ResponseModeSSE && !strings.Contains(acceptHeader, contentTypeSSE) {
		// Client cannot consume an event stream; answer synchronously.
		mode = config.ResponseModeJSON
	}

	var requestIDs []*schema.RequestID
	for _, msg := range msgs {
		if msg.Method != nil && msg.ID != nil && !msg.ID.IsEmpty() {
			requestIDs = append(requestIDs, msg.ID)
		}
	}

	// Register routing before the input pipeline can produce responses.
	var slot chan *shared.Message
	var cancel func()
	if len(requestIDs) > 0 {
		switch mode {
		case config.ResponseModeJSON:
			slot, cancel = router.registerSync(requestIDs)
			defer cancel()
		case config.ResponseModeSSE:
			slot, cancel = router.registerSSE(requestIDs)
			defer cancel()
		case config.ResponseModeJSONAsync:
			router.registerAsync(requestIDs)
		}
	}

	for _, msg := range msgs {
		msg.Session = session
		msg.Timestamp = time.Now()
		if handleErr := session.Input().Put(msg); handleErr != nil {
			logger.Error("Error handling message",
				zap.Error(handleErr),
				zap.String("sessionId", session.GetID()),
				zap.Any("msgId", msg.ID),
			)
		}
	}

	// Notification-only bodies are acknowledged immediately.
	if len(requestIDs) == 0 {
		w.Header().Set(MCP_SESSION_HEADER, session.GetID())
		w.WriteHeader(statusAccepted)
		logger.Debug("POST processed, returning 202 Accepted",
			zap.String("sessionId", session.GetID()),
			zap.Int("messageCount", len(msgs)),
		)
		return
	}

	switch mode {
	case config.ResponseModeJSON:
		t.respondJSONSync(w, r, session, logger, requestIDs, slot)
	case config.ResponseModeSSE:
		t.respondSSE(w, r, session, logger, requestIDs, slot)
	case config.ResponseModeJSONAsync:
		t.respondJSONAsync(w, session, requestIDs, logger)
	}
}

// respondJSONAsync acknowledges the request and points the client at the
// polling URLs where the responses will appear. The Location header can
// only name one URL, so batches additionally get the full list in the
// body, one entry per request id.
func (t *Transport) respondJSONAsync(w http.ResponseWriter, session shared.ISession, requestIDs []*schema.RequestID, logger *zap.Logger) {
	locations := make([]string, len(requestIDs))
	for i, id := range requestIDs {
		locations[i] = fmt.Sprintf("%s%s:%s", RESPONSES_PATH, session.GetID(), id.String())
	}

	w.Header().Set(MCP_SESSION_HEADER, session.GetID())
	w.Header().Set("Location", locations[0])
	if len(locations) > 1 {
		w.Header().Set("Content-Type", contentTypeJSON)
	}
	w.WriteHeader(statusAccepted)
	if len(locations) > 1 {
		if err := json.NewEncoder(w).Encode(map[string][]string{"locations": locations}); err != nil {
			logger.Error("Failed to encode async location list", zap.Error(err))
		}
	}
	logger.Debug("POST accepted for async processing",
		zap.String("sessionId", session.GetID()),
		zap.Int("requestCount", len(requestIDs)),
	)
}

// respondJSONSync blocks until every request in the batch has a response,
// then replies with a single object or a batch array.
func (t *Transport) respondJSONSync(w http.ResponseWriter, r *http.Request, session shared.ISession, logger *zap.Logger, requestIDs []*schema.RequestID, slot chan *shared.Message) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set(MCP_SESSION_HEADER, session.GetID())

	responses := make([]json.RawMessage, 0, len(requestIDs))
	responseTimer := time.NewTimer(t.requestTimeout)
	defer responseTimer.Stop()

collectLoop:
	for len(responses) < len(requestIDs) {
		select {
		case respMsg := <-slot:
			if respMsg == nil {
				continue
			}
			data, err := json.Marshal(respMsg)
			if err != nil {
				logger.Error("Failed to marshal response", zap.Error(err), zap.Any("msgId", respMsg.ID))
				data, _ = json.Marshal(shared.JSONRPCErrorResponse{
					JSONRPC: shared.JSONRPCVersion,
					ID:      respMsg.ID,
					Error:   &shared.JSONRPCError{Code: shared.JSONRPCErrorInternal, Message: "Failed to marshal response"},
				})
			}
			responses = append(responses, data)

		case <-responseTimer.C:
			logger.Warn("Timeout waiting for response(s)",
				zap.String("sessionId", session.GetID()),
				zap.Int("received", len(responses)),
				zap.Int("expected", len(requestIDs)),
			)
			break collectLoop

		case <-r.Context().Done():
			logger.Warn("Client disconnected while waiting for response", zap.String("sessionId", session.GetID()))
			return

		case <-t.router(session).done:
			logger.Info("Session closed while waiting for response", zap.String("sessionId", session.GetID()))
			break collectLoop
		}
	}

	w.WriteHeader(http.StatusOK)
	if len(requestIDs) == 1 && len(responses) == 1 {
		if _, err := w.Write(responses[0]); err != nil {
			logger.Error("Failed to write response", zap.Error(err))
		}
		return
	}
	if err := json.NewEncoder(w).Encode(responses); err != nil {
		logger.Error("Failed to encode batch response", zap.Error(err))
	}
}

// respondSSE opens a per-request event stream, emits each response as an
// `event: message` frame and closes as soon as the last terminal response
// has been sent.
func (t *Transport) respondSSE(w http.ResponseWriter, r *http.Request, session shared.ISession, logger *zap.Logger, requestIDs []*schema.RequestID, stream chan *shared.Message) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		logger.Error("Streaming unsupported for SSE", zap.String("sessionId", session.GetID()))
		http.Error(w, "Streaming unsupported", statusInternalServerError)
		return
	}

	pendingRequests := make(map[string]bool, len(requestIDs))
	for _, id := range requestIDs {
		pendingRequests[id.String()] = true
	}

	w.Header().Set("Content-Type", contentTypeSSE)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set(MCP_SESSION_HEADER, session.GetID())
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	responseTimer := time.NewTimer(t.requestTimeout)
	defer responseTimer.Stop()

	for {
		select {
		case <-r.Context().Done():
			logger.Info("Client disconnected from per-request stream", zap.String("sessionId", session.GetID()))
			return

		case <-responseTimer.C:
			logger.Warn("Timeout waiting for responses on per-request stream",
				zap.String("sessionId", session.GetID()),
				zap.Int("pending", len(pendingRequests)),
			)
			return

		case <-t.router(session).done:
			logger.Info("Session closed, ending per-request stream", zap.String("sessionId", session.GetID()))
			return

		case msg := <-stream:
			if msg == nil {
				continue
			}
			data, err := json.Marshal(msg)
			if err != nil {
				logger.Error("Failed to marshal SSE event data", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", t.events.NextID(), sseEventMessage, data)
			flusher.Flush()
			session.UpdateLastActivity()

			if msg.ID != nil && msg.Method == nil {
				delete(pendingRequests, msg.ID.String())
			}
			// The stream must close right after the terminal response.
			if len(pendingRequests) == 0 {
				logger.Debug("All requests answered, closing per-request stream", zap.String("sessionId", session.GetID()))
				return
			}

		case <-ticker.C:
			fmt.Fprint(w, ":keepalive\n\n")
			flusher.Flush()
		}
	}
}
