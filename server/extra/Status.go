package extra

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/mcpserve/mcpserve/shared/config"
	"github.com/mcpserve/mcpserve/shared/mcp/2025/schema"
	"go.uber.org/zap"
)

// SessionCounter reports how many sessions are currently live.
type SessionCounter interface {
	SessionCount() int
}

// StatusResponse represents the response structure for the status endpoint
type StatusResponse struct {
	Config   string                 `json:"config"`
	Server   *schema.Implementation `json:"server,omitempty"`
	Sessions int                    `json:"sessions"`
	Uptime   string                 `json:"uptime"`
}

// StatusHandler creates an HTTP handler for checking system status
func StatusHandler(cfg config.IConfig, serverInfo *schema.Implementation, sessions SessionCounter, logger *zap.Logger) http.HandlerFunc {
	startedAt := time.Now()
	return func(w http.ResponseWriter, r *http.Request) {
		handlerLogger := logger.With(zap.String("handler", "StatusHandler"))
		w.Header().Set("Content-Type", "application/json")

		// Always return 200 status code
		w.WriteHeader(http.StatusOK)

		response := StatusResponse{
			Config: "ok",
			Server: serverInfo,
			Uptime: time.Since(startedAt).Truncate(time.Second).String(),
		}

		if err := cfg.Status(r.Context()); err != nil {
			handlerLogger.Error("Failed to get config status", zap.Error(err))
			response.Config = "error"
		}
		if sessions != nil {
			response.Sessions = sessions.SessionCount()
		}

		json.NewEncoder(w).Encode(response)
	}
}
