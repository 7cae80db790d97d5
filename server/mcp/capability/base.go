package capability

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcpserve/mcpserve/server/mcp"
	"github.com/mcpserve/mcpserve/shared"
	sharedmcp "github.com/mcpserve/mcpserve/shared/mcp"
	"github.com/mcpserve/mcpserve/shared/mcp/2025/schema"

	"go.uber.org/zap"
)

var _ shared.IServerCapability = (*BaseCapability)(nil)

// BaseCapability provides handlers for the protocol lifecycle: initialize,
// ping, cancellation and the health snapshot.
type BaseCapability struct {
	logger    *zap.Logger
	manager   mcp.ISessionManager
	handlers  map[string]func(*shared.Message) (interface{}, error)
	startedAt time.Time
}

// NewBase creates a new BaseCapability.
func NewBase(logger *zap.Logger, manager mcp.ISessionManager) *BaseCapability {
	bc := &BaseCapability{
		logger:    logger,
		manager:   manager,
		startedAt: time.Now(),
	}
	bc.handlers = map[string]func(*shared.Message) (interface{}, error){
		"ping":                      bc.handlePing,
		"initialize":                bc.handleInitialize,
		"cancel":                    bc.handleCancel,
		"health/check":              bc.handleHealthCheck,
		"notifications/ping":        bc.handleNotificationPing,
		"notifications/initialized": bc.handleNotificationInitialized,
		"notifications/cancelled":   bc.handleNotificationCancelled,
	}
	return bc
}

func (bc *BaseCapability) GetHandlers() map[string]func(*shared.Message) (interface{}, error) {
	return bc.handlers
}

// SetCapabilities is a no-op: the lifecycle methods are implicit in the
// protocol and not advertised.
func (bc *BaseCapability) SetCapabilities(s *schema.ServerCapabilities) {
}

func (bc *BaseCapability) handleNotificationPing(msg *shared.Message) (interface{}, error) {
	return nil, nil
}

// handleInitialize negotiates the protocol version and stores the client
// info on the session.
func (bc *BaseCapability) handleInitialize(msg *shared.Message) (interface{}, error) {
	sessionID := msg.Session.GetID()
	logger := bc.logger.With(zap.String("sessionID", sessionID), zap.String("method", "initialize"))

	var params schema.InitializeRequestParams
	if msg.Params == nil {
		logger.Warn("Received initialize request with missing params")
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: "Missing params"}
	}
	if err := json.Unmarshal(*msg.Params, &params); err != nil {
		logger.Error("Failed to unmarshal initialize params", zap.Error(err))
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: fmt.Sprintf("Invalid parameters: %v", err)}
	}

	requestedVersion := params.ProtocolVersion
	logger.Info("Received initialize request",
		zap.String("requestedVersion", requestedVersion),
		zap.String("clientName", params.ClientInfo.Name),
		zap.String("clientVersion", params.ClientInfo.Version),
	)

	negotiatedVersion := sharedmcp.SupportedVersions[0]
	if requestedVersion != "" {
		version, ok := sharedmcp.Negotiate(requestedVersion)
		if !ok {
			logger.Warn("No protocol version in common with client",
				zap.String("requestedVersion", requestedVersion),
				zap.Strings("supported", sharedmcp.SupportedVersions))
			return nil, &shared.JSONRPCError{
				Code:    shared.JSONRPCErrorIncompatibleVersion,
				Message: fmt.Sprintf("Incompatible protocol version: %s", requestedVersion),
				Data:    map[string]interface{}{"supported": sharedmcp.SupportedVersions},
			}
		}
		negotiatedVersion = version
	} else {
		logger.Warn("Client did not specify protocol version, defaulting to latest",
			zap.String("negotiatedVersion", negotiatedVersion))
	}

	session, ok := msg.Session.(mcp.IDownstreamSession)
	if !ok {
		logger.Error("Session type assertion failed in handleInitialize")
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInternal, Message: "Internal server error: invalid session type"}
	}
	session.SetNegotiatedVersion(negotiatedVersion)
	session.SetClientInfo(params.ClientInfo, params.Capabilities)

	capabilities := schema.ServerCapabilities{}
	msg.Session.Input().SetCapabilities(&capabilities)

	response := schema.InitializeResult{
		ProtocolVersion: negotiatedVersion,
		Capabilities:    capabilities,
		ServerInfo:      *bc.manager.GetServerInfo(),
	}

	logger.Debug("Sending initialize response", zap.String("negotiatedVersion", negotiatedVersion))
	session.SetStatus(shared.StatusConnecting)
	return response, nil
}

// handleNotificationInitialized moves the session to Connected.
func (bc *BaseCapability) handleNotificationInitialized(msg *shared.Message) (interface{}, error) {
	session := msg.Session
	logger := bc.logger.With(zap.String("sessionID", session.GetID()), zap.String("method", "notifications/initialized"))

	currentStatus := session.GetStatus()
	if currentStatus == shared.StatusConnected {
		logger.Debug("Received initialized notification for already connected session. Ignoring.")
		return nil, nil
	}
	if currentStatus != shared.StatusConnecting {
		logger.Warn("Received initialized notification for session not in connecting state",
			zap.Int("status", int(currentStatus)))
	}

	mcpSession, ok := session.(*mcp.Session)
	if !ok {
		logger.Error("Session type assertion failed in handleNotificationInitialized")
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInternal, Message: "Internal server error: invalid session type"}
	}
	negotiatedVersion := mcpSession.GetNegotiatedVersion()
	if negotiatedVersion == "" {
		logger.Error("Received initialized notification before successful initialize handshake")
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidRequest, Message: "Protocol error: received initialized notification before successful initialize"}
	}

	session.SetStatus(shared.StatusConnected)

	clientInfo := mcpSession.GetClientInfo()
	logger.Info("Session initialized and connected",
		zap.String("negotiatedVersion", negotiatedVersion),
		zap.String("clientName", clientInfo.Name),
		zap.String("clientVersion", clientInfo.Version),
	)
	return nil, nil
}

// handlePing responds with an empty object.
func (bc *BaseCapability) handlePing(msg *shared.Message) (interface{}, error) {
	return map[string]interface{}{}, nil
}

// handleCancel flags a running operation by its operation id. The handler
// keeps running; the dispatcher overrides its outcome.
func (bc *BaseCapability) handleCancel(msg *shared.Message) (interface{}, error) {
	logger := bc.logger.With(zap.String("sessionID", msg.Session.GetID()), zap.String("method", "cancel"))

	var params struct {
		ID string `json:"id"`
	}
	if msg.Params == nil {
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: "Missing params"}
	}
	if err := json.Unmarshal(*msg.Params, &params); err != nil || params.ID == "" {
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: "Missing operation id"}
	}

	session, ok := msg.Session.(*mcp.Session)
	if !ok {
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInternal, Message: "Internal server error: invalid session type"}
	}

	found, owned := session.CancelOperation(params.ID)
	if !found {
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: fmt.Sprintf("Unknown operation id: %s", params.ID)}
	}
	if !owned {
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorUnauthorized, Message: "Operation belongs to another session"}
	}
	logger.Info("Operation cancelled", zap.String("operationID", params.ID))
	return map[string]interface{}{"cancelled": true}, nil
}

// handleNotificationCancelled flags an operation by the id of the request
// that started it.
func (bc *BaseCapability) handleNotificationCancelled(msg *shared.Message) (interface{}, error) {
	logger := bc.logger.With(zap.String("sessionID", msg.Session.GetID()), zap.String("method", "notifications/cancelled"))

	if msg.Params == nil {
		return nil, nil
	}
	var params schema.CancelledNotificationParams
	if err := json.Unmarshal(*msg.Params, &params); err != nil {
		logger.Warn("Failed to unmarshal cancelled notification params", zap.Error(err))
		return nil, nil
	}

	session, ok := msg.Session.(*mcp.Session)
	if !ok {
		return nil, nil
	}
	if session.CancelOperationByRequestID(&params.RequestID) {
		logger.Info("Operation cancelled via notification",
			zap.String("requestID", params.RequestID.String()),
			zap.String("reason", params.Reason))
	} else {
		logger.Debug("Cancelled notification for unknown request",
			zap.String("requestID", params.RequestID.String()))
	}
	return nil, nil
}

// handleHealthCheck returns a liveness snapshot.
func (bc *BaseCapability) handleHealthCheck(msg *shared.Message) (interface{}, error) {
	info := bc.manager.GetServerInfo()
	return map[string]interface{}{
		"status":         "ok",
		"serverName":     info.Name,
		"serverVersion":  info.Version,
		"uptimeSeconds":  int(time.Since(bc.startedAt).Seconds()),
		"protocolLatest": sharedmcp.SupportedVersions[0],
	}, nil
}
