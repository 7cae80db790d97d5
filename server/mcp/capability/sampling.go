package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcpserve/mcpserve/shared"

	schema "github.com/mcpserve/mcpserve/shared/mcp/2025/schema"
	"go.uber.org/zap"
)

// DefaultSamplingTimeout bounds how long the server waits for the client to
// answer a sampling request.
const DefaultSamplingTimeout = 60 * time.Second

// SamplingCapability issues sampling/createMessage requests to clients that
// advertised the sampling capability during initialization.
type SamplingCapability struct {
	logger  *zap.Logger
	timeout time.Duration
}

// NewSamplingCapability creates a new SamplingCapability.
func NewSamplingCapability(logger *zap.Logger) *SamplingCapability {
	return &SamplingCapability{
		logger:  logger,
		timeout: DefaultSamplingTimeout,
	}
}

// SetTimeout overrides the per-request wait. Zero keeps the default.
func (sc *SamplingCapability) SetTimeout(d time.Duration) {
	if d > 0 {
		sc.timeout = d
	}
}

// clientSupportsSampling reports whether the session's client advertised the
// sampling capability.
func clientSupportsSampling(session shared.ISession) bool {
	capable, ok := session.(interface {
		GetClientCapabilities() *schema.ClientCapabilities
	})
	if !ok {
		return false
	}
	caps := capable.GetClientCapabilities()
	return caps != nil && caps.Sampling != nil
}

// CreateMessage sends sampling/createMessage to the session's client and
// waits for the response. The pending request is dropped if the context
// expires or the timeout elapses.
func (sc *SamplingCapability) CreateMessage(ctx context.Context, session shared.ISession, params *schema.CreateMessageRequestParams) (*schema.CreateMessageResult, error) {
	logger := sc.logger.With(zap.String("sessionID", session.GetID()), zap.String("method", "sampling/createMessage"))

	if params == nil {
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: "sampling params cannot be nil"}
	}
	if !clientSupportsSampling(session) {
		logger.Debug("Client did not advertise sampling capability")
		return nil, &shared.JSONRPCError{
			Code:    shared.JSONRPCErrorFeatureDisabled,
			Message: "client does not support sampling",
		}
	}

	resultChan := make(chan *shared.Message, 1)
	requestID, err := session.SendRequest("sampling/createMessage", params, func(msg *shared.Message) {
		resultChan <- msg
	})
	if err != nil {
		logger.Warn("Failed to send sampling request", zap.Error(err))
		return nil, shared.NewJSONRPCError(err)
	}

	timer := time.NewTimer(sc.timeout)
	defer timer.Stop()

	select {
	case msg := <-resultChan:
		if msg.Error != nil {
			logger.Debug("Client rejected sampling request", zap.Int("code", msg.Error.Code))
			return nil, msg.Error
		}
		if msg.Result == nil {
			return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInternal, Message: "empty sampling response"}
		}
		var result schema.CreateMessageResult
		if err := json.Unmarshal(*msg.Result, &result); err != nil {
			logger.Error("Failed to unmarshal sampling result", zap.Error(err))
			return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInternal, Message: fmt.Sprintf("invalid sampling response: %v", err)}
		}
		logger.Debug("Sampling completed", zap.String("model", result.Model))
		return &result, nil

	case <-ctx.Done():
		session.GetRequestManager().Cancel(requestID)
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorOperationCancelled, Message: "sampling cancelled"}

	case <-timer.C:
		session.GetRequestManager().Cancel(requestID)
		logger.Warn("Sampling request timed out", zap.Duration("timeout", sc.timeout))
		return nil, shared.NewRetryableError(shared.JSONRPCErrorTimeout, 1, "sampling request timed out after %s", sc.timeout)
	}
}
