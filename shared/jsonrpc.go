package shared

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mcpserve/mcpserve/shared/mcp/2025/schema"
)

const (
	JSONRPCVersion = "2.0"

	// Standard JSON-RPC 2.0 error codes
	JSONRPCErrorParseError     = -32700 // Invalid JSON was received
	JSONRPCErrorInvalidRequest = -32600 // The JSON sent is not a valid Request object
	JSONRPCErrorMethodNotFound = -32601 // The method does not exist / is not available
	JSONRPCErrorInvalidParams  = -32602 // Invalid method parameter(s)
	JSONRPCErrorInternal       = -32603 // Internal JSON-RPC error
)

// MCP-specific error codes. The -32100 block extends the JSON-RPC reserved
// server range with protocol, auth, transport, resource, tool and server
// conditions.
const (
	JSONRPCErrorResourceNotFound    = -32100
	JSONRPCErrorToolNotFound        = -32101
	JSONRPCErrorPromptNotFound      = -32102
	JSONRPCErrorIncompatibleVersion = -32103
	JSONRPCErrorUnauthorized        = -32104
	JSONRPCErrorOperationCancelled  = -32105
	JSONRPCErrorRateLimited         = -32106
	JSONRPCErrorSessionExpired      = -32110

	JSONRPCErrorAuthenticationRequired  = -32120
	JSONRPCErrorInvalidToken            = -32121
	JSONRPCErrorInsufficientPermissions = -32122
	JSONRPCErrorTokenExpired            = -32123
	JSONRPCErrorInvalidClient           = -32124

	JSONRPCErrorConnectionClosed       = -32130
	JSONRPCErrorTimeout                = -32131
	JSONRPCErrorProtocolViolation      = -32132
	JSONRPCErrorRequestTooLarge        = -32133
	JSONRPCErrorUnsupportedContentType = -32134

	JSONRPCErrorResourceUnavailable = -32140
	JSONRPCErrorResourceTooLarge    = -32141
	JSONRPCErrorResourceLocked      = -32142
	JSONRPCErrorStorageError        = -32143

	JSONRPCErrorToolUnavailable      = -32150
	JSONRPCErrorToolExecutionFailed  = -32151
	JSONRPCErrorToolTimeout          = -32152
	JSONRPCErrorInvalidToolArguments = -32153

	JSONRPCErrorServerOverloaded = -32160
	JSONRPCErrorShuttingDown     = -32161
	JSONRPCErrorMaintenanceMode  = -32162
	JSONRPCErrorFeatureDisabled  = -32163
)

// retryableCodes marks errors a client may retry after a backoff.
var retryableCodes = map[int]bool{
	JSONRPCErrorRateLimited:         true,
	JSONRPCErrorTimeout:             true,
	JSONRPCErrorServerOverloaded:    true,
	JSONRPCErrorResourceUnavailable: true,
	JSONRPCErrorToolUnavailable:     true,
	JSONRPCErrorStorageError:        true,
}

// IsRetryable reports whether the error code belongs to the retryable subset.
func IsRetryable(code int) bool {
	return retryableCodes[code]
}

// HTTPStatusForCode maps a JSON-RPC error code to the HTTP status the
// transport uses when the error is the outcome of a whole HTTP exchange.
func HTTPStatusForCode(code int) int {
	switch code {
	case JSONRPCErrorParseError, JSONRPCErrorInvalidRequest, JSONRPCErrorInvalidParams,
		JSONRPCErrorProtocolViolation, JSONRPCErrorInvalidToolArguments:
		return http.StatusBadRequest
	case JSONRPCErrorUnauthorized, JSONRPCErrorAuthenticationRequired,
		JSONRPCErrorInvalidToken, JSONRPCErrorTokenExpired, JSONRPCErrorSessionExpired:
		return http.StatusUnauthorized
	case JSONRPCErrorInsufficientPermissions, JSONRPCErrorInvalidClient, JSONRPCErrorFeatureDisabled:
		return http.StatusForbidden
	case JSONRPCErrorMethodNotFound, JSONRPCErrorResourceNotFound,
		JSONRPCErrorToolNotFound, JSONRPCErrorPromptNotFound:
		return http.StatusNotFound
	case JSONRPCErrorRequestTooLarge, JSONRPCErrorResourceTooLarge:
		return http.StatusRequestEntityTooLarge
	case JSONRPCErrorIncompatibleVersion:
		return http.StatusUnprocessableEntity
	case JSONRPCErrorRateLimited:
		return http.StatusTooManyRequests
	case JSONRPCErrorServerOverloaded, JSONRPCErrorMaintenanceMode, JSONRPCErrorShuttingDown,
		JSONRPCErrorResourceUnavailable, JSONRPCErrorToolUnavailable:
		return http.StatusServiceUnavailable
	case JSONRPCErrorTimeout, JSONRPCErrorToolTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

type JSONRPCErrorResponse struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      *schema.RequestID `json:"id,omitempty"`
	Error   *JSONRPCError     `json:"error"`
}

// JSONRPCResponse represents the structure for sending successful JSON-RPC responses.
type JSONRPCResponse struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      *schema.RequestID `json:"id"` // Must be present and same as request ID
	Result  *json.RawMessage  `json:"result"`
}

type JSONRPCMessage struct {
	JSONRPC string            `json:"jsonrpc"` // Must be "2.0"
	ID      *schema.RequestID `json:"id,omitempty"`
	Method  *string           `json:"method,omitempty"`
	Params  *json.RawMessage  `json:"params,omitempty"`
	Error   *JSONRPCError     `json:"error,omitempty"`
}

type JSONRPCNotification struct {
	JSONRPC string           `json:"jsonrpc"` // Must be "2.0"
	Method  *string          `json:"method"`
	Params  *json.RawMessage `json:"params,omitempty"`
}

type JSONRPCRequest struct {
	JSONRPC string           `json:"jsonrpc"` // Must be "2.0"
	ID      schema.RequestID `json:"id,omitempty"`
	Method  string           `json:"method"`
	Params  map[string]any   `json:"params,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int         `json:"code"`           // Error type code
	Message string      `json:"message"`        // Short error description
	Data    interface{} `json:"data,omitempty"` // Additional error information
}

// Error implements the Go error interface for JSONRPCError.
func (e *JSONRPCError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

// NewJSONRPCError converts an arbitrary handler error to a JSON-RPC error.
// Errors that already are *JSONRPCError pass through with their code intact;
// anything else becomes an internal error.
func NewJSONRPCError(err error) *JSONRPCError {
	if err == nil {
		return nil
	}
	var rpcErr *JSONRPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return &JSONRPCError{
		Code:    JSONRPCErrorInternal,
		Message: err.Error(),
	}
}

// NewError builds a *JSONRPCError with a code and formatted message.
func NewError(code int, format string, args ...interface{}) *JSONRPCError {
	e := &JSONRPCError{Code: code, Message: fmt.Sprintf(format, args...)}
	if IsRetryable(code) {
		e.Data = map[string]interface{}{"retry_after": 1}
	}
	return e
}

// NewRetryableError builds a retryable error carrying retry_after seconds.
func NewRetryableError(code int, retryAfterSeconds int, format string, args ...interface{}) *JSONRPCError {
	return &JSONRPCError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Data:    map[string]interface{}{"retry_after": retryAfterSeconds},
	}
}
