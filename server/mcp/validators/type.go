package validators

import (
	"fmt"
	"sync"

	"github.com/mcpserve/mcpserve/shared"
)

// MethodValidator rejects messages whose method is not part of the protocol
// surface this server implements.
type MethodValidator struct {
	validMethods map[string]bool
	mu           sync.RWMutex
}

// NewMethodValidator creates a new method validator.
func NewMethodValidator() *MethodValidator {
	v := &MethodValidator{
		validMethods: map[string]bool{
			// Client requests
			"initialize":               true,
			"ping":                     true,
			"cancel":                   true,
			"health/check":             true,
			"tools/list":               true,
			"tools/call":               true,
			"prompts/list":             true,
			"prompts/get":              true,
			"resources/list":           true,
			"resources/templates/list": true,
			"resources/read":           true,
			"resources/subscribe":      true,
			"resources/unsubscribe":    true,
			"completion/complete":      true,
			"logging/setLevel":         true,

			// Notifications from the client
			"notifications/initialized":        true,
			"notifications/cancelled":          true,
			"notifications/ping":               true,
			"notifications/roots/list_changed": true,
		},
	}
	return v
}

// AddMethod allows additional methods, used when auth endpoints are mounted.
func (v *MethodValidator) AddMethod(methods ...string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, method := range methods {
		v.validMethods[method] = true
	}
}

// Validate implements the MessageValidator interface.
func (v *MethodValidator) Validate(msg *shared.Message) error {
	if msg.Method != nil {
		v.mu.RLock()
		valid := v.validMethods[*msg.Method]
		v.mu.RUnlock()

		if !valid {
			return &shared.JSONRPCError{
				Code:    shared.JSONRPCErrorMethodNotFound,
				Message: fmt.Sprintf("method not found: %s", *msg.Method),
			}
		}
	} else if msg.ID.IsEmpty() {
		return &shared.JSONRPCError{
			Code:    shared.JSONRPCErrorInvalidRequest,
			Message: "message has neither method nor id",
		}
	}
	return nil
}
