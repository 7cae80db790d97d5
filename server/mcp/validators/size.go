package validators

import (
	"sync"

	"github.com/mcpserve/mcpserve/shared"
)

// maxRequestIDLength bounds the string form of a request id.
const maxRequestIDLength = 256

// MessageSizeValidator rejects messages whose params exceed the configured
// body limit.
type MessageSizeValidator struct {
	maxSize int64
	mu      sync.RWMutex
}

// NewMessageSizeValidator creates a new message size validator.
func NewMessageSizeValidator(maxSize int64) *MessageSizeValidator {
	return &MessageSizeValidator{
		maxSize: maxSize,
	}
}

// SetMaxSize updates the maximum allowed message size.
func (v *MessageSizeValidator) SetMaxSize(maxSize int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.maxSize = maxSize
}

// Validate implements the MessageValidator interface.
func (v *MessageSizeValidator) Validate(msg *shared.Message) error {
	if len(msg.ID.String()) >= maxRequestIDLength {
		return &shared.JSONRPCError{
			Code:    shared.JSONRPCErrorProtocolViolation,
			Message: "message id exceeds maximum allowed length",
		}
	}

	if msg.Params == nil {
		return nil
	}

	v.mu.RLock()
	maxSize := v.maxSize
	v.mu.RUnlock()

	if int64(len(*msg.Params)) > maxSize {
		return &shared.JSONRPCError{
			Code:    shared.JSONRPCErrorRequestTooLarge,
			Message: "message exceeds maximum allowed size",
		}
	}
	return nil
}
