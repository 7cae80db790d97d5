package shared

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcpserve/mcpserve/shared/mcp/2025/schema"
)

// Message is the in-memory form of a JSON-RPC envelope, request, response
// or notification, tied to the session it arrived on.
type Message struct {
	ID        *schema.RequestID `json:"id,omitempty"`
	Timestamp time.Time         `json:"-"`
	Method    *string           `json:"method,omitempty"`
	Params    *json.RawMessage  `json:"params,omitempty"`
	Result    *json.RawMessage  `json:"result,omitempty"`
	Error     *JSONRPCError     `json:"error,omitempty"`

	Processed bool     `json:"-"`
	Session   ISession `json:"-"`
}

// IsRequest reports whether the message expects a response.
func (m *Message) IsRequest() bool {
	return m.Method != nil && !m.ID.IsEmpty()
}

// IsNotification reports whether the message is a notification.
func (m *Message) IsNotification() bool {
	return m.Method != nil && m.ID.IsEmpty()
}

// IsResponse reports whether the message answers a server-initiated request.
func (m *Message) IsResponse() bool {
	return m.Method == nil && !m.ID.IsEmpty()
}

// ParseMessages decodes a request body that may hold a single envelope or a
// batch. Batch order is preserved. The returned messages carry the session.
func ParseMessages(s ISession, data []byte) ([]*Message, error) {
	var messages []*Message
	err := json.Unmarshal(data, &messages)
	if err == nil {
		for _, msg := range messages {
			if msg != nil {
				msg.Session = s
				msg.Timestamp = time.Now()
			}
		}
		return messages, nil
	}

	var singleMessage Message
	err = json.Unmarshal(data, &singleMessage)
	if err != nil {
		return nil, fmt.Errorf("invalid JSON-RPC message (neither batch nor single): %w", err)
	}
	singleMessage.Session = s
	singleMessage.Timestamp = time.Now()
	return []*Message{&singleMessage}, nil
}

// MarshalJSON emits the envelope in its error, result or request form and
// always sets the jsonrpc version field.
func (m *Message) MarshalJSON() ([]byte, error) {
	if m.Error != nil {
		response := JSONRPCErrorResponse{
			JSONRPC: JSONRPCVersion,
			ID:      m.ID,
			Error:   m.Error,
		}
		return json.Marshal(response)
	}
	if m.Result != nil {
		response := JSONRPCResponse{
			JSONRPC: JSONRPCVersion,
			ID:      m.ID,
			Result:  m.Result,
		}
		return json.Marshal(response)
	}
	response := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      m.ID,
		Method:  m.Method,
		Params:  m.Params,
	}
	return json.Marshal(response)
}
