package shared

import "github.com/mcpserve/mcpserve/shared/mcp/2025/schema"

type ICapability interface {
	GetHandlers() map[string]func(*Message) (interface{}, error)
}

type IServerCapability interface {
	SetCapabilities(s *schema.ServerCapabilities)
}

type IClientCapability interface {
	SetCapabilities(s *schema.ClientCapabilities)
}
