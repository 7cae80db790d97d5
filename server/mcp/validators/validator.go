package validators

import (
	"github.com/mcpserve/mcpserve/shared"
	"github.com/mcpserve/mcpserve/shared/config"
	"go.uber.org/zap"
)

// CreateDefaultValidators returns the standard validator chain. Order
// matters: structural checks run before rate limiting so malformed traffic
// never consumes budget.
func CreateDefaultValidators(cfg config.IConfig, logger *zap.Logger) []shared.MessageValidator {
	maxBody, err := cfg.MaxBodyBytes()
	if err != nil || maxBody <= 0 {
		maxBody = config.DefaultMaxBodyBytes
	}
	return []shared.MessageValidator{
		NewMethodValidator(),
		NewMessageSizeValidator(maxBody),
		NewScopeValidator(cfg, logger),
		NewThrottling(cfg),
	}
}
