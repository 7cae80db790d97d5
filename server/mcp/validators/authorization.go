package validators

import (
	"fmt"

	"github.com/mcpserve/mcpserve/shared"
	"github.com/mcpserve/mcpserve/shared/config"
	"go.uber.org/zap"
)

// methodScopes maps protocol methods to the scope required to call them.
// Methods absent from the table need no scope beyond authentication.
var methodScopes = map[string]string{
	"tools/call":               "tools:execute",
	"tools/list":               "tools:read",
	"resources/read":           "resources:read",
	"resources/list":           "resources:read",
	"resources/templates/list": "resources:read",
	"resources/subscribe":      "resources:read",
	"resources/unsubscribe":    "resources:read",
	"prompts/get":              "prompts:read",
	"prompts/list":             "prompts:read",
}

// lifecycle methods stay reachable for unauthenticated sessions even under
// AuthorizedUsersOnly, otherwise the handshake cannot complete.
var openMethods = map[string]bool{
	"initialize":                true,
	"ping":                      true,
	"health/check":              true,
	"notifications/initialized": true,
	"notifications/ping":        true,
}

// SessionScopesParamKey is the session parameter under which the transport
// stores scopes granted by a bearer token. When present they take precedence
// over the user's configured scopes.
const SessionScopesParamKey = "auth_token_scopes"

// ScopeValidator enforces authentication and per-method scopes.
type ScopeValidator struct {
	cfg    config.IConfig
	logger *zap.Logger
}

// NewScopeValidator creates a new scope validator.
func NewScopeValidator(cfg config.IConfig, logger *zap.Logger) *ScopeValidator {
	return &ScopeValidator{cfg: cfg, logger: logger}
}

// RequiredScope reports the scope a method needs, if any.
func RequiredScope(method string) (string, bool) {
	scope, ok := methodScopes[method]
	return scope, ok
}

func hasScope(scopes []string, required string) bool {
	for _, scope := range scopes {
		if scope == required || scope == "*" {
			return true
		}
	}
	return false
}

// Validate implements the MessageValidator interface.
func (v *ScopeValidator) Validate(msg *shared.Message) error {
	if msg.Session == nil || msg.Method == nil {
		return nil
	}
	method := *msg.Method

	authType, err := v.cfg.AuthorizationType()
	if err != nil {
		return shared.NewJSONRPCError(err)
	}
	if authType == config.NotAuthorizedEverywhere {
		return nil
	}

	_, scoped := methodScopes[method]
	if authType == config.NotAuthorizedToMarkedMethods && !scoped {
		return nil
	}
	if openMethods[method] {
		return nil
	}

	var userID string
	if withUser, ok := msg.Session.(interface{ GetUserID() string }); ok {
		userID = withUser.GetUserID()
	}
	if userID == "" {
		return &shared.JSONRPCError{
			Code:    shared.JSONRPCErrorUnauthorized,
			Message: fmt.Sprintf("authentication required for method %s", method),
		}
	}
	if !scoped {
		return nil
	}

	required := methodScopes[method]
	scopes, err := v.sessionScopes(msg.Session, userID)
	if err != nil {
		v.logger.Error("Failed to load user scopes",
			zap.String("userID", userID), zap.Error(err))
		return shared.NewJSONRPCError(err)
	}
	if !hasScope(scopes, required) {
		return &shared.JSONRPCError{
			Code:    shared.JSONRPCErrorInsufficientPermissions,
			Message: fmt.Sprintf("scope %s required for method %s", required, method),
		}
	}
	return nil
}

// sessionScopes returns the scopes granted by the session's bearer token,
// falling back to the user's configured scopes.
func (v *ScopeValidator) sessionScopes(session shared.ISession, userID string) ([]string, error) {
	if params := session.GetParams(); params != nil {
		if stored, ok := params.Load(SessionScopesParamKey); ok {
			if scopes, ok := stored.([]string); ok {
				return scopes, nil
			}
		}
	}
	return v.cfg.GetUserScopes(userID)
}
