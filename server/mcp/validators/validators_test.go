package validators_test

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/mcpserve/mcpserve/server/events"
	"github.com/mcpserve/mcpserve/server/mcp"
	"github.com/mcpserve/mcpserve/server/mcp/validators"
	"github.com/mcpserve/mcpserve/shared"
	"github.com/mcpserve/mcpserve/shared/config"
	"github.com/mcpserve/mcpserve/shared/mcp/2025/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSession(t *testing.T, cfg *config.InternalConfig, userID string) shared.ISession {
	t.Helper()
	bus := events.NewBus()
	manager, err := mcp.NewManager(zap.NewNop(), cfg, bus)
	require.NoError(t, err)
	t.Cleanup(func() {
		manager.CloseAllSessions()
		bus.Close()
	})
	return manager.CreateSession(userID, nil)
}

func requestMsg(session shared.ISession, id interface{}, method string, params string) *shared.Message {
	msg := &shared.Message{Session: session}
	if id != nil {
		msg.ID = &schema.RequestID{Value: id}
	}
	if method != "" {
		msg.Method = &method
	}
	if params != "" {
		raw := json.RawMessage(params)
		msg.Params = &raw
	}
	return msg
}

func rpcError(t *testing.T, err error) *shared.JSONRPCError {
	t.Helper()
	require.Error(t, err)
	rpcErr, ok := err.(*shared.JSONRPCError)
	require.True(t, ok, "expected *shared.JSONRPCError, got %T", err)
	return rpcErr
}

func TestMethodValidator(t *testing.T) {
	v := validators.NewMethodValidator()

	t.Run("KnownMethodPasses", func(t *testing.T) {
		assert.NoError(t, v.Validate(requestMsg(nil, 1, "ping", "")))
		assert.NoError(t, v.Validate(requestMsg(nil, 2, "tools/call", "")))
		assert.NoError(t, v.Validate(requestMsg(nil, nil, "notifications/initialized", "")))
	})

	t.Run("UnknownMethodRejected", func(t *testing.T) {
		err := v.Validate(requestMsg(nil, 1, "tools/uninstall", ""))
		rpcErr := rpcError(t, err)
		assert.Equal(t, shared.JSONRPCErrorMethodNotFound, rpcErr.Code)
		assert.Contains(t, rpcErr.Message, "tools/uninstall")
	})

	t.Run("AddMethodExtendsTheTable", func(t *testing.T) {
		require.Error(t, v.Validate(requestMsg(nil, 1, "auth/token", "")))
		v.AddMethod("auth/token", "auth/revoke")
		assert.NoError(t, v.Validate(requestMsg(nil, 1, "auth/token", "")))
		assert.NoError(t, v.Validate(requestMsg(nil, 2, "auth/revoke", "")))
	})

	t.Run("ResponsePasses", func(t *testing.T) {
		assert.NoError(t, v.Validate(requestMsg(nil, 7, "", "")))
	})

	t.Run("NeitherMethodNorIDRejected", func(t *testing.T) {
		err := v.Validate(&shared.Message{})
		rpcErr := rpcError(t, err)
		assert.Equal(t, shared.JSONRPCErrorInvalidRequest, rpcErr.Code)
	})
}

func TestMessageSizeValidator(t *testing.T) {
	v := validators.NewMessageSizeValidator(64)

	t.Run("SmallParamsPass", func(t *testing.T) {
		assert.NoError(t, v.Validate(requestMsg(nil, 1, "ping", `{"a":1}`)))
	})

	t.Run("NoParamsPass", func(t *testing.T) {
		assert.NoError(t, v.Validate(requestMsg(nil, 1, "ping", "")))
	})

	t.Run("OversizedParamsRejected", func(t *testing.T) {
		big := `{"blob":"` + strings.Repeat("x", 100) + `"}`
		err := v.Validate(requestMsg(nil, 1, "ping", big))
		rpcErr := rpcError(t, err)
		assert.Equal(t, shared.JSONRPCErrorRequestTooLarge, rpcErr.Code)
	})

	t.Run("SetMaxSizeTakesEffect", func(t *testing.T) {
		v.SetMaxSize(1024)
		ok := `{"blob":"` + strings.Repeat("x", 100) + `"}`
		assert.NoError(t, v.Validate(requestMsg(nil, 1, "ping", ok)))
		v.SetMaxSize(64)
	})

	t.Run("AbsurdRequestIDRejected", func(t *testing.T) {
		err := v.Validate(requestMsg(nil, strings.Repeat("z", 300), "ping", ""))
		rpcErr := rpcError(t, err)
		assert.Equal(t, shared.JSONRPCErrorProtocolViolation, rpcErr.Code)
	})
}

func TestScopeValidator_OpenServer(t *testing.T) {
	cfg := config.NewInternalConfig()
	cfg.SetAuthorizationType(config.NotAuthorizedEverywhere)
	v := validators.NewScopeValidator(cfg, zap.NewNop())
	session := newTestSession(t, cfg, "")

	assert.NoError(t, v.Validate(requestMsg(session, 1, "tools/call", "")))
	assert.NoError(t, v.Validate(requestMsg(session, 2, "resources/read", "")))
}

func TestScopeValidator_AuthorizedUsersOnly(t *testing.T) {
	cfg := config.NewInternalConfig()
	cfg.SetAuthorizationType(config.AuthorizedUsersOnly)
	cfg.SetUserScopes("alice", []string{"tools:read"})
	cfg.SetUserScopes("root", []string{"*"})
	v := validators.NewScopeValidator(cfg, zap.NewNop())

	t.Run("AnonymousRejected", func(t *testing.T) {
		session := newTestSession(t, cfg, "")
		err := v.Validate(requestMsg(session, 1, "tools/list", ""))
		rpcErr := rpcError(t, err)
		assert.Equal(t, shared.JSONRPCErrorUnauthorized, rpcErr.Code)
	})

	t.Run("LifecycleMethodsStayOpen", func(t *testing.T) {
		session := newTestSession(t, cfg, "")
		assert.NoError(t, v.Validate(requestMsg(session, 1, "initialize", "")))
		assert.NoError(t, v.Validate(requestMsg(session, 2, "ping", "")))
		assert.NoError(t, v.Validate(requestMsg(session, nil, "notifications/initialized", "")))
	})

	t.Run("GrantedScopePasses", func(t *testing.T) {
		session := newTestSession(t, cfg, "alice")
		assert.NoError(t, v.Validate(requestMsg(session, 1, "tools/list", "")))
	})

	t.Run("MissingScopeRejected", func(t *testing.T) {
		session := newTestSession(t, cfg, "alice")
		err := v.Validate(requestMsg(session, 1, "tools/call", ""))
		rpcErr := rpcError(t, err)
		assert.Equal(t, shared.JSONRPCErrorInsufficientPermissions, rpcErr.Code)
		assert.Contains(t, rpcErr.Message, "tools:execute")
	})

	t.Run("WildcardScopeGrantsEverything", func(t *testing.T) {
		session := newTestSession(t, cfg, "root")
		assert.NoError(t, v.Validate(requestMsg(session, 1, "tools/call", "")))
		assert.NoError(t, v.Validate(requestMsg(session, 2, "resources/subscribe", "")))
	})

	t.Run("TokenScopesOverrideConfiguredScopes", func(t *testing.T) {
		session := newTestSession(t, cfg, "alice")
		session.GetParams().Store(validators.SessionScopesParamKey, []string{"tools:execute"})

		assert.NoError(t, v.Validate(requestMsg(session, 1, "tools/call", "")))
		err := v.Validate(requestMsg(session, 2, "tools/list", ""))
		rpcErr := rpcError(t, err)
		assert.Equal(t, shared.JSONRPCErrorInsufficientPermissions, rpcErr.Code)
	})
}

func TestScopeValidator_MarkedMethodsOnly(t *testing.T) {
	cfg := config.NewInternalConfig()
	cfg.SetAuthorizationType(config.NotAuthorizedToMarkedMethods)
	v := validators.NewScopeValidator(cfg, zap.NewNop())
	session := newTestSession(t, cfg, "")

	// Methods without a scope mapping stay open to anonymous sessions.
	assert.NoError(t, v.Validate(requestMsg(session, 1, "logging/setLevel", "")))
	assert.NoError(t, v.Validate(requestMsg(session, 2, "completion/complete", "")))

	err := v.Validate(requestMsg(session, 3, "tools/call", ""))
	rpcErr := rpcError(t, err)
	assert.Equal(t, shared.JSONRPCErrorUnauthorized, rpcErr.Code)
}

func TestRequiredScope(t *testing.T) {
	scope, ok := validators.RequiredScope("tools/call")
	require.True(t, ok)
	assert.Equal(t, "tools:execute", scope)

	_, ok = validators.RequiredScope("ping")
	assert.False(t, ok)
}

func TestThrottling(t *testing.T) {
	cfg := config.NewInternalConfig()
	cfg.SetRateLimit("tools/call", config.RateLimit{PerMinute: 60, Burst: 2})
	v := validators.NewThrottling(cfg)
	session := newTestSession(t, cfg, "alice")

	t.Run("BurstThenRejected", func(t *testing.T) {
		assert.NoError(t, v.Validate(requestMsg(session, 1, "tools/call", "")))
		assert.NoError(t, v.Validate(requestMsg(session, 2, "tools/call", "")))

		err := v.Validate(requestMsg(session, 3, "tools/call", ""))
		rpcErr := rpcError(t, err)
		assert.Equal(t, shared.JSONRPCErrorRateLimited, rpcErr.Code)
	})

	t.Run("OtherMethodsKeepTheirOwnBudget", func(t *testing.T) {
		assert.NoError(t, v.Validate(requestMsg(session, 4, "ping", "")))
	})

	t.Run("NotificationsNeverThrottled", func(t *testing.T) {
		for i := 0; i < 10; i++ {
			assert.NoError(t, v.Validate(requestMsg(session, nil, "notifications/ping", "")))
		}
	})

	t.Run("FreshSessionHasFreshBudget", func(t *testing.T) {
		other := newTestSession(t, cfg, "bob")
		assert.NoError(t, v.Validate(requestMsg(other, 1, "tools/call", "")))
	})
}

func TestThrottling_LimitersLiveInSessionParams(t *testing.T) {
	cfg := config.NewInternalConfig()
	v := validators.NewThrottling(cfg)
	session := newTestSession(t, cfg, "alice")

	require.NoError(t, v.Validate(requestMsg(session, 1, "ping", "")))

	stored, ok := session.GetParams().Load(validators.LimitersParamKey)
	require.True(t, ok)
	_, ok = stored.(*sync.Map)
	assert.True(t, ok)
}

func TestCreateDefaultValidators(t *testing.T) {
	cfg := config.NewInternalConfig()
	chain := validators.CreateDefaultValidators(cfg, zap.NewNop())
	require.Len(t, chain, 4)

	// The chain as a whole rejects unknown methods.
	msg := requestMsg(nil, 1, "no/such/method", "")
	var failed bool
	for _, validator := range chain {
		if err := validator.Validate(msg); err != nil {
			failed = true
			break
		}
	}
	assert.True(t, failed)
}
