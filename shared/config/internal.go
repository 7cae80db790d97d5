package config

import (
	"context"
	"sync"
	"time"
)

var _ IConfig = (*InternalConfig)(nil)

// InternalConfig implements IConfig with in-memory storage. It is the
// implementation tests and embedded servers use.
type InternalConfig struct {
	mu                     sync.RWMutex
	ServerAddress          string
	ServerNameValue        string
	ServerVersionValue     string
	AuthorizationTypeValue AuthorizationType
	LogLevelValue          string

	ResponseModeValue       ResponseMode
	StandaloneStreamValue   bool
	RequestTimeoutValue     time.Duration
	MaxBodyBytesValue       int64
	SessionIdleTimeoutValue time.Duration

	DefaultRateLimit RateLimit
	MethodRateLimits map[string]RateLimit

	UserKeyHashes map[string]string   // keyHash -> userID
	UserScopes    map[string][]string // userID -> scopes
	OAuthClients  map[string]*OAuthClient

	SSLEnabledValue bool
	SSLModeValue    string
	SSLCertFileVal  string
	SSLKeyFileVal   string
	AcmeDomains     []string
	AcmeEmail       string
	AcmeCacheDir    string
}

// NewInternalConfig creates a new in-memory configuration with defaults.
func NewInternalConfig() *InternalConfig {
	return &InternalConfig{
		ServerAddress:          ":8080",
		ServerNameValue:        "Unknown",
		ServerVersionValue:     "0.0.0",
		AuthorizationTypeValue: NotAuthorizedEverywhere,
		LogLevelValue:          "info",

		ResponseModeValue:       ResponseModeSSE,
		StandaloneStreamValue:   true,
		RequestTimeoutValue:     DefaultRequestTimeout,
		MaxBodyBytesValue:       DefaultMaxBodyBytes,
		SessionIdleTimeoutValue: DefaultSessionIdleTimeout,

		DefaultRateLimit: RateLimit{PerMinute: DefaultRatePerMinute, Burst: DefaultRatePerMinute},
		MethodRateLimits: make(map[string]RateLimit),

		UserKeyHashes: make(map[string]string),
		UserScopes:    make(map[string][]string),
		OAuthClients:  make(map[string]*OAuthClient),
	}
}

func (c *InternalConfig) ListenAddr() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ServerAddress, nil
}

func (c *InternalConfig) SetListenAddr(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ServerAddress = addr
}

func (c *InternalConfig) AuthorizationType() (AuthorizationType, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.AuthorizationTypeValue, nil
}

func (c *InternalConfig) SetAuthorizationType(at AuthorizationType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.AuthorizationTypeValue = at
}

func (c *InternalConfig) ServerName() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ServerNameValue, nil
}

func (c *InternalConfig) ServerVersion() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ServerVersionValue, nil
}

func (c *InternalConfig) LogLevel() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.LogLevelValue, nil
}

func (c *InternalConfig) ResponseMode() (ResponseMode, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ResponseModeValue, nil
}

func (c *InternalConfig) SetResponseMode(mode ResponseMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ResponseModeValue = mode
}

func (c *InternalConfig) StandaloneStreamEnabled() (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.StandaloneStreamValue, nil
}

func (c *InternalConfig) SetStandaloneStreamEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.StandaloneStreamValue = enabled
}

func (c *InternalConfig) RequestTimeout() (time.Duration, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.RequestTimeoutValue, nil
}

func (c *InternalConfig) SetRequestTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.RequestTimeoutValue = d
}

func (c *InternalConfig) MaxBodyBytes() (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MaxBodyBytesValue, nil
}

func (c *InternalConfig) SessionIdleTimeout() (time.Duration, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.SessionIdleTimeoutValue, nil
}

func (c *InternalConfig) RateLimit(method string) (RateLimit, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if rl, ok := c.MethodRateLimits[method]; ok {
		return rl, nil
	}
	return c.DefaultRateLimit, nil
}

func (c *InternalConfig) SetRateLimit(method string, rl RateLimit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.MethodRateLimits[method] = rl
}

func (c *InternalConfig) GetUserIDByKeyHash(keyHash string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if keyHash == "" {
		return "", nil
	}
	return c.UserKeyHashes[keyHash], nil
}

func (c *InternalConfig) SetUserKeyHash(keyHash, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.UserKeyHashes[keyHash] = userID
}

func (c *InternalConfig) GetUserScopes(userID string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	scopes, exists := c.UserScopes[userID]
	if !exists {
		return []string{}, nil
	}
	scopesCopy := make([]string, len(scopes))
	copy(scopesCopy, scopes)
	return scopesCopy, nil
}

func (c *InternalConfig) SetUserScopes(userID string, scopes []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	scopesCopy := make([]string, len(scopes))
	copy(scopesCopy, scopes)
	c.UserScopes[userID] = scopesCopy
}

func (c *InternalConfig) GetOAuthClient(clientID string) (*OAuthClient, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	client, exists := c.OAuthClients[clientID]
	if !exists {
		return nil, ErrNotFound
	}
	clientCopy := *client
	return &clientCopy, nil
}

func (c *InternalConfig) SetOAuthClient(client *OAuthClient) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.OAuthClients[client.ID] = client
}

func (c *InternalConfig) SSLEnabled() (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.SSLEnabledValue, nil
}

func (c *InternalConfig) SSLMode() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.SSLModeValue == "" {
		return "manual", nil
	}
	return c.SSLModeValue, nil
}

func (c *InternalConfig) SSLCertFile() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.SSLCertFileVal, nil
}

func (c *InternalConfig) SSLKeyFile() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.SSLKeyFileVal, nil
}

func (c *InternalConfig) SSLAcmeDomains() ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.AcmeDomains...), nil
}

func (c *InternalConfig) SSLAcmeEmail() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.AcmeEmail, nil
}

func (c *InternalConfig) SSLAcmeCacheDir() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.AcmeCacheDir, nil
}

func (c *InternalConfig) Close() error {
	return nil
}

func (c *InternalConfig) Status(ctx context.Context) error {
	return nil
}
