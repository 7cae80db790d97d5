package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// AuthorizationType represents different authorization strategies.
type AuthorizationType int

const (
	// AuthorizedUsersOnly requires authentication for all requests.
	AuthorizedUsersOnly AuthorizationType = iota
	// NotAuthorizedToMarkedMethods requires authentication for specific methods.
	NotAuthorizedToMarkedMethods
	// NotAuthorizedEverywhere allows all requests without authentication.
	NotAuthorizedEverywhere
)

func (at AuthorizationType) String() string {
	names := [...]string{"AuthorizedUsersOnly", "NotAuthorizedToMarkedMethods", "NotAuthorizedEverywhere"}
	if at < 0 || int(at) >= len(names) {
		return "Unknown"
	}
	return names[at]
}

// ResponseMode selects how POST /mcp answers requests.
type ResponseMode string

const (
	ResponseModeSSE       ResponseMode = "sse"
	ResponseModeJSON      ResponseMode = "json"
	ResponseModeJSONAsync ResponseMode = "json-async"
)

// RateLimit is a per-method request budget.
type RateLimit struct {
	PerMinute int
	Burst     int
}

// OAuthClient is a registered OAuth 2.1 client.
type OAuthClient struct {
	ID           string
	SecretHash   string // sha256 hex of the client secret, empty for public clients
	RedirectURIs []string
	Scopes       []string
	Public       bool
}

type IConfig interface {
	// Core server settings
	ListenAddr() (string, error)
	ServerName() (string, error)
	ServerVersion() (string, error)
	AuthorizationType() (AuthorizationType, error)
	LogLevel() (string, error)

	// Streamable transport settings
	ResponseMode() (ResponseMode, error)
	StandaloneStreamEnabled() (bool, error)
	RequestTimeout() (time.Duration, error)
	MaxBodyBytes() (int64, error)
	SessionIdleTimeout() (time.Duration, error)

	// Rate limiting; method-specific overrides fall back to the default
	RateLimit(method string) (RateLimit, error)

	// User & auth settings
	GetUserIDByKeyHash(keyHash string) (userID string, err error)
	GetUserScopes(userID string) ([]string, error)
	GetOAuthClient(clientID string) (*OAuthClient, error)

	// SSL settings
	SSLEnabled() (bool, error)
	SSLMode() (string, error)          // "manual" or "acme"
	SSLCertFile() (string, error)      // certificate file path (manual mode)
	SSLKeyFile() (string, error)       // private key file path (manual mode)
	SSLAcmeDomains() ([]string, error) // domains for ACME
	SSLAcmeEmail() (string, error)     // contact email for ACME
	SSLAcmeCacheDir() (string, error)  // ACME certificate cache directory

	// Lifecycle & status
	Status(ctx context.Context) error
	Close() error
}

// HashAPIKey converts a plaintext API key or client secret to its SHA-256
// hex representation. Keys are never stored in the clear.
func HashAPIKey(key string) string {
	if key == "" {
		return ""
	}
	hasher := sha256.New()
	hasher.Write([]byte(key))
	return hex.EncodeToString(hasher.Sum(nil))
}

// Defaults applied when a setting is absent.
const (
	DefaultRequestTimeout     = 30 * time.Second
	DefaultMaxBodyBytes       = int64(4 << 20)
	DefaultSessionIdleTimeout = 5 * time.Minute
	DefaultRatePerMinute      = 100
)
