package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates no code or token was found for the given value.
	ErrNotFound = errors.New("auth record not found")
)

// Default lifetimes for issued credentials.
const (
	DefaultCodeTTL  = 10 * time.Minute
	DefaultTokenTTL = time.Hour
)

// AuthCode is a single-use authorization code bound to the client, redirect
// URI and optional PKCE challenge it was issued for.
type AuthCode struct {
	Code          string    `json:"code"`
	ClientID      string    `json:"client_id"`
	RedirectURI   string    `json:"redirect_uri"`
	Scopes        []string  `json:"scopes,omitempty"`
	CodeChallenge string    `json:"code_challenge,omitempty"` // S256, empty without PKCE
	UserID        string    `json:"user_id,omitempty"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Token is an issued access token with its optional refresh token.
// Tokens are opaque UUIDs; validation never inspects their structure.
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ClientID     string    `json:"client_id"`
	UserID       string    `json:"user_id,omitempty"`
	Scopes       []string  `json:"scopes,omitempty"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the access token is past its lifetime.
func (t *Token) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}

// NewToken issues a fresh token pair for the client.
func NewToken(clientID, userID string, scopes []string, ttl time.Duration, withRefresh bool) *Token {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := time.Now()
	t := &Token{
		AccessToken: uuid.New().String(),
		ClientID:    clientID,
		UserID:      userID,
		Scopes:      append([]string(nil), scopes...),
		IssuedAt:    now,
		ExpiresAt:   now.Add(ttl),
	}
	if withRefresh {
		t.RefreshToken = uuid.New().String()
	}
	return t
}

// NewAuthCode issues a single-use authorization code.
func NewAuthCode(clientID, redirectURI, userID string, scopes []string, codeChallenge string, ttl time.Duration) *AuthCode {
	if ttl <= 0 {
		ttl = DefaultCodeTTL
	}
	return &AuthCode{
		Code:          uuid.New().String(),
		ClientID:      clientID,
		RedirectURI:   redirectURI,
		Scopes:        append([]string(nil), scopes...),
		CodeChallenge: codeChallenge,
		UserID:        userID,
		ExpiresAt:     time.Now().Add(ttl),
	}
}

// Store persists authorization codes and tokens. Implementations must be
// safe for concurrent use. A Redis-backed implementation is recommended for
// deployments with more than one process.
type Store interface {
	// PutCode stores an authorization code until it expires or is consumed.
	PutCode(ctx context.Context, code *AuthCode) error

	// ConsumeCode atomically retrieves and deletes a code. Returns
	// ErrNotFound for unknown, already-used or expired codes.
	ConsumeCode(ctx context.Context, code string) (*AuthCode, error)

	// PutToken stores a token, indexed by access and refresh values.
	PutToken(ctx context.Context, token *Token) error

	// GetByAccess retrieves a token by its access value. Expired tokens
	// are reported via ErrNotFound.
	GetByAccess(ctx context.Context, accessToken string) (*Token, error)

	// GetByRefresh retrieves a token by its refresh value. The refresh
	// value outlives the access token's expiry.
	GetByRefresh(ctx context.Context, refreshToken string) (*Token, error)

	// Rotate replaces the access token behind a refresh token, preserving
	// the refresh value and scopes.
	Rotate(ctx context.Context, refreshToken string, newToken *Token) error

	// Revoke deletes the token matching the value as either access or
	// refresh token. Unknown values are not an error.
	Revoke(ctx context.Context, tokenValue string) error

	// Close releases store resources.
	Close() error
}
