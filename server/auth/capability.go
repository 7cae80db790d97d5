package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mcpserve/mcpserve/shared"
	"github.com/mcpserve/mcpserve/shared/config"

	schema "github.com/mcpserve/mcpserve/shared/mcp/2025/schema"
	"go.uber.org/zap"
)

var _ shared.IServerCapability = (*Capability)(nil)

// Capability serves the OAuth 2.1 methods: auth/authorize, auth/token,
// auth/refresh and auth/revoke.
type Capability struct {
	logger   *zap.Logger
	cfg      config.IConfig
	store    Store
	tokenTTL time.Duration
	codeTTL  time.Duration
	handlers map[string]func(*shared.Message) (interface{}, error)
}

// NewCapability creates the OAuth capability backed by the given store.
func NewCapability(logger *zap.Logger, cfg config.IConfig, store Store) *Capability {
	c := &Capability{
		logger:   logger,
		cfg:      cfg,
		store:    store,
		tokenTTL: DefaultTokenTTL,
		codeTTL:  DefaultCodeTTL,
	}
	c.handlers = map[string]func(*shared.Message) (interface{}, error){
		"auth/authorize": c.handleAuthorize,
		"auth/token":     c.handleToken,
		"auth/refresh":   c.handleRefresh,
		"auth/revoke":    c.handleRevoke,
	}
	return c
}

func (c *Capability) GetHandlers() map[string]func(*shared.Message) (interface{}, error) {
	return c.handlers
}

// SetCapabilities is a no-op: auth methods are not part of the negotiated
// capability set.
func (c *Capability) SetCapabilities(s *schema.ServerCapabilities) {
}

// Methods lists the JSON-RPC methods this capability serves, for validator
// registration.
func (c *Capability) Methods() []string {
	methods := make([]string, 0, len(c.handlers))
	for method := range c.handlers {
		methods = append(methods, method)
	}
	return methods
}

// Store exposes the backing token store, used by the bearer middleware.
func (c *Capability) Store() Store {
	return c.store
}

func splitScopes(scope string) []string {
	if scope == "" {
		return nil
	}
	return strings.Fields(scope)
}

func scopesAllowed(requested, allowed []string) bool {
	for _, r := range requested {
		found := false
		for _, a := range allowed {
			if r == a || a == "*" {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (c *Capability) lookupClient(clientID string) (*config.OAuthClient, error) {
	if clientID == "" {
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidClient, Message: "missing client_id"}
	}
	client, err := c.cfg.GetOAuthClient(clientID)
	if errors.Is(err, config.ErrNotFound) {
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidClient, Message: fmt.Sprintf("unknown client: %s", clientID)}
	}
	if err != nil {
		return nil, shared.NewJSONRPCError(err)
	}
	return client, nil
}

// authenticateClient checks the client secret for confidential clients.
// Public clients have no secret and must use PKCE on the code grant.
func authenticateClient(client *config.OAuthClient, secret string) error {
	if client.Public {
		return nil
	}
	if secret == "" {
		return &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidClient, Message: "client secret required"}
	}
	secretHash := config.HashAPIKey(secret)
	if subtle.ConstantTimeCompare([]byte(secretHash), []byte(client.SecretHash)) != 1 {
		return &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidClient, Message: "invalid client secret"}
	}
	return nil
}

func redirectRegistered(client *config.OAuthClient, redirectURI string) bool {
	for _, uri := range client.RedirectURIs {
		if uri == redirectURI {
			return true
		}
	}
	return false
}

// verifyPKCE checks a code_verifier against the stored S256 challenge.
func verifyPKCE(challenge, verifier string) bool {
	if verifier == "" {
		return false
	}
	sum := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

type authorizeParams struct {
	ClientID            string `json:"client_id"`
	RedirectURI         string `json:"redirect_uri"`
	Scope               string `json:"scope,omitempty"`
	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`
	UserID              string `json:"user_id,omitempty"`
}

// handleAuthorize issues a single-use authorization code.
func (c *Capability) handleAuthorize(msg *shared.Message) (interface{}, error) {
	logger := c.logger.With(zap.String("sessionID", msg.Session.GetID()), zap.String("method", "auth/authorize"))

	var params authorizeParams
	if msg.Params == nil {
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: "invalid request: missing params"}
	}
	if err := json.Unmarshal(*msg.Params, &params); err != nil {
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: fmt.Sprintf("invalid parameters: %v", err)}
	}

	client, err := c.lookupClient(params.ClientID)
	if err != nil {
		return nil, err
	}
	if params.RedirectURI == "" || !redirectRegistered(client, params.RedirectURI) {
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: "redirect_uri not registered for client"}
	}
	if params.CodeChallenge != "" && params.CodeChallengeMethod != "S256" {
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: "only code_challenge_method S256 is supported"}
	}
	if client.Public && params.CodeChallenge == "" {
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: "public clients must use PKCE"}
	}

	scopes := splitScopes(params.Scope)
	if !scopesAllowed(scopes, client.Scopes) {
		return nil, &shared.JSONRPCError{
			Code:    shared.JSONRPCErrorInsufficientPermissions,
			Message: "requested scope exceeds client registration",
		}
	}

	code := NewAuthCode(params.ClientID, params.RedirectURI, params.UserID, scopes, params.CodeChallenge, c.codeTTL)
	if err := c.store.PutCode(context.Background(), code); err != nil {
		logger.Error("Failed to store authorization code", zap.Error(err))
		return nil, shared.NewError(shared.JSONRPCErrorStorageError, "failed to store authorization code")
	}

	logger.Info("Issued authorization code", zap.String("clientID", params.ClientID))
	return map[string]interface{}{
		"code":       code.Code,
		"expires_in": int(time.Until(code.ExpiresAt).Seconds()),
	}, nil
}

type tokenParams struct {
	GrantType    string `json:"grant_type"`
	Code         string `json:"code,omitempty"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret,omitempty"`
	RedirectURI  string `json:"redirect_uri,omitempty"`
	CodeVerifier string `json:"code_verifier,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// handleToken serves the three grant types of auth/token.
func (c *Capability) handleToken(msg *shared.Message) (interface{}, error) {
	var params tokenParams
	if msg.Params == nil {
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: "invalid request: missing params"}
	}
	if err := json.Unmarshal(*msg.Params, &params); err != nil {
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: fmt.Sprintf("invalid parameters: %v", err)}
	}

	switch params.GrantType {
	case "authorization_code":
		return c.grantAuthorizationCode(msg, &params)
	case "client_credentials":
		return c.grantClientCredentials(msg, &params)
	case "refresh_token":
		return c.grantRefreshToken(msg, &params)
	default:
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: fmt.Sprintf("unsupported grant_type: %s", params.GrantType)}
	}
}

func tokenResponse(t *Token) map[string]interface{} {
	resp := map[string]interface{}{
		"access_token": t.AccessToken,
		"token_type":   "Bearer",
		"expires_in":   int(time.Until(t.ExpiresAt).Seconds()),
	}
	if t.RefreshToken != "" {
		resp["refresh_token"] = t.RefreshToken
	}
	if len(t.Scopes) > 0 {
		resp["scope"] = strings.Join(t.Scopes, " ")
	}
	return resp
}

func (c *Capability) grantAuthorizationCode(msg *shared.Message, params *tokenParams) (interface{}, error) {
	logger := c.logger.With(zap.String("sessionID", msg.Session.GetID()), zap.String("grant", "authorization_code"))

	client, err := c.lookupClient(params.ClientID)
	if err != nil {
		return nil, err
	}
	if err := authenticateClient(client, params.ClientSecret); err != nil {
		return nil, err
	}

	code, err := c.store.ConsumeCode(context.Background(), params.Code)
	if errors.Is(err, ErrNotFound) {
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidToken, Message: "invalid or expired authorization code"}
	}
	if err != nil {
		logger.Error("Failed to consume authorization code", zap.Error(err))
		return nil, shared.NewError(shared.JSONRPCErrorStorageError, "failed to load authorization code")
	}

	if code.ClientID != params.ClientID || code.RedirectURI != params.RedirectURI {
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidToken, Message: "authorization code does not match client"}
	}
	if code.CodeChallenge != "" && !verifyPKCE(code.CodeChallenge, params.CodeVerifier) {
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidToken, Message: "PKCE verification failed"}
	}

	token := NewToken(params.ClientID, code.UserID, code.Scopes, c.tokenTTL, true)
	if err := c.store.PutToken(context.Background(), token); err != nil {
		logger.Error("Failed to store token", zap.Error(err))
		return nil, shared.NewError(shared.JSONRPCErrorStorageError, "failed to store token")
	}

	logger.Info("Issued token pair", zap.String("clientID", params.ClientID))
	return tokenResponse(token), nil
}

func (c *Capability) grantClientCredentials(msg *shared.Message, params *tokenParams) (interface{}, error) {
	logger := c.logger.With(zap.String("sessionID", msg.Session.GetID()), zap.String("grant", "client_credentials"))

	client, err := c.lookupClient(params.ClientID)
	if err != nil {
		return nil, err
	}
	if client.Public {
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidClient, Message: "public clients cannot use client_credentials"}
	}
	if err := authenticateClient(client, params.ClientSecret); err != nil {
		return nil, err
	}

	scopes := splitScopes(params.Scope)
	if len(scopes) == 0 {
		scopes = client.Scopes
	} else if !scopesAllowed(scopes, client.Scopes) {
		return nil, &shared.JSONRPCError{
			Code:    shared.JSONRPCErrorInsufficientPermissions,
			Message: "requested scope exceeds client registration",
		}
	}

	token := NewToken(params.ClientID, "", scopes, c.tokenTTL, false)
	if err := c.store.PutToken(context.Background(), token); err != nil {
		logger.Error("Failed to store token", zap.Error(err))
		return nil, shared.NewError(shared.JSONRPCErrorStorageError, "failed to store token")
	}

	logger.Info("Issued client credentials token", zap.String("clientID", params.ClientID))
	return tokenResponse(token), nil
}

func (c *Capability) grantRefreshToken(msg *shared.Message, params *tokenParams) (interface{}, error) {
	logger := c.logger.With(zap.String("sessionID", msg.Session.GetID()), zap.String("grant", "refresh_token"))

	if params.RefreshToken == "" {
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: "missing refresh_token"}
	}

	old, err := c.store.GetByRefresh(context.Background(), params.RefreshToken)
	if errors.Is(err, ErrNotFound) {
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidToken, Message: "invalid refresh token"}
	}
	if err != nil {
		logger.Error("Failed to load refresh token", zap.Error(err))
		return nil, shared.NewError(shared.JSONRPCErrorStorageError, "failed to load refresh token")
	}
	if params.ClientID != "" && params.ClientID != old.ClientID {
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidToken, Message: "refresh token does not match client"}
	}

	// Scopes and the refresh value survive rotation; only the access token
	// changes.
	rotated := NewToken(old.ClientID, old.UserID, old.Scopes, c.tokenTTL, false)
	rotated.RefreshToken = params.RefreshToken
	if err := c.store.Rotate(context.Background(), params.RefreshToken, rotated); err != nil {
		logger.Error("Failed to rotate token", zap.Error(err))
		return nil, shared.NewError(shared.JSONRPCErrorStorageError, "failed to rotate token")
	}

	logger.Info("Rotated access token", zap.String("clientID", old.ClientID))
	return tokenResponse(rotated), nil
}

// handleRefresh is a convenience alias for the refresh_token grant.
func (c *Capability) handleRefresh(msg *shared.Message) (interface{}, error) {
	var params tokenParams
	if msg.Params == nil {
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: "invalid request: missing params"}
	}
	if err := json.Unmarshal(*msg.Params, &params); err != nil {
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: fmt.Sprintf("invalid parameters: %v", err)}
	}
	return c.grantRefreshToken(msg, &params)
}

// handleRevoke removes the matching access or refresh token. The response
// never reveals whether the token existed.
func (c *Capability) handleRevoke(msg *shared.Message) (interface{}, error) {
	logger := c.logger.With(zap.String("sessionID", msg.Session.GetID()), zap.String("method", "auth/revoke"))

	var params struct {
		Token string `json:"token"`
	}
	if msg.Params == nil {
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: "invalid request: missing params"}
	}
	if err := json.Unmarshal(*msg.Params, &params); err != nil || params.Token == "" {
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidParams, Message: "missing token"}
	}

	if err := c.store.Revoke(context.Background(), params.Token); err != nil {
		logger.Error("Failed to revoke token", zap.Error(err))
	}
	return map[string]interface{}{"revoked": true}, nil
}
