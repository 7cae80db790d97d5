package auth

import (
	"context"
	"errors"
	"time"

	"github.com/mcpserve/mcpserve/shared"
)

// TokenValidator resolves a bearer token to the identity it represents.
// The store-backed implementation handles the opaque tokens this package
// issues; embedders can substitute JWT or JWKS verification.
type TokenValidator interface {
	Validate(ctx context.Context, bearerToken string) (*Token, error)
}

var _ TokenValidator = (*StoreValidator)(nil)

// StoreValidator validates opaque access tokens against the token store.
type StoreValidator struct {
	store Store
}

// NewStoreValidator creates a validator backed by the given store.
func NewStoreValidator(store Store) *StoreValidator {
	return &StoreValidator{store: store}
}

func (v *StoreValidator) Validate(ctx context.Context, bearerToken string) (*Token, error) {
	if bearerToken == "" {
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorAuthenticationRequired, Message: "missing bearer token"}
	}
	token, err := v.store.GetByAccess(ctx, bearerToken)
	if errors.Is(err, ErrNotFound) {
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorInvalidToken, Message: "invalid access token"}
	}
	if err != nil {
		return nil, shared.NewError(shared.JSONRPCErrorStorageError, "failed to load access token")
	}
	if token.Expired(time.Now()) {
		return nil, &shared.JSONRPCError{Code: shared.JSONRPCErrorTokenExpired, Message: "access token expired"}
	}
	return token, nil
}
