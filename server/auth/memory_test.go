package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/mcpserve/mcpserve/server/auth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Codes(t *testing.T) {
	store := auth.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	t.Run("ConsumeDeletes", func(t *testing.T) {
		code := auth.NewAuthCode("client", "https://cb", "alice", []string{"tools:read"}, "", time.Minute)
		require.NoError(t, store.PutCode(ctx, code))

		loaded, err := store.ConsumeCode(ctx, code.Code)
		require.NoError(t, err)
		assert.Equal(t, "alice", loaded.UserID)
		assert.Equal(t, []string{"tools:read"}, loaded.Scopes)

		_, err = store.ConsumeCode(ctx, code.Code)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("ExpiredCodeNotReturned", func(t *testing.T) {
		code := auth.NewAuthCode("client", "https://cb", "", nil, "", time.Minute)
		code.ExpiresAt = time.Now().Add(-time.Second)
		require.NoError(t, store.PutCode(ctx, code))

		_, err := store.ConsumeCode(ctx, code.Code)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})
}

func TestMemoryStore_Tokens(t *testing.T) {
	store := auth.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	t.Run("LookupByAccessAndRefresh", func(t *testing.T) {
		token := auth.NewToken("client", "alice", []string{"x"}, time.Hour, true)
		require.NoError(t, store.PutToken(ctx, token))

		byAccess, err := store.GetByAccess(ctx, token.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, token.AccessToken, byAccess.AccessToken)

		byRefresh, err := store.GetByRefresh(ctx, token.RefreshToken)
		require.NoError(t, err)
		assert.Equal(t, token.AccessToken, byRefresh.AccessToken)
	})

	t.Run("ExpiredAccessEvicted", func(t *testing.T) {
		token := auth.NewToken("client", "", nil, time.Hour, false)
		token.ExpiresAt = time.Now().Add(-time.Second)
		require.NoError(t, store.PutToken(ctx, token))

		_, err := store.GetByAccess(ctx, token.AccessToken)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("RotateSwapsAccessToken", func(t *testing.T) {
		token := auth.NewToken("client", "alice", []string{"x"}, time.Hour, true)
		require.NoError(t, store.PutToken(ctx, token))

		replacement := auth.NewToken("client", "alice", []string{"x"}, time.Hour, false)
		require.NoError(t, store.Rotate(ctx, token.RefreshToken, replacement))

		_, err := store.GetByAccess(ctx, token.AccessToken)
		assert.ErrorIs(t, err, auth.ErrNotFound)

		current, err := store.GetByRefresh(ctx, token.RefreshToken)
		require.NoError(t, err)
		assert.Equal(t, replacement.AccessToken, current.AccessToken)
		assert.Equal(t, token.RefreshToken, current.RefreshToken)
	})

	t.Run("RotateUnknownRefresh", func(t *testing.T) {
		replacement := auth.NewToken("client", "", nil, time.Hour, false)
		err := store.Rotate(ctx, "never-issued", replacement)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("RevokeByAccessDropsPair", func(t *testing.T) {
		token := auth.NewToken("client", "", nil, time.Hour, true)
		require.NoError(t, store.PutToken(ctx, token))

		require.NoError(t, store.Revoke(ctx, token.AccessToken))
		_, err := store.GetByAccess(ctx, token.AccessToken)
		assert.ErrorIs(t, err, auth.ErrNotFound)
		_, err = store.GetByRefresh(ctx, token.RefreshToken)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("RevokeByRefreshDropsPair", func(t *testing.T) {
		token := auth.NewToken("client", "", nil, time.Hour, true)
		require.NoError(t, store.PutToken(ctx, token))

		require.NoError(t, store.Revoke(ctx, token.RefreshToken))
		_, err := store.GetByAccess(ctx, token.AccessToken)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("RevokeUnknownIsSilent", func(t *testing.T) {
		assert.NoError(t, store.Revoke(ctx, "never-issued"))
	})

	t.Run("StoredCopyIsIsolated", func(t *testing.T) {
		token := auth.NewToken("client", "", []string{"a"}, time.Hour, false)
		require.NoError(t, store.PutToken(ctx, token))
		token.Scopes[0] = "mutated"

		loaded, err := store.GetByAccess(ctx, token.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, loaded.Scopes)
	})
}
