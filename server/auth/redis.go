package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

var _ Store = (*RedisStore)(nil)

// RedisStore is a durable Store backed by Redis. Access tokens expire via
// key TTLs; refresh tokens live until revoked or rotated away.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "mcp:auth:"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) keyCode(code string) string     { return s.prefix + "code:" + code }
func (s *RedisStore) keyAccess(token string) string  { return s.prefix + "access:" + token }
func (s *RedisStore) keyRefresh(token string) string { return s.prefix + "refresh:" + token }

func (s *RedisStore) PutCode(ctx context.Context, code *AuthCode) error {
	data, err := json.Marshal(code)
	if err != nil {
		return err
	}
	ttl := time.Until(code.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	return s.rdb.Set(ctx, s.keyCode(code.Code), data, ttl).Err()
}

func (s *RedisStore) ConsumeCode(ctx context.Context, code string) (*AuthCode, error) {
	raw, err := s.rdb.GetDel(ctx, s.keyCode(code)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, err
	}
	c := &AuthCode{}
	if err := json.Unmarshal(raw, c); err != nil {
		return nil, err
	}
	if time.Now().After(c.ExpiresAt) {
		return nil, ErrNotFound
	}
	return c, nil
}

func (s *RedisStore) PutToken(ctx context.Context, token *Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return err
	}
	accessTTL := time.Until(token.ExpiresAt)
	if accessTTL <= 0 {
		accessTTL = time.Second
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.keyAccess(token.AccessToken), data, accessTTL)
	if token.RefreshToken != "" {
		// Refresh entries carry no TTL; they die on revoke.
		pipe.Set(ctx, s.keyRefresh(token.RefreshToken), data, 0)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) getToken(ctx context.Context, key string) (*Token, error) {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, err
	}
	t := &Token{}
	if err := json.Unmarshal(raw, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *RedisStore) GetByAccess(ctx context.Context, accessToken string) (*Token, error) {
	t, err := s.getToken(ctx, s.keyAccess(accessToken))
	if err != nil {
		return nil, err
	}
	if t.Expired(time.Now()) {
		_ = s.rdb.Del(ctx, s.keyAccess(accessToken)).Err()
		return nil, ErrNotFound
	}
	return t, nil
}

func (s *RedisStore) GetByRefresh(ctx context.Context, refreshToken string) (*Token, error) {
	return s.getToken(ctx, s.keyRefresh(refreshToken))
}

func (s *RedisStore) Rotate(ctx context.Context, refreshToken string, newToken *Token) error {
	old, err := s.GetByRefresh(ctx, refreshToken)
	if err != nil {
		return err
	}

	t := *newToken
	t.RefreshToken = refreshToken
	data, err := json.Marshal(&t)
	if err != nil {
		return err
	}
	accessTTL := time.Until(t.ExpiresAt)
	if accessTTL <= 0 {
		accessTTL = time.Second
	}

	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, s.keyAccess(old.AccessToken))
	pipe.Set(ctx, s.keyAccess(t.AccessToken), data, accessTTL)
	pipe.Set(ctx, s.keyRefresh(refreshToken), data, 0)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Revoke(ctx context.Context, tokenValue string) error {
	if t, err := s.getToken(ctx, s.keyAccess(tokenValue)); err == nil {
		pipe := s.rdb.TxPipeline()
		pipe.Del(ctx, s.keyAccess(tokenValue))
		if t.RefreshToken != "" {
			pipe.Del(ctx, s.keyRefresh(t.RefreshToken))
		}
		_, err := pipe.Exec(ctx)
		return err
	} else if err != ErrNotFound {
		return err
	}

	if t, err := s.getToken(ctx, s.keyRefresh(tokenValue)); err == nil {
		pipe := s.rdb.TxPipeline()
		pipe.Del(ctx, s.keyRefresh(tokenValue))
		pipe.Del(ctx, s.keyAccess(t.AccessToken))
		_, err := pipe.Exec(ctx)
		return err
	} else if err != ErrNotFound {
		return err
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// String returns a diagnostic representation of the store config.
func (s *RedisStore) String() string {
	return fmt.Sprintf("RedisStore{prefix=%s}", s.prefix)
}
