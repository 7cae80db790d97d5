package auth

import (
	"context"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu        sync.Mutex
	codes     map[string]*AuthCode
	byAccess  map[string]*Token
	byRefresh map[string]*Token
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		codes:     make(map[string]*AuthCode),
		byAccess:  make(map[string]*Token),
		byRefresh: make(map[string]*Token),
	}
}

func (s *MemoryStore) PutCode(_ context.Context, code *AuthCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code.Code] = cloneCode(code)
	return nil
}

func (s *MemoryStore) ConsumeCode(_ context.Context, code string) (*AuthCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[code]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.codes, code)
	if time.Now().After(c.ExpiresAt) {
		return nil, ErrNotFound
	}
	return cloneCode(c), nil
}

func (s *MemoryStore) PutToken(_ context.Context, token *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := cloneToken(token)
	s.byAccess[t.AccessToken] = t
	if t.RefreshToken != "" {
		s.byRefresh[t.RefreshToken] = t
	}
	return nil
}

func (s *MemoryStore) GetByAccess(_ context.Context, accessToken string) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byAccess[accessToken]
	if !ok {
		return nil, ErrNotFound
	}
	if t.Expired(time.Now()) {
		delete(s.byAccess, accessToken)
		return nil, ErrNotFound
	}
	return cloneToken(t), nil
}

func (s *MemoryStore) GetByRefresh(_ context.Context, refreshToken string) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byRefresh[refreshToken]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneToken(t), nil
}

func (s *MemoryStore) Rotate(_ context.Context, refreshToken string, newToken *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.byRefresh[refreshToken]
	if !ok {
		return ErrNotFound
	}
	delete(s.byAccess, old.AccessToken)

	t := cloneToken(newToken)
	t.RefreshToken = refreshToken
	s.byAccess[t.AccessToken] = t
	s.byRefresh[refreshToken] = t
	return nil
}

func (s *MemoryStore) Revoke(_ context.Context, tokenValue string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.byAccess[tokenValue]; ok {
		delete(s.byAccess, tokenValue)
		if t.RefreshToken != "" {
			delete(s.byRefresh, t.RefreshToken)
		}
		return nil
	}
	if t, ok := s.byRefresh[tokenValue]; ok {
		delete(s.byRefresh, tokenValue)
		delete(s.byAccess, t.AccessToken)
	}
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func cloneCode(c *AuthCode) *AuthCode {
	if c == nil {
		return nil
	}
	dup := *c
	if c.Scopes != nil {
		dup.Scopes = append([]string(nil), c.Scopes...)
	}
	return &dup
}

func cloneToken(t *Token) *Token {
	if t == nil {
		return nil
	}
	dup := *t
	if t.Scopes != nil {
		dup.Scopes = append([]string(nil), t.Scopes...)
	}
	return &dup
}
