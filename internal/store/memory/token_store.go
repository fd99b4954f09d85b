package memory

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/mr-tron/base58"

	"github.com/gatehouse-dev/gatehouse/internal/models"
)

const defaultTokenTTL = 24 * time.Hour

// TokenStore implements store.TokenStore using in-memory storage.
// This implementation is for testing and development only.
type TokenStore struct {
	mu     sync.Mutex
	ttl    time.Duration
	tokens map[string]*models.Token
}

// NewTokenStore creates a new in-memory token store. A zero ttl applies the
// 24h default.
func NewTokenStore(ttl time.Duration) *TokenStore {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &TokenStore{
		ttl:    ttl,
		tokens: make(map[string]*models.Token),
	}
}

// Create issues a new single-use token.
func (s *TokenStore) Create(ctx context.Context, tokenType, purpose, identity string) (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	value := base58.Encode(raw)

	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[value] = &models.Token{
		Value:     value,
		Type:      tokenType,
		Purpose:   purpose,
		Identity:  identity,
		Status:    models.TokenAllowed,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	return value, nil
}

// Check validates a token string. The first successful check returns
// TokenAllowed and marks the token used; later checks return
// TokenAlreadyUsed until the caller deletes it.
func (s *TokenStore) Check(ctx context.Context, value, tokenType string) (*models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, exists := s.tokens[value]
	if !exists || token.Type != tokenType {
		return &models.Token{Value: value, Type: tokenType, Status: models.TokenNotFound}, nil
	}

	clone := *token
	switch {
	case time.Now().After(token.ExpiresAt):
		clone.Status = models.TokenExpired
	case token.Status == models.TokenAlreadyUsed:
		clone.Status = models.TokenAlreadyUsed
	default:
		token.Status = models.TokenAlreadyUsed
		clone.Status = models.TokenAllowed
	}
	return &clone, nil
}

// Delete removes a token. Deleting an absent token is not an error.
func (s *TokenStore) Delete(ctx context.Context, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tokens, value)
	return nil
}
