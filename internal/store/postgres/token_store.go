package postgres

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mr-tron/base58"

	"github.com/gatehouse-dev/gatehouse/internal/models"
)

const defaultTokenTTL = 24 * time.Hour

// TokenStore implements store.TokenStore using PostgreSQL. It shares the
// connection pool with the directory.
type TokenStore struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

// NewTokenStore creates a PostgreSQL-backed token store. A zero ttl applies
// the 24h default.
func NewTokenStore(pool *pgxpool.Pool, ttl time.Duration) *TokenStore {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &TokenStore{
		pool: pool,
		ttl:  ttl,
	}
}

// Create issues a new single-use token.
func (s *TokenStore) Create(ctx context.Context, tokenType, purpose, identity string) (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	value := base58.Encode(raw)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO tokens (token, token_type, purpose, identity_id, expires_at)
		VALUES ($1, $2, $3, $4, NOW() + $5)
	`, value, tokenType, purpose, identity, s.ttl)
	if err != nil {
		return "", mapPostgresError(err)
	}
	return value, nil
}

// Check validates a token string. The first successful check returns
// TokenAllowed and marks the token used; later checks return
// TokenAlreadyUsed until the caller deletes it. The used flag flips in the
// same statement that reads the row, so concurrent checks cannot both win.
func (s *TokenStore) Check(ctx context.Context, value, tokenType string) (*models.Token, error) {
	var (
		token     models.Token
		wasUsed   bool
		expiresAt time.Time
	)
	err := s.pool.QueryRow(ctx, `
		WITH prior AS (
			SELECT token, used FROM tokens
			WHERE token = $1 AND token_type = $2
			FOR UPDATE
		)
		UPDATE tokens SET used = TRUE
		FROM prior
		WHERE tokens.token = prior.token
		RETURNING tokens.token, tokens.token_type, tokens.purpose,
		          tokens.identity_id, prior.used, tokens.created_at,
		          tokens.expires_at
	`, value, tokenType).Scan(&token.Value, &token.Type, &token.Purpose, &token.Identity,
		&wasUsed, &token.CreatedAt, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &models.Token{Value: value, Type: tokenType, Status: models.TokenNotFound}, nil
	}
	if err != nil {
		return nil, mapPostgresError(err)
	}

	token.ExpiresAt = expiresAt
	switch {
	case time.Now().After(expiresAt):
		token.Status = models.TokenExpired
	case wasUsed:
		token.Status = models.TokenAlreadyUsed
	default:
		token.Status = models.TokenAllowed
	}
	return &token, nil
}

// Delete removes a token. Deleting an absent token is not an error.
func (s *TokenStore) Delete(ctx context.Context, value string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM tokens WHERE token = $1
	`, value)
	if err != nil {
		return mapPostgresError(err)
	}
	return nil
}

// Sweep deletes expired tokens and returns how many were removed. Intended
// to run periodically from the server.
func (s *TokenStore) Sweep(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM tokens WHERE expires_at < NOW()
	`)
	if err != nil {
		return 0, mapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
