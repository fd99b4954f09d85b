package store

import (
	"context"
	"errors"

	"github.com/gatehouse-dev/gatehouse/internal/models"
)

// Sentinel errors for token store operations
var (
	ErrTokenNotFound = errors.New("token not found")
)

// TokenStore issues, validates and deletes the single-use tokens embedded in
// emailed password-reset, verify-email and revert-email links.
type TokenStore interface {
	// Create issues a new token of the given type, scoped to purpose
	// (usually an email address) and identity, and returns its opaque
	// string value.
	Create(ctx context.Context, tokenType, purpose, identity string) (string, error)

	// Check validates a token string against the expected type. The
	// returned token carries its Status: TokenAllowed on first successful
	// check, TokenAlreadyUsed on any later check, TokenExpired or
	// TokenNotFound otherwise. Callers must Delete the token after acting
	// on a TokenAllowed result.
	Check(ctx context.Context, value, tokenType string) (*models.Token, error)

	// Delete removes a token. Deleting an absent token is not an error.
	Delete(ctx context.Context, value string) error
}
