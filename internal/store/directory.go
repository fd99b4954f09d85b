package store

import (
	"context"
	"errors"

	"github.com/gatehouse-dev/gatehouse/internal/models"
)

// Sentinel errors for directory operations
var (
	ErrIdentityNotFound   = errors.New("identity not found")
	ErrCredentialNotFound = errors.New("credential not found")
	ErrCredentialExists   = errors.New("credential already exists")
)

// Directory is the credential and identity directory. It authenticates
// email+password pairs, creates identities, manages claims and their
// verification status, and issues/validates remember-me tokens.
type Directory interface {
	// CreateIdentity mints a new identity and returns its identifier.
	CreateIdentity(ctx context.Context) (string, error)

	// AddCredentials attaches a username+password credential to an
	// identity. When replaceExisting is true any prior credentials for the
	// identity are removed first. A non-empty purposes list creates a
	// restricted credential only usable for the listed actions.
	// Returns ErrCredentialExists if the username belongs to another
	// identity.
	AddCredentials(ctx context.Context, identity, username, password string, replaceExisting bool, purposes []string) error

	// CheckCredentials authenticates a username+password pair. The result
	// status is AuthNotFound for an unknown username or wrong password; a
	// password is never distinguished from a missing account.
	CheckCredentials(ctx context.Context, username, password string) (*models.AuthResult, error)

	// RememberMe validates a remember-me token previously issued by
	// CheckCredentials and silently re-authenticates its identity.
	RememberMe(ctx context.Context, token string) (*models.AuthResult, error)

	// FindIdentity resolves a username (email) to an identity id.
	// Returns ErrCredentialNotFound if no such credential exists.
	FindIdentity(ctx context.Context, username string) (string, error)

	// ChangePassword replaces the password on all credentials of an
	// identity. Returns ErrIdentityNotFound if the identity is unknown.
	ChangePassword(ctx context.Context, identity, newPassword string) error

	// GetClaims returns all claims attached to an identity.
	GetClaims(ctx context.Context, identity string) ([]models.Claim, error)

	// SetClaim creates or replaces a claim by name.
	SetClaim(ctx context.Context, identity string, claim models.Claim) error
}
