package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/gatehouse-dev/gatehouse/internal/models"
	"github.com/gatehouse-dev/gatehouse/internal/store"
)

// Directory implements store.Directory using PostgreSQL.
type Directory struct {
	pool *pgxpool.Pool

	rememberMeSecret []byte
	rememberMeTTL    time.Duration
}

// NewDirectory creates a PostgreSQL-backed identity directory. It owns the
// connection pool; share it with other stores via Pool. The secret signs
// remember-me tokens and must be at least 32 bytes.
func NewDirectory(ctx context.Context, cfg *PoolConfig, rememberMeSecret []byte, rememberMeTTL time.Duration) (*Directory, error) {
	if len(rememberMeSecret) < 32 {
		return nil, fmt.Errorf("remember-me secret must be at least 32 bytes")
	}
	if rememberMeTTL <= 0 {
		return nil, fmt.Errorf("remember-me TTL must be greater than 0")
	}

	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &Directory{
		pool:             pool,
		rememberMeSecret: rememberMeSecret,
		rememberMeTTL:    rememberMeTTL,
	}, nil
}

// Pool returns the underlying connection pool for sharing with other stores.
func (d *Directory) Pool() *pgxpool.Pool {
	return d.pool
}

// Close closes the connection pool.
func (d *Directory) Close() {
	d.pool.Close()
}

// CreateIdentity mints a new identity.
func (d *Directory) CreateIdentity(ctx context.Context) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate identity id: %w", err)
	}

	_, err = d.pool.Exec(ctx, `
		INSERT INTO identities (identity_id) VALUES ($1)
	`, id.String())
	if err != nil {
		return "", mapPostgresError(err)
	}
	return id.String(), nil
}

// AddCredentials attaches a username+password credential to an identity.
func (d *Directory) AddCredentials(ctx context.Context, identity, username, password string, replaceExisting bool, purposes []string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if purposes == nil {
		purposes = []string{}
	}

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return mapPostgresError(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback is safe to call after commit

	var exists bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM identities WHERE identity_id = $1)
	`, identity).Scan(&exists)
	if err != nil {
		return mapPostgresError(err)
	}
	if !exists {
		return store.ErrIdentityNotFound
	}

	if replaceExisting {
		_, err = tx.Exec(ctx, `
			DELETE FROM credentials WHERE identity_id = $1
		`, identity)
		if err != nil {
			return mapPostgresError(err)
		}
	}

	// The WHERE clause on the upsert keeps a username owned by another
	// identity untouched; zero rows then means the name is taken.
	tag, err := tx.Exec(ctx, `
		INSERT INTO credentials (username, identity_id, password_hash, purposes)
		VALUES (LOWER($1), $2, $3, $4)
		ON CONFLICT (username) DO UPDATE
		SET password_hash = EXCLUDED.password_hash,
		    purposes = EXCLUDED.purposes,
		    updated_at = NOW()
		WHERE credentials.identity_id = EXCLUDED.identity_id
	`, username, identity, hash, purposes)
	if err != nil {
		return mapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrCredentialExists
	}

	if err := tx.Commit(ctx); err != nil {
		return mapPostgresError(err)
	}
	return nil
}

// CheckCredentials authenticates a username+password pair.
func (d *Directory) CheckCredentials(ctx context.Context, username, password string) (*models.AuthResult, error) {
	var (
		identity string
		hash     []byte
		purposes []string
	)
	err := d.pool.QueryRow(ctx, `
		SELECT identity_id, password_hash, purposes
		FROM credentials
		WHERE username = LOWER($1)
	`, username).Scan(&identity, &hash, &purposes)
	if errors.Is(err, pgx.ErrNoRows) {
		return &models.AuthResult{Status: models.AuthNotFound}, nil
	}
	if err != nil {
		return nil, mapPostgresError(err)
	}

	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		// Wrong password is indistinguishable from a missing account
		return &models.AuthResult{Status: models.AuthNotFound}, nil
	}

	token, err := store.IssueRememberMe(d.rememberMeSecret, identity, purposes, d.rememberMeTTL)
	if err != nil {
		return nil, err
	}

	return &models.AuthResult{
		Identity:        identity,
		Status:          models.AuthAuthenticated,
		Purposes:        purposes,
		RememberMeToken: token,
	}, nil
}

// RememberMe silently re-authenticates the identity carried by a
// remember-me token.
func (d *Directory) RememberMe(ctx context.Context, token string) (*models.AuthResult, error) {
	identity, purposes, err := store.VerifyRememberMe(d.rememberMeSecret, token)
	if err != nil {
		return &models.AuthResult{Status: models.AuthNotFound}, nil
	}

	var exists bool
	err = d.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM identities WHERE identity_id = $1)
	`, identity).Scan(&exists)
	if err != nil {
		return nil, mapPostgresError(err)
	}
	if !exists {
		return &models.AuthResult{Status: models.AuthNotFound}, nil
	}

	return &models.AuthResult{
		Identity:        identity,
		Status:          models.AuthAuthenticated,
		Purposes:        purposes,
		RememberMeToken: token,
	}, nil
}

// FindIdentity resolves a username to an identity id.
func (d *Directory) FindIdentity(ctx context.Context, username string) (string, error) {
	var identity string
	err := d.pool.QueryRow(ctx, `
		SELECT identity_id FROM credentials WHERE username = LOWER($1)
	`, username).Scan(&identity)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", store.ErrCredentialNotFound
	}
	if err != nil {
		return "", mapPostgresError(err)
	}
	return identity, nil
}

// ChangePassword replaces the password on all credentials of an identity.
func (d *Directory) ChangePassword(ctx context.Context, identity, newPassword string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	tag, err := d.pool.Exec(ctx, `
		UPDATE credentials SET password_hash = $2, updated_at = NOW()
		WHERE identity_id = $1
	`, identity, hash)
	if err != nil {
		return mapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrIdentityNotFound
	}
	return nil
}

// GetClaims returns all claims attached to an identity.
func (d *Directory) GetClaims(ctx context.Context, identity string) ([]models.Claim, error) {
	var exists bool
	err := d.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM identities WHERE identity_id = $1)
	`, identity).Scan(&exists)
	if err != nil {
		return nil, mapPostgresError(err)
	}
	if !exists {
		return nil, store.ErrIdentityNotFound
	}

	rows, err := d.pool.Query(ctx, `
		SELECT name, value, status FROM claims
		WHERE identity_id = $1
		ORDER BY name
	`, identity)
	if err != nil {
		return nil, mapPostgresError(err)
	}
	defer rows.Close()

	var claims []models.Claim
	for rows.Next() {
		var (
			c      models.Claim
			status string
		)
		if err := rows.Scan(&c.Name, &c.Value, &status); err != nil {
			return nil, mapPostgresError(err)
		}
		c.Status = models.ClaimStatus(status)
		claims = append(claims, c)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPostgresError(err)
	}
	return claims, nil
}

// SetClaim creates or replaces a claim by name.
func (d *Directory) SetClaim(ctx context.Context, identity string, claim models.Claim) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO claims (identity_id, name, value, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (identity_id, name) DO UPDATE
		SET value = EXCLUDED.value,
		    status = EXCLUDED.status,
		    updated_at = NOW()
	`, identity, claim.Name, claim.Value, string(claim.Status))
	if err != nil {
		return mapPostgresError(err)
	}
	return nil
}
