package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/gatehouse-dev/gatehouse/internal/models"
	"github.com/gatehouse-dev/gatehouse/internal/store"
)

// Directory implements store.Directory using in-memory storage.
// This implementation is for testing and development only - data is lost on
// restart.
type Directory struct {
	mu sync.RWMutex

	rememberMeSecret []byte
	rememberMeTTL    time.Duration

	identities  map[string]struct{}              // identity_id -> exists
	credentials map[string]*credential           // username -> credential
	claims      map[string]map[string]models.Claim // identity_id -> claim name -> claim
}

type credential struct {
	identity     string
	passwordHash []byte
	purposes     []string
}

// NewDirectory creates a new in-memory identity directory. The secret signs
// remember-me tokens and must be at least 32 bytes.
func NewDirectory(rememberMeSecret []byte, rememberMeTTL time.Duration) (*Directory, error) {
	if len(rememberMeSecret) < 32 {
		return nil, fmt.Errorf("remember-me secret must be at least 32 bytes")
	}
	if rememberMeTTL <= 0 {
		return nil, fmt.Errorf("remember-me TTL must be greater than 0")
	}

	return &Directory{
		rememberMeSecret: rememberMeSecret,
		rememberMeTTL:    rememberMeTTL,
		identities:       make(map[string]struct{}),
		credentials:      make(map[string]*credential),
		claims:           make(map[string]map[string]models.Claim),
	}, nil
}

// CreateIdentity mints a new identity.
func (d *Directory) CreateIdentity(ctx context.Context) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate identity id: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.identities[id.String()] = struct{}{}
	return id.String(), nil
}

// AddCredentials attaches a username+password credential to an identity.
func (d *Directory) AddCredentials(ctx context.Context, identity, username, password string, replaceExisting bool, purposes []string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	username = strings.ToLower(username)

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.identities[identity]; !exists {
		return store.ErrIdentityNotFound
	}

	if existing, exists := d.credentials[username]; exists && existing.identity != identity {
		return store.ErrCredentialExists
	}

	if replaceExisting {
		for name, cred := range d.credentials {
			if cred.identity == identity {
				delete(d.credentials, name)
			}
		}
	}

	d.credentials[username] = &credential{
		identity:     identity,
		passwordHash: hash,
		purposes:     slices.Clone(purposes),
	}
	return nil
}

// CheckCredentials authenticates a username+password pair.
func (d *Directory) CheckCredentials(ctx context.Context, username, password string) (*models.AuthResult, error) {
	d.mu.RLock()
	cred, exists := d.credentials[strings.ToLower(username)]
	d.mu.RUnlock()

	if !exists {
		return &models.AuthResult{Status: models.AuthNotFound}, nil
	}

	if err := bcrypt.CompareHashAndPassword(cred.passwordHash, []byte(password)); err != nil {
		// Wrong password is indistinguishable from a missing account
		return &models.AuthResult{Status: models.AuthNotFound}, nil
	}

	token, err := store.IssueRememberMe(d.rememberMeSecret, cred.identity, cred.purposes, d.rememberMeTTL)
	if err != nil {
		return nil, err
	}

	return &models.AuthResult{
		Identity:        cred.identity,
		Status:          models.AuthAuthenticated,
		Purposes:        slices.Clone(cred.purposes),
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

	d.mu.RLock()
	_, exists := d.identities[identity]
	d.mu.RUnlock()

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
	d.mu.RLock()
	defer d.mu.RUnlock()

	cred, exists := d.credentials[strings.ToLower(username)]
	if !exists {
		return "", store.ErrCredentialNotFound
	}
	return cred.identity, nil
}

// ChangePassword replaces the password on all credentials of an identity.
func (d *Directory) ChangePassword(ctx context.Context, identity, newPassword string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	found := false
	for _, cred := range d.credentials {
		if cred.identity == identity {
			cred.passwordHash = hash
			found = true
		}
	}
	if !found {
		return store.ErrIdentityNotFound
	}
	return nil
}

// GetClaims returns all claims attached to an identity.
func (d *Directory) GetClaims(ctx context.Context, identity string) ([]models.Claim, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if _, exists := d.identities[identity]; !exists {
		return nil, store.ErrIdentityNotFound
	}

	byName := d.claims[identity]
	claims := make([]models.Claim, 0, len(byName))
	for _, c := range byName {
		claims = append(claims, c)
	}
	slices.SortFunc(claims, func(a, b models.Claim) int {
		return strings.Compare(a.Name, b.Name)
	})
	return claims, nil
}

// SetClaim creates or replaces a claim by name.
func (d *Directory) SetClaim(ctx context.Context, identity string, claim models.Claim) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.identities[identity]; !exists {
		return store.ErrIdentityNotFound
	}

	byName, exists := d.claims[identity]
	if !exists {
		byName = make(map[string]models.Claim)
		d.claims[identity] = byName
	}
	byName[claim.Name] = claim
	return nil
}
