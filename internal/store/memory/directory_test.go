package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gatehouse-dev/gatehouse/internal/models"
	"github.com/gatehouse-dev/gatehouse/internal/store"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newDirectory(t *testing.T) *Directory {
	t.Helper()
	d, err := NewDirectory(testSecret, time.Hour)
	require.NoError(t, err)
	return d
}

func TestNewDirectory(t *testing.T) {
	_, err := NewDirectory([]byte("short"), time.Hour)
	require.Error(t, err)

	_, err = NewDirectory(testSecret, 0)
	require.Error(t, err)
}

func TestCredentials(t *testing.T) {
	t.Run("check authenticates the right password", func(t *testing.T) {
		d := newDirectory(t)
		identity, err := d.CreateIdentity(t.Context())
		require.NoError(t, err)
		require.NoError(t, d.AddCredentials(t.Context(), identity, "ana@example.com", "hunter22", false, nil))

		result, err := d.CheckCredentials(t.Context(), "ana@example.com", "hunter22")
		require.NoError(t, err)
		require.Equal(t, models.AuthAuthenticated, result.Status)
		require.Equal(t, identity, result.Identity)
		require.NotEmpty(t, result.RememberMeToken)
	})

	t.Run("usernames are case-insensitive", func(t *testing.T) {
		d := newDirectory(t)
		identity, err := d.CreateIdentity(t.Context())
		require.NoError(t, err)
		require.NoError(t, d.AddCredentials(t.Context(), identity, "Ana@Example.com", "hunter22", false, nil))

		result, err := d.CheckCredentials(t.Context(), "ana@example.com", "hunter22")
		require.NoError(t, err)
		require.Equal(t, models.AuthAuthenticated, result.Status)
	})

	t.Run("wrong password reads as not found", func(t *testing.T) {
		d := newDirectory(t)
		identity, err := d.CreateIdentity(t.Context())
		require.NoError(t, err)
		require.NoError(t, d.AddCredentials(t.Context(), identity, "ana@example.com", "hunter22", false, nil))

		result, err := d.CheckCredentials(t.Context(), "ana@example.com", "wrong")
		require.NoError(t, err)
		require.Equal(t, models.AuthNotFound, result.Status)
		require.Empty(t, result.Identity)

		missing, err := d.CheckCredentials(t.Context(), "nobody@example.com", "wrong")
		require.NoError(t, err)
		require.Equal(t, result.Status, missing.Status)
	})

	t.Run("a username cannot move to another identity", func(t *testing.T) {
		d := newDirectory(t)
		first, err := d.CreateIdentity(t.Context())
		require.NoError(t, err)
		second, err := d.CreateIdentity(t.Context())
		require.NoError(t, err)

		require.NoError(t, d.AddCredentials(t.Context(), first, "ana@example.com", "hunter22", false, nil))
		err = d.AddCredentials(t.Context(), second, "ana@example.com", "other", false, nil)
		require.ErrorIs(t, err, store.ErrCredentialExists)
	})

	t.Run("replaceExisting drops prior credentials", func(t *testing.T) {
		d := newDirectory(t)
		identity, err := d.CreateIdentity(t.Context())
		require.NoError(t, err)
		require.NoError(t, d.AddCredentials(t.Context(), identity, "old@example.com", "hunter22", false, nil))
		require.NoError(t, d.AddCredentials(t.Context(), identity, "new@example.com", "hunter22", true, nil))

		result, err := d.CheckCredentials(t.Context(), "old@example.com", "hunter22")
		require.NoError(t, err)
		require.Equal(t, models.AuthNotFound, result.Status)

		result, err = d.CheckCredentials(t.Context(), "new@example.com", "hunter22")
		require.NoError(t, err)
		require.Equal(t, models.AuthAuthenticated, result.Status)
	})

	t.Run("unknown identity is rejected", func(t *testing.T) {
		d := newDirectory(t)
		err := d.AddCredentials(t.Context(), "no-such-identity", "ana@example.com", "hunter22", false, nil)
		require.ErrorIs(t, err, store.ErrIdentityNotFound)
	})

	t.Run("purposes carry through to the auth result", func(t *testing.T) {
		d := newDirectory(t)
		identity, err := d.CreateIdentity(t.Context())
		require.NoError(t, err)
		require.NoError(t, d.AddCredentials(t.Context(), identity, "ana@example.com", "hunter22", false, []string{"reset-password"}))

		result, err := d.CheckCredentials(t.Context(), "ana@example.com", "hunter22")
		require.NoError(t, err)
		require.Equal(t, []string{"reset-password"}, result.Purposes)
	})
}

func TestRememberMe(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		d := newDirectory(t)
		identity, err := d.CreateIdentity(t.Context())
		require.NoError(t, err)
		require.NoError(t, d.AddCredentials(t.Context(), identity, "ana@example.com", "hunter22", false, nil))

		result, err := d.CheckCredentials(t.Context(), "ana@example.com", "hunter22")
		require.NoError(t, err)

		renewed, err := d.RememberMe(t.Context(), result.RememberMeToken)
		require.NoError(t, err)
		require.Equal(t, models.AuthAuthenticated, renewed.Status)
		require.Equal(t, identity, renewed.Identity)
	})

	t.Run("garbage token reads as not found", func(t *testing.T) {
		d := newDirectory(t)
		result, err := d.RememberMe(t.Context(), "garbage")
		require.NoError(t, err)
		require.Equal(t, models.AuthNotFound, result.Status)
	})

	t.Run("token for a vanished identity reads as not found", func(t *testing.T) {
		d := newDirectory(t)
		token, err := store.IssueRememberMe(testSecret, "gone", nil, time.Hour)
		require.NoError(t, err)

		result, err := d.RememberMe(t.Context(), token)
		require.NoError(t, err)
		require.Equal(t, models.AuthNotFound, result.Status)
	})
}

func TestFindIdentity(t *testing.T) {
	d := newDirectory(t)
	identity, err := d.CreateIdentity(t.Context())
	require.NoError(t, err)
	require.NoError(t, d.AddCredentials(t.Context(), identity, "ana@example.com", "hunter22", false, nil))

	found, err := d.FindIdentity(t.Context(), "ANA@example.com")
	require.NoError(t, err)
	require.Equal(t, identity, found)

	_, err = d.FindIdentity(t.Context(), "nobody@example.com")
	require.ErrorIs(t, err, store.ErrCredentialNotFound)
}

func TestChangePassword(t *testing.T) {
	d := newDirectory(t)
	identity, err := d.CreateIdentity(t.Context())
	require.NoError(t, err)
	require.NoError(t, d.AddCredentials(t.Context(), identity, "ana@example.com", "old", false, nil))

	require.NoError(t, d.ChangePassword(t.Context(), identity, "new"))

	result, err := d.CheckCredentials(t.Context(), "ana@example.com", "new")
	require.NoError(t, err)
	require.Equal(t, models.AuthAuthenticated, result.Status)

	result, err = d.CheckCredentials(t.Context(), "ana@example.com", "old")
	require.NoError(t, err)
	require.Equal(t, models.AuthNotFound, result.Status)

	require.ErrorIs(t, d.ChangePassword(t.Context(), "no-such-identity", "x"), store.ErrIdentityNotFound)
}

func TestClaims(t *testing.T) {
	d := newDirectory(t)
	identity, err := d.CreateIdentity(t.Context())
	require.NoError(t, err)

	require.NoError(t, d.SetClaim(t.Context(), identity, models.Claim{
		Name: models.ClaimUsername, Value: "ana", Status: models.ClaimVerified,
	}))
	require.NoError(t, d.SetClaim(t.Context(), identity, models.Claim{
		Name: models.ClaimEmail, Value: "ana@example.com", Status: models.ClaimUnverified,
	}))

	claims, err := d.GetClaims(t.Context(), identity)
	require.NoError(t, err)
	require.Len(t, claims, 2)
	// Sorted by name
	require.Equal(t, models.ClaimEmail, claims[0].Name)
	require.Equal(t, models.ClaimUsername, claims[1].Name)

	// Replacing by name
	require.NoError(t, d.SetClaim(t.Context(), identity, models.Claim{
		Name: models.ClaimEmail, Value: "ana@example.com", Status: models.ClaimVerified,
	}))
	claims, err = d.GetClaims(t.Context(), identity)
	require.NoError(t, err)
	require.Equal(t, models.ClaimVerified, claims[0].Status)

	_, err = d.GetClaims(t.Context(), "no-such-identity")
	require.ErrorIs(t, err, store.ErrIdentityNotFound)
}
