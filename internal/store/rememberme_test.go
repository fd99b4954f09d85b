package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func TestRememberMeTokens(t *testing.T) {
	t.Run("round trip carries identity and purposes", func(t *testing.T) {
		token, err := IssueRememberMe(testSecret, "u-1", []string{"reset-password"}, time.Hour)
		require.NoError(t, err)

		identity, purposes, err := VerifyRememberMe(testSecret, token)
		require.NoError(t, err)
		require.Equal(t, "u-1", identity)
		require.Equal(t, []string{"reset-password"}, purposes)
	})

	t.Run("rejects the wrong secret", func(t *testing.T) {
		token, err := IssueRememberMe(testSecret, "u-1", nil, time.Hour)
		require.NoError(t, err)

		_, _, err = VerifyRememberMe([]byte("ffffffffffffffffffffffffffffffff"), token)
		require.ErrorIs(t, err, ErrRememberMeInvalid)
	})

	t.Run("rejects expired tokens", func(t *testing.T) {
		token, err := IssueRememberMe(testSecret, "u-1", nil, -time.Minute)
		require.NoError(t, err)

		_, _, err = VerifyRememberMe(testSecret, token)
		require.ErrorIs(t, err, ErrRememberMeInvalid)
	})

	t.Run("rejects garbage", func(t *testing.T) {
		_, _, err := VerifyRememberMe(testSecret, "not-a-token")
		require.ErrorIs(t, err, ErrRememberMeInvalid)
	})
}
