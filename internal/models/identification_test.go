package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNeedsRenewal(t *testing.T) {
	tests := []struct {
		name  string
		ident Identification
		want  bool
	}{
		{"fresh session", Identification{}, true},
		{"anonymous", Identification{IsAnonymous: true}, false},
		{"signed in", Identification{Identity: "u-1"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.ident.NeedsRenewal())
		})
	}
}

func TestAllowsPurpose(t *testing.T) {
	unrestricted := Identification{Identity: "u-1"}
	require.True(t, unrestricted.AllowsPurpose("change-password"))

	restricted := Identification{Identity: "u-1", Purposes: []string{"reset-password"}}
	require.True(t, restricted.AllowsPurpose("reset-password"))
	require.False(t, restricted.AllowsPurpose("change-password"))
}

func TestClaimLookup(t *testing.T) {
	ident := Identification{
		Claims: []Claim{
			{Name: ClaimEmail, Value: "ana@example.com", Status: ClaimVerified},
		},
	}

	claim, ok := ident.Claim(ClaimEmail)
	require.True(t, ok)
	require.Equal(t, "ana@example.com", claim.Value)

	_, ok = ident.Claim(ClaimUsername)
	require.False(t, ok)
}
