package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const rememberMeIssuer = "gatehouse"

var ErrRememberMeInvalid = errors.New("remember-me token invalid")

type rememberMeClaims struct {
	Purposes []string `json:"purposes,omitempty"`
	jwt.RegisteredClaims
}

// IssueRememberMe creates a signed remember-me token for an identity.
// The token is an HMAC-signed JWT so directory implementations can validate
// it without a lookup; revocation happens by the identity disappearing from
// the directory.
func IssueRememberMe(secret []byte, identity string, purposes []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &rememberMeClaims{
		Purposes: purposes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity,
			Issuer:    rememberMeIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign remember-me token: %w", err)
	}
	return signed, nil
}

// VerifyRememberMe validates a remember-me token and returns the identity
// and purposes it was issued for. Returns ErrRememberMeInvalid for any
// malformed, mis-signed or expired token.
func VerifyRememberMe(secret []byte, value string) (string, []string, error) {
	var claims rememberMeClaims
	_, err := jwt.ParseWithClaims(value, &claims,
		func(t *jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(rememberMeIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrRememberMeInvalid, err)
	}
	if claims.Subject == "" {
		return "", nil, ErrRememberMeInvalid
	}
	return claims.Subject, claims.Purposes, nil
}
