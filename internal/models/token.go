package models

import "time"

// TokenStatus is the result of validating a one-time token.
type TokenStatus string

const (
	TokenAllowed     TokenStatus = "allowed"
	TokenExpired     TokenStatus = "expired"
	TokenNotFound    TokenStatus = "not_found"
	TokenAlreadyUsed TokenStatus = "already_used"
)

// Token types issued by the identity service.
const (
	TokenTypeResetPassword = "reset-password"
	TokenTypeVerifyEmail   = "verify-email"
	TokenTypeRevertEmail   = "revert-email"
)

// Token is a single-use, purpose-scoped token backing the emailed
// password-reset, verify-email and revert-email links. A successful
// validation is immediately followed by deletion by the caller.
type Token struct {
	Value    string // opaque token string carried in the link
	Type     string // one of the TokenType constants
	Purpose  string // the subject the token is scoped to, usually an email address
	Identity string // the identity the token was issued for

	Status TokenStatus

	CreatedAt time.Time
	ExpiresAt time.Time
}
