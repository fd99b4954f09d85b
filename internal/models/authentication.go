package models

// AuthStatus is the outcome of checking credentials or a remember-me token
// against the identity directory.
type AuthStatus string

const (
	AuthAuthenticated AuthStatus = "authenticated"
	AuthNotFound      AuthStatus = "not_found"
	AuthAnonymous     AuthStatus = "anonymous"
	AuthUnsupported   AuthStatus = "unsupported"
)

// AuthResult is returned by the identity directory for sign-in and
// remember-me checks.
type AuthResult struct {
	Identity string
	Status   AuthStatus

	// Purposes restricts what the authentication may be used for. Empty
	// means unrestricted.
	Purposes []string

	// RememberMeToken allows silent re-authentication without a password.
	// Only set when Status is AuthAuthenticated.
	RememberMeToken string
}
