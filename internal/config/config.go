// Package config holds the reconfigurable surface of the identity
// subsystem: cookie names, endpoint paths, page URLs, form field names and
// durations.
//
// Configuration is modelled as an immutable snapshot swapped atomically
// behind a Store; handlers read exactly one snapshot per request so a
// background reload can never tear a request's view.
package config

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values. Every field of Config falls back to one of these when
// left empty.
const (
	DefaultSessionCookieName    = "gatehouse-session"
	DefaultRememberMeCookieName = "gatehouse-remember-me"

	DefaultSessionCookieMaxAge = 24 * time.Hour
	DefaultSessionDuration     = 7 * 24 * time.Hour
	DefaultRememberMeDuration  = 30 * 24 * time.Hour
	DefaultTokenLifetime       = 24 * time.Hour

	DefaultSessionCategory = "session"

	DefaultSecureProtocol = "https"

	DefaultSignupPath            = "/signup"
	DefaultSigninPath            = "/signin"
	DefaultSignoutPath           = "/signout"
	DefaultChangePasswordPath    = "/change-password"
	DefaultSendPasswordResetPath = "/send-password-reset"
	DefaultResetPasswordPath     = "/reset-password"
	DefaultChangeEmailPath       = "/change-email"
	DefaultVerifyEmailPath       = "/verify-email"
	DefaultRevertEmailPath       = "/revert-email"
	DefaultRenewSessionPath      = "/renew-session"
	DefaultUpdateIdentityPath    = "/update-identity"

	DefaultSigninPage  = "/signin"
	DefaultLandingPage = "/"

	DefaultEmailField       = "email"
	DefaultPasswordField    = "password"
	DefaultNewPasswordField = "new-password"
	DefaultNewEmailField    = "new-email"
	DefaultRememberMeField  = "remember-me"
	DefaultTokenField       = "token"
)

// Duration is a time.Duration that unmarshals from YAML strings like "24h".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Pages are the redirect targets of the account flows. An empty success or
// fail page means "redirect back to the originating URL". Landing is the
// fallback for ill-configured flows.
type Pages struct {
	Signup            PagePair `yaml:"signup"`
	Signin            PagePair `yaml:"signin"`
	Signout           PagePair `yaml:"signout"`
	ChangePassword    PagePair `yaml:"change_password"`
	SendPasswordReset PagePair `yaml:"send_password_reset"`
	ResetPassword     PagePair `yaml:"reset_password"`
	ChangeEmail       PagePair `yaml:"change_email"`
	VerifyEmail       PagePair `yaml:"verify_email"`
	RevertEmail       PagePair `yaml:"revert_email"`

	// SigninPage is where a request that requires a signed-in user is sent
	// when renewal fails.
	SigninPage string `yaml:"signin_page"`

	// Landing is the documentation/landing page used when a flow has
	// neither a success nor a fail page configured.
	Landing string `yaml:"landing"`
}

// PagePair is the success/fail redirect targets of one account flow.
type PagePair struct {
	Success string `yaml:"success"`
	Fail    string `yaml:"fail"`
}

// Paths are the endpoint paths of the identity service.
type Paths struct {
	Signup            string `yaml:"signup"`
	Signin            string `yaml:"signin"`
	Signout           string `yaml:"signout"`
	ChangePassword    string `yaml:"change_password"`
	SendPasswordReset string `yaml:"send_password_reset"`
	ResetPassword     string `yaml:"reset_password"`
	ChangeEmail       string `yaml:"change_email"`
	VerifyEmail       string `yaml:"verify_email"`
	RevertEmail       string `yaml:"revert_email"`
	RenewSession      string `yaml:"renew_session"`
	UpdateIdentity    string `yaml:"update_identity"`
}

// Fields are the form field names read by the account handlers.
type Fields struct {
	Email       string `yaml:"email"`
	Password    string `yaml:"password"`
	NewPassword string `yaml:"new_password"`
	NewEmail    string `yaml:"new_email"`
	RememberMe  string `yaml:"remember_me"`
	Token       string `yaml:"token"`
}

// Config is one immutable configuration snapshot.
type Config struct {
	// SessionCookieName names the non-secure session-id cookie.
	SessionCookieName string `yaml:"session_cookie_name"`

	// SessionCookieDomain qualifies the session cookie when set.
	SessionCookieDomain string `yaml:"session_cookie_domain"`

	// SessionCookieMaxAge is the session cookie lifetime. The default is
	// shorter than SessionDuration: the cookie may expire before the
	// server-side session it points at, costing one extra renewal round
	// trip.
	SessionCookieMaxAge Duration `yaml:"session_cookie_max_age"`

	// SessionDuration is the cache lifetime of session blobs.
	SessionDuration Duration `yaml:"session_duration"`

	// SessionCategory namespaces session entries in the cache.
	SessionCategory string `yaml:"session_category"`

	// SecureDomain is the dedicated host for the remember-me cookie. When
	// empty the cookie is set on the application domain directly and the
	// cross-domain redirect dance is skipped.
	SecureDomain string `yaml:"secure_domain"`

	// SecureProtocol is the scheme of secure-domain URLs.
	SecureProtocol string `yaml:"secure_protocol"`

	// RememberMeCookieName names the secure-domain remember-me cookie.
	RememberMeCookieName string `yaml:"remember_me_cookie_name"`

	// RememberMeDuration is the remember-me cookie lifetime.
	RememberMeDuration Duration `yaml:"remember_me_duration"`

	Paths  Paths  `yaml:"paths"`
	Pages  Pages  `yaml:"pages"`
	Fields Fields `yaml:"fields"`
}

// Default returns a fully populated configuration snapshot.
func Default() Config {
	var c Config
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	defaultString(&c.SessionCookieName, DefaultSessionCookieName)
	defaultDuration(&c.SessionCookieMaxAge, DefaultSessionCookieMaxAge)
	defaultDuration(&c.SessionDuration, DefaultSessionDuration)
	defaultString(&c.SessionCategory, DefaultSessionCategory)
	defaultString(&c.SecureProtocol, DefaultSecureProtocol)
	defaultString(&c.RememberMeCookieName, DefaultRememberMeCookieName)
	defaultDuration(&c.RememberMeDuration, DefaultRememberMeDuration)

	defaultString(&c.Paths.Signup, DefaultSignupPath)
	defaultString(&c.Paths.Signin, DefaultSigninPath)
	defaultString(&c.Paths.Signout, DefaultSignoutPath)
	defaultString(&c.Paths.ChangePassword, DefaultChangePasswordPath)
	defaultString(&c.Paths.SendPasswordReset, DefaultSendPasswordResetPath)
	defaultString(&c.Paths.ResetPassword, DefaultResetPasswordPath)
	defaultString(&c.Paths.ChangeEmail, DefaultChangeEmailPath)
	defaultString(&c.Paths.VerifyEmail, DefaultVerifyEmailPath)
	defaultString(&c.Paths.RevertEmail, DefaultRevertEmailPath)
	defaultString(&c.Paths.RenewSession, DefaultRenewSessionPath)
	defaultString(&c.Paths.UpdateIdentity, DefaultUpdateIdentityPath)

	defaultString(&c.Pages.SigninPage, DefaultSigninPage)
	defaultString(&c.Pages.Landing, DefaultLandingPage)

	defaultString(&c.Fields.Email, DefaultEmailField)
	defaultString(&c.Fields.Password, DefaultPasswordField)
	defaultString(&c.Fields.NewPassword, DefaultNewPasswordField)
	defaultString(&c.Fields.NewEmail, DefaultNewEmailField)
	defaultString(&c.Fields.RememberMe, DefaultRememberMeField)
	defaultString(&c.Fields.Token, DefaultTokenField)
}

func defaultString(s *string, def string) {
	if *s == "" {
		*s = def
	}
}

func defaultDuration(d *Duration, def time.Duration) {
	if *d <= 0 {
		*d = Duration(def)
	}
}

// Store holds the current configuration snapshot and swaps it atomically.
type Store struct {
	current atomic.Pointer[Config]
}

// NewStore creates a configuration store seeded with the given snapshot.
func NewStore(c Config) *Store {
	c.applyDefaults()
	s := &Store{}
	s.current.Store(&c)
	return s
}

// Snapshot returns the current configuration. Callers must read one
// snapshot per request and never retain it across requests.
func (s *Store) Snapshot() *Config {
	return s.current.Load()
}

// Swap replaces the current configuration.
func (s *Store) Swap(c Config) {
	c.applyDefaults()
	s.current.Store(&c)
}

// LoadFile reads a YAML configuration file and swaps it in. The previous
// snapshot stays current if the file cannot be read or parsed.
func (s *Store) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	s.Swap(c)
	return nil
}
