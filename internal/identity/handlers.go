package identity

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/gatehouse-dev/gatehouse/internal/config"
	"github.com/gatehouse-dev/gatehouse/internal/mailer"
	"github.com/gatehouse-dev/gatehouse/internal/models"
	"github.com/gatehouse-dev/gatehouse/internal/session"
)

// All account flows answer with a redirect: success and fail are only
// distinguishable by destination URL. Unset pages default to the
// originating URL; the emailed-link flows fall back to the landing page
// instead, since their originating URL is the endpoint itself.

func resolvePages(r *http.Request, pair config.PagePair) (success, fail string) {
	success, fail = pair.Success, pair.Fail
	if success == "" {
		success = currentURL(r)
	}
	if fail == "" {
		fail = currentURL(r)
	}
	return success, fail
}

func resolveLinkPages(r *http.Request, pair config.PagePair, landing string) (success, fail string) {
	success, fail = pair.Success, pair.Fail
	if success == "" {
		success = absoluteURL(r, landing)
	}
	if fail == "" {
		fail = absoluteURL(r, landing)
	}
	return success, fail
}

func (s *Service) requireSession(ctx context.Context) *session.Session {
	sess := session.FromContext(ctx)
	if sess == nil {
		panic("identity: session middleware is not installed")
	}
	return sess
}

// SignUp creates an account from an email+password form post, signs the new
// account in and emails a verification link.
func (s *Service) SignUp(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Snapshot()
	ctx := r.Context()
	sess := s.requireSession(ctx)
	success, fail := resolvePages(r, cfg.Pages.Signup)

	email := r.PostFormValue(cfg.Fields.Email)
	password := r.PostFormValue(cfg.Fields.Password)
	remember := r.PostFormValue(cfg.Fields.RememberMe) != ""

	if email == "" || password == "" {
		s.failSignup(ctx, w, r, fail)
		return
	}

	// The credentials must not already exist
	if _, err := s.directory.FindIdentity(ctx, email); err == nil {
		log.Ctx(ctx).Debug().Str("email", email).Msg("Sign-up for existing credentials")
		s.failSignup(ctx, w, r, fail)
		return
	}

	identityID, err := s.directory.CreateIdentity(ctx)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("Failed to create identity")
		s.failSignup(ctx, w, r, fail)
		return
	}

	if err := s.directory.AddCredentials(ctx, identityID, email, password, true, nil); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("Failed to add credentials")
		s.failSignup(ctx, w, r, fail)
		return
	}

	if err := s.directory.SetClaim(ctx, identityID, models.Claim{
		Name:   models.ClaimEmail,
		Value:  email,
		Status: models.ClaimUnverified,
	}); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("Failed to store email claim")
	}

	result, err := s.directory.CheckCredentials(ctx, email, password)
	if err != nil || result.Status != models.AuthAuthenticated {
		log.Ctx(ctx).Error().Err(err).Msg("Failed to authenticate new account")
		s.failSignup(ctx, w, r, fail)
		return
	}

	claims, err := s.directory.GetClaims(ctx, identityID)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("Failed to load claims for new account")
	}

	if !remember {
		result.RememberMeToken = ""
	}
	storeAuthResult(sess, result, claims)

	s.sendTokenEmail(ctx, r, cfg, tokenEmail{
		tokenType: models.TokenTypeVerifyEmail,
		purpose:   email,
		identity:  identityID,
		to:        email,
		path:      cfg.Paths.VerifyEmail,
		subject:   "Verify your email address",
		intro:     "Follow this link to verify your email address:",
	})

	log.Ctx(ctx).Info().Str("identity", identityID).Msg("Account created")
	s.counters.signupSuccess.Add(1)
	s.metrics.SignupSuccessTotal.Add(ctx, 1)

	s.refreshRememberMe(w, r, cfg, sess, result.RememberMeToken, success)
}

func (s *Service) failSignup(ctx context.Context, w http.ResponseWriter, r *http.Request, fail string) {
	s.counters.signupFail.Add(1)
	s.metrics.SignupFailTotal.Add(ctx, 1)
	http.Redirect(w, r, fail, http.StatusFound)
}

// SignIn authenticates an email+password form post and records the result
// in the session. A failed sign-in writes nothing into the session.
func (s *Service) SignIn(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Snapshot()
	ctx := r.Context()
	sess := s.requireSession(ctx)
	success, fail := resolvePages(r, cfg.Pages.Signin)

	email := r.PostFormValue(cfg.Fields.Email)
	password := r.PostFormValue(cfg.Fields.Password)
	remember := r.PostFormValue(cfg.Fields.RememberMe) != ""

	result, err := s.directory.CheckCredentials(ctx, email, password)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("Credential check failed")
		s.failSignin(ctx, w, r, fail)
		return
	}
	if result.Status != models.AuthAuthenticated {
		log.Ctx(ctx).Debug().Str("email", email).Msg("Sign-in rejected")
		s.failSignin(ctx, w, r, fail)
		return
	}

	claims, err := s.directory.GetClaims(ctx, result.Identity)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("Failed to load claims")
	}

	if !remember {
		result.RememberMeToken = ""
	}
	storeAuthResult(sess, result, claims)

	log.Ctx(ctx).Info().Str("identity", result.Identity).Msg("Signed in")
	s.counters.signinSuccess.Add(1)
	s.metrics.SigninSuccessTotal.Add(ctx, 1)

	s.refreshRememberMe(w, r, cfg, sess, result.RememberMeToken, success)
}

func (s *Service) failSignin(ctx context.Context, w http.ResponseWriter, r *http.Request, fail string) {
	s.counters.signinFail.Add(1)
	s.metrics.SigninFailTotal.Add(ctx, 1)
	http.Redirect(w, r, fail, http.StatusFound)
}

// SignOut clears the session to the anonymous state and deletes the
// remember-me cookie.
func (s *Service) SignOut(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Snapshot()
	ctx := r.Context()
	sess := s.requireSession(ctx)
	success, _ := resolvePages(r, cfg.Pages.Signout)

	storeAnonymous(sess)

	s.counters.signouts.Add(1)
	s.metrics.SignoutsTotal.Add(ctx, 1)
	log.Ctx(ctx).Info().Str("session_id", sess.ID()).Msg("Signed out")

	s.refreshRememberMe(w, r, cfg, sess, "", success)
}

// ChangePassword replaces the password after re-authenticating the current
// credentials. A purpose-restricted credential must list the
// change-password action.
func (s *Service) ChangePassword(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Snapshot()
	ctx := r.Context()
	success, fail := resolvePages(r, cfg.Pages.ChangePassword)

	email := r.PostFormValue(cfg.Fields.Email)
	password := r.PostFormValue(cfg.Fields.Password)
	newPassword := r.PostFormValue(cfg.Fields.NewPassword)

	if newPassword == "" {
		http.Redirect(w, r, fail, http.StatusFound)
		return
	}

	result, err := s.directory.CheckCredentials(ctx, email, password)
	if err != nil || result.Status != models.AuthAuthenticated {
		http.Redirect(w, r, fail, http.StatusFound)
		return
	}

	restricted := models.Identification{Purposes: result.Purposes}
	if !restricted.AllowsPurpose(ActionChangePassword) {
		log.Ctx(ctx).Debug().Strs("purposes", result.Purposes).Msg("Credential not valid for password change")
		http.Redirect(w, r, fail, http.StatusFound)
		return
	}

	if err := s.directory.ChangePassword(ctx, result.Identity, newPassword); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("Failed to change password")
		http.Redirect(w, r, fail, http.StatusFound)
		return
	}

	log.Ctx(ctx).Info().Str("identity", result.Identity).Msg("Password changed")
	http.Redirect(w, r, success, http.StatusFound)
}

// SendPasswordReset issues a single-use reset token and emails a link
// embedding it.
func (s *Service) SendPasswordReset(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Snapshot()
	ctx := r.Context()
	success, fail := resolvePages(r, cfg.Pages.SendPasswordReset)

	email := r.PostFormValue(cfg.Fields.Email)

	identityID, err := s.directory.FindIdentity(ctx, email)
	if err != nil {
		log.Ctx(ctx).Debug().Str("email", email).Msg("Password reset for unknown credentials")
		http.Redirect(w, r, fail, http.StatusFound)
		return
	}

	s.sendTokenEmail(ctx, r, cfg, tokenEmail{
		tokenType: models.TokenTypeResetPassword,
		purpose:   email,
		identity:  identityID,
		to:        email,
		path:      cfg.Paths.ResetPassword,
		subject:   "Reset your password",
		intro:     "Follow this link to reset your password:",
	})

	http.Redirect(w, r, success, http.StatusFound)
}

// ResetPassword consumes a reset token and sets a new password.
func (s *Service) ResetPassword(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Snapshot()
	ctx := r.Context()
	success, fail := resolvePages(r, cfg.Pages.ResetPassword)

	email := r.FormValue(cfg.Fields.Email)
	value := r.FormValue(cfg.Fields.Token)
	newPassword := r.FormValue(cfg.Fields.NewPassword)

	token, err := s.tokens.Check(ctx, value, models.TokenTypeResetPassword)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("Token check failed")
		http.Redirect(w, r, fail, http.StatusFound)
		return
	}
	if token.Status != models.TokenAllowed || !strings.EqualFold(token.Purpose, email) || newPassword == "" {
		log.Ctx(ctx).Debug().Str("status", string(token.Status)).Msg("Reset token rejected")
		http.Redirect(w, r, fail, http.StatusFound)
		return
	}

	if err := s.directory.ChangePassword(ctx, token.Identity, newPassword); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("Failed to reset password")
		http.Redirect(w, r, fail, http.StatusFound)
		return
	}

	if err := s.tokens.Delete(ctx, token.Value); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("Failed to delete used token")
	}

	log.Ctx(ctx).Info().Str("identity", token.Identity).Msg("Password reset")
	http.Redirect(w, r, success, http.StatusFound)
}

// ChangeEmail moves the account to a new email address. The old address
// receives a revert link, the new address a verification link. A
// purpose-restricted credential is rejected outright, whatever it lists.
func (s *Service) ChangeEmail(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Snapshot()
	ctx := r.Context()
	success, fail := resolvePages(r, cfg.Pages.ChangeEmail)

	email := r.PostFormValue(cfg.Fields.Email)
	password := r.PostFormValue(cfg.Fields.Password)
	newEmail := r.PostFormValue(cfg.Fields.NewEmail)

	if newEmail == "" {
		http.Redirect(w, r, fail, http.StatusFound)
		return
	}

	result, err := s.directory.CheckCredentials(ctx, email, password)
	if err != nil || result.Status != models.AuthAuthenticated {
		http.Redirect(w, r, fail, http.StatusFound)
		return
	}
	if len(result.Purposes) > 0 {
		log.Ctx(ctx).Debug().Strs("purposes", result.Purposes).Msg("Restricted credential may not change email")
		http.Redirect(w, r, fail, http.StatusFound)
		return
	}

	if err := s.directory.AddCredentials(ctx, result.Identity, newEmail, password, true, nil); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("Failed to replace credentials")
		http.Redirect(w, r, fail, http.StatusFound)
		return
	}

	if err := s.directory.SetClaim(ctx, result.Identity, models.Claim{
		Name:   models.ClaimEmail,
		Value:  newEmail,
		Status: models.ClaimUnverified,
	}); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("Failed to update email claim")
	}
	if err := s.directory.SetClaim(ctx, result.Identity, models.Claim{
		Name:   models.ClaimUsername,
		Value:  newEmail,
		Status: models.ClaimVerified,
	}); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("Failed to update username claim")
	}

	// Revert link to the old address, verification link to the new one
	s.sendTokenEmail(ctx, r, cfg, tokenEmail{
		tokenType: models.TokenTypeRevertEmail,
		purpose:   email,
		identity:  result.Identity,
		to:        email,
		path:      cfg.Paths.RevertEmail,
		subject:   "Your email address was changed",
		intro: "Your account email was changed to " + newEmail + ". " +
			"If this wasn't you, follow this link to revert the change:",
	})
	s.sendTokenEmail(ctx, r, cfg, tokenEmail{
		tokenType: models.TokenTypeVerifyEmail,
		purpose:   newEmail,
		identity:  result.Identity,
		to:        newEmail,
		path:      cfg.Paths.VerifyEmail,
		subject:   "Verify your email address",
		intro:     "Follow this link to verify your new email address:",
	})

	log.Ctx(ctx).Info().Str("identity", result.Identity).Msg("Email changed")
	http.Redirect(w, r, success, http.StatusFound)
}

// VerifyEmail consumes a verification token from an emailed link and marks
// the email claim verified.
func (s *Service) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Snapshot()
	ctx := r.Context()
	success, fail := resolveLinkPages(r, cfg.Pages.VerifyEmail, cfg.Pages.Landing)

	email := r.FormValue(cfg.Fields.Email)
	value := r.FormValue(cfg.Fields.Token)

	token, err := s.tokens.Check(ctx, value, models.TokenTypeVerifyEmail)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("Token check failed")
		http.Redirect(w, r, fail, http.StatusFound)
		return
	}
	if token.Status != models.TokenAllowed || !strings.EqualFold(token.Purpose, email) {
		log.Ctx(ctx).Debug().Str("status", string(token.Status)).Msg("Verification token rejected")
		http.Redirect(w, r, fail, http.StatusFound)
		return
	}

	if err := s.directory.SetClaim(ctx, token.Identity, models.Claim{
		Name:   models.ClaimEmail,
		Value:  token.Purpose,
		Status: models.ClaimVerified,
	}); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("Failed to verify email claim")
		http.Redirect(w, r, fail, http.StatusFound)
		return
	}

	if err := s.tokens.Delete(ctx, token.Value); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("Failed to delete used token")
	}

	log.Ctx(ctx).Info().Str("identity", token.Identity).Msg("Email verified")
	http.Redirect(w, r, success, http.StatusFound)
}

// RevertEmail restores the old email credential after an unwanted email
// change. The link came from the old address, so a new password is required
// to complete the revert.
func (s *Service) RevertEmail(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Snapshot()
	ctx := r.Context()
	success, fail := resolveLinkPages(r, cfg.Pages.RevertEmail, cfg.Pages.Landing)

	email := r.FormValue(cfg.Fields.Email)
	value := r.FormValue(cfg.Fields.Token)
	newPassword := r.FormValue(cfg.Fields.NewPassword)

	token, err := s.tokens.Check(ctx, value, models.TokenTypeRevertEmail)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("Token check failed")
		http.Redirect(w, r, fail, http.StatusFound)
		return
	}
	if token.Status != models.TokenAllowed || !strings.EqualFold(token.Purpose, email) || newPassword == "" {
		log.Ctx(ctx).Debug().Str("status", string(token.Status)).Msg("Revert token rejected")
		http.Redirect(w, r, fail, http.StatusFound)
		return
	}

	if err := s.directory.AddCredentials(ctx, token.Identity, email, newPassword, true, nil); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("Failed to restore credentials")
		http.Redirect(w, r, fail, http.StatusFound)
		return
	}

	// The revert link proved control of the old address
	if err := s.directory.SetClaim(ctx, token.Identity, models.Claim{
		Name:   models.ClaimEmail,
		Value:  email,
		Status: models.ClaimVerified,
	}); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("Failed to restore email claim")
	}
	if err := s.directory.SetClaim(ctx, token.Identity, models.Claim{
		Name:   models.ClaimUsername,
		Value:  email,
		Status: models.ClaimVerified,
	}); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("Failed to restore username claim")
	}

	if err := s.tokens.Delete(ctx, token.Value); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("Failed to delete used token")
	}

	log.Ctx(ctx).Info().Str("identity", token.Identity).Msg("Email change reverted")
	http.Redirect(w, r, success, http.StatusFound)
}

type tokenEmail struct {
	tokenType string
	purpose   string
	identity  string
	to        string
	path      string
	subject   string
	intro     string
}

// sendTokenEmail issues a single-use token and emails a link embedding it.
// Failures are logged and never influence the caller's redirect.
func (s *Service) sendTokenEmail(ctx context.Context, r *http.Request, cfg *config.Config, te tokenEmail) {
	value, err := s.tokens.Create(ctx, te.tokenType, te.purpose, te.identity)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("type", te.tokenType).Msg("Failed to issue token")
		return
	}

	query := url.Values{
		cfg.Fields.Email: {te.purpose},
		cfg.Fields.Token: {value},
	}
	link := scheme(r) + "://" + r.Host + te.path + "?" + query.Encode()

	mailer.SendAsync(s.mailer, mailer.Message{
		To:      te.to,
		Subject: te.subject,
		Body:    fmt.Sprintf("%s\r\n\r\n%s\r\n", te.intro, link),
	})
}
