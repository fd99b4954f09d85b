package identity

import (
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/schema"
	"github.com/rs/zerolog/log"

	"github.com/gatehouse-dev/gatehouse/internal/config"
	"github.com/gatehouse-dev/gatehouse/internal/models"
	"github.com/gatehouse-dev/gatehouse/internal/session"
)

// The renewal protocol bounces the browser to a dedicated secure domain,
// where the long-lived remember-me cookie lives, and back. Keeping the
// cookie off the application domain stops subdomains and cross-origin
// requests from ever seeing it. The session id travels in the query string
// because the two domains share no cookies; the session blob in the cache
// is the shared state.

// Query schema decoder: caches structs, and safe for sharing.
var queryDecoder = func() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}()

type renewQuery struct {
	SID     string `schema:"sid,required"`
	Success string `schema:"success"`
	Fail    string `schema:"fail"`
}

func scheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// currentURL is the absolute URL of the request, used as the default
// redirect target for every flow.
func currentURL(r *http.Request) string {
	return scheme(r) + "://" + r.Host + r.URL.RequestURI()
}

// absoluteURL resolves a configured page against the request's scheme and
// host, leaving already-absolute URLs alone.
func absoluteURL(r *http.Request, page string) string {
	if strings.Contains(page, "://") {
		return page
	}
	return scheme(r) + "://" + r.Host + page
}

// secureBase is the URL prefix of the secure-domain endpoints, or the
// current origin when no secure domain is configured.
func secureBase(r *http.Request, cfg *config.Config) string {
	if cfg.SecureDomain == "" {
		return scheme(r) + "://" + r.Host
	}
	return cfg.SecureProtocol + "://" + cfg.SecureDomain
}

func hostMatches(requestHost, domain string) bool {
	if host, _, err := net.SplitHostPort(requestHost); err == nil {
		requestHost = host
	}
	if host, _, err := net.SplitHostPort(domain); err == nil {
		domain = host
	}
	return strings.EqualFold(requestHost, domain)
}

// renewalURL builds the redirect that starts the renewal round trip. When
// the route allows anonymous access both return URLs point back at the
// current page; otherwise a failed renewal lands on the sign-in page.
func (s *Service) renewalURL(r *http.Request, cfg *config.Config, sess *session.Session, allowAnonymous bool) string {
	success := currentURL(r)
	fail := success
	if !allowAnonymous {
		fail = absoluteURL(r, cfg.Pages.SigninPage)
	}

	query := url.Values{
		"sid":     {sess.ID()},
		"success": {success},
		"fail":    {fail},
	}
	return secureBase(r, cfg) + cfg.Paths.RenewSession + "?" + query.Encode()
}

// RenewSession handles the secure-domain renewal endpoint. It resumes the
// session named by sid, checks the remember-me cookie against the
// directory, records the outcome in the session and redirects back to the
// application domain.
func (s *Service) RenewSession(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Snapshot()

	var q renewQuery
	if err := queryDecoder.Decode(&q, r.URL.Query()); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	sess, err := s.sessions.Establish(w, r, q.SID)
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("Failed to resume session for renewal")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	ctx := session.ContextWithSession(r.Context(), sess)

	s.counters.renewals.Add(1)
	s.metrics.RenewalsTotal.Add(ctx, 1)

	success := q.Success
	if success == "" {
		success = cfg.Pages.Landing
	}
	fail := q.Fail
	if fail == "" {
		fail = cfg.Pages.Landing
	}

	cookie, cookieErr := r.Cookie(cfg.RememberMeCookieName)
	if cookieErr != nil || cookie.Value == "" {
		log.Ctx(ctx).Debug().Str("session_id", sess.ID()).Msg("No remember-me cookie, session stays anonymous")
		storeAnonymous(sess)
		s.finishOnSecure(w, r, sess, fail)
		return
	}

	result, err := s.directory.RememberMe(ctx, cookie.Value)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("Remember-me check failed")
		storeAnonymous(sess)
		s.finishOnSecure(w, r, sess, fail)
		return
	}

	if result.Status != models.AuthAuthenticated {
		log.Ctx(ctx).Debug().Str("status", string(result.Status)).Msg("Remember-me token rejected")
		storeAnonymous(sess)
		s.finishOnSecure(w, r, sess, fail)
		return
	}

	claims, err := s.directory.GetClaims(ctx, result.Identity)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("identity", result.Identity).Msg("Failed to load claims during renewal")
	}

	log.Ctx(ctx).Info().Str("identity", result.Identity).Msg("Session renewed from remember-me cookie")
	storeAuthResult(sess, result, claims)
	s.finishOnSecure(w, r, sess, success)
}

// UpdateIdentity handles the secure-domain update-identity endpoint. Its
// sole job is to re-issue or delete the remember-me cookie on the secure
// domain after an identity-changing mutation, then redirect back.
func (s *Service) UpdateIdentity(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Snapshot()

	var q renewQuery
	if err := queryDecoder.Decode(&q, r.URL.Query()); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	sess, err := s.sessions.Establish(w, r, q.SID)
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("Failed to resume session for identity update")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	ctx := session.ContextWithSession(r.Context(), sess)

	token, err := session.Get[string](ctx, sess, varRememberMe)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("Failed to read remember-me token from session")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	setRememberMeCookie(w, r, cfg, token)
	s.counters.rememberMeUpdates.Add(1)
	s.metrics.RememberMeUpdatesTotal.Add(ctx, 1)

	target := q.Success
	if target == "" {
		target = cfg.Pages.Landing
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// finishOnSecure flushes the session and redirects. The secure-domain
// endpoints flush explicitly because they establish their session outside
// the session middleware, and the browser follows the redirect immediately.
func (s *Service) finishOnSecure(w http.ResponseWriter, r *http.Request, sess *session.Session, target string) {
	if err := sess.Flush(r.Context()); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Str("session_id", sess.ID()).Msg("Failed to flush session")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// setRememberMeCookie writes or deletes the remember-me cookie. It never
// sets a Domain attribute: the cookie belongs to whichever host serves the
// endpoint, which is the secure domain when one is configured.
func setRememberMeCookie(w http.ResponseWriter, r *http.Request, cfg *config.Config, token string) {
	cookie := &http.Cookie{
		Name:     cfg.RememberMeCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	}
	if token == "" {
		cookie.MaxAge = -1
	} else {
		cookie.MaxAge = int(cfg.RememberMeDuration.Std().Seconds())
	}
	http.SetCookie(w, cookie)
}

// refreshRememberMe updates the remember-me cookie after a mutation that
// changed identity. With no secure domain configured (or when already on
// it) the cookie is set directly; otherwise the browser is routed through
// the secure-domain update-identity endpoint, which reads the token from
// the freshly flushed session.
func (s *Service) refreshRememberMe(w http.ResponseWriter, r *http.Request, cfg *config.Config, sess *session.Session, token, successURL string) {
	if cfg.SecureDomain == "" || hostMatches(r.Host, cfg.SecureDomain) {
		setRememberMeCookie(w, r, cfg, token)
		s.counters.rememberMeUpdates.Add(1)
		s.metrics.RememberMeUpdatesTotal.Add(r.Context(), 1)
		http.Redirect(w, r, successURL, http.StatusFound)
		return
	}

	if err := sess.Flush(r.Context()); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Str("session_id", sess.ID()).Msg("Failed to flush session")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	query := url.Values{
		"sid":     {sess.ID()},
		"success": {successURL},
	}
	http.Redirect(w, r, secureBase(r, cfg)+cfg.Paths.UpdateIdentity+"?"+query.Encode(), http.StatusFound)
}
