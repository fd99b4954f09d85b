package identity

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/gatehouse-dev/gatehouse/internal/models"
	"github.com/gatehouse-dev/gatehouse/internal/session"
)

// Well-known session variable names written by the identity layer.
const (
	varIdentity    = "identity"
	varPurposes    = "purpose"
	varStatus      = "status"
	varRememberMe  = "remember-me"
	varClaims      = "claims"
	varIsAnonymous = "is-anonymous"
)

type contextKey string

const identificationContextKey contextKey = "identification"

// WithIdentification attaches an identification fact to the context. The
// pointer is shared, so later pipeline stages may refine it in place.
func WithIdentification(ctx context.Context, ident *models.Identification) context.Context {
	return context.WithValue(ctx, identificationContextKey, ident)
}

// IdentificationFromContext returns the request's identification fact, or
// nil when no identification stage ran.
func IdentificationFromContext(ctx context.Context) *models.Identification {
	ident, _ := ctx.Value(identificationContextKey).(*models.Identification)
	return ident
}

// Identify is middleware that determines the caller's identity from the
// session and attaches it to the request context.
//
// When a prior stage already attached a resolved, non-anonymous
// identification it passes through untouched. The session middleware is a
// required collaborator; its absence is a wiring error, not a runtime
// condition, and panics.
func (s *Service) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if existing := IdentificationFromContext(ctx); existing != nil &&
			!existing.IsAnonymous && existing.Identity != "" {
			next.ServeHTTP(w, r)
			return
		}

		sess := session.FromContext(ctx)
		if sess == nil {
			panic("identity: session middleware is not installed")
		}

		ident, err := readIdentification(ctx, sess)
		if err != nil {
			// Session read failures are hard failures; an empty-session
			// fallback would silently de-authenticate the visitor.
			log.Ctx(ctx).Error().Err(err).Msg("Failed to read identification from session")
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentification(ctx, ident)))
	})
}

// readIdentification builds an Identification from the session variables.
// A fresh session yields the unresolved state (empty identity, not
// anonymous), which triggers the renewal round trip that either signs the
// visitor in via the remember-me cookie or marks the session anonymous.
func readIdentification(ctx context.Context, sess *session.Session) (*models.Identification, error) {
	identity, err := session.Get[string](ctx, sess, varIdentity)
	if err != nil {
		return nil, err
	}
	isAnonymous, err := session.Get[bool](ctx, sess, varIsAnonymous)
	if err != nil {
		return nil, err
	}
	status, err := session.Get[string](ctx, sess, varStatus)
	if err != nil {
		return nil, err
	}
	purposes, err := session.Get[[]string](ctx, sess, varPurposes)
	if err != nil {
		return nil, err
	}
	claims, err := session.Get[[]models.Claim](ctx, sess, varClaims)
	if err != nil {
		return nil, err
	}

	return &models.Identification{
		Identity:    identity,
		IsAnonymous: isAnonymous,
		Status:      models.AuthStatus(status),
		Purposes:    purposes,
		Claims:      claims,
	}, nil
}

// Authenticate is middleware guarding a route. When the identification is
// in the unresolved state it redirects through the secure-domain renewal
// endpoint; when the route requires a signed-in user and the caller is
// anonymous it redirects to the sign-in page.
func (s *Service) Authenticate(allowAnonymous bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			cfg := s.cfg.Snapshot()

			ident := IdentificationFromContext(ctx)
			if ident == nil {
				panic("identity: Identify middleware is not installed")
			}

			if ident.NeedsRenewal() {
				sess := session.FromContext(ctx)
				http.Redirect(w, r, s.renewalURL(r, cfg, sess, allowAnonymous), http.StatusFound)
				return
			}

			if !allowAnonymous && (ident.IsAnonymous || ident.Identity == "") {
				http.Redirect(w, r, absoluteURL(r, cfg.Pages.SigninPage), http.StatusFound)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// storeAuthResult writes an authentication outcome into the session. These
// six variables are the entire persisted identity state.
func storeAuthResult(sess *session.Session, result *models.AuthResult, claims []models.Claim) {
	session.Set(sess, varIdentity, result.Identity)
	session.Set(sess, varStatus, string(result.Status))
	session.Set(sess, varPurposes, result.Purposes)
	session.Set(sess, varRememberMe, result.RememberMeToken)
	session.Set(sess, varClaims, claims)
	session.Set(sess, varIsAnonymous, result.Status != models.AuthAuthenticated)
}

// storeAnonymous resets the session to the anonymous "not found" state.
func storeAnonymous(sess *session.Session) {
	storeAuthResult(sess, &models.AuthResult{Status: models.AuthNotFound}, nil)
}
