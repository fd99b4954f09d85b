package session

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"
)

type contextKey string

const sessionContextKey contextKey = "session"

// FromContext returns the request's session, or nil when no session
// middleware ran.
func FromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey).(*Session)
	return sess
}

// ContextWithSession attaches a session to a context. Used by the
// secure-domain endpoints, which establish their session from an explicit
// id rather than through the middleware.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, sess)
}

// Middleware establishes the request's session before the wrapped handler
// runs and flushes it afterwards. The flush is the single write-back point;
// a handler that times out or panics before returning normally never
// reaches it, so no partial write occurs.
func (s *Store) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := s.Establish(w, r, "")
			if err != nil {
				log.Ctx(r.Context()).Error().Err(err).Msg("Failed to establish session")
				http.Error(w, "internal server error", http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), sess)))

			if err := sess.Flush(r.Context()); err != nil {
				log.Ctx(r.Context()).Error().Err(err).Str("session_id", sess.ID()).Msg("Failed to flush session")
			}
		})
	}
}
