package identity

import "net/http"

// AddRoutes mounts the identity endpoints on a mux. Paths come from the
// startup snapshot; page URLs, field names and cookie settings stay
// hot-swappable, but re-routing paths requires a restart.
//
// The account mutations run inside the session middleware so the
// authentication outcome is flushed at request end. The secure-domain
// endpoints establish their session from the sid query parameter instead.
func (s *Service) AddRoutes(mux *http.ServeMux) {
	cfg := s.cfg.Snapshot()
	withSession := s.sessions.Middleware()

	post := func(path string, h http.HandlerFunc) {
		mux.Handle("POST "+path, withSession(h))
	}

	post(cfg.Paths.Signup, s.SignUp)
	post(cfg.Paths.Signin, s.SignIn)
	post(cfg.Paths.Signout, s.SignOut)
	post(cfg.Paths.ChangePassword, s.ChangePassword)
	post(cfg.Paths.SendPasswordReset, s.SendPasswordReset)
	post(cfg.Paths.ResetPassword, s.ResetPassword)
	post(cfg.Paths.ChangeEmail, s.ChangeEmail)

	// The emailed-link endpoints accept GET so the links work directly
	mux.Handle(cfg.Paths.VerifyEmail, http.HandlerFunc(s.VerifyEmail))
	mux.Handle(cfg.Paths.RevertEmail, http.HandlerFunc(s.RevertEmail))

	mux.Handle("GET "+cfg.Paths.RenewSession, http.HandlerFunc(s.RenewSession))
	mux.Handle("GET "+cfg.Paths.UpdateIdentity, http.HandlerFunc(s.UpdateIdentity))
}
