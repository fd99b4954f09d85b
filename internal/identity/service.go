// Package identity implements the account lifecycle (sign-up, sign-in,
// sign-out, password and email flows) and the cross-domain remember-me
// session-renewal protocol on top of the session store, the identity
// directory and the one-time token store.
package identity

import (
	"github.com/gatehouse-dev/gatehouse/internal/config"
	"github.com/gatehouse-dev/gatehouse/internal/mailer"
	"github.com/gatehouse-dev/gatehouse/internal/session"
	"github.com/gatehouse-dev/gatehouse/internal/store"
)

// Action names used for purpose-restricted credentials. An authentication
// result carrying purposes may only be used for the actions it lists.
const (
	ActionChangePassword = "change-password"
	ActionResetPassword  = "reset-password"
	ActionChangeEmail    = "change-email"
)

// Service orchestrates the account flows. It holds no per-request state;
// everything request-scoped lives in the session.
type Service struct {
	cfg       *config.Store
	directory store.Directory
	tokens    store.TokenStore
	sessions  *session.Store
	mailer    mailer.Mailer

	counters counters
	metrics  *Metrics
}

// New creates an identity service. All collaborators are required; a nil
// session store is a wiring error the service will panic on at request
// time.
func New(cfg *config.Store, directory store.Directory, tokens store.TokenStore, sessions *session.Store, m mailer.Mailer) *Service {
	return &Service{
		cfg:       cfg,
		directory: directory,
		tokens:    tokens,
		sessions:  sessions,
		mailer:    m,
		metrics:   GetMetrics(),
	}
}

// Stats returns a read-only snapshot of the service's counters.
func (s *Service) Stats() Stats {
	return s.counters.snapshot()
}
