package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gatehouse-dev/gatehouse/internal/store"
)

const (
	// DefaultCookieName is the name of the session-id cookie.
	DefaultCookieName = "gatehouse-session"

	// DefaultCookieMaxAge is the lifetime of the session-id cookie. Note
	// this is deliberately shorter than DefaultDuration; an expired cookie
	// only costs the visitor a fresh session, not lost server-side state.
	DefaultCookieMaxAge = 24 * time.Hour

	// DefaultDuration is the cache lifetime of the session blob.
	DefaultDuration = 7 * 24 * time.Hour

	// DefaultCategory namespaces session entries in the cache.
	DefaultCategory = "session"
)

// Options configures a session Store. Zero fields take the defaults above.
type Options struct {
	CookieName   string
	CookieDomain string // cookie is domain-qualified only when set
	CookieMaxAge time.Duration
	Duration     time.Duration // cache entry lifetime
	Category     string
}

func (o Options) withDefaults() Options {
	if o.CookieName == "" {
		o.CookieName = DefaultCookieName
	}
	if o.CookieMaxAge <= 0 {
		o.CookieMaxAge = DefaultCookieMaxAge
	}
	if o.Duration <= 0 {
		o.Duration = DefaultDuration
	}
	if o.Category == "" {
		o.Category = DefaultCategory
	}
	return o
}

// Store establishes per-request sessions over a shared cache. Each request
// performs at most one cache read (lazy, on first variable access) and at
// most one cache write (on flush, only when variables were modified).
//
// Concurrent requests for the same session id race; the last flushed blob
// wins. There is no optimistic concurrency token.
type Store struct {
	cache store.Cache
	opts  Options
}

// NewStore creates a session store over the given cache.
func NewStore(cache store.Cache, opts Options) *Store {
	return &Store{cache: cache, opts: opts.withDefaults()}
}

// Session is the per-request view of one visitor's session. It is not safe
// for concurrent use; each request owns exactly one Session.
type Session struct {
	store *Store
	id    string
	isNew bool

	loaded   bool
	backing  map[string]json.RawMessage // full blob as loaded from the cache
	values   map[string]any             // materialized variables
	modified map[string]struct{}        // names written this request
}

// Establish resolves or creates a session for a request.
//
// The id is taken from explicitID when given, otherwise from the session
// cookie. When neither is present a new id is minted, the backing blob is
// marked empty (no cache read will happen), and a session cookie is appended
// to the response. When an id is present the cache read is deferred until
// the first variable access.
func (s *Store) Establish(w http.ResponseWriter, r *http.Request, explicitID string) (*Session, error) {
	sess := &Session{
		store:    s,
		values:   make(map[string]any),
		modified: make(map[string]struct{}),
	}

	switch {
	case explicitID != "":
		sess.id = explicitID
	default:
		if cookie, err := r.Cookie(s.opts.CookieName); err == nil && cookie.Value != "" {
			sess.id = cookie.Value
			break
		}

		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("failed to generate session id: %w", err)
		}
		sess.id = id.String()
		sess.isNew = true
		sess.loaded = true
		sess.backing = make(map[string]json.RawMessage)

		http.SetCookie(w, &http.Cookie{
			Name:     s.opts.CookieName,
			Value:    sess.id,
			Path:     "/",
			Domain:   s.opts.CookieDomain,
			MaxAge:   int(s.opts.CookieMaxAge.Seconds()),
			HttpOnly: true,
			Secure:   r.TLS != nil,
			SameSite: http.SameSiteLaxMode,
		})
	}

	return sess, nil
}

// ID returns the opaque session id.
func (s *Session) ID() string { return s.id }

// IsNew reports whether the session was minted for this request, with no
// backing cache entry.
func (s *Session) IsNew() bool { return s.isNew }

// ensureLoaded materializes the backing blob. A cache miss yields an empty
// session (the entry expired); any other cache error propagates, since
// continuing with an empty session after a failed read would silently
// de-authenticate the visitor.
func (s *Session) ensureLoaded(ctx context.Context) error {
	if s.loaded {
		return nil
	}

	blob, err := s.store.cache.Get(ctx, s.id, s.store.opts.Category)
	if errors.Is(err, store.ErrCacheMiss) {
		s.backing = make(map[string]json.RawMessage)
		s.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load session %s: %w", s.id, err)
	}

	variables, err := decodeBlob(blob)
	if err != nil {
		return fmt.Errorf("failed to decode session %s: %w", s.id, err)
	}
	s.backing = variables
	s.loaded = true
	return nil
}

// Get returns the named session variable, or the zero value of T when the
// session is nil or the variable is absent. Variable names are
// case-insensitive.
func Get[T any](ctx context.Context, s *Session, name string) (T, error) {
	var zero T
	if s == nil {
		return zero, nil
	}
	name = strings.ToLower(name)

	if v, ok := s.values[name]; ok {
		typed, ok := v.(T)
		if !ok {
			return zero, fmt.Errorf("session variable %q holds %T", name, v)
		}
		return typed, nil
	}

	if err := s.ensureLoaded(ctx); err != nil {
		return zero, err
	}

	raw, ok := s.backing[name]
	if !ok {
		return zero, nil
	}

	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		return zero, fmt.Errorf("failed to unmarshal session variable %q: %w", name, err)
	}
	s.values[name] = value
	return value, nil
}

// Set writes a session variable and marks it modified. No cache I/O happens
// until Flush.
func Set[T any](s *Session, name string, value T) {
	if s == nil {
		return
	}
	name = strings.ToLower(name)
	s.values[name] = value
	s.modified[name] = struct{}{}
}

// Flush writes the session back to the cache. When no variables were
// modified it is a no-op. Otherwise the modified variables are merged over
// the loaded (or freshly-initialized) blob and the whole blob is written
// under the session id with the configured lifetime. Flushing twice only
// writes once; the modified set is cleared on success.
func (s *Session) Flush(ctx context.Context) error {
	if s == nil || len(s.modified) == 0 {
		return nil
	}

	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}

	for name := range s.modified {
		raw, err := json.Marshal(s.values[name])
		if err != nil {
			return fmt.Errorf("failed to marshal session variable %q: %w", name, err)
		}
		s.backing[name] = raw
	}

	blob, err := encodeBlob(s.backing)
	if err != nil {
		return err
	}

	if err := s.store.cache.Put(ctx, s.id, blob, s.store.opts.Duration, s.store.opts.Category); err != nil {
		return fmt.Errorf("failed to store session %s: %w", s.id, err)
	}

	s.modified = make(map[string]struct{})
	return nil
}
