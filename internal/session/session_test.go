package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gatehouse-dev/gatehouse/internal/store"
)

// countingCache records cache traffic so tests can assert the one-read,
// one-write contract.
type countingCache struct {
	entries map[string][]byte
	gets    int
	puts    int
	getErr  error
	putErr  error
}

func newCountingCache() *countingCache {
	return &countingCache{entries: make(map[string][]byte)}
}

func (c *countingCache) Get(ctx context.Context, key, category string) ([]byte, error) {
	c.gets++
	if c.getErr != nil {
		return nil, c.getErr
	}
	blob, ok := c.entries[category+":"+key]
	if !ok {
		return nil, store.ErrCacheMiss
	}
	return blob, nil
}

func (c *countingCache) Put(ctx context.Context, key string, value []byte, lifetime time.Duration, category string) error {
	c.puts++
	if c.putErr != nil {
		return c.putErr
	}
	c.entries[category+":"+key] = value
	return nil
}

func (c *countingCache) Delete(ctx context.Context, key, category string) error {
	delete(c.entries, category+":"+key)
	return nil
}

// seed stores a blob for a session id, bypassing the session layer.
func (c *countingCache) seed(t *testing.T, id string, variables map[string]any) {
	t.Helper()
	raw := make(map[string]json.RawMessage, len(variables))
	for name, value := range variables {
		encoded, err := json.Marshal(value)
		require.NoError(t, err)
		raw[name] = encoded
	}
	blob, err := encodeBlob(raw)
	require.NoError(t, err)
	c.entries[DefaultCategory+":"+id] = blob
}

func establish(t *testing.T, s *Store, cookie string) (*Session, *httptest.ResponseRecorder) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "http://app.example/", nil)
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: cookie})
	}
	rec := httptest.NewRecorder()
	sess, err := s.Establish(rec, req, "")
	require.NoError(t, err)
	return sess, rec
}

func TestEstablish(t *testing.T) {
	t.Run("mints an id and sets the cookie when none exists", func(t *testing.T) {
		cache := newCountingCache()
		s := NewStore(cache, Options{})

		sess, rec := establish(t, s, "")
		require.True(t, sess.IsNew())
		require.NotEmpty(t, sess.ID())

		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		require.Equal(t, DefaultCookieName, cookies[0].Name)
		require.Equal(t, sess.ID(), cookies[0].Value)
		require.True(t, cookies[0].HttpOnly)

		// A new session never reads the cache
		v, err := Get[string](t.Context(), sess, "anything")
		require.NoError(t, err)
		require.Empty(t, v)
		require.Zero(t, cache.gets)
	})

	t.Run("reuses the cookie id without touching the cache", func(t *testing.T) {
		cache := newCountingCache()
		s := NewStore(cache, Options{})

		sess, rec := establish(t, s, "existing-id")
		require.False(t, sess.IsNew())
		require.Equal(t, "existing-id", sess.ID())
		require.Empty(t, rec.Result().Cookies())
		require.Zero(t, cache.gets)
	})

	t.Run("an explicit id wins over the cookie", func(t *testing.T) {
		s := NewStore(newCountingCache(), Options{})

		req := httptest.NewRequest(http.MethodGet, "http://app.example/", nil)
		req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "cookie-id"})
		sess, err := s.Establish(httptest.NewRecorder(), req, "explicit-id")
		require.NoError(t, err)
		require.Equal(t, "explicit-id", sess.ID())
	})
}

func TestGet(t *testing.T) {
	t.Run("loads the blob once on first access", func(t *testing.T) {
		cache := newCountingCache()
		cache.seed(t, "sid", map[string]any{"identity": "u-1", "count": 7})
		s := NewStore(cache, Options{})

		sess, _ := establish(t, s, "sid")

		identity, err := Get[string](t.Context(), sess, "identity")
		require.NoError(t, err)
		require.Equal(t, "u-1", identity)

		count, err := Get[int](t.Context(), sess, "count")
		require.NoError(t, err)
		require.Equal(t, 7, count)

		require.Equal(t, 1, cache.gets)
	})

	t.Run("names are case-insensitive", func(t *testing.T) {
		cache := newCountingCache()
		cache.seed(t, "sid", map[string]any{"identity": "u-1"})
		s := NewStore(cache, Options{})

		sess, _ := establish(t, s, "sid")
		identity, err := Get[string](t.Context(), sess, "Identity")
		require.NoError(t, err)
		require.Equal(t, "u-1", identity)
	})

	t.Run("an expired session reads as empty", func(t *testing.T) {
		cache := newCountingCache()
		s := NewStore(cache, Options{})

		sess, _ := establish(t, s, "gone")
		v, err := Get[string](t.Context(), sess, "identity")
		require.NoError(t, err)
		require.Empty(t, v)
	})

	t.Run("a cache failure is a hard error", func(t *testing.T) {
		cache := newCountingCache()
		cache.getErr = errors.New("connection refused")
		s := NewStore(cache, Options{})

		sess, _ := establish(t, s, "sid")
		_, err := Get[string](t.Context(), sess, "identity")
		require.Error(t, err)
		require.NotErrorIs(t, err, store.ErrCacheMiss)
	})

	t.Run("a set value reads back without cache traffic", func(t *testing.T) {
		cache := newCountingCache()
		s := NewStore(cache, Options{})

		sess, _ := establish(t, s, "sid")
		Set(sess, "identity", "u-1")

		identity, err := Get[string](t.Context(), sess, "identity")
		require.NoError(t, err)
		require.Equal(t, "u-1", identity)
		require.Zero(t, cache.gets)
	})

	t.Run("a nil session reads as zero values", func(t *testing.T) {
		v, err := Get[string](t.Context(), nil, "identity")
		require.NoError(t, err)
		require.Empty(t, v)
	})
}

func TestFlush(t *testing.T) {
	t.Run("no modifications means no write", func(t *testing.T) {
		cache := newCountingCache()
		cache.seed(t, "sid", map[string]any{"identity": "u-1"})
		s := NewStore(cache, Options{})

		sess, _ := establish(t, s, "sid")
		_, err := Get[string](t.Context(), sess, "identity")
		require.NoError(t, err)

		require.NoError(t, sess.Flush(t.Context()))
		require.Zero(t, cache.puts)
	})

	t.Run("modified variables merge over the loaded blob", func(t *testing.T) {
		cache := newCountingCache()
		cache.seed(t, "sid", map[string]any{"a": "old-a", "b": "old-b"})
		s := NewStore(cache, Options{})

		sess, _ := establish(t, s, "sid")
		Set(sess, "b", "new-b")
		Set(sess, "c", "new-c")
		require.NoError(t, sess.Flush(t.Context()))
		require.Equal(t, 1, cache.puts)

		// Reload through a fresh session
		reloaded, _ := establish(t, s, "sid")
		for name, want := range map[string]string{"a": "old-a", "b": "new-b", "c": "new-c"} {
			got, err := Get[string](t.Context(), reloaded, name)
			require.NoError(t, err)
			require.Equal(t, want, got, name)
		}
	})

	t.Run("flushing twice writes once", func(t *testing.T) {
		cache := newCountingCache()
		s := NewStore(cache, Options{})

		sess, _ := establish(t, s, "sid")
		Set(sess, "identity", "u-1")
		require.NoError(t, sess.Flush(t.Context()))
		require.NoError(t, sess.Flush(t.Context()))
		require.Equal(t, 1, cache.puts)
	})

	t.Run("a write after flush flushes again", func(t *testing.T) {
		cache := newCountingCache()
		s := NewStore(cache, Options{})

		sess, _ := establish(t, s, "sid")
		Set(sess, "identity", "u-1")
		require.NoError(t, sess.Flush(t.Context()))
		Set(sess, "status", "authenticated")
		require.NoError(t, sess.Flush(t.Context()))
		require.Equal(t, 2, cache.puts)
	})

	t.Run("a new session with writes flushes without reading", func(t *testing.T) {
		cache := newCountingCache()
		s := NewStore(cache, Options{})

		sess, _ := establish(t, s, "")
		Set(sess, "identity", "u-1")
		require.NoError(t, sess.Flush(t.Context()))
		require.Zero(t, cache.gets)
		require.Equal(t, 1, cache.puts)
	})

	t.Run("a failed write propagates", func(t *testing.T) {
		cache := newCountingCache()
		cache.putErr = errors.New("connection refused")
		s := NewStore(cache, Options{})

		sess, _ := establish(t, s, "sid")
		Set(sess, "identity", "u-1")
		require.Error(t, sess.Flush(t.Context()))
	})
}

func TestCodec(t *testing.T) {
	variables := map[string]json.RawMessage{
		"identity": json.RawMessage(`"u-1"`),
		"claims":   json.RawMessage(`[{"name":"email","value":"a@example.com"}]`),
	}

	blob, err := encodeBlob(variables)
	require.NoError(t, err)

	decoded, err := decodeBlob(blob)
	require.NoError(t, err)
	require.Equal(t, variables, decoded)

	_, err = decodeBlob([]byte("not a blob"))
	require.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	t.Run("establishes, exposes and flushes the session", func(t *testing.T) {
		cache := newCountingCache()
		s := NewStore(cache, Options{})

		handler := s.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := FromContext(r.Context())
			require.NotNil(t, sess)
			Set(sess, "identity", "u-1")
			fmt.Fprint(w, "ok")
		}))

		req := httptest.NewRequest(http.MethodGet, "http://app.example/", nil)
		req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "sid"})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, 1, cache.puts)
	})

	t.Run("read-only requests never write", func(t *testing.T) {
		cache := newCountingCache()
		s := NewStore(cache, Options{})

		handler := s.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, err := Get[string](r.Context(), FromContext(r.Context()), "identity")
			require.NoError(t, err)
		}))

		req := httptest.NewRequest(http.MethodGet, "http://app.example/", nil)
		req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "sid"})
		handler.ServeHTTP(httptest.NewRecorder(), req)

		require.Equal(t, 1, cache.gets)
		require.Zero(t, cache.puts)
	})
}
