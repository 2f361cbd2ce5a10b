package directory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

type directoryServer struct {
	*httptest.Server

	fetches atomic.Int32

	mu     sync.Mutex
	status int
	body   string
	last   *http.Request
}

func newDirectoryServer(t *testing.T, body string) *directoryServer {
	t.Helper()

	s := &directoryServer{status: http.StatusOK, body: body}

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.fetches.Add(1)

		s.mu.Lock()
		status, body := s.status, s.body
		s.last = r.Clone(context.Background())
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(s.Close)

	return s
}

func (s *directoryServer) set(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status, s.body = status, body
}

func (s *directoryServer) lastRequest() *http.Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.last
}

func (s *directoryServer) url() string {
	return s.URL + WellKnownPath
}

func validDoc(t *testing.T, purpose string) string {
	t.Helper()

	x, _ := testX(t)

	return fmt.Sprintf(`{"keys":[{"kty":"OKP","crv":"Ed25519","kid":"k1","x":%q}],"purpose":%q}`, x, purpose)
}

func TestResolverResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("second resolve within window is cached", func(t *testing.T) {
		srv := newDirectoryServer(t, validDoc(t, "rag"))
		r := NewResolver()

		first, err := r.Resolve(ctx, srv.url(), time.Hour)
		require.NoError(t, err)

		second, err := r.Resolve(ctx, srv.url(), time.Hour)
		require.NoError(t, err)

		assert.Equal(t, int32(1), srv.fetches.Load())
		assert.Same(t, first, second)
		assert.Equal(t, "rag", second.Purpose())
	})

	t.Run("stale entry is refetched", func(t *testing.T) {
		srv := newDirectoryServer(t, validDoc(t, ""))
		clock := newFakeClock()
		r := NewResolver(WithClock(clock.Now))

		_, err := r.Resolve(ctx, srv.url(), 100*time.Millisecond)
		require.NoError(t, err)

		clock.Advance(150 * time.Millisecond)

		_, err = r.Resolve(ctx, srv.url(), 100*time.Millisecond)
		require.NoError(t, err)

		assert.Equal(t, int32(2), srv.fetches.Load())
	})

	t.Run("entry expires exactly at the window", func(t *testing.T) {
		srv := newDirectoryServer(t, validDoc(t, ""))
		clock := newFakeClock()
		r := NewResolver(WithClock(clock.Now))

		_, err := r.Resolve(ctx, srv.url(), time.Second)
		require.NoError(t, err)

		clock.Advance(999 * time.Millisecond)
		_, err = r.Resolve(ctx, srv.url(), time.Second)
		require.NoError(t, err)
		assert.Equal(t, int32(1), srv.fetches.Load())

		clock.Advance(time.Millisecond)
		_, err = r.Resolve(ctx, srv.url(), time.Second)
		require.NoError(t, err)
		assert.Equal(t, int32(2), srv.fetches.Load())
	})

	t.Run("zero window disables caching", func(t *testing.T) {
		srv := newDirectoryServer(t, validDoc(t, ""))
		r := NewResolver()

		for range 3 {
			_, err := r.Resolve(ctx, srv.url(), 0)
			require.NoError(t, err)
		}

		assert.Equal(t, int32(3), srv.fetches.Load())

		stats, err := r.CacheStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, stats.Count)
	})

	t.Run("zero window ignores an existing entry", func(t *testing.T) {
		srv := newDirectoryServer(t, validDoc(t, "old"))
		r := NewResolver()

		_, err := r.Resolve(ctx, srv.url(), time.Hour)
		require.NoError(t, err)

		srv.set(http.StatusOK, validDoc(t, "new"))

		d, err := r.Resolve(ctx, srv.url(), 0)
		require.NoError(t, err)
		assert.Equal(t, "new", d.Purpose())

		cached, err := r.Resolve(ctx, srv.url(), time.Hour)
		require.NoError(t, err)
		assert.Equal(t, "old", cached.Purpose())
	})

	t.Run("failed refetch does not fall back to stale entry", func(t *testing.T) {
		srv := newDirectoryServer(t, validDoc(t, ""))
		clock := newFakeClock()
		r := NewResolver(WithClock(clock.Now))

		_, err := r.Resolve(ctx, srv.url(), time.Minute)
		require.NoError(t, err)

		srv.set(http.StatusInternalServerError, "boom")
		clock.Advance(2 * time.Minute)

		_, err = r.Resolve(ctx, srv.url(), time.Minute)
		assert.ErrorIs(t, err, ErrFetch)
	})

	t.Run("cache key is the exact url", func(t *testing.T) {
		srv := newDirectoryServer(t, validDoc(t, ""))
		r := NewResolver()

		_, err := r.Resolve(ctx, srv.url(), time.Hour)
		require.NoError(t, err)

		_, err = r.Resolve(ctx, srv.url()+"?", time.Hour)
		require.NoError(t, err)

		assert.Equal(t, int32(2), srv.fetches.Load())
	})

	t.Run("request headers", func(t *testing.T) {
		srv := newDirectoryServer(t, validDoc(t, ""))

		_, err := NewResolver().Resolve(ctx, srv.url(), 0)
		require.NoError(t, err)

		req := srv.lastRequest()
		require.NotNil(t, req)
		assert.Equal(t, http.MethodGet, req.Method)
		assert.Equal(t, "application/json", req.Header.Get("Accept"))
		assert.Equal(t, DefaultUserAgent, req.Header.Get("User-Agent"))
		assert.Equal(t, WellKnownPath, req.URL.Path)

		_, err = NewResolver(WithUserAgent("probe/2.0")).Resolve(ctx, srv.url(), 0)
		require.NoError(t, err)
		assert.Equal(t, "probe/2.0", srv.lastRequest().Header.Get("User-Agent"))
	})

	t.Run("non-2xx is a fetch error with status", func(t *testing.T) {
		srv := newDirectoryServer(t, "")
		srv.set(http.StatusNotFound, "not found")

		_, err := NewResolver().Resolve(ctx, srv.url(), time.Hour)
		require.Error(t, err)

		var de *Error
		require.ErrorAs(t, err, &de)
		assert.Equal(t, KindFetch, de.Kind)
		assert.Equal(t, http.StatusNotFound, de.Status)
		assert.Equal(t, srv.url(), de.URL)
		assert.Contains(t, de.Error(), "404")
	})

	t.Run("malformed json is a parse error", func(t *testing.T) {
		srv := newDirectoryServer(t, `{"keys":`)

		_, err := NewResolver().Resolve(ctx, srv.url(), time.Hour)
		assert.ErrorIs(t, err, ErrParse)

		var de *Error
		require.ErrorAs(t, err, &de)
		assert.Equal(t, srv.url(), de.URL)
	})

	t.Run("schema errors are reported and not cached", func(t *testing.T) {
		srv := newDirectoryServer(t, `{"keys":[]}`)
		r := NewResolver()

		_, err := r.Resolve(ctx, srv.url(), time.Hour)
		require.ErrorIs(t, err, ErrSchema)
		assert.Contains(t, err.Error(), "empty")

		stats, err := r.CacheStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, stats.Count)
	})

	t.Run("unsupported key type names the type", func(t *testing.T) {
		x, _ := testX(t)
		srv := newDirectoryServer(t, fmt.Sprintf(`{"keys":[{"kty":"EC","crv":"P-256","kid":"k","x":%q}]}`, x))

		_, err := NewResolver().Resolve(ctx, srv.url(), time.Hour)
		require.ErrorIs(t, err, ErrSchema)
		assert.Contains(t, err.Error(), `"EC"`)
	})

	t.Run("oversized body is a fetch error", func(t *testing.T) {
		srv := newDirectoryServer(t, `{"keys":[],"pad":"`+strings.Repeat("a", MaxBodySize)+`"}`)

		_, err := NewResolver().Resolve(ctx, srv.url(), time.Hour)
		assert.ErrorIs(t, err, ErrFetch)
	})

	t.Run("transport failure is a fetch error", func(t *testing.T) {
		srv := newDirectoryServer(t, validDoc(t, ""))
		u := srv.url()
		srv.Close()

		_, err := NewResolver().Resolve(ctx, u, time.Hour)
		assert.ErrorIs(t, err, ErrFetch)
	})

	t.Run("timeout is a fetch error", func(t *testing.T) {
		block := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			select {
			case <-block:
			case <-r.Context().Done():
			}
		}))
		t.Cleanup(srv.Close)
		t.Cleanup(func() { close(block) })

		_, err := NewResolver(WithTimeout(50*time.Millisecond)).Resolve(ctx, srv.URL, time.Hour)
		require.ErrorIs(t, err, ErrFetch)
		assert.Contains(t, err.Error(), "timed out")
	})

	t.Run("caller context bounds the fetch", func(t *testing.T) {
		srv := newDirectoryServer(t, validDoc(t, ""))

		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := NewResolver().Resolve(cctx, srv.url(), time.Hour)
		assert.ErrorIs(t, err, ErrFetch)
	})

	preconditions := []struct {
		name   string
		url    string
		window time.Duration
		want   error
	}{
		{name: "relative url", url: "/.well-known/x", window: time.Hour, want: ErrInvalidURL},
		{name: "not a url", url: "::", window: time.Hour, want: ErrInvalidURL},
		{name: "unsupported scheme", url: "ftp://example.com/x", window: time.Hour, want: ErrInvalidURL},
		{name: "missing host", url: "https:///x", window: time.Hour, want: ErrInvalidURL},
		{name: "negative window", url: "https://example.com/x", window: -time.Second, want: ErrInvalidWindow},
	}

	for _, tt := range preconditions {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewResolver().Resolve(ctx, tt.url, tt.window)
			assert.ErrorIs(t, err, tt.want)

			var de *Error
			assert.False(t, errors.As(err, &de))
		})
	}
}

type failingStore struct{ Store }

func (failingStore) Get(context.Context, string) (Entry, bool, error) {
	return Entry{}, false, errors.New("store down")
}

func (failingStore) Set(context.Context, string, Entry) error {
	return errors.New("store down")
}

func TestResolverStoreFailures(t *testing.T) {
	srv := newDirectoryServer(t, validDoc(t, "rag"))
	r := NewResolver(WithStore(failingStore{Store: NewMemoryStore()}))

	d, err := r.Resolve(context.Background(), srv.url(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "rag", d.Purpose())

	_, err = r.Resolve(context.Background(), srv.url(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int32(2), srv.fetches.Load())
}

func TestResolverSharedRedisStore(t *testing.T) {
	srv := newDirectoryServer(t, validDoc(t, "rag"))
	store, _ := newRedisStore(t)

	a := NewResolver(WithStore(store))
	b := NewResolver(WithStore(store))

	_, err := a.Resolve(context.Background(), srv.url(), time.Hour)
	require.NoError(t, err)

	d, err := b.Resolve(context.Background(), srv.url(), time.Hour)
	require.NoError(t, err)

	assert.Equal(t, "rag", d.Purpose())
	assert.Equal(t, int32(1), srv.fetches.Load())
}

func TestResolverInvalidate(t *testing.T) {
	ctx := context.Background()

	srvA := newDirectoryServer(t, validDoc(t, ""))
	srvB := newDirectoryServer(t, validDoc(t, ""))
	r := NewResolver()

	_, err := r.Resolve(ctx, srvA.url(), time.Hour)
	require.NoError(t, err)
	_, err = r.Resolve(ctx, srvB.url(), time.Hour)
	require.NoError(t, err)

	stats, err := r.CacheStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Count)
	assert.ElementsMatch(t, []string{srvA.url(), srvB.url()}, stats.Keys)

	t.Run("single url", func(t *testing.T) {
		require.NoError(t, r.Invalidate(ctx, srvA.url()))

		_, err := r.Resolve(ctx, srvA.url(), time.Hour)
		require.NoError(t, err)
		assert.Equal(t, int32(2), srvA.fetches.Load())

		_, err = r.Resolve(ctx, srvB.url(), time.Hour)
		require.NoError(t, err)
		assert.Equal(t, int32(1), srvB.fetches.Load())
	})

	t.Run("all", func(t *testing.T) {
		require.NoError(t, r.InvalidateAll(ctx))

		stats, err := r.CacheStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, stats.Count)
		assert.NotNil(t, stats.Keys)
	})
}

func TestResolverBreaker(t *testing.T) {
	ctx := context.Background()

	srv := newDirectoryServer(t, "")
	srv.set(http.StatusBadGateway, "")

	r := NewResolver(WithBreaker(BreakerConfig{MaxFailures: 2, OpenTimeout: time.Hour}))

	for range 2 {
		_, err := r.Resolve(ctx, srv.url(), 0)
		require.ErrorIs(t, err, ErrFetch)
	}

	srv.set(http.StatusOK, validDoc(t, ""))

	_, err := r.Resolve(ctx, srv.url(), 0)
	require.ErrorIs(t, err, ErrFetch)
	assert.Contains(t, err.Error(), "circuit breaker open")
	assert.Equal(t, int32(2), srv.fetches.Load())

	t.Run("schema errors do not trip the breaker", func(t *testing.T) {
		bad := newDirectoryServer(t, `{"keys":[]}`)
		r := NewResolver(WithBreaker(BreakerConfig{MaxFailures: 1, OpenTimeout: time.Hour}))

		for range 3 {
			_, err := r.Resolve(ctx, bad.url(), 0)
			require.ErrorIs(t, err, ErrSchema)
		}

		assert.Equal(t, int32(3), bad.fetches.Load())
	})
}

func TestWellKnownURL(t *testing.T) {
	tests := []struct {
		domain string
		want   string
	}{
		{domain: "example.com", want: "https://example.com" + WellKnownPath},
		{domain: "Example.COM.", want: "https://example.com" + WellKnownPath},
		{domain: "example.com:8443", want: "https://example.com:8443" + WellKnownPath},
		{domain: "bücher.example", want: "https://xn--bcher-kva.example" + WellKnownPath},
	}

	for _, tt := range tests {
		t.Run(tt.domain, func(t *testing.T) {
			got, err := WellKnownURL(tt.domain)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.NoError(t, ValidateURL(got))
		})
	}

	for _, bad := range []string{"", "  ", "example.com/path", "user@example.com"} {
		t.Run("invalid "+bad, func(t *testing.T) {
			_, err := WellKnownURL(bad)
			assert.ErrorIs(t, err, ErrInvalidURL)
		})
	}
}
