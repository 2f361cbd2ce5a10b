package directory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/vitalvas/tofusig/internal/logger"
	"github.com/vitalvas/tofusig/internal/metrics"
)

const (
	// DefaultFreshnessWindow is how long a fetched directory is trusted
	// when the caller has no preference.
	DefaultFreshnessWindow = time.Hour

	// DefaultTimeout bounds a single directory fetch.
	DefaultTimeout = 10 * time.Second

	// DefaultUserAgent identifies directory fetches.
	DefaultUserAgent = "tofusig/0.1"

	// MaxBodySize caps the directory response body.
	MaxBodySize = 1 << 20
)

// Resolver fetches key directories and caches them per exact URL.
//
// Concurrent misses for the same URL may each fetch; the last successful
// fetch wins the cache slot. A failed refetch never falls back to a stale
// entry.
type Resolver struct {
	client    *http.Client
	store     Store
	now       func() time.Time
	logger    *zap.Logger
	timeout   time.Duration
	userAgent string
	breakers  *breakers
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithHTTPClient sets the client used for fetches.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) { r.client = c }
}

// WithStore sets the cache store. Each resolver gets its own MemoryStore
// by default.
func WithStore(s Store) Option {
	return func(r *Resolver) { r.store = s }
}

// WithClock replaces time.Now for freshness decisions.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithTimeout bounds each fetch. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithUserAgent sets the User-Agent of directory fetches.
func WithUserAgent(ua string) Option {
	return func(r *Resolver) {
		if ua != "" {
			r.userAgent = ua
		}
	}
}

// WithBreaker enables a circuit breaker per directory host. Fields left at
// zero take their DefaultBreakerConfig value.
func WithBreaker(cfg BreakerConfig) Option {
	return func(r *Resolver) { r.breakers = newBreakers(cfg) }
}

// NewResolver returns a Resolver with its own in-memory cache unless
// WithStore says otherwise.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		client:    http.DefaultClient,
		now:       time.Now,
		logger:    zap.NewNop(),
		timeout:   DefaultTimeout,
		userAgent: DefaultUserAgent,
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.store == nil {
		r.store = NewMemoryStore()
	}

	if r.client == nil {
		r.client = http.DefaultClient
	}

	if r.now == nil {
		r.now = time.Now
	}

	if r.logger == nil {
		r.logger = zap.NewNop()
	}

	if r.breakers != nil {
		r.breakers.logger = r.logger
	}

	return r
}

// Resolve returns the directory published at rawURL.
//
// A cached entry is returned while now - fetchedAt < window. A window of
// zero bypasses the cache entirely: nothing is read and nothing is stored.
// ErrInvalidURL and ErrInvalidWindow report caller bugs; every runtime
// failure is an *Error.
func (r *Resolver) Resolve(ctx context.Context, rawURL string, window time.Duration) (*Directory, error) {
	if err := ValidateURL(rawURL); err != nil {
		return nil, err
	}

	if window < 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidWindow, window)
	}

	log := r.logger.With(logger.DirectoryURL(rawURL))

	if window > 0 {
		if d, ok := r.lookup(ctx, log, rawURL, window); ok {
			return d, nil
		}
	} else {
		metrics.DirectoryCacheLookups.WithLabelValues(metrics.CacheBypass).Inc()
	}

	d, err := r.fetch(ctx, rawURL)
	if err != nil {
		log.Warn("directory fetch failed", logger.Err(err))
		return nil, err
	}

	if window > 0 {
		if err := r.store.Set(ctx, rawURL, Entry{Directory: d, FetchedAt: r.now()}); err != nil {
			log.Warn("directory cache write failed", logger.Err(err))
		}
	}

	log.Debug("directory fetched", zap.Int("keys", d.Len()), zap.String("purpose", d.Purpose()))

	return d, nil
}

func (r *Resolver) lookup(ctx context.Context, log *zap.Logger, rawURL string, window time.Duration) (*Directory, bool) {
	e, ok, err := r.store.Get(ctx, rawURL)
	if err != nil {
		metrics.DirectoryCacheLookups.WithLabelValues(metrics.CacheStoreErr).Inc()
		log.Warn("directory cache read failed", logger.Err(err))

		return nil, false
	}

	if !ok || e.Directory == nil {
		metrics.DirectoryCacheLookups.WithLabelValues(metrics.CacheMiss).Inc()
		return nil, false
	}

	if r.now().Sub(e.FetchedAt) >= window {
		metrics.DirectoryCacheLookups.WithLabelValues(metrics.CacheStale).Inc()
		return nil, false
	}

	metrics.DirectoryCacheLookups.WithLabelValues(metrics.CacheHit).Inc()

	return e.Directory, true
}

func (r *Resolver) fetch(ctx context.Context, rawURL string) (*Directory, error) {
	start := time.Now()

	var (
		d   *Directory
		err error
	)

	if r.breakers != nil {
		u, _ := url.Parse(rawURL)

		var v any
		v, err = r.breakers.get(u.Host).Execute(func() (any, error) {
			return r.do(ctx, rawURL)
		})

		switch {
		case isBreakerRejection(err):
			err = fetchError(rawURL, 0, err, "circuit breaker open for host %s", u.Host)
		case err == nil:
			d = v.(*Directory)
		}
	} else {
		d, err = r.do(ctx, rawURL)
	}

	metrics.DirectoryFetchDuration.Observe(time.Since(start).Seconds())
	metrics.DirectoryFetches.WithLabelValues(fetchResult(err)).Inc()

	return d, err
}

func (r *Resolver) do(ctx context.Context, rawURL string) (*Directory, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fetchError(rawURL, 0, err, "build request: %v", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fetchError(rawURL, 0, err, "request timed out")
		}

		return nil, fetchError(rawURL, 0, err, "request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, MaxBodySize))
		return nil, fetchError(rawURL, resp.StatusCode, nil, "unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize+1))
	if err != nil {
		return nil, fetchError(rawURL, resp.StatusCode, err, "read body: %v", err)
	}

	if len(body) > MaxBodySize {
		return nil, fetchError(rawURL, resp.StatusCode, nil, "body exceeds %d bytes", MaxBodySize)
	}

	d, err := Parse(body)
	if err != nil {
		var de *Error
		if errors.As(err, &de) {
			de.URL = rawURL
		}

		return nil, err
	}

	return d, nil
}

// Invalidate drops the cached entry for rawURL.
func (r *Resolver) Invalidate(ctx context.Context, rawURL string) error {
	return r.store.Delete(ctx, rawURL)
}

// InvalidateAll drops every cached entry.
func (r *Resolver) InvalidateAll(ctx context.Context) error {
	return r.store.Clear(ctx)
}

// CacheStats describes the cache contents.
type CacheStats struct {
	Count int      `json:"count"`
	Keys  []string `json:"keys"`
}

// CacheStats reports the cached URLs, fresh or stale.
func (r *Resolver) CacheStats(ctx context.Context) (CacheStats, error) {
	keys, err := r.store.Keys(ctx)
	if err != nil {
		return CacheStats{}, err
	}

	if keys == nil {
		keys = []string{}
	}

	return CacheStats{Count: len(keys), Keys: keys}, nil
}

// ValidateURL checks that rawURL is an absolute http or https URL with a
// host.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	if !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	return nil
}

func fetchResult(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.Is(err, ErrParse):
		return metrics.ResultParseError
	case errors.Is(err, ErrSchema):
		return metrics.ResultSchemaError
	default:
		return metrics.ResultFetchError
	}
}
