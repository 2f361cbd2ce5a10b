// Package server exposes the verifier and directory cache over HTTP.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vitalvas/tofusig/directory"
	"github.com/vitalvas/tofusig/verifier"
)

// Cache is the directory cache administration surface.
type Cache interface {
	Invalidate(ctx context.Context, rawURL string) error
	InvalidateAll(ctx context.Context) error
	CacheStats(ctx context.Context) (directory.CacheStats, error)
}

// Config configures New.
type Config struct {
	// Verify is used by every verification endpoint.
	Verify verifier.Config

	// TrustRequestID reuses an incoming X-Request-ID instead of
	// generating one.
	TrustRequestID bool

	// MaxBatchBody caps the POST /verify/batch body. Default 1 MiB.
	MaxBatchBody int64
}

// Server routes the HTTP surface.
type Server struct {
	router   chi.Router
	verifier *verifier.Verifier
	cache    Cache
	cfg      Config
	logger   *zap.Logger
}

// New builds the router. It returns an error if v is nil or cfg.Verify is
// invalid.
func New(v *verifier.Verifier, cache Cache, cfg Config, log *zap.Logger) (*Server, error) {
	if v == nil {
		return nil, verifier.ErrNoResolver
	}

	if cache == nil {
		return nil, errors.New("server: nil cache")
	}

	if log == nil {
		log = zap.NewNop()
	}

	if cfg.MaxBatchBody <= 0 {
		cfg.MaxBatchBody = 1 << 20
	}

	protect, err := verifier.Middleware(v, verifier.MiddlewareConfig{Verify: cfg.Verify})
	if err != nil {
		return nil, err
	}

	s := &Server{
		verifier: v,
		cache:    cache,
		cfg:      cfg,
		logger:   log.Named("server"),
	}

	r := chi.NewRouter()
	r.Use(RequestID(s.logger, cfg.TrustRequestID))
	r.Use(AccessLog)
	r.Use(Recovery)

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.HandleFunc("/verify", s.verify)
	r.Post("/verify/batch", s.verifyBatch)

	r.Route("/protected", func(r chi.Router) {
		r.Use(protect)
		r.HandleFunc("/*", s.protected)
	})

	r.Get("/cache", s.cacheStats)
	r.Delete("/cache", s.cacheInvalidate)

	s.router = r

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run serves h on addr until ctx is cancelled, then shuts down gracefully
// within shutdownTimeout.
func Run(ctx context.Context, addr string, h http.Handler, readTimeout, shutdownTimeout time.Duration, log *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: readTimeout,
		ReadTimeout:       readTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)

	go func() {
		log.Info("listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	log.Info("shutting down")

	return srv.Shutdown(shutdownCtx)
}
