package directory

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerConfig configures the per-host circuit breakers of a Resolver.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive fetch failures that opens
	// the breaker for a host.
	MaxFailures uint32

	// OpenTimeout is how long an open breaker rejects fetches before
	// letting a probe through.
	OpenTimeout time.Duration

	// HalfOpenRequests is the number of probes allowed while half-open.
	HalfOpenRequests uint32
}

// DefaultBreakerConfig returns the breaker settings used when WithBreaker
// is given a zero config.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures:      3,
		OpenTimeout:      30 * time.Second,
		HalfOpenRequests: 1,
	}
}

type breakers struct {
	cfg    BreakerConfig
	logger *zap.Logger

	mu sync.Mutex
	m  map[string]*gobreaker.CircuitBreaker
}

func newBreakers(cfg BreakerConfig) *breakers {
	def := DefaultBreakerConfig()

	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = def.MaxFailures
	}

	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}

	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = def.HalfOpenRequests
	}

	return &breakers{cfg: cfg, m: make(map[string]*gobreaker.CircuitBreaker)}
}

func (b *breakers) get(host string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cb, ok := b.m[host]; ok {
		return cb
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        host,
		MaxRequests: b.cfg.HalfOpenRequests,
		Timeout:     b.cfg.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= b.cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("directory breaker state changed",
				zap.String("host", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		// A host that answers with a bad document is reachable.
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrFetch)
		},
	})

	b.m[host] = cb

	return cb
}

func isBreakerRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
