// Package metrics holds the Prometheus collectors shared by the resolver,
// the verifier and the HTTP surface.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tofusig"

// Fetch results.
const (
	ResultOK          = "ok"
	ResultFetchError  = "fetch_error"
	ResultParseError  = "parse_error"
	ResultSchemaError = "schema_error"
)

// Cache lookup results.
const (
	CacheHit      = "hit"
	CacheMiss     = "miss"
	CacheStale    = "stale"
	CacheBypass   = "bypass"
	CacheStoreErr = "store_error"
)

var (
	DirectoryFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "directory",
		Name:      "fetches_total",
		Help:      "Directory fetches by result.",
	}, []string{"result"})

	DirectoryFetchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "directory",
		Name:      "fetch_duration_seconds",
		Help:      "Latency of directory fetches.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	DirectoryCacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "directory",
		Name:      "cache_lookups_total",
		Help:      "Directory cache lookups by result.",
	}, []string{"result"})

	Verifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "verifier",
		Name:      "verifications_total",
		Help:      "Signature verifications by outcome.",
	}, []string{"outcome"})

	VerificationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "verifier",
		Name:      "verification_duration_seconds",
		Help:      "Latency of signature verifications, directory resolution included.",
		Buckets:   prometheus.DefBuckets,
	})

	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests served by route and status.",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Latency of HTTP requests by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// Collectors returns every collector of the package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		DirectoryFetches,
		DirectoryFetchDuration,
		DirectoryCacheLookups,
		Verifications,
		VerificationDuration,
		HTTPRequests,
		HTTPRequestDuration,
	}
}

// Register adds all collectors to reg, or to the default registerer when
// reg is nil. Collectors that are already registered are skipped, so it is
// safe to call more than once.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}

			return err
		}
	}

	return nil
}
