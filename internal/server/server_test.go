package server

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vitalvas/tofusig/directory"
	"github.com/vitalvas/tofusig/httpsig/httpsigtest"
	"github.com/vitalvas/tofusig/internal/metrics"
	"github.com/vitalvas/tofusig/verifier"
)

var uuidV7Regex = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-7[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

type fixture struct {
	server   *Server
	priv     ed25519.PrivateKey
	fetches  *atomic.Int32
	dirURL   string
	resolver *directory.Resolver
}

func newFixture(t *testing.T, purpose string) *fixture {
	t.Helper()

	pub, priv := httpsigtest.GenerateKey(t)

	body, err := json.Marshal(map[string]any{
		"purpose": purpose,
		"keys": []map[string]string{{
			"kty": "OKP",
			"crv": "Ed25519",
			"kid": "agent-1",
			"x":   base64.RawURLEncoding.EncodeToString(pub),
		}},
	})
	require.NoError(t, err)

	var fetches atomic.Int32

	dirSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fetches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(dirSrv.Close)

	resolver := directory.NewResolver(directory.WithHTTPClient(dirSrv.Client()))

	v, err := verifier.New(resolver)
	require.NoError(t, err)

	dirURL := dirSrv.URL + directory.WellKnownPath

	s, err := New(v, resolver, Config{
		Verify: verifier.Config{DirectoryURL: dirURL, ExpectedPurpose: "rag"},
	}, zap.NewNop())
	require.NoError(t, err)

	return &fixture{server: s, priv: priv, fetches: &fetches, dirURL: dirURL, resolver: resolver}
}

func (f *fixture) do(t *testing.T, r *http.Request) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, r)

	return rec
}

func (f *fixture) signed(t *testing.T, method, target string) *http.Request {
	t.Helper()

	r := httptest.NewRequest(method, target, nil)
	httpsigtest.MustSign(t, r, httpsigtest.Options{KeyID: "agent-1", PrivateKey: f.priv})

	return r
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) verifier.Result {
	t.Helper()

	var res verifier.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))

	return res
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, "rag")

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Regexp(t, uuidV7Regex, rec.Header().Get(RequestIDHeader))
}

func TestMetricsEndpoint(t *testing.T) {
	require.NoError(t, metrics.Register(nil))

	f := newFixture(t, "rag")
	f.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `tofusig_http_requests_total{method="GET",route="/healthz",status="200"}`)
}

func TestVerifyEndpoint(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		f := newFixture(t, "rag")

		rec := f.do(t, f.signed(t, http.MethodGet, "http://api.example/verify"))

		assert.Equal(t, http.StatusOK, rec.Code)

		res := decodeResult(t, rec)
		assert.True(t, res.Valid)
		require.NotNil(t, res.Metadata)
		assert.Equal(t, "agent-1", res.Metadata.KeyID)
		assert.Nil(t, res.Debug)
	})

	t.Run("cached across requests", func(t *testing.T) {
		f := newFixture(t, "rag")

		f.do(t, f.signed(t, http.MethodGet, "http://api.example/verify"))
		f.do(t, f.signed(t, http.MethodPost, "http://api.example/verify"))

		assert.Equal(t, int32(1), f.fetches.Load())
	})

	t.Run("missing signature", func(t *testing.T) {
		f := newFixture(t, "rag")

		rec := f.do(t, httptest.NewRequest(http.MethodGet, "http://api.example/verify", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, verifier.KindMissingSignature, decodeResult(t, rec).Error)
		assert.Equal(t, int32(0), f.fetches.Load())
	})

	t.Run("purpose mismatch", func(t *testing.T) {
		f := newFixture(t, "search")

		rec := f.do(t, f.signed(t, http.MethodGet, "http://api.example/verify"))

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, verifier.KindPurposeMismatch, decodeResult(t, rec).Error)
	})

	t.Run("debug", func(t *testing.T) {
		f := newFixture(t, "rag")

		rec := f.do(t, f.signed(t, http.MethodGet, "http://api.example/verify?debug=true"))

		assert.Equal(t, http.StatusOK, rec.Code)

		res := decodeResult(t, rec)
		assert.True(t, res.Valid)
		require.NotNil(t, res.Debug)
		assert.Equal(t, http.MethodGet, res.Debug.Method)
		assert.Equal(t, f.dirURL, res.Debug.Config.DirectoryURL)
	})
}

func TestVerifyBatchEndpoint(t *testing.T) {
	f := newFixture(t, "rag")

	signed := f.signed(t, http.MethodGet, "https://shop.example/items")

	descs := []RequestDescriptor{
		{Method: "GET", URL: "https://shop.example/items", Headers: map[string]string{
			"Signature":       signed.Header.Get("Signature"),
			"Signature-Input": signed.Header.Get("Signature-Input"),
		}},
		{Method: "GET", URL: "https://shop.example/other"},
		{Method: "DELETE", URL: "https://shop.example/items", Headers: map[string]string{
			"Signature":       signed.Header.Get("Signature"),
			"Signature-Input": signed.Header.Get("Signature-Input"),
		}},
	}

	body, err := json.Marshal(descs)
	require.NoError(t, err)

	t.Run("results in order", func(t *testing.T) {
		rec := f.do(t, httptest.NewRequest(http.MethodPost, "/verify/batch", bytes.NewReader(body)))
		require.Equal(t, http.StatusOK, rec.Code)

		var results []verifier.Result
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
		require.Len(t, results, 3)

		assert.True(t, results[0].Valid)
		assert.Equal(t, verifier.KindMissingSignature, results[1].Error)
		assert.Equal(t, verifier.KindSignatureInvalid, results[2].Error)
	})

	badBodies := map[string]string{
		"not json":     `{`,
		"relative url": `[{"method":"GET","url":"/items"}]`,
		"object":       `{"method":"GET"}`,
	}

	for name, b := range badBodies {
		t.Run(name, func(t *testing.T) {
			rec := f.do(t, httptest.NewRequest(http.MethodPost, "/verify/batch", bytes.NewBufferString(b)))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	t.Run("host header override", func(t *testing.T) {
		req, err := RequestDescriptor{
			URL:     "https://shop.example/items",
			Headers: map[string]string{"Host": "cdn.example"},
		}.request(httptest.NewRequest(http.MethodPost, "/verify/batch", nil))
		require.NoError(t, err)

		assert.Equal(t, http.MethodGet, req.Method)
		assert.Equal(t, "cdn.example", req.Host)
		assert.Empty(t, req.Header.Get("Host"))
	})
}

func TestProtected(t *testing.T) {
	f := newFixture(t, "rag")

	t.Run("signed", func(t *testing.T) {
		rec := f.do(t, f.signed(t, http.MethodGet, "http://api.example/protected/report"))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"keyId":"agent-1","purpose":"rag","path":"/protected/report"}`, rec.Body.String())
	})

	t.Run("unsigned", func(t *testing.T) {
		rec := f.do(t, httptest.NewRequest(http.MethodGet, "http://api.example/protected/report", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, verifier.KindMissingSignature, decodeResult(t, rec).Error)
	})
}

func TestCacheEndpoints(t *testing.T) {
	f := newFixture(t, "rag")
	f.do(t, f.signed(t, http.MethodGet, "http://api.example/verify"))

	t.Run("stats", func(t *testing.T) {
		rec := f.do(t, httptest.NewRequest(http.MethodGet, "/cache", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var stats directory.CacheStats
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
		assert.Equal(t, 1, stats.Count)
		assert.Equal(t, []string{f.dirURL}, stats.Keys)
	})

	t.Run("invalidate one", func(t *testing.T) {
		rec := f.do(t, httptest.NewRequest(http.MethodDelete, "/cache?url="+f.dirURL, nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)

		stats, err := f.resolver.CacheStats(context.Background())
		require.NoError(t, err)
		assert.Zero(t, stats.Count)
	})

	t.Run("invalidate all", func(t *testing.T) {
		f.do(t, f.signed(t, http.MethodGet, "http://api.example/verify"))

		rec := f.do(t, httptest.NewRequest(http.MethodDelete, "/cache", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)

		stats, err := f.resolver.CacheStats(context.Background())
		require.NoError(t, err)
		assert.Zero(t, stats.Count)
		assert.Equal(t, int32(2), f.fetches.Load())
	})
}

type failingCache struct{}

func (failingCache) Invalidate(context.Context, string) error { return errors.New("down") }

func (failingCache) InvalidateAll(context.Context) error { return errors.New("down") }

func (failingCache) CacheStats(context.Context) (directory.CacheStats, error) {
	return directory.CacheStats{}, errors.New("down")
}

func TestCacheErrors(t *testing.T) {
	v, err := verifier.New(directory.NewResolver())
	require.NoError(t, err)

	s, err := New(v, failingCache{}, Config{
		Verify: verifier.Config{DirectoryURL: "https://signer.example/.well-known/http-message-signatures-directory"},
	}, nil)
	require.NoError(t, err)

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		t.Run(method, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, httptest.NewRequest(method, "/cache", nil))
			assert.Equal(t, http.StatusInternalServerError, rec.Code)
		})
	}
}

func TestNew(t *testing.T) {
	v, err := verifier.New(directory.NewResolver())
	require.NoError(t, err)

	t.Run("nil verifier", func(t *testing.T) {
		_, err := New(nil, directory.NewResolver(), Config{}, nil)
		assert.ErrorIs(t, err, verifier.ErrNoResolver)
	})

	t.Run("nil cache", func(t *testing.T) {
		_, err := New(v, nil, Config{}, nil)
		assert.Error(t, err)
	})

	t.Run("invalid verify config", func(t *testing.T) {
		_, err := New(v, directory.NewResolver(), Config{}, nil)
		assert.ErrorIs(t, err, verifier.ErrInvalidConfig)
	})
}

func TestRequestID(t *testing.T) {
	var seen string

	next := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	})

	t.Run("generated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "incoming")

		RequestID(zap.NewNop(), false)(next).ServeHTTP(rec, req)

		assert.Regexp(t, uuidV7Regex, seen)
		assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
	})

	t.Run("trusted incoming", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "incoming")

		RequestID(zap.NewNop(), true)(next).ServeHTTP(rec, req)

		assert.Equal(t, "incoming", seen)
		assert.Equal(t, "incoming", rec.Header().Get(RequestIDHeader))
	})

	t.Run("absent outside middleware", func(t *testing.T) {
		assert.Empty(t, RequestIDFromContext(context.Background()))
	})
}

func TestRecoveryAndAccessLog(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	panicking := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(fmt.Sprintf("boom %d", 1))
	})

	h := RequestID(zap.New(core), false)(AccessLog(Recovery(panicking)))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/explode", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	panics := logs.FilterMessage("handler panic").All()
	require.Len(t, panics, 1)
	assert.Equal(t, "boom 1", panics[0].ContextMap()["panic"])
	assert.NotEmpty(t, panics[0].ContextMap()["request_id"])

	access := logs.FilterMessage("request").All()
	require.Len(t, access, 1)
	assert.Equal(t, int64(http.StatusInternalServerError), access[0].ContextMap()["status"])
	assert.Equal(t, "unmatched", access[0].ContextMap()["route"])
}
