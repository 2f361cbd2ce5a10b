package verifier

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// Debug is a snapshot of the verification inputs attached by VerifyDebug.
type Debug struct {
	TraceID   string             `json:"traceId"`
	Method    string             `json:"method"`
	URL       string             `json:"url"`
	Headers   http.Header        `json:"headers"`
	Config    ConfigSnapshot     `json:"config"`
	Signature *SignatureMetadata `json:"signature,omitempty"`
}

// ConfigSnapshot is the resolved configuration of a verification.
type ConfigSnapshot struct {
	DirectoryURL    string `json:"directoryUrl"`
	ExpectedPurpose string `json:"expectedPurpose,omitempty"`
	FreshnessWindow string `json:"freshnessWindow"`
	CacheDisabled   bool   `json:"cacheDisabled"`
	Label           string `json:"label,omitempty"`
}

// VerifyDebug behaves like Verify and additionally attaches a Debug
// snapshot of the request and configuration. The outcome is identical.
func (v *Verifier) VerifyDebug(ctx context.Context, r *http.Request, cfg Config) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}

	if r == nil {
		return Result{}, ErrNilRequest
	}

	res, meta, err := v.verify(ctx, r, cfg)
	if err != nil {
		return Result{}, err
	}

	res.Debug = &Debug{
		TraceID: newTraceID(),
		Method:  r.Method,
		URL:     requestURL(r),
		Headers: r.Header.Clone(),
		Config: ConfigSnapshot{
			DirectoryURL:    cfg.DirectoryURL,
			ExpectedPurpose: cfg.ExpectedPurpose,
			FreshnessWindow: cfg.Window().String(),
			CacheDisabled:   cfg.DisableCache,
			Label:           cfg.Label,
		},
		Signature: meta,
	}

	return res, nil
}

func newTraceID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}

// requestURL returns the absolute URL of r. Server-side requests carry only
// the path, so scheme and host are filled in from the request.
func requestURL(r *http.Request) string {
	if r.URL == nil {
		return ""
	}

	if r.URL.IsAbs() {
		return r.URL.String()
	}

	u := *r.URL

	u.Scheme = "http"
	if r.TLS != nil {
		u.Scheme = "https"
	}

	if u.Host == "" {
		u.Host = r.Host
	}

	return u.String()
}
