package verifier

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vitalvas/tofusig/directory"
	"github.com/vitalvas/tofusig/httpsig"
	"github.com/vitalvas/tofusig/internal/logger"
	"github.com/vitalvas/tofusig/internal/metrics"
)

// DirectoryResolver returns the key directory published at a URL.
// *directory.Resolver implements it.
type DirectoryResolver interface {
	Resolve(ctx context.Context, url string, window time.Duration) (*directory.Directory, error)
}

// Verifier checks inbound requests against the key directory of their
// claimed signer. It is safe for concurrent use.
type Verifier struct {
	resolver   DirectoryResolver
	now        func() time.Time
	logger     *zap.Logger
	batchLimit int
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithClock replaces time.Now for key validity, signature expiry and
// result timestamps.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(v *Verifier) { v.logger = l }
}

// WithBatchLimit bounds the number of concurrent verifications in
// VerifyBatch. Zero or negative means unbounded.
func WithBatchLimit(n int) Option {
	return func(v *Verifier) { v.batchLimit = n }
}

// New returns a Verifier that resolves directories through resolver.
func New(resolver DirectoryResolver, opts ...Option) (*Verifier, error) {
	if resolver == nil {
		return nil, ErrNoResolver
	}

	v := &Verifier{
		resolver: resolver,
		now:      time.Now,
		logger:   zap.NewNop(),
	}

	for _, opt := range opts {
		opt(v)
	}

	if v.now == nil {
		v.now = time.Now
	}

	if v.logger == nil {
		v.logger = zap.NewNop()
	}

	return v, nil
}

// Verify checks r against cfg. Verification failures are reported in the
// Result; the error is non-nil only when cfg or r violate the contract.
//
// The steps run in order and stop at the first failure: signature headers
// present, directory resolved, key found and inside its validity window,
// signature cryptographically valid, purpose as expected. The request is
// never modified.
func (v *Verifier) Verify(ctx context.Context, r *http.Request, cfg Config) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}

	if r == nil {
		return Result{}, ErrNilRequest
	}

	res, _, err := v.verify(ctx, r, cfg)

	return res, err
}

func (v *Verifier) verify(ctx context.Context, r *http.Request, cfg Config) (Result, *SignatureMetadata, error) {
	start := time.Now()

	res, meta, err := v.run(ctx, r, cfg)
	if err != nil {
		return Result{}, nil, err
	}

	outcome := "valid"
	if !res.Valid {
		outcome = string(res.Error)
	}

	metrics.Verifications.WithLabelValues(outcome).Inc()
	metrics.VerificationDuration.Observe(time.Since(start).Seconds())

	fields := []zap.Field{
		logger.Outcome(outcome),
		logger.DirectoryURL(cfg.DirectoryURL),
	}

	if meta != nil {
		fields = append(fields, logger.KeyID(meta.KeyID))
	}

	if res.Valid {
		v.logger.Debug("request signature verified", fields...)
	} else {
		v.logger.Info("request signature rejected", append(fields, zap.String("reason", res.Message))...)
	}

	return res, meta, nil
}

func (v *Verifier) run(ctx context.Context, r *http.Request, cfg Config) (Result, *SignatureMetadata, error) {
	var details Details

	sigHeader := strings.TrimSpace(r.Header.Get("Signature"))
	inputHeader := strings.TrimSpace(r.Header.Get("Signature-Input"))

	switch {
	case sigHeader == "" && inputHeader == "":
		return fail(details, KindMissingSignature, "request has no Signature or Signature-Input header"), nil, nil
	case sigHeader == "":
		return fail(details, KindMissingSignature, "request has no Signature header"), nil, nil
	case inputHeader == "":
		return fail(details, KindMissingSignature, "request has no Signature-Input header"), nil, nil
	}

	params, err := httpsig.ParseSignatureInput(inputHeader, cfg.Label)
	if err != nil {
		return fail(details, KindMissingSignature, "unusable Signature-Input header: %v", err), nil, nil
	}

	signature, sigErr := httpsig.ParseSignature(sigHeader, params.Label)
	if errors.Is(sigErr, httpsig.ErrSignatureNotFound) {
		return fail(details, KindMissingSignature, "no signature for label %q", params.Label), nil, nil
	}

	meta := newSignatureMetadata(sigHeader, inputHeader, params)
	details.SignatureFound = true

	d, err := v.resolver.Resolve(ctx, cfg.DirectoryURL, cfg.Window())
	if err != nil {
		if errors.Is(err, directory.ErrInvalidURL) || errors.Is(err, directory.ErrInvalidWindow) {
			return Result{}, nil, errors.Join(ErrInvalidConfig, err)
		}

		return fail(details, KindDirectoryUnavailable, "%v", err), meta, nil
	}

	details.DirectoryFetched = true

	if params.KeyID == "" {
		return fail(details, KindUnknownKey, "signature has no keyid"), meta, nil
	}

	key, ok := d.FindKey(params.KeyID)
	if !ok {
		return fail(details, KindUnknownKey, "key %q not found in directory", params.KeyID), meta, nil
	}

	now := v.now()

	if !key.ValidAt(now) {
		return fail(details, KindUnknownKey, "key %q is outside its validity window", params.KeyID), meta, nil
	}

	details.KeyMatched = true

	if err := checkSignature(r, params, signature, sigErr, key, now); err != nil {
		return fail(details, KindSignatureInvalid, "%v", err), meta, nil
	}

	details.SignatureValid = true

	if cfg.ExpectedPurpose != "" && d.Purpose() != cfg.ExpectedPurpose {
		if d.Purpose() == "" {
			return fail(details, KindPurposeMismatch, "expected purpose %q, directory declares none", cfg.ExpectedPurpose), meta, nil
		}

		return fail(details, KindPurposeMismatch, "expected purpose %q, directory declares %q", cfg.ExpectedPurpose, d.Purpose()), meta, nil
	}

	return Result{
		Valid:   true,
		Details: details,
		Metadata: &Metadata{
			KeyID:     key.ID(),
			Purpose:   d.Purpose(),
			Timestamp: now,
		},
	}, meta, nil
}

// checkSignature is pure: it does not touch the network.
func checkSignature(r *http.Request, p httpsig.Params, signature []byte, sigErr error, key directory.Key, now time.Time) error {
	if sigErr != nil {
		return sigErr
	}

	if p.Expired(now) {
		return errors.New("signature expired at " + p.Expires.UTC().Format(time.RFC3339))
	}

	hv, err := httpsig.VerifierForCurve(key.Curve())
	if err != nil {
		return err
	}

	return httpsig.VerifyRequest(r, p, signature, key.PublicKey(), hv)
}

func newSignatureMetadata(sig, input string, p httpsig.Params) *SignatureMetadata {
	return &SignatureMetadata{
		Label:          p.Label,
		Signature:      sig,
		SignatureInput: input,
		KeyID:          p.KeyID,
		Alg:            p.Alg.String(),
		Created:        p.Created,
		Expires:        p.Expires,
		Nonce:          p.Nonce,
		Tag:            p.Tag,
		Components:     append([]string(nil), p.Components...),
	}
}
