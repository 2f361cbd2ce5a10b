// Package httpsigtest signs requests for tests of code that verifies HTTP
// message signatures. It is a fixture helper, not a producer API: keys are
// plain Ed25519 private keys and errors are returned rather than retried.
package httpsigtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/vitalvas/tofusig/httpsig"
)

// Options configures Sign.
type Options struct {
	// KeyID is written as the keyid parameter.
	KeyID string

	// PrivateKey signs the signature base. Required.
	PrivateKey ed25519.PrivateKey

	// Label names the signature in dictionary form. Defaults to "sig1".
	Label string

	// Components lists covered components in dictionary form. Defaults to
	// httpsig.DefaultComponents. Ignored in flat form.
	Components []string

	// Alg is written as the alg parameter. Defaults to ed25519; set OmitAlg
	// to leave it out entirely.
	Alg     httpsig.Algorithm
	OmitAlg bool

	Created time.Time
	Expires time.Time
	Nonce   string
	Tag     string

	// Flat selects the flat header form:
	//
	//	Signature-Input: keyid="k",alg="ed25519",created=1
	//	Signature: base64
	Flat bool
}

// Sign adds Signature and Signature-Input headers to r.
func Sign(r *http.Request, opts Options) error {
	if len(opts.PrivateKey) != ed25519.PrivateKeySize {
		return errors.New("httpsigtest: ed25519 private key required")
	}

	alg := opts.Alg
	if alg == "" {
		alg = httpsig.AlgorithmEd25519
	}

	if opts.OmitAlg {
		alg = ""
	}

	params := httpsig.Params{
		Components: opts.Components,
		Created:    opts.Created,
		Expires:    opts.Expires,
		Nonce:      opts.Nonce,
		Alg:        alg,
		KeyID:      opts.KeyID,
		Tag:        opts.Tag,
	}

	if opts.Flat || len(params.Components) == 0 {
		params.Components = httpsig.DefaultComponents
	}

	base, err := httpsig.SignatureBase(r, params)
	if err != nil {
		return err
	}

	sig := ed25519.Sign(opts.PrivateKey, base)
	encoded := base64.StdEncoding.EncodeToString(sig)

	if opts.Flat {
		r.Header.Set("Signature-Input", flatInput(params))
		r.Header.Set("Signature", encoded)

		return nil
	}

	label := opts.Label
	if label == "" {
		label = "sig1"
	}

	r.Header.Set("Signature-Input", label+"="+params.Serialize())
	r.Header.Set("Signature", label+"=:"+encoded+":")

	return nil
}

// MustSign is Sign that fails the test on error.
func MustSign(tb testing.TB, r *http.Request, opts Options) {
	tb.Helper()

	if err := Sign(r, opts); err != nil {
		tb.Fatalf("sign request: %v", err)
	}
}

// GenerateKey returns a fresh Ed25519 key pair, failing the test on error.
func GenerateKey(tb testing.TB) (ed25519.PublicKey, ed25519.PrivateKey) {
	tb.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		tb.Fatalf("generate ed25519 key: %v", err)
	}

	return pub, priv
}

func flatInput(p httpsig.Params) string {
	var parts []string

	if p.KeyID != "" {
		parts = append(parts, "keyid="+quote(p.KeyID))
	}

	if p.Alg != "" {
		parts = append(parts, "alg="+quote(p.Alg.String()))
	}

	if !p.Created.IsZero() {
		parts = append(parts, fmt.Sprintf("created=%d", p.Created.Unix()))
	}

	if !p.Expires.IsZero() {
		parts = append(parts, fmt.Sprintf("expires=%d", p.Expires.Unix()))
	}

	if p.Nonce != "" {
		parts = append(parts, "nonce="+quote(p.Nonce))
	}

	if p.Tag != "" {
		parts = append(parts, "tag="+quote(p.Tag))
	}

	return strings.Join(parts, ",")
}

func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}
