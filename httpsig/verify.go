package httpsig

import (
	"fmt"
	"net/http"
	"strings"
)

// VerifyRequest rebuilds the signature base of r from p and checks
// signature against publicKey using v.
//
// A non-empty alg parameter must name the algorithm of v; the comparison
// is case-insensitive.
func VerifyRequest(r *http.Request, p Params, signature, publicKey []byte, v Verifier) error {
	if v == nil {
		return ErrNoVerifier
	}

	if p.Alg != "" && !strings.EqualFold(p.Alg.String(), v.Algorithm().String()) {
		return fmt.Errorf("%w: signature declares %q, key requires %q", ErrAlgorithmMismatch, p.Alg, v.Algorithm())
	}

	base, err := SignatureBase(r, p)
	if err != nil {
		return err
	}

	return v.Verify(base, signature, publicKey)
}
