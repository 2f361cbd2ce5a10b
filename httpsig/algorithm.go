package httpsig

import "fmt"

// Algorithm identifies the HTTP message signature algorithm per RFC 9421
// Section 3.3.
type Algorithm string

// AlgorithmEd25519 is Edwards-Curve Digital Signature Algorithm using
// curve 25519.
const AlgorithmEd25519 Algorithm = "ed25519"

// CurveEd25519 is the JWK "crv" value for Ed25519 keys.
const CurveEd25519 = "Ed25519"

// String returns the string representation of the algorithm as registered
// in the HTTP Signature Algorithms Registry.
func (a Algorithm) String() string {
	return string(a)
}

// Verifier validates signatures over HTTP message signature base strings.
// Implementations are pure: they never touch the network and keep no state
// between calls.
type Verifier interface {
	// Verify checks that signature is valid for message under publicKey.
	// Returns nil on success, non-nil on failure.
	Verify(message, signature, publicKey []byte) error

	// Algorithm returns the algorithm identifier for this verifier.
	Algorithm() Algorithm
}

// VerifierForCurve returns the Verifier implied by a JWK curve name.
func VerifierForCurve(crv string) (Verifier, error) {
	switch crv {
	case CurveEd25519:
		return NewEd25519Verifier(), nil
	default:
		return nil, fmt.Errorf("%w: curve %q", ErrUnsupportedAlgorithm, crv)
	}
}
