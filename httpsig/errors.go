package httpsig

import "errors"

// Header errors.
var (
	// ErrSignatureNotFound is returned when the Signature or Signature-Input
	// header is absent, or when the requested label is not present in it.
	ErrSignatureNotFound = errors.New("httpsig: signature not found")

	// ErrMalformedHeader is returned when Signature or Signature-Input
	// headers cannot be tokenized.
	ErrMalformedHeader = errors.New("httpsig: malformed signature header")
)

// Verification errors.
var (
	// ErrNoVerifier is returned when VerifyRequest is called without a
	// Verifier.
	ErrNoVerifier = errors.New("httpsig: verifier must not be nil")

	// ErrSignatureInvalid is returned when signature verification fails.
	ErrSignatureInvalid = errors.New("httpsig: signature verification failed")

	// ErrAlgorithmMismatch is returned when the alg parameter of a signature
	// does not match the algorithm implied by the verification key.
	ErrAlgorithmMismatch = errors.New("httpsig: signature algorithm does not match key")

	// ErrUnsupportedAlgorithm is returned when no Verifier exists for a key
	// curve.
	ErrUnsupportedAlgorithm = errors.New("httpsig: unsupported signature algorithm")
)

// Key material errors.
var (
	// ErrInvalidKey is returned when public key material has the wrong size.
	ErrInvalidKey = errors.New("httpsig: invalid key material")
)

// Component errors.
var (
	// ErrUnknownComponent is returned when a covered component cannot be
	// derived from the request.
	ErrUnknownComponent = errors.New("httpsig: unknown component identifier")
)
