package verifier

import (
	"errors"
	"net/http"
)

// Contract errors returned as Go errors rather than as a Result.
var (
	// ErrNoResolver is returned by New when no directory resolver is given.
	ErrNoResolver = errors.New("verifier: resolver must not be nil")

	// ErrInvalidConfig is returned when a Config fails validation.
	ErrInvalidConfig = errors.New("verifier: invalid config")

	// ErrNilRequest is returned when a nil request is passed for
	// verification.
	ErrNilRequest = errors.New("verifier: request must not be nil")
)

// Outcome sentinels. Result.Err wraps the one matching the result kind.
var (
	ErrMissingSignature     = errors.New("verifier: missing signature")
	ErrDirectoryUnavailable = errors.New("verifier: directory unavailable")
	ErrUnknownKey           = errors.New("verifier: unknown key")
	ErrSignatureInvalid     = errors.New("verifier: signature invalid")
	ErrPurposeMismatch      = errors.New("verifier: purpose mismatch")
)

// Kind classifies a failed verification.
type Kind string

const (
	KindMissingSignature     Kind = "MissingSignature"
	KindDirectoryUnavailable Kind = "DirectoryUnavailable"
	KindUnknownKey           Kind = "UnknownKey"
	KindSignatureInvalid     Kind = "SignatureInvalid"
	KindPurposeMismatch      Kind = "PurposeMismatch"
)

// Err returns the sentinel error of the kind, or nil for an unknown kind.
func (k Kind) Err() error {
	switch k {
	case KindMissingSignature:
		return ErrMissingSignature
	case KindDirectoryUnavailable:
		return ErrDirectoryUnavailable
	case KindUnknownKey:
		return ErrUnknownKey
	case KindSignatureInvalid:
		return ErrSignatureInvalid
	case KindPurposeMismatch:
		return ErrPurposeMismatch
	}

	return nil
}

// StatusCode maps a failure kind to the HTTP status a server should answer
// with. Authentication failures are 401, a purpose mismatch is 403 and an
// unreachable directory is 503.
func StatusCode(k Kind) int {
	switch k {
	case KindMissingSignature, KindUnknownKey, KindSignatureInvalid:
		return http.StatusUnauthorized
	case KindPurposeMismatch:
		return http.StatusForbidden
	case KindDirectoryUnavailable:
		return http.StatusServiceUnavailable
	case "":
		return http.StatusOK
	}

	return http.StatusInternalServerError
}
