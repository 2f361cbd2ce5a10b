package verifier

import (
	"fmt"
	"time"
)

// Details records which verification milestones were reached.
type Details struct {
	SignatureFound   bool `json:"signatureFound"`
	DirectoryFetched bool `json:"directoryFetched"`
	KeyMatched       bool `json:"keyMatched"`
	SignatureValid   bool `json:"signatureValid"`
}

// Metadata describes a successful verification.
type Metadata struct {
	KeyID     string    `json:"keyId"`
	Purpose   string    `json:"purpose,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Result is the outcome of verifying one request. Failures carry a Kind
// and a human readable Message; successes carry Metadata.
type Result struct {
	Valid    bool      `json:"valid"`
	Error    Kind      `json:"error,omitempty"`
	Message  string    `json:"message,omitempty"`
	Details  Details   `json:"details"`
	Metadata *Metadata `json:"metadata,omitempty"`

	// Debug is only set by VerifyDebug.
	Debug *Debug `json:"debug,omitempty"`
}

// Err returns nil for a valid result and otherwise an error wrapping the
// sentinel of the failure kind.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}

	sentinel := r.Error.Err()
	if sentinel == nil {
		return fmt.Errorf("verifier: %s", r.Message)
	}

	if r.Message == "" {
		return sentinel
	}

	return fmt.Errorf("%w: %s", sentinel, r.Message)
}

// SignatureMetadata is what was read from the Signature and
// Signature-Input headers.
type SignatureMetadata struct {
	Label          string    `json:"label,omitempty"`
	Signature      string    `json:"signature"`
	SignatureInput string    `json:"signatureInput"`
	KeyID          string    `json:"keyId,omitempty"`
	Alg            string    `json:"alg,omitempty"`
	Created        time.Time `json:"created,omitzero"`
	Expires        time.Time `json:"expires,omitzero"`
	Nonce          string    `json:"nonce,omitempty"`
	Tag            string    `json:"tag,omitempty"`
	Components     []string  `json:"components"`
}

func fail(details Details, kind Kind, format string, args ...any) Result {
	return Result{
		Error:   kind,
		Message: fmt.Sprintf(format, args...),
		Details: details,
	}
}
