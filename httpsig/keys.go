package httpsig

import (
	"crypto/ed25519"
	"fmt"
)

type ed25519Verifier struct{}

// NewEd25519Verifier creates a Verifier using Ed25519.
func NewEd25519Verifier() Verifier {
	return ed25519Verifier{}
}

func (ed25519Verifier) Verify(message, signature, publicKey []byte) error {
	if len(publicKey) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: ed25519 public key must be %d bytes", ErrInvalidKey, ed25519.PublicKeySize)
	}

	if len(signature) != ed25519.SignatureSize {
		return fmt.Errorf("%w: ed25519 signature must be %d bytes", ErrSignatureInvalid, ed25519.SignatureSize)
	}

	if !ed25519.Verify(ed25519.PublicKey(publicKey), message, signature) {
		return ErrSignatureInvalid
	}

	return nil
}

func (ed25519Verifier) Algorithm() Algorithm { return AlgorithmEd25519 }
