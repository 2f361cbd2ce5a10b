// Package httpsig implements the verification side of HTTP Message
// Signatures (RFC 9421) used by signers that publish their keys in a
// well-known directory.
//
// It provides three pieces: a tokenizer for the Signature and
// Signature-Input headers, reconstruction of the signature base from the
// covered request components, and a Verifier capability with an Ed25519
// implementation.
//
// # Header Shapes
//
// Two Signature-Input shapes are accepted. The RFC 9421 dictionary form
// names the covered components explicitly:
//
//	Signature-Input: sig1=("@method" "@authority" "@path");created=1700000000;keyid="k1";alg="ed25519"
//	Signature: sig1=:base64:
//
// The flat form lists parameters only and covers DefaultComponents:
//
//	Signature-Input: keyid="k1",alg="ed25519",created=1700000000,nonce="n1"
//	Signature: base64
//
// # Verifying Requests
//
//	params, err := httpsig.ParseSignatureInput(r.Header.Get("Signature-Input"), "")
//	if err != nil {
//	    return err
//	}
//
//	sig, err := httpsig.ParseSignature(r.Header.Get("Signature"), params.Label)
//	if err != nil {
//	    return err
//	}
//
//	v, err := httpsig.VerifierForCurve("Ed25519")
//	if err != nil {
//	    return err
//	}
//
//	err = httpsig.VerifyRequest(r, params, sig, publicKey, v)
//
// Key discovery and caching live in the directory package; the verifier
// package combines both into a structured validation result.
package httpsig
