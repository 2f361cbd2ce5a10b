// Package verifier decides whether an inbound request was signed by a key
// its claimed signer publishes, in the trust-on-first-use model.
//
// A verification runs five steps and stops at the first failure:
//
//  1. read the Signature and Signature-Input headers (KindMissingSignature)
//  2. resolve the signer's key directory (KindDirectoryUnavailable)
//  3. find the key named by keyid and check its nbf/exp window (KindUnknownKey)
//  4. verify the Ed25519 signature over the rebuilt signature base (KindSignatureInvalid)
//  5. compare the directory purpose with the expected one (KindPurposeMismatch)
//
// The purpose is compared only after the signature has verified, so a
// forged request cannot tell a wrong purpose from a wrong signature.
//
// # Usage
//
//	v, err := verifier.New(directory.NewResolver())
//	if err != nil {
//	    return err
//	}
//
//	res, err := v.Verify(ctx, r, verifier.Config{
//	    DirectoryURL:    "https://bot.example/.well-known/http-message-signatures-directory",
//	    ExpectedPurpose: "rag",
//	})
//	if err != nil {
//	    return err // invalid config
//	}
//
//	if !res.Valid {
//	    log.Printf("%s: %s", res.Error, res.Message)
//	}
//
// Middleware wraps the same check around an http.Handler.
package verifier
