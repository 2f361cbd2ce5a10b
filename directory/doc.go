// Package directory discovers, validates and caches the key directories that
// HTTP message signers publish under WellKnownPath.
//
// A directory is a JSON document:
//
//	{"keys": [{"kty": "OKP", "crv": "Ed25519", "kid": "k1", "x": "<base64url>", "nbf": 0, "exp": 0}], "purpose": "rag"}
//
// nbf and exp are optional epoch milliseconds. Parse rejects a directory
// when any key is incomplete or not an Ed25519 key.
//
// The trust model is trust on first use: whatever the domain currently
// publishes is trusted. Resolver caches each directory under its exact URL
// and refetches once the caller's freshness window has elapsed:
//
//	r := directory.NewResolver(directory.WithTimeout(5 * time.Second))
//
//	d, err := r.Resolve(ctx, "https://example.com"+directory.WellKnownPath, time.Hour)
//	if err != nil {
//	    return err
//	}
//
//	key, ok := d.FindKey(keyID)
//
// The cache lives in a Store: MemoryStore for a single process, RedisStore
// to share directories between replicas.
package directory
