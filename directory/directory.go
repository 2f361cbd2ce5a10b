package directory

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/vitalvas/tofusig/httpsig"
)

// KeyTypeOKP is the only accepted JWK key type.
const KeyTypeOKP = "OKP"

// Key is a validated Ed25519 public key published in a directory.
// The zero value is not a valid key; keys are only produced by Parse.
type Key struct {
	kid string
	x   string
	pub ed25519.PublicKey

	nbf, exp       int64
	hasNbf, hasExp bool
}

// ID returns the key identifier (JWK "kid").
func (k Key) ID() string { return k.kid }

// KeyType returns the JWK key type, always "OKP".
func (k Key) KeyType() string { return KeyTypeOKP }

// Curve returns the JWK curve, always "Ed25519".
func (k Key) Curve() string { return httpsig.CurveEd25519 }

// X returns the public key as published, base64url encoded.
func (k Key) X() string { return k.x }

// PublicKey returns a copy of the raw public key.
func (k Key) PublicKey() ed25519.PublicKey {
	return append(ed25519.PublicKey(nil), k.pub...)
}

// NotBefore returns the start of the validity window, if the key has one.
func (k Key) NotBefore() (time.Time, bool) {
	return time.UnixMilli(k.nbf), k.hasNbf
}

// NotAfter returns the end of the validity window, if the key has one.
func (k Key) NotAfter() (time.Time, bool) {
	return time.UnixMilli(k.exp), k.hasExp
}

// ValidAt reports whether t lies inside the key's validity window. Both
// bounds are inclusive; a missing bound is unbounded.
func (k Key) ValidAt(t time.Time) bool {
	ms := t.UnixMilli()

	if k.hasNbf && ms < k.nbf {
		return false
	}

	if k.hasExp && ms > k.exp {
		return false
	}

	return true
}

// Directory is a parsed and validated key directory. It is immutable: a
// re-fetch produces a new Directory rather than changing an existing one.
type Directory struct {
	keys    []Key
	purpose string
}

// Keys returns a copy of the keys in declaration order.
func (d *Directory) Keys() []Key {
	return append([]Key(nil), d.keys...)
}

// Len returns the number of keys.
func (d *Directory) Len() int { return len(d.keys) }

// Purpose returns the declared purpose, or "" when the directory has none.
func (d *Directory) Purpose() string { return d.purpose }

// FindKey returns the first key whose identifier equals kid.
func (d *Directory) FindKey(kid string) (Key, bool) {
	for _, k := range d.keys {
		if k.kid == kid {
			return k, true
		}
	}

	return Key{}, false
}

type wireKey struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	Kid string `json:"kid"`
	X   string `json:"x"`
	Nbf *int64 `json:"nbf,omitempty"`
	Exp *int64 `json:"exp,omitempty"`
}

type wireDirectory struct {
	Keys    []wireKey `json:"keys"`
	Purpose string    `json:"purpose,omitempty"`
}

// MarshalJSON writes the directory in its wire format. The output parses
// back into an identical directory.
func (d *Directory) MarshalJSON() ([]byte, error) {
	w := wireDirectory{Keys: make([]wireKey, len(d.keys)), Purpose: d.purpose}

	for i, k := range d.keys {
		wk := wireKey{Kty: KeyTypeOKP, Crv: httpsig.CurveEd25519, Kid: k.kid, X: k.x}

		if k.hasNbf {
			nbf := k.nbf
			wk.Nbf = &nbf
		}

		if k.hasExp {
			exp := k.exp
			wk.Exp = &exp
		}

		w.Keys[i] = wk
	}

	return json.Marshal(w)
}

// Parse validates a directory document.
//
// Invalid JSON yields a KindParse error. A document that is not an object,
// has no keys or an empty key array, or contains a key that is not a
// complete OKP/Ed25519 key yields a KindSchema error; for a bad key, Index
// names its position.
func Parse(data []byte) (*Directory, error) {
	if !json.Valid(data) {
		return nil, &Error{Kind: KindParse, Index: -1, Message: "body is not valid json", Err: decodeError(data)}
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil || doc == nil {
		return nil, schemaError(-1, "directory must be a json object")
	}

	rawKeys, ok := doc["keys"]
	if !ok || isNull(rawKeys) {
		return nil, schemaError(-1, "directory has no keys array")
	}

	var items []json.RawMessage
	if err := json.Unmarshal(rawKeys, &items); err != nil {
		return nil, schemaError(-1, "keys must be an array")
	}

	if len(items) == 0 {
		return nil, schemaError(-1, "directory has an empty keys array")
	}

	d := &Directory{keys: make([]Key, 0, len(items))}

	if raw, ok := doc["purpose"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &d.purpose); err != nil {
			return nil, schemaError(-1, "purpose must be a string")
		}
	}

	for i, item := range items {
		k, err := parseKey(i, item)
		if err != nil {
			return nil, err
		}

		d.keys = append(d.keys, k)
	}

	return d, nil
}

func parseKey(i int, data json.RawMessage) (Key, error) {
	if t := bytes.TrimSpace(data); len(t) == 0 || t[0] != '{' {
		return Key{}, schemaError(i, "key %d must be a json object", i)
	}

	var wk wireKey
	if err := json.Unmarshal(data, &wk); err != nil {
		return Key{}, schemaError(i, "key %d has a field of the wrong type", i)
	}

	switch {
	case wk.Kty == "":
		return Key{}, schemaError(i, "key %d is missing kty", i)
	case wk.Kty != KeyTypeOKP:
		return Key{}, schemaError(i, "key %d has unsupported key type %q", i, wk.Kty)
	case wk.Crv == "":
		return Key{}, schemaError(i, "key %d is missing crv", i)
	case wk.Crv != httpsig.CurveEd25519:
		return Key{}, schemaError(i, "key %d has unsupported curve %q", i, wk.Crv)
	case wk.Kid == "":
		return Key{}, schemaError(i, "key %d is missing kid", i)
	case wk.X == "":
		return Key{}, schemaError(i, "key %d is missing x", i)
	}

	pub, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(wk.X, "="))
	if err != nil {
		return Key{}, schemaError(i, "key %d has x that is not base64url", i)
	}

	if len(pub) != ed25519.PublicKeySize {
		return Key{}, schemaError(i, "key %d has x of %d bytes, want %d", i, len(pub), ed25519.PublicKeySize)
	}

	k := Key{kid: wk.Kid, x: wk.X, pub: pub}

	if wk.Nbf != nil {
		k.nbf, k.hasNbf = *wk.Nbf, true
	}

	if wk.Exp != nil {
		k.exp, k.hasExp = *wk.Exp, true
	}

	return k, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func decodeError(data []byte) error {
	var v any
	return json.Unmarshal(data, &v)
}
