package httpsig

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultComponents are the covered components assumed for the flat
// Signature-Input form, which carries no component list of its own.
var DefaultComponents = []string{ComponentMethod, ComponentAuthority, ComponentPath}

// Params holds the signature parameters parsed from a Signature-Input
// header. Zero values mean the parameter was absent.
type Params struct {
	// Label is the dictionary key of the signature. Empty for the flat form.
	Label string

	// Components lists the covered component identifiers in signing order.
	Components []string

	Created time.Time
	Expires time.Time
	Nonce   string
	Alg     Algorithm
	KeyID   string
	Tag     string

	// Raw is the @signature-params value exactly as received. It is empty
	// for the flat form, in which case Serialize is used instead.
	Raw string
}

// SignatureParams returns the value of the @signature-params line of the
// signature base.
func (p Params) SignatureParams() string {
	if p.Raw != "" {
		return p.Raw
	}

	return p.Serialize()
}

// Expired reports whether the signature carries an expires parameter that
// lies before now.
func (p Params) Expired(now time.Time) bool {
	return !p.Expires.IsZero() && now.After(p.Expires)
}

// Serialize produces the inner-list representation of the parameters per
// RFC 9421 Section 2.3 and RFC 8941 Section 3.1.1.
//
// Format: (<component-ids>);created=...;expires=...;nonce=...;alg=...;keyid=...;tag=...
func (p Params) Serialize() string {
	var b strings.Builder

	b.WriteByte('(')
	for i, id := range p.Components {
		if i > 0 {
			b.WriteByte(' ')
		}

		b.WriteString(quoteRFC8941(id))
	}
	b.WriteByte(')')

	if !p.Created.IsZero() {
		fmt.Fprintf(&b, ";created=%d", p.Created.Unix())
	}

	if !p.Expires.IsZero() {
		fmt.Fprintf(&b, ";expires=%d", p.Expires.Unix())
	}

	writeStringParam(&b, "nonce", p.Nonce)
	writeStringParam(&b, "alg", p.Alg.String())
	writeStringParam(&b, "keyid", p.KeyID)
	writeStringParam(&b, "tag", p.Tag)

	return b.String()
}

func writeStringParam(b *strings.Builder, key, value string) {
	if value == "" {
		return
	}

	b.WriteByte(';')
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(quoteRFC8941(value))
}

// ParseSignatureInput parses a Signature-Input header.
//
// Two shapes are accepted. The RFC 9421 dictionary form
//
//	sig1=("@method" "@authority" "@path");created=1618884473;keyid="k1"
//
// selects the member named label, or the first member when label is empty.
// The flat form
//
//	keyid="k1",alg="ed25519",created=1618884473,nonce="n"
//
// covers DefaultComponents. Unknown parameters are ignored and absent ones
// stay unset; a missing keyid is not an error here.
func ParseSignatureInput(header, label string) (Params, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return Params{}, ErrSignatureNotFound
	}

	members, err := parseDictionary(header)
	if err != nil {
		return Params{}, err
	}

	if len(members) == 0 {
		return Params{}, ErrSignatureNotFound
	}

	if !hasKind(members, kindInnerList) {
		return parseFlat(members)
	}

	for _, m := range members {
		if m.value.kind != kindInnerList {
			continue
		}

		if label != "" && m.key != label {
			continue
		}

		return parseMember(m)
	}

	return Params{}, fmt.Errorf("%w: label %q", ErrSignatureNotFound, label)
}

func parseMember(m sfMember) (Params, error) {
	p := Params{Label: m.key, Raw: m.raw}

	for _, it := range m.value.list {
		if it.kind != kindString {
			return Params{}, fmt.Errorf("%w: component identifiers must be quoted strings", ErrMalformedHeader)
		}

		if len(it.params) > 0 {
			return Params{}, fmt.Errorf("%w: component parameters are not supported: %q", ErrMalformedHeader, it.value)
		}

		p.Components = append(p.Components, it.value)
	}

	for _, param := range m.value.params {
		if err := p.set(param.key, param.value); err != nil {
			return Params{}, err
		}
	}

	return p, nil
}

func parseFlat(members []sfMember) (Params, error) {
	p := Params{Components: append([]string(nil), DefaultComponents...)}

	for _, m := range members {
		if err := p.set(m.key, m.value); err != nil {
			return Params{}, err
		}

		for _, param := range m.value.params {
			if err := p.set(param.key, param.value); err != nil {
				return Params{}, err
			}
		}
	}

	return p, nil
}

func (p *Params) set(key string, v sfItem) error {
	switch key {
	case "created":
		t, err := parseUnix(key, v)
		if err != nil {
			return err
		}
		p.Created = t

	case "expires":
		t, err := parseUnix(key, v)
		if err != nil {
			return err
		}
		p.Expires = t

	case "nonce":
		p.Nonce = v.value

	case "alg":
		p.Alg = Algorithm(v.value)

	case "keyid":
		p.KeyID = v.value

	case "tag":
		p.Tag = v.value
	}

	return nil
}

func parseUnix(key string, v sfItem) (time.Time, error) {
	if v.kind != kindToken && v.kind != kindString {
		return time.Time{}, fmt.Errorf("%w: invalid %s timestamp", ErrMalformedHeader, key)
	}

	ts, err := strconv.ParseInt(v.value, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid %s timestamp", ErrMalformedHeader, key)
	}

	return time.Unix(ts, 0), nil
}

// ParseSignature extracts the signature bytes from a Signature header.
//
// The dictionary form (sig1=:base64:) selects the member named label, or the
// first byte-sequence member when label is empty. Anything else is treated
// as a bare base64 value, standard or URL alphabet, padded or not.
func ParseSignature(header, label string) ([]byte, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, ErrSignatureNotFound
	}

	if members, err := parseDictionary(header); err == nil && hasKind(members, kindBytes) {
		for _, m := range members {
			if m.value.kind != kindBytes {
				continue
			}

			if label != "" && m.key != label {
				continue
			}

			return decodeBase64(m.value.value)
		}

		return nil, fmt.Errorf("%w: label %q", ErrSignatureNotFound, label)
	}

	value := header
	if len(value) >= 2 && value[0] == ':' && value[len(value)-1] == ':' {
		value = value[1 : len(value)-1]
	}

	return decodeBase64(value)
}

func decodeBase64(s string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}

	return nil, fmt.Errorf("%w: invalid base64 in signature", ErrMalformedHeader)
}

func hasKind(members []sfMember, kind itemKind) bool {
	for _, m := range members {
		if m.value.kind == kind {
			return true
		}
	}

	return false
}

// quoteRFC8941 produces an RFC 8941 quoted-string. Only backslash and
// double-quote are escaped (Section 3.3.3).
func quoteRFC8941(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')

	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch == '\\' || ch == '"' {
			b.WriteByte('\\')
		}

		b.WriteByte(ch)
	}

	b.WriteByte('"')

	return b.String()
}
