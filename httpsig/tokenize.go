package httpsig

import (
	"fmt"
	"strings"
)

// itemKind classifies a structured field value (RFC 8941 Section 3.3).
type itemKind int

const (
	kindToken itemKind = iota
	kindString
	kindBytes
	kindBoolean
	kindInnerList
)

// sfItem is a bare item or inner list with its parameters.
type sfItem struct {
	kind   itemKind
	value  string
	list   []sfItem
	params []sfParam
}

type sfParam struct {
	key   string
	value sfItem
}

// sfMember is one key=value entry of a dictionary. raw holds the text of
// the value including its parameters, exactly as it appeared on the wire.
type sfMember struct {
	key   string
	value sfItem
	raw   string
}

// tokenizer reads the subset of RFC 8941 used by Signature and
// Signature-Input. It is lenient about whitespace and key case, strict about
// unterminated strings, byte sequences and inner lists.
type tokenizer struct {
	s   string
	pos int
}

// parseDictionary splits s into comma separated members. Commas inside
// quoted strings and inner lists do not split members.
func parseDictionary(s string) ([]sfMember, error) {
	t := &tokenizer{s: s}

	var members []sfMember

	t.skipSpace()
	for !t.eof() {
		m, err := t.member()
		if err != nil {
			return nil, err
		}

		members = append(members, m)

		t.skipSpace()
		if t.eof() {
			break
		}

		if t.peek() != ',' {
			return nil, t.errorf("expected ',' after member %q", m.key)
		}

		t.pos++
		t.skipSpace()

		if t.eof() {
			return nil, t.errorf("trailing comma")
		}
	}

	return members, nil
}

func (t *tokenizer) member() (sfMember, error) {
	key, err := t.key()
	if err != nil {
		return sfMember{}, err
	}

	m := sfMember{key: key}
	start := t.pos

	if !t.eof() && t.peek() == '=' {
		t.pos++
		start = t.pos

		if !t.eof() && t.peek() == '(' {
			m.value, err = t.innerList()
		} else {
			m.value, err = t.bareItem()
		}

		if err != nil {
			return sfMember{}, err
		}
	} else {
		m.value = sfItem{kind: kindBoolean, value: "?1"}
	}

	m.value.params, err = t.params()
	if err != nil {
		return sfMember{}, err
	}

	m.raw = strings.TrimSpace(t.s[start:t.pos])

	return m, nil
}

func (t *tokenizer) innerList() (sfItem, error) {
	t.pos++ // (

	var items []sfItem

	for {
		t.skipSpace()

		if t.eof() {
			return sfItem{}, t.errorf("unterminated inner list")
		}

		if t.peek() == ')' {
			t.pos++
			return sfItem{kind: kindInnerList, list: items}, nil
		}

		it, err := t.bareItem()
		if err != nil {
			return sfItem{}, err
		}

		it.params, err = t.params()
		if err != nil {
			return sfItem{}, err
		}

		items = append(items, it)

		if !t.eof() && t.peek() != ' ' && t.peek() != '\t' && t.peek() != ')' {
			return sfItem{}, t.errorf("unexpected %q in inner list", t.peek())
		}
	}
}

// params reads ";key[=value]" pairs. Whitespace before a semicolon is
// tolerated; when no semicolon follows, the position is left untouched.
func (t *tokenizer) params() ([]sfParam, error) {
	var params []sfParam

	for {
		save := t.pos
		t.skipSpace()

		if t.eof() || t.peek() != ';' {
			t.pos = save
			return params, nil
		}

		t.pos++
		t.skipSpace()

		key, err := t.key()
		if err != nil {
			return nil, err
		}

		p := sfParam{key: key, value: sfItem{kind: kindBoolean, value: "?1"}}

		if !t.eof() && t.peek() == '=' {
			t.pos++

			p.value, err = t.bareItem()
			if err != nil {
				return nil, err
			}
		}

		params = append(params, p)
	}
}

func (t *tokenizer) bareItem() (sfItem, error) {
	if t.eof() {
		return sfItem{}, t.errorf("expected value")
	}

	switch t.peek() {
	case '"':
		return t.quoted()
	case ':':
		return t.byteSequence()
	case '?':
		if t.pos+1 < len(t.s) && (t.s[t.pos+1] == '0' || t.s[t.pos+1] == '1') {
			v := t.s[t.pos : t.pos+2]
			t.pos += 2

			return sfItem{kind: kindBoolean, value: v}, nil
		}

		return sfItem{}, t.errorf("invalid boolean")
	}

	start := t.pos
	for !t.eof() && !isDelimiter(t.peek()) {
		t.pos++
	}

	if start == t.pos {
		return sfItem{}, t.errorf("expected value, got %q", t.peek())
	}

	return sfItem{kind: kindToken, value: t.s[start:t.pos]}, nil
}

// quoted reads a quoted string. Only \" and \\ escapes are recognised.
func (t *tokenizer) quoted() (sfItem, error) {
	t.pos++ // opening quote

	var b strings.Builder

	for !t.eof() {
		ch := t.s[t.pos]
		t.pos++

		switch ch {
		case '\\':
			if t.eof() {
				return sfItem{}, t.errorf("unterminated escape")
			}

			b.WriteByte(t.s[t.pos])
			t.pos++
		case '"':
			return sfItem{kind: kindString, value: b.String()}, nil
		default:
			b.WriteByte(ch)
		}
	}

	return sfItem{}, t.errorf("unterminated quoted string")
}

func (t *tokenizer) byteSequence() (sfItem, error) {
	t.pos++ // opening colon

	end := strings.IndexByte(t.s[t.pos:], ':')
	if end < 0 {
		return sfItem{}, t.errorf("unterminated byte sequence")
	}

	v := t.s[t.pos : t.pos+end]
	t.pos += end + 1

	return sfItem{kind: kindBytes, value: v}, nil
}

// key reads a dictionary or parameter key. Keys are lowercased.
func (t *tokenizer) key() (string, error) {
	start := t.pos

	if t.eof() || !isKeyStart(t.peek()) {
		if t.eof() {
			return "", t.errorf("expected key")
		}

		return "", t.errorf("expected key, got %q", t.peek())
	}

	for !t.eof() && isKeyChar(t.peek()) {
		t.pos++
	}

	return strings.ToLower(t.s[start:t.pos]), nil
}

func (t *tokenizer) skipSpace() {
	for !t.eof() && (t.peek() == ' ' || t.peek() == '\t') {
		t.pos++
	}
}

func (t *tokenizer) eof() bool  { return t.pos >= len(t.s) }
func (t *tokenizer) peek() byte { return t.s[t.pos] }

func (t *tokenizer) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s at offset %d", ErrMalformedHeader, fmt.Sprintf(format, args...), t.pos)
}

func isKeyStart(ch byte) bool {
	return ch == '*' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isKeyChar(ch byte) bool {
	return isKeyStart(ch) || (ch >= '0' && ch <= '9') || ch == '_' || ch == '-' || ch == '.'
}

func isDelimiter(ch byte) bool {
	switch ch {
	case ' ', '\t', ',', ';', '(', ')', '"', '=':
		return true
	}

	return false
}
