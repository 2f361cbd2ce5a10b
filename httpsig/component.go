package httpsig

import (
	"fmt"
	"net/http"
	"strings"
)

// Derived component identifiers per RFC 9421 Section 2.2.
const (
	ComponentMethod        = "@method"
	ComponentAuthority     = "@authority"
	ComponentPath          = "@path"
	ComponentQuery         = "@query"
	ComponentTargetURI     = "@target-uri"
	ComponentScheme        = "@scheme"
	ComponentRequestTarget = "@request-target"
)

var derivedComponents = map[string]func(r *http.Request) string{
	ComponentMethod:        func(r *http.Request) string { return r.Method },
	ComponentAuthority:     authority,
	ComponentPath:          path,
	ComponentQuery:         func(r *http.Request) string { return "?" + r.URL.RawQuery },
	ComponentTargetURI:     targetURI,
	ComponentScheme:        scheme,
	ComponentRequestTarget: requestTarget,
}

// componentValue extracts the value of a covered component from an HTTP
// request per RFC 9421 Section 2. The request is never modified.
//
// Derived components start with "@". Header field names are matched
// case-insensitively and multi-value headers are joined with ", ".
func componentValue(id string, r *http.Request) (string, error) {
	if strings.HasPrefix(id, "@") {
		fn, ok := derivedComponents[id]
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrUnknownComponent, id)
		}

		return fn(r), nil
	}

	return headerComponentValue(id, r)
}

// headerComponentValue extracts the value of a header field per RFC 9421
// Section 2.1. Values are trimmed of surrounding whitespace.
//
// The "host" header is special-cased because net/http stores it in
// Request.Host rather than in the header map.
func headerComponentValue(id string, r *http.Request) (string, error) {
	values := r.Header.Values(id)

	if len(values) == 0 && strings.EqualFold(id, "host") && r.Host != "" {
		return r.Host, nil
	}

	if len(values) == 0 {
		return "", fmt.Errorf("%w: header %q not present", ErrUnknownComponent, id)
	}

	trimmed := make([]string, len(values))
	for i, v := range values {
		trimmed[i] = strings.TrimSpace(v)
	}

	return strings.Join(trimmed, ", "), nil
}

// authority returns host[:port] in lowercase.
func authority(r *http.Request) string {
	if r.Host != "" {
		return strings.ToLower(r.Host)
	}

	if r.URL != nil && r.URL.Host != "" {
		return strings.ToLower(r.URL.Host)
	}

	return ""
}

func scheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}

	if r.URL != nil && r.URL.Scheme != "" {
		return strings.ToLower(r.URL.Scheme)
	}

	return "http"
}

func path(r *http.Request) string {
	if p := r.URL.EscapedPath(); p != "" {
		return p
	}

	return "/"
}

func targetURI(r *http.Request) string {
	return scheme(r) + "://" + authority(r) + requestTarget(r)
}

func requestTarget(r *http.Request) string {
	if r.URL.RawQuery != "" {
		return path(r) + "?" + r.URL.RawQuery
	}

	return path(r)
}
