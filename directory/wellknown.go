package directory

import (
	"fmt"
	"net"
	"strings"

	"golang.org/x/net/idna"
)

// WellKnownPath is where signers publish their key directory.
const WellKnownPath = "/.well-known/http-message-signatures-directory"

// WellKnownURL returns the https directory URL for a signing domain.
// Internationalized names are converted to their ASCII form; a port is
// kept when present.
func WellKnownURL(domain string) (string, error) {
	domain = strings.TrimSuffix(strings.TrimSpace(domain), ".")
	if domain == "" || strings.ContainsAny(domain, "/?#@ ") {
		return "", fmt.Errorf("%w: invalid domain %q", ErrInvalidURL, domain)
	}

	host, port := domain, ""
	if h, p, err := net.SplitHostPort(domain); err == nil {
		host, port = h, p
	}

	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("%w: invalid domain %q: %v", ErrInvalidURL, domain, err)
	}

	if port != "" {
		ascii = net.JoinHostPort(ascii, port)
	}

	return "https://" + ascii + WellKnownPath, nil
}
