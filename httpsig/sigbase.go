package httpsig

import (
	"fmt"
	"net/http"
	"strings"
)

// SignatureBase constructs the signature base per RFC 9421 Section 2.5.
// Each covered component produces a line "<component-id>": <value>\n and
// the final line is "@signature-params": <params>.
func SignatureBase(r *http.Request, p Params) ([]byte, error) {
	var base strings.Builder

	seen := make(map[string]struct{}, len(p.Components))

	for _, id := range p.Components {
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: duplicate component %q", ErrMalformedHeader, id)
		}
		seen[id] = struct{}{}

		val, err := componentValue(id, r)
		if err != nil {
			return nil, err
		}

		base.WriteString(quoteRFC8941(id))
		base.WriteString(": ")
		base.WriteString(val)
		base.WriteByte('\n')
	}

	base.WriteString(`"@signature-params": `)
	base.WriteString(p.SignatureParams())

	return []byte(base.String()), nil
}
