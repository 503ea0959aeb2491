// Package preview rewrites vendor preview URLs onto this gateway and serves
// the proxied preview pages.
package preview

import (
	"net/url"
	"strings"
)

// Rewriter maps URLs under the vendor preview domain onto the public host.
type Rewriter struct {
	publicHost   string
	internalHost string
}

// NewRewriter creates a Rewriter. With an empty publicHost, Rewrite is the
// identity and PreviewURL returns a host-relative path.
func NewRewriter(publicHost, internalHost string) *Rewriter {
	return &Rewriter{
		publicHost:   strings.TrimSuffix(publicHost, "/"),
		internalHost: strings.ToLower(internalHost),
	}
}

// PreviewURL is the gateway URL that serves preview id.
func (r *Rewriter) PreviewURL(id string) string {
	if r.publicHost == "" {
		return "/api/preview/" + id
	}
	return "https://" + r.publicHost + "/api/preview/" + id
}

// UpstreamURL is the vendor URL for preview id.
func (r *Rewriter) UpstreamURL(id string) string {
	return "https://demo-" + id + "." + r.internalHost
}

// Rewrite maps https://demo-<id>.<internal> to the gateway preview route and
// swaps the host of any other URL under the internal domain. Everything else
// is returned unchanged, so Rewrite(Rewrite(s)) == Rewrite(s).
func (r *Rewriter) Rewrite(raw string) string {
	if r.publicHost == "" || r.internalHost == "" || raw == "" {
		return raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}

	host := u.Hostname()
	lower := strings.ToLower(host)
	if lower != r.internalHost && !strings.HasSuffix(lower, "."+r.internalHost) {
		return raw
	}

	if id, ok := r.demoID(host); ok && (u.Path == "" || u.Path == "/") {
		return r.PreviewURL(id)
	}

	u.Host = r.publicHost
	return u.String()
}

// demoID extracts <id> from demo-<id>.<internal>, keeping the id's case.
func (r *Rewriter) demoID(host string) (string, bool) {
	n := len(host) - len(r.internalHost) - 1
	if n <= 0 {
		return "", false
	}
	label := host[:n]
	if strings.Contains(label, ".") {
		return "", false
	}
	const prefix = "demo-"
	if len(label) < len(prefix) || !strings.EqualFold(label[:len(prefix)], prefix) {
		return "", false
	}
	id := label[len(prefix):]
	if !ValidID(id) {
		return "", false
	}
	return id, true
}

// ValidID reports whether id is a non-empty run of letters, digits and dashes.
func ValidID(id string) bool {
	if id == "" {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-':
		default:
			return false
		}
	}
	return true
}
