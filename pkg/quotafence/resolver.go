package quotafence

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Request is the narrow view of an inbound request the limiter needs. It
// decouples the admission core from any particular HTTP framework; use
// FromHTTP to build one from a net/http request.
type Request struct {
	Headers    map[string]string
	Cookies    map[string]string
	RemoteAddr string

	// UserID is the authenticated principal id, empty for anonymous callers.
	UserID string
}

// Header returns the named header, case-insensitively on the canonical form.
func (r *Request) Header(name string) string {
	if r.Headers == nil {
		return ""
	}
	if v, ok := r.Headers[name]; ok {
		return v
	}
	return r.Headers[http.CanonicalHeaderKey(name)]
}

// FromHTTP flattens a net/http request into a Request. If the authenticated
// user id is known it must be set by the caller afterwards; this package does
// not interpret authentication tokens.
func FromHTTP(r *http.Request) *Request {
	headers := make(map[string]string, len(r.Header))
	for name := range r.Header {
		headers[name] = r.Header.Get(name)
	}

	cookies := make(map[string]string)
	for _, c := range r.Cookies() {
		cookies[c.Name] = c.Value
	}

	return &Request{
		Headers:    headers,
		Cookies:    cookies,
		RemoteAddr: r.RemoteAddr,
	}
}

// Resolver derives a stable rate limit key from a request. Resolvers never
// fail: a request with no usable identity resolves to "unknown", because
// rejecting malformed input would itself be a denial-of-service vector.
type Resolver func(r *Request) string

// forwardingHeaders are consulted in priority order for the client address.
var forwardingHeaders = []string{"X-Forwarded-For", "X-Real-Ip"}

// sessionCookies are the cookie names recognized as session identifiers.
var sessionCookies = []string{"session_id", "sid"}

// ResolveIdentity is the default resolver. Priority: authenticated user id,
// then session cookie combined with the client address, then the client
// address alone. The user prefix cannot collide with address-derived keys,
// so an authenticated abuser cannot evade limits by rotating addresses,
// while an anonymous caller who discards cookies degrades gracefully to
// address-level limiting.
func ResolveIdentity(r *Request) string {
	if r == nil {
		return "unknown"
	}
	if r.UserID != "" {
		return "user:" + r.UserID
	}

	addr := clientAddress(r)
	for _, name := range sessionCookies {
		if sid, ok := r.Cookies[name]; ok && sid != "" {
			// Hash bounds the key length regardless of cookie size.
			return fmt.Sprintf("session:%016x@%s", xxhash.Sum64String(sid), addr)
		}
	}
	if addr == "unknown" {
		return "unknown"
	}
	return "ip:" + addr
}

// ResolveAddress keys purely on the client address, ignoring identity and
// session. Useful as a per-group override for unauthenticated surfaces.
func ResolveAddress(r *Request) string {
	if r == nil {
		return "unknown"
	}
	return "ip:" + clientAddress(r)
}

// clientAddress extracts the client address: first non-empty forwarding
// header (first comma-separated segment, trimmed), then the transport peer,
// finally the literal "unknown".
func clientAddress(r *Request) string {
	for _, name := range forwardingHeaders {
		if v := r.Header(name); v != "" {
			if ip := firstForwardedHop(v); ip != "" {
				return normalizeAddress(ip)
			}
		}
	}

	if r.RemoteAddr != "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if host != "" {
			return normalizeAddress(host)
		}
	}
	return "unknown"
}

func firstForwardedHop(v string) string {
	if idx := strings.IndexByte(v, ','); idx >= 0 {
		v = v[:idx]
	}
	return strings.TrimSpace(v)
}

// normalizeAddress collapses loopback forms to a single canonical key.
func normalizeAddress(host string) string {
	host = strings.Trim(host, "[]")
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return "127.0.0.1"
	}
	return host
}
