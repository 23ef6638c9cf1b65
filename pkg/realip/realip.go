// Package realip extracts the originating client address from proxy headers.
package realip

import (
	"net"
	"net/http"
	"strings"
)

// FromRequest returns the forwarded client address for a request, preferring
// X-Forwarded-For (first valid entry), then X-Real-IP, then the connection's
// remote address. Returns "" when nothing usable is present.
func FromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// X-Forwarded-For is a comma-separated chain; the first entry is the
		// original client, later entries are intermediate proxies.
		for _, part := range strings.Split(xff, ",") {
			candidate := strings.TrimSpace(part)
			if ip := net.ParseIP(candidate); ip != nil {
				return ip.String()
			}
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if ip := net.ParseIP(xri); ip != nil {
			return ip.String()
		}
	}

	if r.RemoteAddr != "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err == nil {
			if ip := net.ParseIP(host); ip != nil {
				return ip.String()
			}
		}
		if ip := net.ParseIP(r.RemoteAddr); ip != nil {
			return ip.String()
		}
	}

	return ""
}
