// Package httputil provides small shared HTTP helpers.
package httputil

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP resolves the originating client address of a request.
// With trustProxy set, proxy headers (X-Forwarded-For leftmost entry,
// then X-Real-IP) take precedence over RemoteAddr. Leave trustProxy
// off unless a trusted reverse proxy fronts the server, since the
// headers are client-controlled otherwise.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if ip := forwardedFor(r); ip != "" {
			return ip
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// forwardedFor returns the leftmost X-Forwarded-For entry, which is the
// original client when every hop appends honestly.
func forwardedFor(r *http.Request) string {
	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return ""
	}
	first, _, _ := strings.Cut(xff, ",")
	return strings.TrimSpace(first)
}
