// Package clientip resolves the address of the visitor behind a request.
package clientip

import (
	"net"
	"net/http"
	"strings"
)

// FromRequest returns the client address for r.
//
// With trustProxy set, the leftmost X-Forwarded-For entry wins, then
// X-Real-IP. Otherwise, and as a fallback, the host part of RemoteAddr is
// used. The result is "" when nothing usable is present; callers treat that
// as an unknown visitor.
func FromRequest(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if comma := strings.Index(xff, ","); comma != -1 {
				xff = xff[:comma]
			}
			if ip := strings.TrimSpace(xff); ip != "" {
				return ip
			}
		}
		if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); xrip != "" {
			return xrip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return strings.TrimSpace(host)
}
