package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// UnknownIdentity buckets callers whose identity cannot be determined.
const UnknownIdentity = "unknown"

// IdentityFunc derives the rate limit identity for a request.
type IdentityFunc func(r *http.Request) string

// PrincipalFunc returns the authenticated principal id for a request, if any.
type PrincipalFunc func(r *http.Request) (string, bool)

// DefaultIdentity returns "user_<id>" when principal yields an id, otherwise
// "ip_<address>" for the client address, otherwise UnknownIdentity.
// Forwarding headers are only consulted when trustProxy is set.
func DefaultIdentity(principal PrincipalFunc, trustProxy bool) IdentityFunc {
	return func(r *http.Request) string {
		if principal != nil {
			if id, ok := principal(r); ok {
				if id = strings.TrimSpace(id); id != "" {
					return "user_" + id
				}
			}
		}

		if ip := ClientIP(r, trustProxy); ip != "" {
			return "ip_" + ip
		}
		return UnknownIdentity
	}
}

// ClientIP extracts the caller address. With trustProxy it prefers the first
// X-Forwarded-For entry, then X-Real-IP. It returns "" when nothing usable is
// present.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}

	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
