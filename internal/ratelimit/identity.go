package ratelimit

import (
	"net"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// IPIdentity scopes a counter to a network address.
func IPIdentity(addr string) string {
	return "ip:" + strings.TrimSpace(addr)
}

// OrgIdentity scopes a counter to an organization.
func OrgIdentity(orgID snowflake.ID) string {
	return "org:" + orgID.String()
}

// ClientIP resolves the caller address from the first X-Forwarded-For hop,
// then X-Real-IP, then the connection's remote address.
func ClientIP(r *http.Request) string {
	if r == nil {
		return "unknown"
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		if r.RemoteAddr == "" {
			return "unknown"
		}
		return r.RemoteAddr
	}
	return host
}
