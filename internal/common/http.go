package common

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the caller's address for rate-limit keys and logs. The
// left-most parseable X-Forwarded-For entry wins, then X-Real-IP, then the
// connection address. Unparseable header values are ignored.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	for _, part := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
		if ip := parseIP(part); ip != "" {
			return ip
		}
	}
	if ip := parseIP(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	if ip := parseIP(addr); ip != "" {
		return ip
	}
	return addr
}

// parseIP accepts a bare address or host:port and returns the canonical IP.
func parseIP(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(raw); err == nil {
		raw = host
	}
	if ip := net.ParseIP(strings.Trim(raw, "[]")); ip != nil {
		return ip.String()
	}
	return ""
}
