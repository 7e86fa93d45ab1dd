package common

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP returns the caller address used for rate limiting and audit
// records. chi's RealIP middleware has already folded X-Forwarded-For and
// X-Real-IP into RemoteAddr; the headers are only consulted when RemoteAddr is
// empty, as in handlers exercised without that middleware. IPv4-mapped IPv6
// addresses are unmapped so one client never yields two limiter keys.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	raw := strings.TrimSpace(r.RemoteAddr)
	if raw == "" {
		raw = firstForwarded(r.Header.Get("X-Forwarded-For"))
	}
	if raw == "" {
		raw = strings.TrimSpace(r.Header.Get("X-Real-IP"))
	}
	if host, _, err := net.SplitHostPort(raw); err == nil {
		raw = host
	}
	if addr, err := netip.ParseAddr(raw); err == nil {
		return addr.Unmap().WithZone("").String()
	}
	return raw
}

func firstForwarded(header string) string {
	first, _, _ := strings.Cut(header, ",")
	return strings.TrimSpace(first)
}
