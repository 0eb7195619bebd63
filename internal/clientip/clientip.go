// Package clientip resolves the best-effort client address from proxy-aware
// headers and carries the per-request identity tuple used by the gate.
package clientip

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// headerPriority is the fixed lookup order. CDN headers first, generic
// forwarding headers after, so a CDN-fronted deployment wins over whatever an
// upstream client spoofed into X-Forwarded-For.
var headerPriority = []string{
	"CF-Connecting-IP",
	"X-Forwarded-For",
	"X-Forwarded",
	"X-Cluster-Client-IP",
	"X-Client-IP",
}

// Private and reserved ranges that are never accepted from a forwarding
// header: a proxy chain can only legitimately present a public client address.
var privateRanges = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),     // RFC1918 Class A
	netip.MustParsePrefix("172.16.0.0/12"),  // RFC1918 Class B
	netip.MustParsePrefix("192.168.0.0/16"), // RFC1918 Class C
	netip.MustParsePrefix("127.0.0.0/8"),    // Loopback
	netip.MustParsePrefix("169.254.0.0/16"), // Link-local (RFC3927)
	netip.MustParsePrefix("0.0.0.0/8"),      // This network
	netip.MustParsePrefix("100.64.0.0/10"),  // CGNAT (RFC6598)
	netip.MustParsePrefix("::1/128"),        // IPv6 loopback
	netip.MustParsePrefix("fe80::/10"),      // IPv6 link-local
	netip.MustParsePrefix("fc00::/7"),       // IPv6 unique local (RFC4193)
}

// IsPrivate returns true if the address falls within a private or reserved range.
func IsPrivate(ipStr string) bool {
	addr, err := netip.ParseAddr(ipStr)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range privateRanges {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// Resolve returns the first well-formed public address found across the
// priority header list, falling back to the raw connection address. The
// fallback is accepted unvalidated; it is what the socket saw. Resolve is a
// pure function of its inputs and never fails — worst case it returns the
// loopback address.
func Resolve(header http.Header, remoteAddr string) string {
	for _, name := range headerPriority {
		value := header.Get(name)
		if value == "" {
			continue
		}
		// X-Forwarded-For chains addresses; the first entry is the
		// original client as seen by the outermost proxy.
		candidate := strings.TrimSpace(strings.SplitN(value, ",", 2)[0])
		if candidate == "" {
			continue
		}
		if addr, err := netip.ParseAddr(candidate); err == nil && !IsPrivate(addr.Unmap().String()) {
			return candidate
		}
	}

	if remoteAddr != "" {
		if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
			return host
		}
		return remoteAddr
	}
	return "127.0.0.1"
}

// Identity is the per-request tuple consumed by the rate limiter, the
// fingerprint generator and the event log. Lifetime: one request.
type Identity struct {
	IP        string
	UserAgent string
	Referer   string
	Method    string
	Headers   http.Header
}

// FromRequest builds an Identity from an inbound request.
func FromRequest(r *http.Request) Identity {
	return Identity{
		IP:        Resolve(r.Header, r.RemoteAddr),
		UserAgent: r.UserAgent(),
		Referer:   r.Referer(),
		Method:    r.Method,
		Headers:   r.Header,
	}
}
