package server

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
)

// clientIPFromRequest resolves the client address for per-IP limiting.
// Forwarding headers are honored only when the direct peer is a trusted
// proxy; otherwise the connection's remote address wins, so untrusted
// clients cannot spoof their way past the limits.
func clientIPFromRequest(r *http.Request, proxies *proxyMatcher) string {
	remote := parseHostIP(r.RemoteAddr)
	if proxies == nil || remote == nil || !proxies.IsTrusted(remote) {
		if remote != nil {
			return remote.String()
		}
		return r.RemoteAddr
	}
	if ip := forwardedClientIP(r.Header.Get("X-Forwarded-For"), proxies); ip != nil {
		return ip.String()
	}
	if ip := rfc7239ClientIP(r.Header.Get("Forwarded"), proxies); ip != nil {
		return ip.String()
	}
	return remote.String()
}

// forwardedClientIP walks an X-Forwarded-For chain right to left and
// returns the first hop that is not a trusted proxy. A malformed entry
// invalidates the whole chain.
func forwardedClientIP(header string, proxies *proxyMatcher) net.IP {
	if header == "" {
		return nil
	}
	hops := strings.Split(header, ",")
	for i := len(hops) - 1; i >= 0; i-- {
		ip := parseHostIP(strings.TrimSpace(hops[i]))
		if ip == nil {
			return nil
		}
		if !proxies.IsTrusted(ip) {
			return ip
		}
	}
	return nil
}

// rfc7239ClientIP extracts the client from a Forwarded header (RFC 7239),
// walking the elements right to left the same way as X-Forwarded-For.
func rfc7239ClientIP(header string, proxies *proxyMatcher) net.IP {
	if header == "" {
		return nil
	}
	elements := strings.Split(header, ",")
	for i := len(elements) - 1; i >= 0; i-- {
		for _, pair := range strings.Split(elements[i], ";") {
			key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if !ok || !strings.EqualFold(strings.TrimSpace(key), "for") {
				continue
			}
			value = strings.Trim(strings.TrimSpace(value), `"`)
			ip := parseHostIP(value)
			if ip == nil {
				return nil
			}
			if !proxies.IsTrusted(ip) {
				return ip
			}
		}
	}
	return nil
}

// parseHostIP extracts an IP from host, host:port, [v6]:port, or v6%zone
// forms. Returns nil when no IP can be parsed.
func parseHostIP(host string) net.IP {
	if host == "" {
		return nil
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if zone := strings.IndexByte(host, '%'); zone != -1 {
		host = host[:zone]
	}
	return net.ParseIP(host)
}

// proxyMatcher matches peer addresses against a trusted proxy list of
// plain IPs and CIDR ranges.
type proxyMatcher struct {
	ips  map[string]struct{}
	nets []*net.IPNet
}

// newProxyMatcher parses the entries into a matcher. Invalid entries are
// logged and skipped; a nil matcher (no valid entries) trusts nothing.
func newProxyMatcher(entries []string, logger *slog.Logger) *proxyMatcher {
	if len(entries) == 0 {
		return nil
	}

	ips := make(map[string]struct{})
	var nets []*net.IPNet
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			_, network, err := net.ParseCIDR(entry)
			if err != nil {
				if logger != nil {
					logger.Warn("invalid trusted proxy CIDR", "entry", entry, "error", err)
				}
				continue
			}
			nets = append(nets, network)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			if logger != nil {
				logger.Warn("invalid trusted proxy IP", "entry", entry)
			}
			continue
		}
		ips[ip.String()] = struct{}{}
	}

	if len(ips) == 0 && len(nets) == 0 {
		return nil
	}
	return &proxyMatcher{ips: ips, nets: nets}
}

// IsTrusted reports whether ip is a trusted proxy.
func (m *proxyMatcher) IsTrusted(ip net.IP) bool {
	if m == nil || ip == nil {
		return false
	}
	if _, ok := m.ips[ip.String()]; ok {
		return true
	}
	for _, network := range m.nets {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
