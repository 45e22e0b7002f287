// Package clientip determines the address of the client behind a request.
//
// The address is the rate-limit identity of the preview endpoint, so headers
// that a client can set are only honored when the direct peer is a
// configured trusted proxy.
package clientip

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// Extractor extracts the client IP address from an HTTP request.
type Extractor interface {
	ExtractIP(r *http.Request) (string, error)
}

// RemoteAddr uses the TCP peer address. It cannot be spoofed and is the
// default when the service is not behind a reverse proxy.
type RemoteAddr struct{}

// ExtractIP returns the IP part of r.RemoteAddr.
//
// Examples:
//   - "192.168.1.1:54321" → "192.168.1.1"
//   - "[2001:db8::1]:8080" → "2001:db8::1"
//   - "127.0.0.1" → "127.0.0.1" (no port)
func (RemoteAddr) ExtractIP(r *http.Request) (string, error) {
	addr, err := parseAddr(r.RemoteAddr)
	if err != nil {
		return "", err
	}
	return addr.String(), nil
}

// TrustedProxies reads X-Forwarded-For and X-Real-IP, but only when the
// request arrives from one of Prefixes.
type TrustedProxies struct {
	Prefixes []netip.Prefix
	Logger   *slog.Logger
}

// ParseTrustedProxies parses a comma-separated list of IPs and CIDR ranges.
// Single IPs become /32 or /128 prefixes. An empty list is an error.
//
// Examples:
//   - "192.168.1.1"
//   - "10.0.0.0/8,172.16.0.0/12"
//   - "2001:db8::/32"
func ParseTrustedProxies(list string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		prefix, err := netip.ParsePrefix(item)
		if err != nil {
			ip, ipErr := netip.ParseAddr(item)
			if ipErr != nil {
				return nil, fmt.Errorf("invalid IP or CIDR %q: must be an IP address or CIDR notation (e.g. '192.168.1.1' or '10.0.0.0/8')", item)
			}
			prefix = netip.PrefixFrom(ip, ip.BitLen())
		}
		prefixes = append(prefixes, prefix.Masked())
	}
	if len(prefixes) == 0 {
		return nil, fmt.Errorf("no trusted proxies configured")
	}
	return prefixes, nil
}

func (t *TrustedProxies) trusted(addr netip.Addr) bool {
	for _, p := range t.Prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ExtractIP returns the client address.
//
//  1. An untrusted peer is the client; its headers are ignored.
//  2. Otherwise X-Forwarded-For is walked from the right, skipping trusted
//     proxies. The first untrusted hop is the client. Entries to its left
//     were supplied by the client and are not believed.
//  3. Then X-Real-IP, then the peer itself.
func (t *TrustedProxies) ExtractIP(r *http.Request) (string, error) {
	peer, err := parseAddr(r.RemoteAddr)
	if err != nil {
		return "", err
	}

	if !t.trusted(peer) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			t.logger().Debug("ignoring forwarding header from untrusted peer",
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("x_forwarded_for", xff))
		}
		return peer.String(), nil
	}

	if hops := forwardedHops(r.Header.Values("X-Forwarded-For")); len(hops) > 0 {
		for i := len(hops) - 1; i >= 0; i-- {
			addr, err := netip.ParseAddr(hops[i])
			if err != nil {
				// 不正なエントリ以降は信用しない
				break
			}
			addr = addr.Unmap()
			if !t.trusted(addr) {
				return addr.String(), nil
			}
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if addr, err := netip.ParseAddr(xri); err == nil {
			return addr.Unmap().String(), nil
		}
	}

	return peer.String(), nil
}

func (t *TrustedProxies) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}

// forwardedHops flattens possibly repeated X-Forwarded-For headers.
func forwardedHops(values []string) []string {
	var hops []string
	for _, v := range values {
		for _, hop := range strings.Split(v, ",") {
			if hop = strings.TrimSpace(hop); hop != "" {
				hops = append(hops, hop)
			}
		}
	}
	return hops
}

// parseAddr extracts the IP from a "host:port" or bare "IP" string.
func parseAddr(s string) (netip.Addr, error) {
	host := s
	if h, _, err := net.SplitHostPort(s); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid address format: %s", s)
	}
	return addr.Unmap(), nil
}

type contextKey struct{}

// FromContext returns the client IP stored by Middleware, or "".
func FromContext(ctx context.Context) string {
	ip, _ := ctx.Value(contextKey{}).(string)
	return ip
}

// Middleware stores the extracted client IP in the request context.
// Extraction failures leave it empty.
func Middleware(ex Extractor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, err := ex.ExtractIP(r)
			if err != nil {
				slog.Default().Debug("client ip extraction failed",
					slog.String("remote_addr", r.RemoteAddr),
					slog.Any("error", err))
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, ip)))
		})
	}
}
