// Package urlguard rejects URLs that must never be fetched on behalf of a caller.
//
// The guard works on the literal host only. A hostname that resolves to an
// internal address passes Validate; DialControl closes that gap at connect time.
package urlguard

import (
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"syscall"

	"link-embed/internal/domain/entity"
)

// metadataEndpoint is the cloud instance metadata address.
var metadataEndpoint = netip.MustParseAddr("169.254.169.254")

// Validate checks rawURL and returns a *entity.PreviewError describing the first
// rule it breaks, or nil when the URL may be fetched.
//
// Rules, in order:
//   - empty (after trimming)                     → empty_url
//   - unparseable or no scheme                   → invalid_url
//   - scheme other than http/https               → invalid_scheme
//   - http(s) URL without a host                 → invalid_url
//   - localhost, loopback, unspecified address   → blocked_host
//   - 169.254.169.254 and other link-local hosts → blocked_host
//   - RFC1918 and IPv6 unique-local (fc00::/7)   → private_ip_blocked
//
// Example:
//
//	if err := urlguard.Validate("http://10.0.0.1/"); err != nil {
//	    kind, _ := entity.KindOf(err) // private_ip_blocked
//	}
func Validate(rawURL string) error {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return entity.NewPreviewError(entity.KindEmptyURL, "URL is required")
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return entity.NewPreviewError(entity.KindInvalidURL, "URL could not be parsed")
	}
	if u.Scheme == "" {
		return entity.NewPreviewError(entity.KindInvalidURL, "URL must be absolute")
	}

	// file:///etc/passwd has no host but is still a scheme violation
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return entity.NewPreviewError(entity.KindInvalidScheme,
			fmt.Sprintf("scheme %q is not allowed (only http/https)", u.Scheme))
	}

	if u.Hostname() == "" {
		return entity.NewPreviewError(entity.KindInvalidURL, "URL must have a host")
	}

	return CheckHost(u.Hostname())
}

// CheckHost applies the host rules of Validate to a bare hostname or IP literal.
func CheckHost(host string) error {
	host = strings.TrimSuffix(strings.ToLower(host), ".")

	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return entity.NewPreviewError(entity.KindBlockedHost, "access to localhost is not allowed")
	}

	addr, err := netip.ParseAddr(strings.Trim(host, "[]"))
	if err != nil {
		// 名前のホストはここでは解決しない
		return nil
	}
	return CheckAddr(addr)
}

// CheckAddr classifies a single IP address.
func CheckAddr(addr netip.Addr) error {
	addr = addr.Unmap().WithZone("")

	switch {
	case addr.IsLoopback(), addr.IsUnspecified():
		return entity.NewPreviewError(entity.KindBlockedHost, "access to loopback address is not allowed")
	case addr == metadataEndpoint:
		return entity.NewPreviewError(entity.KindBlockedHost, "access to metadata endpoint is not allowed")
	case addr.IsLinkLocalUnicast(), addr.IsLinkLocalMulticast():
		return entity.NewPreviewError(entity.KindBlockedHost, "access to link-local address is not allowed")
	case addr.IsPrivate():
		return entity.NewPreviewError(entity.KindPrivateIPBlocked, "access to private IP address is not allowed")
	}
	return nil
}

// DialControl is a net.Dialer Control hook that refuses connections to
// addresses Validate would block. It catches hostnames that resolve to
// internal addresses, including DNS rebinding between validation and dial.
//
// Example:
//
//	dialer := &net.Dialer{Control: urlguard.DialControl}
func DialControl(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("split dial address %q: %w", address, err)
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("dial address %q is not an IP: %w", host, err)
	}
	if err := CheckAddr(addr); err != nil {
		return fmt.Errorf("dial %s %s: %w", network, address, err)
	}
	return nil
}
