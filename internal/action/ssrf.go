package action

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"
)

// deniedHeaders are never forwarded from user configuration.
var deniedHeaders = map[string]struct{}{
	"authorization":     {},
	"cookie":            {},
	"host":              {},
	"x-forwarded-for":   {},
	"x-forwarded-host":  {},
	"x-forwarded-proto": {},
}

// URLPolicy controls which outbound webhook targets are acceptable.
type URLPolicy struct {
	// AllowHTTP permits plain http targets. Only development enables it.
	AllowHTTP bool

	// Resolver looks up hostnames; nil uses net.DefaultResolver.
	Resolver interface {
		LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
	}
}

// ValidateWebhookURL rejects targets that could reach internal infrastructure:
// non-http(s) schemes, plain http outside development, and hosts that are or
// resolve to loopback, private, link-local or unspecified addresses.
func ValidateWebhookURL(ctx context.Context, raw string, policy URLPolicy) (*url.URL, error) {
	u, err := checkURLSyntax(raw, policy.AllowHTTP)
	if err != nil {
		return nil, err
	}

	host := u.Hostname()
	if addr, err := netip.ParseAddr(host); err == nil {
		if blockedAddr(addr) {
			return nil, SSRFError("host %s is not publicly routable", host)
		}
		return u, nil
	}

	resolver := policy.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, TransportError(err)
	}
	if len(addrs) == 0 {
		return nil, SSRFError("host %s did not resolve", host)
	}
	for _, addr := range addrs {
		if blockedAddr(addr) {
			return nil, SSRFError("host %s resolves to non-public address %s", host, addr)
		}
	}
	return u, nil
}

// CheckWebhookURL is the save-time subset of ValidateWebhookURL: syntax,
// scheme and literal addresses only, without DNS.
func CheckWebhookURL(raw string, allowHTTP bool) error {
	u, err := checkURLSyntax(raw, allowHTTP)
	if err != nil {
		return err
	}
	if addr, err := netip.ParseAddr(u.Hostname()); err == nil && blockedAddr(addr) {
		return SSRFError("host %s is not publicly routable", u.Hostname())
	}
	return nil
}

func checkURLSyntax(raw string, allowHTTP bool) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, SSRFError("unparseable url: %v", err)
	}
	switch u.Scheme {
	case "https":
	case "http":
		if !allowHTTP {
			return nil, SSRFError("https is required")
		}
	default:
		return nil, SSRFError("scheme %q is not allowed", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return nil, SSRFError("url has no host")
	}
	lower := strings.ToLower(host)
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") || strings.HasSuffix(lower, ".internal") {
		return nil, SSRFError("host %s is not publicly routable", host)
	}
	return u, nil
}

func blockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsInterfaceLocalMulticast() ||
		addr.IsUnspecified() ||
		cgnat.Contains(addr)
}

var cgnat = netip.MustParsePrefix("100.64.0.0/10")

// SanitizeHeaders drops denylisted and empty-named headers.
func SanitizeHeaders(headers map[string]string) http.Header {
	out := http.Header{}
	for k, v := range headers {
		name := strings.TrimSpace(k)
		if name == "" {
			continue
		}
		if _, denied := deniedHeaders[strings.ToLower(name)]; denied {
			continue
		}
		out.Set(name, v)
	}
	return out
}

// SafeTransport returns a transport that refuses to connect to non-public
// addresses at dial time, closing the gap between validation and connect
// when DNS answers change.
func SafeTransport(timeout time.Duration) *http.Transport {
	dialer := &net.Dialer{
		Timeout: timeout,
		Control: func(network, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			addr, err := netip.ParseAddr(host)
			if err != nil {
				return err
			}
			if blockedAddr(addr) {
				return SSRFError("refusing to connect to %s", addr)
			}
			return nil
		},
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.Proxy = nil
	return transport
}
