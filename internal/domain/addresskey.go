package domain

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"

	"golang.org/x/net/idna"
)

// Scheme is one of the two origin schemes the core understands.
type Scheme string

const (
	SchemeHTTP  Scheme = "http"
	SchemeHTTPS Scheme = "https"
)

func (s Scheme) DefaultPort() int {
	if s == SchemeHTTPS {
		return 443
	}
	return 80
}

// Protocol is a negotiated or advertised application protocol.
type Protocol string

const (
	ProtocolHTTP1_1         Protocol = "http/1.1"
	ProtocolHTTP2           Protocol = "h2"
	ProtocolH2PriorKnowledge Protocol = "h2_prior_knowledge"
)

// Resolver maps a hostname to an ordered, non-empty list of IPs or an error.
// The core only requires this one primitive.
type Resolver interface {
	Resolve(ctx context.Context, host string) ([]net.IP, error)
}

// ProxySelector chooses zero or more proxies for a destination URL, in the
// style of net/http's httpproxy.Config / ProxyFunc.
type ProxySelector interface {
	Select(ctx context.Context, target *url.URL) ([]Proxy, error)
}

// SocketFactory opens the raw transport-layer connection for a route. The
// default implementation dials TCP directly; a SOCKS-aware factory is used
// when the route's proxy is ProxySocks.
type SocketFactory interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// TLSConfigBundle groups every per-address TLS concern: certificate pinning,
// hostname verification, a base tls.Config used when wrapping the raw
// connection in TLS, the supported protocol list, and the ordered
// ConnectionSpec fallback sequence. Nil on an AddressKey means the address
// is cleartext.
type TLSConfigBundle struct {
	CertificatePinner  CertificatePinner
	HostnameVerifier   HostnameVerifier
	BaseTLSConfig      *tls.Config
	SupportedProtocols []Protocol
	ConnectionSpecs    []ConnectionSpec
}

// CertificatePinner validates that a peer's certificate chain is pinned as
// expected for a hostname. A nil CertificatePinner on a TLSConfigBundle means
// no pinning check is made.
type CertificatePinner interface {
	Check(hostname string, chain [][]byte) error
}

// HostnameVerifier validates that a peer's certificate covers a hostname
// beyond what crypto/tls's handshake already verified (used during
// coalescing eligibility checks).
type HostnameVerifier interface {
	Verify(hostname string, state *tls.ConnectionState) bool
}

// AddressKey is the immutable identity of a destination.
// Two AddressKeys that compare Equal are pool-interchangeable.
type AddressKey struct {
	Scheme        Scheme
	Host          string // IDNA-canonicalised
	Port          int
	Resolver      Resolver
	SocketFactory SocketFactory
	TLS           *TLSConfigBundle // nil => cleartext
	ProxyOverride *Proxy           // nil => consult ProxySelector
	ProxySelector ProxySelector
	Protocols     []Protocol
}

// NewAddressKey canonicalises host and resolves the scheme-default port.
func NewAddressKey(scheme Scheme, host string, port int) (AddressKey, error) {
	canon, err := idna.Lookup.ToASCII(host)
	if err != nil {
		// Not every valid hostname survives strict IDNA lookup (e.g.
		// single-label hostnames used in internal networks); fall back to
		// the registration profile, which is more permissive.
		canon, err = idna.Registration.ToASCII(host)
		if err != nil {
			canon = host
		}
	}
	if port <= 0 || port > 65535 {
		port = scheme.DefaultPort()
	}
	return AddressKey{
		Scheme: scheme,
		Host:   canon,
		Port:   port,
	}, nil
}

func (a AddressKey) String() string {
	return fmt.Sprintf("%s://%s:%d", a.Scheme, a.Host, a.Port)
}

// IsCleartext reports whether this address never performs a TLS handshake.
func (a AddressKey) IsCleartext() bool {
	return a.TLS == nil
}

// SupportsH2PriorKnowledge reports whether cleartext HTTP/2 without ALPN
// negotiation is enabled for this address.
func (a AddressKey) SupportsH2PriorKnowledge() bool {
	for _, p := range a.Protocols {
		if p == ProtocolH2PriorKnowledge {
			return true
		}
	}
	return false
}

// Equal compares scheme, host, port, proxy override, ProxySelector (by
// identity), TLS config identity and the protocol list. Resolver and
// SocketFactory are not compared: two keys that differ only in those are
// Equal.
func (a AddressKey) Equal(b AddressKey) bool {
	if a.Scheme != b.Scheme || a.Host != b.Host || a.Port != b.Port {
		return false
	}
	if !proxyOverrideEqual(a.ProxyOverride, b.ProxyOverride) {
		return false
	}
	if a.ProxySelector != b.ProxySelector {
		return false
	}
	if !tlsBundleEqual(a.TLS, b.TLS) {
		return false
	}
	if len(a.Protocols) != len(b.Protocols) {
		return false
	}
	for i := range a.Protocols {
		if a.Protocols[i] != b.Protocols[i] {
			return false
		}
	}
	return true
}

func proxyOverrideEqual(a, b *Proxy) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	if a == nil {
		return true
	}
	return a.Equal(*b)
}

func tlsBundleEqual(a, b *TLSConfigBundle) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	if a == nil {
		return true
	}
	// Identity comparison: these are configuration objects owned by the
	// HTTP-layer caller, not value types the core constructs piecemeal.
	return a.CertificatePinner == b.CertificatePinner &&
		a.HostnameVerifier == b.HostnameVerifier &&
		a.BaseTLSConfig == b.BaseTLSConfig
}
