package domain

import "fmt"

// ProxyKind identifies how a Route reaches its peer.
type ProxyKind int

const (
	ProxyDirect ProxyKind = iota
	ProxyHTTP
	ProxySocks
)

func (k ProxyKind) String() string {
	switch k {
	case ProxyDirect:
		return "direct"
	case ProxyHTTP:
		return "http"
	case ProxySocks:
		return "socks"
	default:
		return "unknown"
	}
}

// Proxy is one of {Direct, Http(addr), Socks(addr)}.
type Proxy struct {
	Kind    ProxyKind
	Address string // host:port, empty for Direct
}

func Direct() Proxy {
	return Proxy{Kind: ProxyDirect}
}

func HTTPProxy(address string) Proxy {
	return Proxy{Kind: ProxyHTTP, Address: address}
}

func SocksProxy(address string) Proxy {
	return Proxy{Kind: ProxySocks, Address: address}
}

func (p Proxy) IsDirect() bool {
	return p.Kind == ProxyDirect
}

func (p Proxy) String() string {
	if p.IsDirect() {
		return "DIRECT"
	}
	return fmt.Sprintf("%s(%s)", p.Kind, p.Address)
}

// Equal reports structural equality, used for AddressKey/Route comparisons.
func (p Proxy) Equal(o Proxy) bool {
	return p.Kind == o.Kind && p.Address == o.Address
}
