package domain

import (
	"fmt"
	"net"
)

// Route is an immutable (AddressKey, Proxy, resolved peer) triple attempted
// by one ConnectPlan.
type Route struct {
	Address AddressKey
	Proxy   Proxy
	Peer    net.IP
	Port    int // the port dialed: the proxy's port for proxied routes, else Address.Port
}

func NewRoute(address AddressKey, proxy Proxy, peer net.IP, port int) Route {
	return Route{Address: address, Proxy: proxy, Peer: peer, Port: port}
}

func (r Route) SocketAddress() string {
	return net.JoinHostPort(r.Peer.String(), fmt.Sprintf("%d", r.Port))
}

// Equal is structural equality, used by RouteDB to recognise a previously
// failed route.
func (r Route) Equal(o Route) bool {
	return r.Address.Equal(o.Address) && r.Proxy.Equal(o.Proxy) &&
		r.Peer.Equal(o.Peer) && r.Port == o.Port
}

// Key returns a stable string suitable for use as a map key, since net.IP
// does not compare well as a map key (different byte-slice representations
// of the same address).
func (r Route) Key() string {
	return fmt.Sprintf("%s|%s|%s:%d", r.Address.String(), r.Proxy.String(), r.Peer.String(), r.Port)
}

func (r Route) String() string {
	return fmt.Sprintf("Route{%s via %s -> %s}", r.Address, r.Proxy, r.SocketAddress())
}
