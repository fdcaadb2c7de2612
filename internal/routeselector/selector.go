// Package routeselector produces the ordered candidate Routes for an
// AddressKey: proxy x resolved-address combinations, with recently failed
// routes deprioritised to the end of the list rather than dropped.
package routeselector

import (
	"context"
	"net"
	"net/url"

	"github.com/thushan/hconnect/internal/domain"
	"github.com/thushan/hconnect/internal/resolver"
	"github.com/thushan/hconnect/internal/routedb"
)

// Selection is one materialised batch of candidate routes: everything
// RouteSelector could produce for the current proxy, in priority order
// (non-failed routes first, then recently-failed ones).
type Selection struct {
	Routes []domain.Route
	index  int
}

// Next returns the next route in this selection, or false when exhausted.
func (s *Selection) Next() (domain.Route, bool) {
	if s.index >= len(s.Routes) {
		return domain.Route{}, false
	}
	r := s.Routes[s.index]
	s.index++
	return r, true
}

func (s *Selection) HasNext() bool {
	return s.index < len(s.Routes)
}

// Selector iterates proxies for an address and resolves each to a Selection
// of routes.
type Selector struct {
	address     domain.AddressKey
	fastFallback bool
	routeDB     *routedb.DB

	proxies    []domain.Proxy
	proxyIndex int

	lastErr error
}

// New creates a Selector for a single plan() invocation. It does not
// resolve anything eagerly; resolution happens lazily in Next().
func New(address domain.AddressKey, fastFallback bool, db *routedb.DB) *Selector {
	return &Selector{address: address, fastFallback: fastFallback, routeDB: db}
}

// HasNext reports whether another proxy remains to try. It does not
// guarantee that proxy will resolve successfully.
func (s *Selector) HasNext(ctx context.Context) (bool, error) {
	if s.proxies == nil {
		if err := s.loadProxies(ctx); err != nil {
			return false, err
		}
	}
	return s.proxyIndex < len(s.proxies), nil
}

// Next resolves the next proxy's host to a Selection of routes. A proxy
// whose host fails to resolve is non-fatal: Next silently advances to the
// following proxy, remembering the error in case every proxy is exhausted.
func (s *Selector) Next(ctx context.Context) (*Selection, error) {
	if s.proxies == nil {
		if err := s.loadProxies(ctx); err != nil {
			return nil, err
		}
	}

	for s.proxyIndex < len(s.proxies) {
		proxy := s.proxies[s.proxyIndex]
		s.proxyIndex++

		sel, err := s.resolveProxy(ctx, proxy)
		if err != nil {
			s.lastErr = err
			continue
		}
		return sel, nil
	}

	if s.lastErr != nil {
		return nil, s.lastErr
	}
	return nil, &domain.ResolutionError{Host: s.address.Host, Err: context.Canceled}
}

func (s *Selector) loadProxies(ctx context.Context) error {
	if s.address.ProxyOverride != nil {
		s.proxies = []domain.Proxy{*s.address.ProxyOverride}
		return nil
	}
	if s.address.ProxySelector == nil {
		s.proxies = []domain.Proxy{domain.Direct()}
		return nil
	}
	if net.ParseIP(s.address.Host) != nil {
		// Not a real hostname: skip the proxy selector call entirely.
		s.proxies = []domain.Proxy{domain.Direct()}
		return nil
	}

	target := &url.URL{Scheme: string(s.address.Scheme), Host: s.address.Host}
	proxies, err := s.address.ProxySelector.Select(ctx, target)
	if err != nil {
		return err
	}
	if len(proxies) == 0 {
		proxies = []domain.Proxy{domain.Direct()}
	}
	s.proxies = proxies
	return nil
}

// resolveProxy DNS-resolves the relevant host for a proxy (the proxy's own
// host for Http/Socks, the address's host for Direct) and produces a
// Selection of routes: one per resolved IP, non-failed first.
func (s *Selector) resolveProxy(ctx context.Context, proxy domain.Proxy) (*Selection, error) {
	host, port := s.dialTarget(proxy)

	var ips []net.IP
	var err error
	if proxy.IsDirect() {
		ips, err = s.address.Resolver.Resolve(ctx, host)
	} else {
		ips, err = resolveProxyHost(ctx, s.address.Resolver, host)
	}
	if err != nil {
		return nil, err
	}

	if s.fastFallback {
		ips = resolver.Interleave(ips)
	}

	fresh := make([]domain.Route, 0, len(ips))
	failed := make([]domain.Route, 0)
	for _, ip := range ips {
		route := domain.NewRoute(s.address, proxy, ip, port)
		if s.routeDB != nil && s.routeDB.IsFailed(route) {
			failed = append(failed, route)
		} else {
			fresh = append(fresh, route)
		}
	}

	return &Selection{Routes: append(fresh, failed...)}, nil
}

// dialTarget returns the host/port actually dialed for a given proxy choice.
func (s *Selector) dialTarget(proxy domain.Proxy) (string, int) {
	if proxy.IsDirect() {
		return s.address.Host, s.address.Port
	}
	host, port := splitHostPort(proxy.Address)
	return host, port
}

func resolveProxyHost(ctx context.Context, r domain.Resolver, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}
	return r.Resolve(ctx, host)
}

func splitHostPort(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	port := 0
	for _, c := range portStr {
		if c < '0' || c > '9' {
			return host, 0
		}
		port = port*10 + int(c-'0')
	}
	return host, port
}
