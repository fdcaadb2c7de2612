// Package resolver provides the DNS primitive the connection core needs:
// resolve one hostname to a non-empty, ordered list of IPs, or fail.
//
// golang.org/x/sync/errgroup drives parallel A and AAAA lookups, and
// golang.org/x/sync/singleflight collapses concurrent callers resolving the
// same hostname into a single underlying query.
package resolver

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/thushan/hconnect/internal/domain"
)

// SystemResolver resolves hostnames via the Go runtime's resolver
// (net.Resolver), issuing A and AAAA lookups concurrently and collapsing
// duplicate in-flight lookups for the same host.
type SystemResolver struct {
	resolver *net.Resolver
	group    singleflight.Group
}

// NewSystemResolver wraps an existing *net.Resolver (nil uses net.DefaultResolver).
func NewSystemResolver(r *net.Resolver) *SystemResolver {
	if r == nil {
		r = net.DefaultResolver
	}
	return &SystemResolver{resolver: r}
}

// Resolve implements domain.Resolver. It never returns an empty, nil-error
// result: a host with no records is a ResolutionError.
func (s *SystemResolver) Resolve(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}

	v, err, _ := s.group.Do(host, func() (any, error) {
		return s.lookup(ctx, host)
	})
	if err != nil {
		return nil, &domain.ResolutionError{Host: host, Err: err}
	}
	ips := v.([]net.IP)
	if len(ips) == 0 {
		return nil, &domain.ResolutionError{Host: host, Err: fmt.Errorf("no addresses found")}
	}
	return ips, nil
}

// lookup fans A and AAAA queries out concurrently via errgroup and merges
// them, since Go's LookupIPAddr already interleaves families but some
// calling code wants explicit control over ordering before the
// Happy-Eyeballs interleave step (see interleave.go).
func (s *SystemResolver) lookup(ctx context.Context, host string) ([]net.IP, error) {
	var v4, v6 []net.IP

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addrs, err := s.resolver.LookupIP(gctx, "ip4", host)
		if err != nil {
			return nil // absence of a family is not fatal; merged below
		}
		v4 = addrs
		return nil
	})
	g.Go(func() error {
		addrs, err := s.resolver.LookupIP(gctx, "ip6", host)
		if err != nil {
			return nil
		}
		v6 = addrs
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(v4) == 0 && len(v6) == 0 {
		// Neither family resolved on its own; fall back to the resolver's
		// combined lookup once more so genuine errors (NXDOMAIN, timeout)
		// surface instead of being swallowed above.
		return s.resolver.LookupIP(ctx, "ip", host)
	}

	all := make([]net.IP, 0, len(v4)+len(v6))
	all = append(all, v6...)
	all = append(all, v4...)
	return all, nil
}

// StaticResolver is a fixed hostname -> IPs map, useful for tests and for
// addresses pinned to a known peer without a DNS round trip.
type StaticResolver struct {
	Addrs map[string][]net.IP
}

func (s StaticResolver) Resolve(_ context.Context, host string) ([]net.IP, error) {
	ips, ok := s.Addrs[host]
	if !ok || len(ips) == 0 {
		return nil, &domain.ResolutionError{Host: host, Err: fmt.Errorf("no static mapping")}
	}
	out := make([]net.IP, len(ips))
	copy(out, ips)
	return out, nil
}
