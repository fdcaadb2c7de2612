// Package pool implements RealConnection and Pool: a concurrent set of
// reusable HTTP/1.1 and HTTP/2 connections with health-checking,
// coalescing, idle eviction, and leak detection.
package pool

import (
	"crypto/tls"
	"net"
	"sync"
	"time"
	"weak"

	uatomic "go.uber.org/atomic"

	"github.com/thushan/hconnect/internal/domain"
	"github.com/thushan/hconnect/internal/ports"
)

// DefaultAllocationLimit is used when a connection doesn't negotiate an
// explicit SETTINGS_MAX_CONCURRENT_STREAMS (an HTTP/2 peer that never sends
// the setting). A non-multiplexed connection takes one call at a time
// whatever its allocation limit.
const DefaultAllocationLimit = 100

// CallHandle is returned by RealConnection.Attach and Pool.AcquirePooled. The caller must hold it
// for the lifetime of the in-flight call and invoke Release when done. A
// handle dropped without Release is detected by the pool's maintenance
// sweep via its collected weak.Pointer.
type CallHandle struct {
	call ports.Call
}

func (h *CallHandle) Call() ports.Call { return h.call }

// RealConnection is a live, reusable transport established by a ConnectPlan.
type RealConnection struct {
	Route    domain.Route
	Conn     net.Conn
	TLSState *tls.ConnectionState
	Protocol domain.Protocol

	allocationLimit uatomic.Int64
	noNewExchanges  uatomic.Bool
	idleAtNs        uatomic.Int64
	routeFailureCount uatomic.Int64
	successCount      uatomic.Int64

	mu    sync.Mutex
	calls map[uint64]weak.Pointer[CallHandle]
}

// NewRealConnection builds a RealConnection for a just-succeeded ConnectPlan
// Result. allocationLimit is the peer's SETTINGS_MAX_CONCURRENT_STREAMS for
// HTTP/2; callers that haven't read SETTINGS yet may pass 0, in which case
// DefaultAllocationLimit is substituted.
func NewRealConnection(route domain.Route, conn net.Conn, tlsState *tls.ConnectionState, protocol domain.Protocol, allocationLimit int) *RealConnection {
	if allocationLimit <= 0 {
		allocationLimit = DefaultAllocationLimit
	}
	rc := &RealConnection{
		Route:    route,
		Conn:     conn,
		TLSState: tlsState,
		Protocol: protocol,
		calls:    make(map[uint64]weak.Pointer[CallHandle]),
	}
	rc.allocationLimit.Store(int64(allocationLimit))
	rc.idleAtNs.Store(time.Now().UnixNano())
	return rc
}

func (rc *RealConnection) IsMultiplexed() bool {
	return rc.Protocol == domain.ProtocolHTTP2
}

func (rc *RealConnection) NoNewExchanges() bool {
	return rc.noNewExchanges.Load()
}

// SetNoNewExchanges is monotonic: once true it is never observed false
// again for this connection.
func (rc *RealConnection) SetNoNewExchanges() {
	rc.noNewExchanges.Store(true)
}

func (rc *RealConnection) RouteFailureCount() int64 { return rc.routeFailureCount.Load() }
func (rc *RealConnection) SuccessCount() int64      { return rc.successCount.Load() }
func (rc *RealConnection) RecordFailure()           { rc.routeFailureCount.Inc() }
func (rc *RealConnection) RecordSuccess()           { rc.successCount.Inc() }

// InFlightCount returns the number of calls currently attached, not counting
// any whose weak reference has already been collected (SweepLeaks removes
// those slots).
func (rc *RealConnection) InFlightCount() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	n := 0
	for _, w := range rc.calls {
		if w.Value() != nil {
			n++
		}
	}
	return n
}

// acquireLocked attempts to attach call to this connection. Caller must hold
// rc.mu. Returns nil if noNewExchanges or the connection is already at its
// allocation limit (one call for a non-multiplexed connection).
func (rc *RealConnection) acquireLocked(call ports.Call) *CallHandle {
	if rc.noNewExchanges.Load() {
		return nil
	}
	limit := rc.allocationLimit.Load()
	if !rc.IsMultiplexed() {
		limit = 1
	}
	if int64(rc.liveCallCountLocked()) >= limit {
		return nil
	}
	handle := &CallHandle{call: call}
	rc.calls[call.ID()] = weak.Make(handle)
	return handle
}

// Attach acquires this connection for call, acquiring rc.mu itself. Used to
// attach the originating call to a just-established connection before it is
// ever inserted into a Pool, so the call that paid for the handshake is
// never evicted from under itself.
func (rc *RealConnection) Attach(call ports.Call) *CallHandle {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.acquireLocked(call)
}

func (rc *RealConnection) liveCallCountLocked() int {
	n := 0
	for _, w := range rc.calls {
		if w.Value() != nil {
			n++
		}
	}
	return n
}

// Release detaches callID. It returns true if the connection is now idle
// (no live calls), at which point idleAtNs is stamped for the pool's
// eviction sweep.
func (rc *RealConnection) Release(callID uint64) (idle bool) {
	rc.mu.Lock()
	delete(rc.calls, callID)
	idle = rc.liveCallCountLocked() == 0
	if idle {
		rc.idleAtNs.Store(time.Now().UnixNano())
	}
	rc.mu.Unlock()
	return idle
}

// SweepLeaks drops any call slot whose weak reference has been collected
// without a matching Release -- the application lost its handle without
// closing the response body. It returns the number of
// leaks found.
func (rc *RealConnection) SweepLeaks() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	leaked := 0
	for id, w := range rc.calls {
		if w.Value() == nil {
			delete(rc.calls, id)
			leaked++
		}
	}
	if leaked > 0 && len(rc.calls) == 0 {
		rc.idleAtNs.Store(time.Now().UnixNano())
	}
	return leaked
}

func (rc *RealConnection) IdleSince() time.Time {
	return time.Unix(0, rc.idleAtNs.Load())
}

func (rc *RealConnection) IsIdle() bool {
	return rc.InFlightCount() == 0
}

// HealthCheck probes whether this connection is still usable before it is
// handed back out of the pool. weak corresponds to a GET request. The weak
// and the full check run the same short read probe (isClosed), so the flag
// does not change what is probed.
func (rc *RealConnection) HealthCheck(weak bool) bool {
	if rc.noNewExchanges.Load() {
		return false
	}
	healthy := !isClosed(rc.Conn)
	if !weak {
		healthy = probeReadable(rc.Conn)
	}
	if healthy {
		rc.RecordSuccess()
	}
	return healthy
}

// isClosed does a read with a 1ms deadline to detect a peer-closed socket without
// consuming any real data.
func isClosed(conn net.Conn) bool {
	if conn == nil {
		return true
	}
	one := make([]byte, 1)
	_ = conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	n, err := conn.Read(one)
	_ = conn.SetReadDeadline(time.Time{})
	if n > 0 {
		// Unexpected data on an idle connection; treat conservatively as
		// unusable rather than silently dropping the byte.
		return true
	}
	if err == nil {
		return false
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return false
	}
	return true
}

// probeReadable is the full health check for non-GET methods: identical
// probe, distinguished only by name so call sites read like "weak vs full".
func probeReadable(conn net.Conn) bool {
	return !isClosed(conn)
}

// EligibleFor is the acquire eligibility test: exact address match, or
// HTTP/2 coalescing onto a connection whose peer certificate also covers
// the candidate hostname.
func (rc *RealConnection) EligibleFor(candidate domain.AddressKey, viaRoutes []domain.Route, requireMultiplexed bool) bool {
	if requireMultiplexed != rc.IsMultiplexed() {
		return false
	}
	if rc.Route.Address.Equal(candidate) {
		return true
	}
	return rc.coalescesWith(candidate, viaRoutes)
}

// coalescesWith reports whether this (multiplexed) connection may serve
// candidate via HTTP/2 connection coalescing: same peer IP, compatible TLS
// and proxy configuration, and a certificate valid for the new hostname.
func (rc *RealConnection) coalescesWith(candidate domain.AddressKey, viaRoutes []domain.Route) bool {
	if !rc.IsMultiplexed() {
		return false
	}
	if rc.TLSState == nil || len(rc.TLSState.PeerCertificates) == 0 {
		return false
	}

	matchesPeer := false
	for _, r := range viaRoutes {
		if r.Peer.Equal(rc.Route.Peer) {
			matchesPeer = true
			break
		}
	}
	if !matchesPeer {
		return false
	}

	existing := rc.Route.Address
	if existing.Scheme != candidate.Scheme || existing.Port != candidate.Port {
		return false
	}
	if !tlsBundleCoalescable(existing.TLS, candidate.TLS) {
		return false
	}
	if existing.ProxySelector != candidate.ProxySelector {
		return false
	}
	if (existing.ProxyOverride == nil) != (candidate.ProxyOverride == nil) ||
		(existing.ProxyOverride != nil && !existing.ProxyOverride.Equal(*candidate.ProxyOverride)) {
		return false
	}

	cert := rc.TLSState.PeerCertificates[0]
	if cert.VerifyHostname(candidate.Host) != nil {
		return false
	}
	if candidate.TLS != nil && candidate.TLS.CertificatePinner != nil {
		chain := make([][]byte, len(rc.TLSState.PeerCertificates))
		for i, c := range rc.TLSState.PeerCertificates {
			chain[i] = c.Raw
		}
		if candidate.TLS.CertificatePinner.Check(candidate.Host, chain) != nil {
			return false
		}
	}
	return true
}

func tlsBundleCoalescable(a, b *domain.TLSConfigBundle) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	if a == nil {
		return true
	}
	return a.BaseTLSConfig == b.BaseTLSConfig && a.HostnameVerifier == b.HostnameVerifier
}

func (rc *RealConnection) Close() error {
	if rc.Conn == nil {
		return nil
	}
	return rc.Conn.Close()
}
