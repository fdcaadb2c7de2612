// Package connectplan implements ConnectPlan: one attempt at establishing a
// connection along a Route -- TCP, optional CONNECT tunnel, optional TLS.
// It owns its sockets until Connect succeeds and hands them off, or until
// Cancel/failure closes them.
package connectplan

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	xproxy "golang.org/x/net/proxy"

	"github.com/thushan/hconnect/internal/domain"
	"github.com/thushan/hconnect/internal/logger"
	"github.com/thushan/hconnect/internal/ports"
	"github.com/thushan/hconnect/internal/tlsspec"
)

// State is ConnectPlan's position in its connection-establishment state
// machine.
type State int32

const (
	StateNew State = iota
	StateConnectingTCP
	StateConnectedTCP
	StateConnectingTunnel
	StateConnectedTunnel
	StateConnectingTLS
	StateConnectedTLS
	StateReady
	StateFailed
	StateCanceled
)

// Result is the product of a successful Connect: a socket ready to be
// wrapped in a RealConnection, plus the protocol ALPN or prior-knowledge
// configuration settled on.
type Result struct {
	Conn      net.Conn
	Route     domain.Route
	Protocol  domain.Protocol
	TLSState  *tls.ConnectionState
	Connected bool // true for a plan that was already connected (pool hit / reuse)
}

// Plan is one attempt to establish a connection along a Route.
type Plan struct {
	Route  domain.Route
	Config Config

	Authenticator ports.Authenticator
	Listener      ports.EventListener
	Logger        logger.StyledLogger

	// TunnelRequestHeaders are sent with every CONNECT request in addition
	// to Host/Proxy-Connection/User-Agent. Authenticator-supplied headers
	// from a 407 challenge are merged in automatically.
	TunnelRequestHeaders map[string]string

	// SpecIndex and IsTLSFallback carry state across a follow-up plan
	// produced by a retryable TLS failure: the next
	// attempt starts at this index and is flagged as a fallback attempt.
	SpecIndex     int
	IsTLSFallback bool

	state    atomic.Int32
	canceled atomic.Bool

	mu      sync.Mutex
	rawConn net.Conn
	tlsConn *tls.Conn
}

// NewPlan creates a fresh (non-fallback) plan for a route.
func NewPlan(route domain.Route, cfg Config, logger logger.StyledLogger) *Plan {
	return &Plan{Route: route, Config: cfg, Logger: logger}
}

func (p *Plan) State() State {
	return State(p.state.Load())
}

func (p *Plan) setState(s State) {
	p.state.Store(int32(s))
}

// IsCanceled reports whether Cancel has been called. Every blocking step
// checks this before and after the blocking call, since cancel can arrive
// from another goroutine at any time.
func (p *Plan) IsCanceled() bool {
	return p.canceled.Load()
}

// Cancel sets the canceled flag and closes whatever sockets currently
// exist. It is idempotent and safe to call concurrently with Connect, and
// safe to call before a socket exists: the flag alone makes the subsequent
// connectTCP observe it and abort.
func (p *Plan) Cancel() {
	p.canceled.Store(true)

	p.mu.Lock()
	raw, tlsC := p.rawConn, p.tlsConn
	p.mu.Unlock()

	if tlsC != nil {
		_ = tlsC.Close()
	} else if raw != nil {
		_ = raw.Close()
	}

	if p.State() < StateReady {
		p.setState(StateCanceled)
	}
}

// Connect drives the whole state machine: TCP connect, optional tunnel,
// optional TLS. On success it returns a Result and no follow-up. On a
// retryable TLS failure it returns an error alongside a follow-up Plan the
// caller (FastFallbackFinder) should try next instead of a fresh route.
func (p *Plan) Connect(ctx context.Context) (*Result, *Plan, error) {
	if p.IsCanceled() {
		return nil, nil, domain.ErrCanceled
	}

	if err := p.checkPlannable(); err != nil {
		return nil, nil, err
	}

	if p.Listener != nil {
		p.Listener.ConnectStart(p.Route)
	}

	if err := p.connectTCP(ctx); err != nil {
		if p.Listener != nil {
			p.Listener.ConnectFailed(p.Route, err)
		}
		return nil, nil, err
	}

	result, followUp, err := p.connectTLSEtc(ctx)
	if err != nil {
		p.closeQuietly()
		if p.Listener != nil {
			p.Listener.ConnectFailed(p.Route, err)
		}
		return nil, followUp, err
	}

	p.setState(StateReady)
	if p.Listener != nil {
		p.Listener.ConnectEnd(p.Route, result.Protocol, nil)
	}
	return result, nil, nil
}

// checkPlannable rejects configurations that can never be connected: H2
// prior knowledge is only valid for cleartext addresses.
func (p *Plan) checkPlannable() error {
	addr := p.Route.Address
	if addr.SupportsH2PriorKnowledge() && !addr.IsCleartext() {
		return &domain.PlanningError{
			Address: addr,
			Reason:  "h2 prior knowledge is incompatible with TLS",
		}
	}
	return nil
}

// connectTCP opens the raw socket: direct or HTTP-proxy routes dial the
// route's peer with a plain net.Dialer; SOCKS routes dial through
// golang.org/x/net/proxy's SOCKS5 dialer.
func (p *Plan) connectTCP(ctx context.Context) error {
	p.setState(StateConnectingTCP)

	if p.IsCanceled() {
		return domain.ErrCanceled
	}

	dialCtx, cancel := context.WithTimeout(ctx, p.Config.connectTimeout())
	defer cancel()

	conn, err := p.dial(dialCtx)
	if err != nil {
		p.setState(StateFailed)
		return &domain.TCPConnectError{Route: p.Route, Err: err}
	}

	if p.IsCanceled() {
		_ = conn.Close()
		return domain.ErrCanceled
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(DefaultSetNoDelay)
		_ = tcpConn.SetKeepAlive(true)
		_ = tcpConn.SetKeepAlivePeriod(p.Config.keepAlive())
	}
	if rt := p.Config.readTimeout(); rt > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(rt))
	}

	p.mu.Lock()
	p.rawConn = conn
	p.mu.Unlock()

	p.setState(StateConnectedTCP)
	return nil
}

func (p *Plan) dial(ctx context.Context) (net.Conn, error) {
	route := p.Route
	dialer := &net.Dialer{Timeout: p.Config.connectTimeout(), KeepAlive: p.Config.keepAlive()}

	switch route.Proxy.Kind {
	case domain.ProxyDirect, domain.ProxyHTTP:
		if route.Address.SocketFactory != nil {
			return route.Address.SocketFactory.DialContext(ctx, "tcp", route.SocketAddress())
		}
		return dialer.DialContext(ctx, "tcp", route.SocketAddress())
	case domain.ProxySocks:
		socksDialer, err := xproxy.SOCKS5("tcp", route.Proxy.Address, nil, dialer)
		if err != nil {
			return nil, err
		}
		// golang.org/x/net/proxy predates context-aware dialing; honour
		// cancellation with a background goroutine that closes the
		// in-progress connection if ctx is done first.
		return dialSocksContext(ctx, socksDialer, route.SocketAddress())
	default:
		return nil, fmt.Errorf("unknown proxy kind %v", route.Proxy.Kind)
	}
}

func dialSocksContext(ctx context.Context, d xproxy.Dialer, addr string) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := d.Dial("tcp", addr)
		ch <- result{conn, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.conn != nil {
				_ = r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-ch:
		return r.conn, r.err
	}
}

// closeQuietly closes whatever sockets exist without surfacing errors,
// used on every failure path so no socket outlives its ConnectPlan.
func (p *Plan) closeQuietly() {
	p.mu.Lock()
	raw, tlsC := p.rawConn, p.tlsConn
	p.rawConn, p.tlsConn = nil, nil
	p.mu.Unlock()

	if tlsC != nil {
		_ = tlsC.Close()
	} else if raw != nil {
		_ = raw.Close()
	}
}

// retryableTLS reports whether err qualifies for a TLS-fallback follow-up
// plan against the next ConnectionSpec.
func retryableTLS(err error) bool {
	return tlsspec.IsRetryable(err)
}
