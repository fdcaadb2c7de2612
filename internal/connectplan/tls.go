package connectplan

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net/http"

	"github.com/thushan/hconnect/internal/domain"
)

// connectTLSEtc drives everything after the raw TCP connect: an optional
// CONNECT tunnel, then an optional TLS handshake, producing the final
// Result.
func (p *Plan) connectTLSEtc(ctx context.Context) (*Result, *Plan, error) {
	addr := p.Route.Address

	if p.needsTunnel() {
		if err := p.runTunnelLoop(ctx); err != nil {
			if _, ok := err.(tunnelRetry); ok {
				return nil, p.followUpForTunnelRetry(), err
			}
			p.setState(StateFailed)
			return nil, nil, err
		}
	}

	if addr.IsCleartext() {
		proto := domain.ProtocolHTTP1_1
		if addr.SupportsH2PriorKnowledge() {
			proto = domain.ProtocolH2PriorKnowledge
		}
		p.setState(StateReady)
		return &Result{Conn: p.currentConn(), Route: p.Route, Protocol: proto}, nil, nil
	}

	return p.runTLSHandshake(ctx)
}

// needsTunnel reports whether this route requires an HTTP CONNECT tunnel:
// an HTTPS origin reached through an HTTP proxy.
func (p *Plan) needsTunnel() bool {
	return p.Route.Proxy.Kind == domain.ProxyHTTP && !p.Route.Address.IsCleartext()
}

func (p *Plan) currentConn() interface {
	Close() error
} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tlsConn != nil {
		return p.tlsConn
	}
	return p.rawConn
}

// followUpForTunnelRetry builds a fresh ConnectPlan for when the proxy
// closed the connection after a 407: a new plan is queued as a follow-up
// rather than looping in place on a dead socket.
func (p *Plan) followUpForTunnelRetry() *Plan {
	np := NewPlan(p.Route, p.Config, p.Logger)
	np.Authenticator = p.Authenticator
	np.Listener = p.Listener
	np.TunnelRequestHeaders = p.TunnelRequestHeaders
	return np
}

// tunnelRetry is a sentinel error signalling "the proxy closed the
// connection; retry with a fresh plan" rather than a terminal failure.
type tunnelRetry struct{}

func (tunnelRetry) Error() string { return "proxy closed connection; retry with fresh plan" }

// runTLSHandshake wraps the raw socket in TLS, applies the current
// ConnectionSpec plus SNI/ALPN, and verifies the peer certificate. A
// retryable failure (tlsspec.IsRetryable) returns a follow-up Plan carrying
// the next-compatible ConnectionSpec index.
func (p *Plan) runTLSHandshake(ctx context.Context) (*Result, *Plan, error) {
	p.setState(StateConnectingTLS)
	if p.Listener != nil {
		p.Listener.SecureConnectStart(p.Route)
	}

	addr := p.Route.Address
	seq := domain.NewTLSFallbackSequence(addr.TLS.ConnectionSpecs)
	if p.SpecIndex >= len(seq.Specs) {
		p.SpecIndex = 0
	}
	spec := seq.At(p.SpecIndex)

	cfg := &tls.Config{ServerName: addr.Host}
	if addr.TLS.BaseTLSConfig != nil {
		cfg = addr.TLS.BaseTLSConfig.Clone()
		cfg.ServerName = addr.Host
	}
	spec.Apply(cfg)
	cfg.NextProtos = alpnList(addr.Protocols)

	p.mu.Lock()
	raw := p.rawConn
	p.mu.Unlock()

	tlsConn := tls.Client(raw, cfg)

	handshakeCtx, cancel := context.WithTimeout(ctx, DefaultTLSHandshakeTimeout)
	defer cancel()

	if err := tlsConn.HandshakeContext(handshakeCtx); err != nil {
		_ = tlsConn.Close()
		werr := &domain.TLSHandshakeError{Route: p.Route, Err: err, Retryable: retryableTLS(err)}
		if p.Listener != nil {
			p.Listener.SecureConnectEnd(p.Route, werr)
		}
		if werr.Retryable {
			if next, ok := seq.Next(p.SpecIndex, spec.MinTLSVersion()); ok {
				follow := p.followUpForTunnelRetry()
				follow.SpecIndex = next
				follow.IsTLSFallback = true
				return nil, follow, werr
			}
		}
		return nil, nil, werr
	}

	if p.IsCanceled() {
		_ = tlsConn.Close()
		return nil, nil, domain.ErrCanceled
	}

	if err := verifyPeer(addr, tlsConn); err != nil {
		_ = tlsConn.Close()
		werr := &domain.TLSHandshakeError{Route: p.Route, Err: &HostnamePinningFailure{err}, Retryable: false}
		if p.Listener != nil {
			p.Listener.SecureConnectEnd(p.Route, werr)
		}
		return nil, nil, werr
	}

	p.mu.Lock()
	p.tlsConn = tlsConn
	p.mu.Unlock()
	p.setState(StateConnectedTLS)

	state := tlsConn.ConnectionState()
	proto := domain.ProtocolHTTP1_1
	if state.NegotiatedProtocol == "h2" {
		proto = domain.ProtocolHTTP2
	}

	if p.Listener != nil {
		p.Listener.SecureConnectEnd(p.Route, nil)
	}

	return &Result{Conn: tlsConn, Route: p.Route, Protocol: proto, TLSState: &state}, nil, nil
}

// HostnamePinningFailure wraps a hostname-verification or pinning error.
// runTLSHandshake reports it with Retryable set to false, so it never leads
// to a TLS fallback attempt.
type HostnamePinningFailure struct{ Err error }

func (h *HostnamePinningFailure) Error() string { return h.Err.Error() }
func (h *HostnamePinningFailure) Unwrap() error { return h.Err }

func verifyPeer(addr domain.AddressKey, conn *tls.Conn) error {
	state := conn.ConnectionState()

	if addr.TLS.HostnameVerifier != nil && !addr.TLS.HostnameVerifier.Verify(addr.Host, &state) {
		return fmt.Errorf("hostname verification failed for %s", addr.Host)
	}
	if addr.TLS.CertificatePinner != nil {
		chain := make([][]byte, len(state.PeerCertificates))
		for i, c := range state.PeerCertificates {
			chain[i] = c.Raw
		}
		if err := addr.TLS.CertificatePinner.Check(addr.Host, chain); err != nil {
			return fmt.Errorf("certificate pinning failed for %s: %w", addr.Host, err)
		}
	}
	return nil
}

// alpnList encodes the advertised protocol identifier list per RFC 7301:
// "h2" is offered whenever HTTP/2 is configured, alongside "http/1.1".
func alpnList(protocols []domain.Protocol) []string {
	out := make([]string, 0, len(protocols))
	seenH2 := false
	for _, p := range protocols {
		if p == domain.ProtocolHTTP2 {
			seenH2 = true
		}
	}
	if seenH2 {
		out = append(out, "h2")
	}
	out = append(out, "http/1.1")
	return out
}

// readTunnelResponse parses the CONNECT tunnel's response status line and
// headers with net/http's own parser, avoiding a
// hand-rolled HTTP/1 reader for a single response.
func readTunnelResponse(r *bufio.Reader, req *http.Request) (*http.Response, error) {
	return http.ReadResponse(r, req)
}
