// Package ports declares the narrow interfaces through which the connection
// core hands off to its external collaborators: the codec layer, an event
// listener, and the proxy authenticator. Apart from the no-op NoopListener,
// none of these are implemented here -- they're seams for a caller to plug
// into.
package ports

import (
	"context"
	"time"

	"github.com/thushan/hconnect/internal/domain"
)

// Call is the minimal lifecycle surface the core needs from an in-flight
// HTTP call: a stable identity (for the pool's calls bookkeeping) and a
// cancellation signal. The HTTP layer's real Call type satisfies this
// trivially; tests use a bare struct.
type Call interface {
	ID() uint64
	Done() <-chan struct{}
}

// ExchangeCodec is produced by RealConnection.NewCodec and consumed entirely
// by the (external) HTTP/1 and HTTP/2 framing layers. The core never calls
// into it; it only returns it on handoff.HandleSuccess's Outcome.
type ExchangeCodec interface {
	Carrier() Carrier
}

// Carrier is the minimal contract a pooled connection exposes back to its
// framing layer: drain, cancel, failure tracking, and its route and address.
type Carrier interface {
	NoNewExchanges()
	Cancel()
	TrackFailure(call Call, err error)
	Route() domain.Route
	Address() domain.AddressKey
}

// Authenticator supplies credentials for a 407 Proxy Authentication Required
// response during the CONNECT tunnel loop. Returning
// (nil, false) means "decline" -- the tunnel fails.
type Authenticator interface {
	Authenticate(ctx context.Context, route domain.Route, challenge string) (headers map[string]string, ok bool)
}

// EventListener receives connection-acquisition lifecycle events. Every
// method is optional to implement meaningfully; a no-op listener is the
// default. Each event is raised synchronously by the component doing the
// work; the Connect* and SecureConnect* events come from the goroutine
// running the ConnectPlan, which under fastfallback.Finder is a worker
// goroutine rather than the call's own.
type EventListener interface {
	DNSStart(host string)
	DNSEnd(host string, addrs int, err error)
	ProxySelectStart(url string)
	ProxySelectEnd(proxies int, err error)
	ConnectStart(route domain.Route)
	ConnectEnd(route domain.Route, protocol domain.Protocol, err error)
	ConnectFailed(route domain.Route, err error)
	SecureConnectStart(route domain.Route)
	SecureConnectEnd(route domain.Route, err error)
	ConnectionAcquired(route domain.Route, reused bool)
	ConnectionReleased(route domain.Route)
}

// NoopListener implements EventListener with no-ops; embed it to only
// override the events you care about.
type NoopListener struct{}

func (NoopListener) DNSStart(string)                                 {}
func (NoopListener) DNSEnd(string, int, error)                       {}
func (NoopListener) ProxySelectStart(string)                         {}
func (NoopListener) ProxySelectEnd(int, error)                       {}
func (NoopListener) ConnectStart(domain.Route)                       {}
func (NoopListener) ConnectEnd(domain.Route, domain.Protocol, error) {}
func (NoopListener) ConnectFailed(domain.Route, error)               {}
func (NoopListener) SecureConnectStart(domain.Route)                 {}
func (NoopListener) SecureConnectEnd(domain.Route, error)            {}
func (NoopListener) ConnectionAcquired(domain.Route, bool)           {}
func (NoopListener) ConnectionReleased(domain.Route)                 {}

// Timeouts groups the per-operation timeouts a caller can configure.
type Timeouts struct {
	Connect time.Duration
	Read    time.Duration
	Write   time.Duration
}
