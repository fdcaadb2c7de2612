// Package events adapts pkg/eventbus's generic pub/sub onto the
// connection core's event listener surface, so an external observer can
// subscribe to connection-acquisition lifecycle events without the core
// depending on any particular metrics/tracing backend.
package events

import (
	"context"

	"github.com/thushan/hconnect/internal/domain"
	"github.com/thushan/hconnect/internal/ports"
	"github.com/thushan/hconnect/pkg/eventbus"
)

// Kind identifies which EventListener callback produced a ConnectionEvent.
type Kind int

const (
	KindDNSStart Kind = iota
	KindDNSEnd
	KindProxySelectStart
	KindProxySelectEnd
	KindConnectStart
	KindConnectEnd
	KindConnectFailed
	KindSecureConnectStart
	KindSecureConnectEnd
	KindConnectionAcquired
	KindConnectionReleased
)

// ConnectionEvent is the tagged-union payload published for every
// EventListener callback. Only the fields relevant to Kind are populated.
type ConnectionEvent struct {
	Kind     Kind
	Host     string
	Route    domain.Route
	Protocol domain.Protocol
	Err      error
	Count    int
	Reused   bool
}

// Dispatcher implements ports.EventListener by publishing onto an adapted
// eventbus.EventBus[ConnectionEvent] -- a decoupled secondary channel
// alongside any direct interface calls a caller also wires up.
type Dispatcher struct {
	bus *eventbus.EventBus[ConnectionEvent]
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{bus: eventbus.New[ConnectionEvent]()}
}

// Subscribe returns a channel of every published ConnectionEvent until ctx
// is done or the returned cleanup func is called.
func (d *Dispatcher) Subscribe(ctx context.Context) (<-chan ConnectionEvent, func()) {
	return d.bus.Subscribe(ctx)
}

func (d *Dispatcher) Shutdown() { d.bus.Shutdown() }

func (d *Dispatcher) DNSStart(host string) {
	d.bus.PublishAsync(ConnectionEvent{Kind: KindDNSStart, Host: host})
}

func (d *Dispatcher) DNSEnd(host string, addrs int, err error) {
	d.bus.PublishAsync(ConnectionEvent{Kind: KindDNSEnd, Host: host, Count: addrs, Err: err})
}

func (d *Dispatcher) ProxySelectStart(url string) {
	d.bus.PublishAsync(ConnectionEvent{Kind: KindProxySelectStart, Host: url})
}

func (d *Dispatcher) ProxySelectEnd(proxies int, err error) {
	d.bus.PublishAsync(ConnectionEvent{Kind: KindProxySelectEnd, Count: proxies, Err: err})
}

func (d *Dispatcher) ConnectStart(route domain.Route) {
	d.bus.PublishAsync(ConnectionEvent{Kind: KindConnectStart, Route: route})
}

func (d *Dispatcher) ConnectEnd(route domain.Route, protocol domain.Protocol, err error) {
	d.bus.PublishAsync(ConnectionEvent{Kind: KindConnectEnd, Route: route, Protocol: protocol, Err: err})
}

func (d *Dispatcher) ConnectFailed(route domain.Route, err error) {
	d.bus.PublishAsync(ConnectionEvent{Kind: KindConnectFailed, Route: route, Err: err})
}

func (d *Dispatcher) SecureConnectStart(route domain.Route) {
	d.bus.PublishAsync(ConnectionEvent{Kind: KindSecureConnectStart, Route: route})
}

func (d *Dispatcher) SecureConnectEnd(route domain.Route, err error) {
	d.bus.PublishAsync(ConnectionEvent{Kind: KindSecureConnectEnd, Route: route, Err: err})
}

func (d *Dispatcher) ConnectionAcquired(route domain.Route, reused bool) {
	d.bus.PublishAsync(ConnectionEvent{Kind: KindConnectionAcquired, Route: route, Reused: reused})
}

func (d *Dispatcher) ConnectionReleased(route domain.Route) {
	d.bus.PublishAsync(ConnectionEvent{Kind: KindConnectionReleased, Route: route})
}

var _ ports.EventListener = (*Dispatcher)(nil)
