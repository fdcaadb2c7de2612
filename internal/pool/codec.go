package pool

import (
	"github.com/thushan/hconnect/internal/domain"
	"github.com/thushan/hconnect/internal/ports"
	"github.com/thushan/hconnect/internal/routedb"
)

// connectionCarrier is the production ports.Carrier: it feeds exchange
// failures observed by the framing layer back into this connection's own
// counters and, once the connection as a whole stops accepting new work,
// into the shared RouteDB so RouteSelector deprioritises the route.
type connectionCarrier struct {
	rc *RealConnection
	db *routedb.DB
}

func (c *connectionCarrier) NoNewExchanges() { c.rc.SetNoNewExchanges() }

func (c *connectionCarrier) Cancel() { _ = c.rc.Close() }

func (c *connectionCarrier) Route() domain.Route        { return c.rc.Route }
func (c *connectionCarrier) Address() domain.AddressKey { return c.rc.Route.Address }

// TrackFailure attributes an exchange-level IO error to this connection. An
// HTTP/1.1 connection can't outlive one failed exchange, so it's marked
// closed for new work immediately; an HTTP/2 connection survives a single
// stream reset and only stops taking work once SetNoNewExchanges has
// already fired some other way (a GOAWAY, say). RouteDB only learns about
// the failure once the connection itself is done, not on every call.
func (c *connectionCarrier) TrackFailure(call ports.Call, err error) {
	c.rc.RecordFailure()
	if !c.rc.IsMultiplexed() {
		c.rc.SetNoNewExchanges()
	}
	if c.rc.NoNewExchanges() && c.db != nil {
		c.db.Failed(c.rc.Route)
	}
}

// exchangeCodec is the production ports.ExchangeCodec: its only job is to
// hand the framing layer the Carrier seam back into this connection.
type exchangeCodec struct {
	carrier ports.Carrier
}

func (e *exchangeCodec) Carrier() ports.Carrier { return e.carrier }

// NewCodec produces the ExchangeCodec the HTTP/1 or HTTP/2 framing layer
// drives for the lifetime of this connection. db may be nil for callers
// that don't track route failures.
func (rc *RealConnection) NewCodec(db *routedb.DB) ports.ExchangeCodec {
	return &exchangeCodec{carrier: &connectionCarrier{rc: rc, db: db}}
}
