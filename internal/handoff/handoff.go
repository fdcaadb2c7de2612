// Package handoff implements the last step of connection acquisition:
// winning plan -> pool insertion -> RealConnection. A FastFallbackFinder's
// winning connectplan.Result is wrapped as a RealConnection and either
// merged into an already-coalescable pool entry (discarding the brand-new
// socket) or inserted as a new pool member.
package handoff

import (
	"github.com/thushan/hconnect/internal/connectplan"
	"github.com/thushan/hconnect/internal/domain"
	"github.com/thushan/hconnect/internal/pool"
	"github.com/thushan/hconnect/internal/ports"
	"github.com/thushan/hconnect/internal/routedb"
)

// Outcome is the final handle the caller's Call can use: either the brand
// new connection it just paid to establish, or an existing pool entry that
// turned out to coalesce with it, in which case Result.Conn has already
// been closed. Codec is the seam the external framing layer drives for the
// rest of this connection's life.
type Outcome struct {
	ID     uint64
	Conn   *pool.RealConnection
	Handle *pool.CallHandle
	Codec  ports.ExchangeCodec
}

// HandleSuccess wraps a winning ConnectPlan Result and settles it into p.
// requireMultiplexed is false: a same-address exact match is always
// accepted regardless of protocol. db (may be nil) is marked known-good for
// result.Route: the dial succeeded even when the socket itself is about to
// be discarded for coalescing.
func HandleSuccess(result *connectplan.Result, p *pool.Pool, db *routedb.DB, call ports.Call, weakHealthCheck bool) Outcome {
	if db != nil {
		db.Connected(result.Route)
	}

	// Recheck the pool for a connection that now coalesces with this
	// address -- closes the race where a concurrent call already inserted
	// a multiplexed connection to the same peer while this one was still
	// dialing.
	if id, existing, handle := p.AcquirePooled(result.Route.Address, []domain.Route{result.Route}, false, weakHealthCheck, call); existing != nil {
		_ = result.Conn.Close()
		return Outcome{ID: id, Conn: existing, Handle: handle, Codec: existing.NewCodec(db)}
	}

	rc := pool.NewRealConnection(result.Route, result.Conn, result.TLSState, result.Protocol, 0)
	handle := rc.Attach(call)
	id := p.Insert(rc)
	return Outcome{ID: id, Conn: rc, Handle: handle, Codec: rc.NewCodec(db)}
}
