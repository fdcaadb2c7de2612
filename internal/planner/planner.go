// Package planner implements RoutePlanner: the decision ladder that
// decides, for each call, whether to reuse a connection, pull one from the
// pool (possibly by coalescing), or hand the caller a fresh ConnectPlan to
// race via FastFallbackFinder.
package planner

import (
	"context"
	"net/url"
	"strconv"

	"github.com/thushan/hconnect/internal/connectplan"
	"github.com/thushan/hconnect/internal/domain"
	"github.com/thushan/hconnect/internal/logger"
	"github.com/thushan/hconnect/internal/pool"
	"github.com/thushan/hconnect/internal/ports"
	"github.com/thushan/hconnect/internal/routedb"
	"github.com/thushan/hconnect/internal/routeselector"
)

// Reused is a connection satisfied without any new socket: either the
// call's own existing connection, or one pulled from the pool (possibly via
// coalescing).
type Reused struct {
	ID     uint64
	Conn   *pool.RealConnection
	Handle *pool.CallHandle
}

// Result is the tagged-union product of Plan(): exactly one of Reused,
// NewPlan, or Err is set.
type Result struct {
	Reused  *Reused
	NewPlan *connectplan.Plan
	Err     error
}

// Planner is a RoutePlanner for a single AddressKey, reused across the
// retries of one logical call.
type Planner struct {
	Address      domain.AddressKey
	FastFallback bool
	Method       string // "GET" selects the weak pool health check

	Config        connectplan.Config
	Pool          *pool.Pool
	RouteDB       *routedb.DB
	Listener      ports.EventListener
	Logger        logger.StyledLogger
	Authenticator ports.Authenticator

	selector    *routeselector.Selector
	selection   *routeselector.Selection
	queuedRoute *domain.Route

	refusedStreamCount      int
	connectionShutdownCount int
	otherFailureCount       int
}

// New builds a Planner. Call Plan repeatedly as FastFallbackFinder reports
// failures, until it returns a Reused or NewPlan result, or a terminal Err.
func New(address domain.AddressKey, fastFallback bool, method string, cfg connectplan.Config, p *pool.Pool, db *routedb.DB, listener ports.EventListener, log logger.StyledLogger, auth ports.Authenticator) *Planner {
	return &Planner{
		Address:       address,
		FastFallback:  fastFallback,
		Method:        method,
		Config:        cfg,
		Pool:          p,
		RouteDB:       db,
		Listener:      listener,
		Logger:        log,
		Authenticator: auth,
	}
}

func (pl *Planner) isWeakHealthCheck() bool {
	return pl.Method == "" || pl.Method == "GET"
}

// Plan implements the decision ladder. existing is the call's
// already-attached connection, if any (step 1); call identifies the
// in-flight request for pool bookkeeping.
func (pl *Planner) Plan(ctx context.Context, call ports.Call, existing *Reused) Result {
	if existing != nil {
		if existing.Conn.EligibleFor(pl.Address, nil, false) && !existing.Conn.NoNewExchanges() &&
			existing.Conn.HealthCheck(pl.isWeakHealthCheck()) {
			return Result{Reused: existing}
		}
		pl.Pool.Release(existing.ID, existing.Conn, call.ID())
	}

	if id, conn, handle := pl.Pool.AcquirePooled(pl.Address, nil, false, pl.isWeakHealthCheck(), call); conn != nil {
		pl.Listener.ConnectionAcquired(conn.Route, true)
		return Result{Reused: &Reused{ID: id, Conn: conn, Handle: handle}}
	}

	route, err := pl.nextRoute(ctx)
	if err != nil {
		return Result{Err: err}
	}

	if id, conn, handle := pl.Pool.AcquirePooled(pl.Address, []domain.Route{route}, false, pl.isWeakHealthCheck(), call); conn != nil {
		pl.Listener.ConnectionAcquired(conn.Route, true)
		return Result{Reused: &Reused{ID: id, Conn: conn, Handle: handle}}
	}

	plan := connectplan.NewPlan(route, pl.Config, pl.Logger)
	plan.Authenticator = pl.Authenticator
	plan.Listener = pl.Listener
	return Result{NewPlan: plan}
}

// nextRoute returns the queued retry route if one is pending (from a
// coalesced connection that later failed), else pulls the next route from
// the current selection, loading a fresh selection/proxy as needed.
func (pl *Planner) nextRoute(ctx context.Context) (domain.Route, error) {
	if pl.queuedRoute != nil {
		r := *pl.queuedRoute
		pl.queuedRoute = nil
		return r, nil
	}

	for {
		if pl.selection != nil && pl.selection.HasNext() {
			r, ok := pl.selection.Next()
			if ok {
				return r, nil
			}
		}

		if pl.selector == nil {
			pl.selector = routeselector.New(pl.Address, pl.FastFallback, pl.RouteDB)
		}

		hasNext, err := pl.selector.HasNext(ctx)
		if err != nil {
			return domain.Route{}, err
		}
		if !hasNext {
			return domain.Route{}, domain.ErrExhaustedRoutes
		}

		sel, err := pl.selector.Next(ctx)
		if err != nil {
			return domain.Route{}, err
		}
		pl.selection = sel
	}
}

// HasMoreRoutes reports whether another Plan() call could still produce a
// route: a queued retry, remaining entries in the current selection, or an
// as-yet-uncreated selector that might still have proxies to try.
func (pl *Planner) HasMoreRoutes(ctx context.Context) bool {
	if pl.queuedRoute != nil {
		return true
	}
	if pl.selection != nil && pl.selection.HasNext() {
		return true
	}
	if pl.selector == nil {
		return true
	}
	hasNext, err := pl.selector.HasNext(ctx)
	return err == nil && hasNext
}

// SameHostAndPort answers whether a redirect follow-up to target can reuse
// this Planner instead of building a new one for a new AddressKey.
func (pl *Planner) SameHostAndPort(target *url.URL) bool {
	port := target.Port()
	if port == "" {
		port = strconv.Itoa(domain.Scheme(target.Scheme).DefaultPort())
	}
	return pl.Address.Host == target.Hostname() && strconv.Itoa(pl.Address.Port) == port
}

// QueueRetry inserts route ahead of any routes remaining in the current
// selection -- used when a coalesced pool connection picked for route later
// failed and the caller wants a fresh attempt at the same route.
func (pl *Planner) QueueRetry(route domain.Route) {
	pl.queuedRoute = &route
}

// RecordRouteFailure marks route as recently failed in RouteDB, so
// RouteSelector deprioritises it on the next selection for this address.
func (pl *Planner) RecordRouteFailure(route domain.Route) {
	if pl.RouteDB != nil {
		pl.RouteDB.Failed(route)
	}
}

// RecordFailureKind updates the counters used to decide whether a prior
// route should be retried transparently: only on a refused stream or a
// graceful connection shutdown, not on generic IO failure.
func (pl *Planner) RecordFailureKind(refusedStream, connectionShutdown bool) {
	switch {
	case refusedStream:
		pl.refusedStreamCount++
	case connectionShutdown:
		pl.connectionShutdownCount++
	default:
		pl.otherFailureCount++
	}
}

func (pl *Planner) ShouldRetryTransparently() bool {
	return (pl.refusedStreamCount == 1 || pl.connectionShutdownCount == 1) && pl.otherFailureCount == 0
}
