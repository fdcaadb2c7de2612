package planner

import (
	"context"
	"net"
	"testing"

	"github.com/thushan/hconnect/internal/connectplan"
	"github.com/thushan/hconnect/internal/domain"
	"github.com/thushan/hconnect/internal/events"
	"github.com/thushan/hconnect/internal/pool"
	"github.com/thushan/hconnect/internal/routedb"
)

type fakeCall struct{ id uint64 }

func (c fakeCall) ID() uint64            { return c.id }
func (c fakeCall) Done() <-chan struct{} { return nil }

type staticResolver struct{ ips []net.IP }

func (r staticResolver) Resolve(ctx context.Context, host string) ([]net.IP, error) {
	return r.ips, nil
}

func testAddress(t *testing.T, host string) domain.AddressKey {
	t.Helper()
	key, err := domain.NewAddressKey(domain.SchemeHTTP, host, 80)
	if err != nil {
		t.Fatalf("new address key: %v", err)
	}
	key.Resolver = staticResolver{ips: []net.IP{net.ParseIP("127.0.0.1")}}
	return key
}

func TestPlanner_ReusesExistingConnectionWhenHealthy(t *testing.T) {
	address := testAddress(t, "a.example")
	client, server := net.Pipe()
	defer server.Close()
	route := domain.NewRoute(address, domain.Direct(), net.ParseIP("127.0.0.1"), 80)
	rc := pool.NewRealConnection(route, client, nil, domain.ProtocolHTTP1_1, 0)
	handle := rc.Attach(fakeCall{id: 1})

	pl := New(address, false, "GET", connectplan.Config{}, pool.New(pool.Config{}, nil, nil), routedb.New(), events.NewDispatcher(), nil, nil)

	res := pl.Plan(context.Background(), fakeCall{id: 1}, &Reused{ID: 0, Conn: rc, Handle: handle})
	if res.Reused == nil || res.Reused.Conn != rc {
		t.Fatalf("expected the existing connection to be reused, got %+v", res)
	}
}

func TestPlanner_FallsThroughToPoolThenNewPlan(t *testing.T) {
	address := testAddress(t, "a.example")
	p := pool.New(pool.Config{}, nil, nil)
	pl := New(address, false, "GET", connectplan.Config{}, p, routedb.New(), events.NewDispatcher(), nil, nil)

	res := pl.Plan(context.Background(), fakeCall{id: 1}, nil)
	if res.NewPlan == nil {
		t.Fatalf("expected a fresh ConnectPlan when the pool is empty, got %+v", res)
	}
	if res.NewPlan.Route.Peer.String() != "127.0.0.1" {
		t.Fatalf("expected the resolved route to target 127.0.0.1, got %v", res.NewPlan.Route.Peer)
	}
}

func TestPlanner_HasMoreRoutesReflectsQueuedRetry(t *testing.T) {
	address := testAddress(t, "a.example")
	p := pool.New(pool.Config{}, nil, nil)
	pl := New(address, false, "GET", connectplan.Config{}, p, routedb.New(), events.NewDispatcher(), nil, nil)

	route := domain.NewRoute(address, domain.Direct(), net.ParseIP("127.0.0.1"), 80)
	pl.QueueRetry(route)

	if !pl.HasMoreRoutes(context.Background()) {
		t.Fatal("expected a queued retry route to report HasMoreRoutes")
	}

	res := pl.Plan(context.Background(), fakeCall{id: 1}, nil)
	if res.NewPlan == nil || !res.NewPlan.Route.Equal(route) {
		t.Fatalf("expected the queued route to be used first, got %+v", res)
	}
}

func TestPlanner_ShouldRetryTransparentlyOnSingleRefusal(t *testing.T) {
	address := testAddress(t, "a.example")
	pl := New(address, false, "GET", connectplan.Config{}, pool.New(pool.Config{}, nil, nil), routedb.New(), events.NewDispatcher(), nil, nil)

	pl.RecordFailureKind(true, false)
	if !pl.ShouldRetryTransparently() {
		t.Fatal("a single refused-stream failure should be retried transparently")
	}

	pl.RecordFailureKind(false, false)
	if pl.ShouldRetryTransparently() {
		t.Fatal("a generic IO failure alongside a refusal must not be retried transparently")
	}
}

func TestPlanner_RecordRouteFailureMarksRouteDB(t *testing.T) {
	address := testAddress(t, "a.example")
	db := routedb.New()
	pl := New(address, false, "GET", connectplan.Config{}, pool.New(pool.Config{}, nil, nil), db, events.NewDispatcher(), nil, nil)

	route := domain.NewRoute(address, domain.Direct(), net.ParseIP("127.0.0.1"), 80)
	pl.RecordRouteFailure(route)

	if !db.IsFailed(route) {
		t.Fatal("expected RecordRouteFailure to mark the route failed in RouteDB")
	}
}
