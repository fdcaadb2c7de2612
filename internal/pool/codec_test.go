package pool

import (
	"errors"
	"net"
	"testing"

	"github.com/thushan/hconnect/internal/domain"
	"github.com/thushan/hconnect/internal/routedb"
)

func TestRealConnection_NewCodec_TrackFailureRecordsAgainstConnection(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	rc := NewRealConnection(testRoute(t, "a.example"), client, nil, domain.ProtocolHTTP1_1, 0)

	codec := rc.NewCodec(nil)
	carrier := codec.Carrier()
	if !carrier.Route().Equal(rc.Route) {
		t.Fatal("expected the carrier's Route to match the connection's")
	}

	carrier.TrackFailure(fakeCall{id: 1}, errors.New("boom"))

	if rc.RouteFailureCount() != 1 {
		t.Fatalf("expected RecordFailure to have run once, got count=%d", rc.RouteFailureCount())
	}
	if !rc.NoNewExchanges() {
		t.Fatal("expected an HTTP/1.1 connection to stop taking new exchanges after a failure")
	}
}

func TestRealConnection_NewCodec_TrackFailureMarksRouteFailedInRouteDB(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	route := testRoute(t, "b.example")
	rc := NewRealConnection(route, client, nil, domain.ProtocolHTTP1_1, 0)

	db := routedb.New()
	carrier := rc.NewCodec(db).Carrier()

	carrier.TrackFailure(fakeCall{id: 1}, errors.New("boom"))

	if !db.IsFailed(route) {
		t.Fatal("expected TrackFailure on a now-dead connection to mark its route failed")
	}
}

func TestRealConnection_NewCodec_NoNewExchangesViaCarrier(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	rc := NewRealConnection(testRoute(t, "c.example"), client, nil, domain.ProtocolHTTP1_1, 0)

	carrier := rc.NewCodec(nil).Carrier()
	if rc.NoNewExchanges() {
		t.Fatal("expected a fresh connection to still accept exchanges")
	}
	carrier.NoNewExchanges()
	if !rc.NoNewExchanges() {
		t.Fatal("expected the carrier's NoNewExchanges to propagate to the connection")
	}
}

func TestRealConnection_NewCodec_CancelClosesConnection(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	rc := NewRealConnection(testRoute(t, "d.example"), client, nil, domain.ProtocolHTTP1_1, 0)

	rc.NewCodec(nil).Carrier().Cancel()

	one := make([]byte, 1)
	if _, err := server.Read(one); err == nil {
		t.Fatal("expected Cancel to close the underlying socket")
	}
}
