package connectplan

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/thushan/hconnect/internal/domain"
)

func directRoute(t *testing.T, peer string, port int) domain.Route {
	t.Helper()
	addr, err := domain.NewAddressKey(domain.SchemeHTTP, "origin.example", port)
	if err != nil {
		t.Fatalf("new address key: %v", err)
	}
	return domain.NewRoute(addr, domain.Direct(), net.ParseIP(peer), port)
}

func TestPlan_CheckPlannable_RejectsH2PriorKnowledgeOverTLS(t *testing.T) {
	addr, _ := domain.NewAddressKey(domain.SchemeHTTPS, "origin.example", 443)
	addr.TLS = &domain.TLSConfigBundle{}
	addr.Protocols = []domain.Protocol{domain.ProtocolH2PriorKnowledge}
	route := domain.NewRoute(addr, domain.Direct(), net.ParseIP("10.0.0.1"), 443)

	p := NewPlan(route, Config{}, testLogger())
	if err := p.checkPlannable(); err == nil {
		t.Fatal("expected an error for H2 prior knowledge over TLS")
	}
}

func TestPlan_CheckPlannable_AllowsH2PriorKnowledgeOverCleartext(t *testing.T) {
	addr, _ := domain.NewAddressKey(domain.SchemeHTTP, "origin.example", 80)
	addr.Protocols = []domain.Protocol{domain.ProtocolH2PriorKnowledge}
	route := domain.NewRoute(addr, domain.Direct(), net.ParseIP("10.0.0.1"), 80)

	p := NewPlan(route, Config{}, testLogger())
	if err := p.checkPlannable(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPlan_Cancel_IsIdempotentAndClosesSocket(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	p := NewPlan(directRoute(t, "127.0.0.1", 80), Config{}, testLogger())
	p.rawConn = client

	p.Cancel()
	p.Cancel() // must not panic or double-close incorrectly

	if !p.IsCanceled() {
		t.Fatal("expected IsCanceled to be true after Cancel")
	}
	if p.State() != StateCanceled {
		t.Fatalf("expected StateCanceled, got %v", p.State())
	}

	// the underlying pipe should now be closed
	buf := make([]byte, 1)
	if _, err := client.Read(buf); err == nil {
		t.Fatal("expected the socket to be closed after Cancel")
	}
}

func TestPlan_Connect_TCPFailureIsWrapped(t *testing.T) {
	// Dial a port nothing listens on; connectTCP must wrap the failure.
	route := directRoute(t, "127.0.0.1", 1)
	p := NewPlan(route, Config{ConnectTimeout: 200 * time.Millisecond}, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, _, err := p.Connect(ctx)
	if err == nil {
		t.Fatal("expected a connection error")
	}
	var tcpErr *domain.TCPConnectError
	if !errors.As(err, &tcpErr) {
		t.Fatalf("expected a *domain.TCPConnectError, got %T", err)
	}
	if p.State() != StateFailed {
		t.Fatalf("expected StateFailed, got %v", p.State())
	}
}

func TestPlan_Connect_SucceedsOverPlainTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 1)
		_, _ = conn.Read(buf)
	}()

	port := ln.Addr().(*net.TCPAddr).Port

	addr, err := domain.NewAddressKey(domain.SchemeHTTP, "127.0.0.1", port)
	if err != nil {
		t.Fatalf("new address key: %v", err)
	}
	route := domain.NewRoute(addr, domain.Direct(), net.ParseIP("127.0.0.1"), port)

	p := NewPlan(route, Config{}, testLogger())
	result, followUp, err := p.Connect(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if followUp != nil {
		t.Fatal("expected no follow-up plan on success")
	}
	if result.Protocol != domain.ProtocolHTTP1_1 {
		t.Fatalf("expected plain HTTP/1.1 for a cleartext address, got %v", result.Protocol)
	}
	if p.State() != StateReady {
		t.Fatalf("expected StateReady, got %v", p.State())
	}
}
