package connectplan

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"

	"github.com/thushan/hconnect/internal/domain"
	"github.com/thushan/hconnect/internal/logger"
)

func testLogger() logger.StyledLogger {
	return logger.NewPlainStyledLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testHTTPRoute(t *testing.T) domain.Route {
	t.Helper()
	addr, err := domain.NewAddressKey(domain.SchemeHTTPS, "origin.example", 443)
	if err != nil {
		t.Fatalf("new address key: %v", err)
	}
	addr.TLS = &domain.TLSConfigBundle{}
	return domain.NewRoute(addr, domain.HTTPProxy("proxy.example:8080"), net.ParseIP("10.0.0.1"), 8080)
}

func TestPlan_WriteConnectRequest(t *testing.T) {
	p := NewPlan(testHTTPRoute(t), Config{UserAgent: "hconnect-test"}, testLogger())

	var buf bytes.Buffer
	if err := p.writeConnectRequest(&buf, map[string]string{"Proxy-Authorization": "Basic xyz"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	if !strings.HasPrefix(out, "CONNECT origin.example:443 HTTP/1.1\r\n") {
		t.Fatalf("unexpected request line: %q", out)
	}
	if !strings.Contains(out, "Proxy-Authorization: Basic xyz\r\n") {
		t.Fatal("expected the extra header to be included")
	}
	if !strings.HasSuffix(out, "\r\n\r\n") {
		t.Fatal("expected the request to end with a blank line")
	}
}

func TestPlan_RunTunnelLoop_SucceedsOn200(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		buf := make([]byte, 4096)
		_, _ = server.Read(buf)
		_, _ = server.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n"))
	}()

	p := NewPlan(testHTTPRoute(t), Config{}, testLogger())
	p.rawConn = client

	if err := p.runTunnelLoop(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.State() != StateConnectedTunnel {
		t.Fatalf("expected StateConnectedTunnel, got %v", p.State())
	}
}

func TestPlan_RunTunnelLoop_FailsOnUnexpectedStatus(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		buf := make([]byte, 4096)
		_, _ = server.Read(buf)
		_, _ = server.Write([]byte("HTTP/1.1 502 Bad Gateway\r\nContent-Length: 0\r\n\r\n"))
	}()

	p := NewPlan(testHTTPRoute(t), Config{}, testLogger())
	p.rawConn = client

	err := p.runTunnelLoop(context.Background())
	if err == nil {
		t.Fatal("expected an error for a non-200/407 status")
	}
	var tunnelErr *domain.TunnelError
	if !asTunnelError(err, &tunnelErr) {
		t.Fatalf("expected a *domain.TunnelError, got %T", err)
	}
	if tunnelErr.StatusCode != 502 {
		t.Fatalf("expected status 502, got %d", tunnelErr.StatusCode)
	}
}

func TestPlan_RunTunnelLoop_AuthenticatesOn407ThenSucceeds(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		buf := make([]byte, 4096)
		_, _ = server.Read(buf) // first CONNECT, no credentials
		_, _ = server.Write([]byte("HTTP/1.1 407 Proxy Authentication Required\r\nProxy-Authenticate: Basic\r\nContent-Length: 0\r\n\r\n"))

		_, _ = server.Read(buf) // retried CONNECT with credentials
		_, _ = server.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n"))
	}()

	p := NewPlan(testHTTPRoute(t), Config{}, testLogger())
	p.rawConn = client
	p.Authenticator = authenticatorFunc(func(ctx context.Context, route domain.Route, challenge string) (map[string]string, bool) {
		return map[string]string{"Proxy-Authorization": "Basic creds"}, true
	})

	if err := p.runTunnelLoop(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPlan_RunTunnelLoop_NoAuthenticatorFailsOn407(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		buf := make([]byte, 4096)
		_, _ = server.Read(buf)
		_, _ = server.Write([]byte("HTTP/1.1 407 Proxy Authentication Required\r\nContent-Length: 0\r\n\r\n"))
	}()

	p := NewPlan(testHTTPRoute(t), Config{}, testLogger())
	p.rawConn = client

	err := p.runTunnelLoop(context.Background())
	if err == nil {
		t.Fatal("expected an error when no authenticator is configured for a 407")
	}
}

type authenticatorFunc func(ctx context.Context, route domain.Route, challenge string) (map[string]string, bool)

func (f authenticatorFunc) Authenticate(ctx context.Context, route domain.Route, challenge string) (map[string]string, bool) {
	return f(ctx, route, challenge)
}

func asTunnelError(err error, target **domain.TunnelError) bool {
	te, ok := err.(*domain.TunnelError)
	if !ok {
		return false
	}
	*target = te
	return true
}
