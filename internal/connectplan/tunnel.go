package connectplan

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/thushan/hconnect/internal/domain"
	litepool "github.com/thushan/hconnect/pkg/pool"
)

// tunnelReaders recycles the bufio.Reader used to parse CONNECT responses,
// one per in-flight tunnel attempt, so a proxy chain with many hops doesn't
// allocate a fresh read buffer on every retry.
var tunnelReaders = litepool.NewLitePool(func() *bufio.Reader {
	return bufio.NewReaderSize(nil, 4096)
})

// runTunnelLoop drives the CONNECT request/response loop: write CONNECT,
// read response, handle 200/407/other. On a
//407 it consults the Authenticator and retries (capped at
// MaxTunnelAttempts); if the proxy then closes the connection, it returns a
// tunnelRetry so the caller produces a fresh ConnectPlan instead of looping
// on a now-dead socket.
func (p *Plan) runTunnelLoop(ctx context.Context) error {
	p.setState(StateConnectingTunnel)

	headers := map[string]string{}
	for k, v := range p.TunnelRequestHeaders {
		headers[k] = v
	}

	for attempt := 0; attempt < MaxTunnelAttempts; attempt++ {
		if p.IsCanceled() {
			return domain.ErrCanceled
		}

		p.mu.Lock()
		conn := p.rawConn
		p.mu.Unlock()
		if conn == nil {
			return &domain.TunnelError{Route: p.Route, Err: fmt.Errorf("no socket to tunnel over")}
		}

		if err := p.writeConnectRequest(conn, headers); err != nil {
			return &domain.TunnelError{Route: p.Route, Err: err}
		}

		reader := tunnelReaders.Get()
		reader.Reset(conn)
		resp, err := readTunnelResponse(reader, &http.Request{Method: "CONNECT"})
		if err != nil {
			tunnelReaders.Put(reader)
			return &domain.TunnelError{Route: p.Route, Err: err}
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 8<<10))
		_ = resp.Body.Close()
		tunnelReaders.Put(reader)

		switch resp.StatusCode {
		case http.StatusOK:
			p.setState(StateConnectedTunnel)
			return nil
		case http.StatusProxyAuthRequired:
			challenge := resp.Header.Get("Proxy-Authenticate")
			if p.Authenticator == nil {
				return &domain.TunnelError{Route: p.Route, StatusCode: resp.StatusCode, Err: fmt.Errorf("proxy authentication required, no authenticator configured")}
			}
			authHeaders, ok := p.Authenticator.Authenticate(ctx, p.Route, challenge)
			if !ok {
				return &domain.TunnelError{Route: p.Route, StatusCode: resp.StatusCode, Err: fmt.Errorf("authenticator declined proxy challenge")}
			}
			for k, v := range authHeaders {
				headers[k] = v
			}

			if resp.Close || resp.Header.Get("Connection") == "close" {
				return tunnelRetry{}
			}
			// Otherwise the proxy keeps the socket open for another
			// CONNECT attempt on the same connection.
			continue
		default:
			return &domain.TunnelError{Route: p.Route, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected CONNECT response")}
		}
	}

	return &domain.TunnelError{Route: p.Route, Err: fmt.Errorf("exceeded %d proxy authentication attempts", MaxTunnelAttempts)}
}

// writeConnectRequest emits the CONNECT request line and headers.
func (p *Plan) writeConnectRequest(w io.Writer, extraHeaders map[string]string) error {
	route := p.Route
	hostport := fmt.Sprintf("%s:%d", route.Address.Host, route.Address.Port)

	buf := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\nProxy-Connection: Keep-Alive\r\nUser-Agent: %s\r\n",
		hostport, hostport, p.Config.userAgent())
	for k, v := range extraHeaders {
		buf += fmt.Sprintf("%s: %s\r\n", k, v)
	}
	buf += "\r\n"

	_, err := io.WriteString(w, buf)
	return err
}
