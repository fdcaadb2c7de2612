package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for connection acquisition's terminal conditions.
var (
	ErrCanceled        = errors.New("hconnect: call canceled")
	ErrExhaustedRoutes = errors.New("hconnect: exhausted all routes")
	ErrNoNewExchanges  = errors.New("hconnect: connection no longer accepts new exchanges")
)

// PlanningError is bad configuration that makes connecting impossible (e.g.
// H2-prior-knowledge requested over HTTPS). Non-fatal: the next plan is
// tried.
type PlanningError struct {
	Address AddressKey
	Reason  string
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("cannot plan connection to %s: %s", e.Address, e.Reason)
}

// ResolutionError wraps a DNS failure for a hostname. Non-fatal per-proxy:
// RouteSelector moves on to the next candidate rather than aborting.
type ResolutionError struct {
	Host string
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s: %v", e.Host, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// TCPConnectError is a connect/refuse/timeout failure. Non-fatal: the next
// route is tried.
type TCPConnectError struct {
	Route Route
	Err   error
}

func (e *TCPConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Route, e.Err)
}

func (e *TCPConnectError) Unwrap() error { return e.Err }

// TunnelError is an HTTP CONNECT failure: bad status or too many proxy-auth
// challenges.
type TunnelError struct {
	Route      Route
	StatusCode int
	Err        error
}

func (e *TunnelError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("CONNECT tunnel via %s: HTTP %d: %v", e.Route, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("CONNECT tunnel via %s: %v", e.Route, e.Err)
}

func (e *TunnelError) Unwrap() error { return e.Err }

// TLSHandshakeError covers handshake, hostname-verification, and pinning
// failures. Fatal for the latter two; retryable across ConnectionSpecs
// otherwise.
type TLSHandshakeError struct {
	Route     Route
	Retryable bool
	Err       error
}

func (e *TLSHandshakeError) Error() string {
	return fmt.Sprintf("TLS handshake with %s: %v", e.Route, e.Err)
}

func (e *TLSHandshakeError) Unwrap() error { return e.Err }

// ExhaustedError is raised when no more routes and no more in-flight plans
// remain. It carries the first recorded error plus every subsequent failure
// as a suppressed cause.
type ExhaustedError struct {
	First      error
	Suppressed []error
}

func (e *ExhaustedError) Error() string {
	if len(e.Suppressed) == 0 {
		return e.First.Error()
	}
	return fmt.Sprintf("%s (and %d more failed attempt(s))", e.First.Error(), len(e.Suppressed))
}

func (e *ExhaustedError) Unwrap() error { return e.First }
