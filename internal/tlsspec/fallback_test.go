package tlsspec

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"testing"
)

type fakeTimeoutError struct{}

func (fakeTimeoutError) Error() string   { return "i/o timeout" }
func (fakeTimeoutError) Timeout() bool   { return true }
func (fakeTimeoutError) Temporary() bool { return true }

var _ net.Error = fakeTimeoutError{}

func TestIsRetryable_NilIsNotRetryable(t *testing.T) {
	if IsRetryable(nil) {
		t.Fatal("a nil error should never be retryable")
	}
}

func TestIsRetryable_HostnameOrPinningIsFatal(t *testing.T) {
	err := &HostnameOrPinningError{Err: errors.New("certificate does not cover hostname")}
	if IsRetryable(err) {
		t.Fatal("a hostname/pinning failure must never be retried")
	}
}

func TestIsRetryable_TimeoutIsFatal(t *testing.T) {
	if IsRetryable(fakeTimeoutError{}) {
		t.Fatal("a handshake timeout must not be retried with a weaker spec")
	}
}

func TestIsRetryable_CertificateErrorsAreFatal(t *testing.T) {
	cases := []error{
		x509.CertificateInvalidError{Reason: x509.Expired},
		x509.UnknownAuthorityError{},
		x509.HostnameError{Certificate: &x509.Certificate{}, Host: "example.com"},
	}
	for _, err := range cases {
		if IsRetryable(err) {
			t.Fatalf("expected %T to be fatal, not retryable", err)
		}
	}
}

func TestIsRetryable_RecordHeaderMismatchIsFatal(t *testing.T) {
	err := tls.RecordHeaderError{Msg: "first record does not look like a TLS handshake"}
	if IsRetryable(err) {
		t.Fatal("a record-header mismatch means the peer isn't speaking TLS at all")
	}
}

func TestIsRetryable_UnexpectedEOFIsFatal(t *testing.T) {
	if IsRetryable(io.ErrUnexpectedEOF) {
		t.Fatal("an unexpected EOF mid-handshake should not be retried")
	}
	if IsRetryable(io.EOF) {
		t.Fatal("EOF mid-handshake should not be retried")
	}
}

func TestIsRetryable_GenericHandshakeAlertIsRetryable(t *testing.T) {
	err := errors.New("tls: peer does not support any of the supplied cipher suites")
	if !IsRetryable(err) {
		t.Fatal("a generic handshake alert should be worth one more attempt with a weaker spec")
	}
}

func TestIsRetryable_WrappedTimeoutStillFatal(t *testing.T) {
	wrapped := wrapErr{inner: fakeTimeoutError{}}
	if IsRetryable(wrapped) {
		t.Fatal("errors.As should see through a wrapped net.Error timeout")
	}
}

type wrapErr struct{ inner error }

func (w wrapErr) Error() string { return "wrapped: " + w.inner.Error() }
func (w wrapErr) Unwrap() error { return w.inner }
