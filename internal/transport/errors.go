package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/tidwall/gjson"

	"github.com/and161185/petmem/internal/errs"
)

// Class is the transport failure category.
type Class int

const (
	// ClassNone is not a transport-class failure and is never retried.
	ClassNone Class = iota
	ClassHandshake
	ClassUnreachable
	ClassTimeout
	ClassReset
)

func (c Class) String() string {
	switch c {
	case ClassHandshake:
		return "handshake"
	case ClassUnreachable:
		return "unreachable"
	case ClassTimeout:
		return "timeout"
	case ClassReset:
		return "reset"
	default:
		return "none"
	}
}

// Classify maps an error returned by a round trip to its transport class.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}

	var (
		rhe   tls.RecordHeaderError
		alert tls.AlertError
		cve   *tls.CertificateVerificationError
		uae   x509.UnknownAuthorityError
		hne   x509.HostnameError
		cie   x509.CertificateInvalidError
	)
	switch {
	case errors.As(err, &rhe), errors.As(err, &alert), errors.As(err, &cve),
		errors.As(err, &uae), errors.As(err, &hne), errors.As(err, &cie):
		return ClassHandshake
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ECONNABORTED), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return ClassReset
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTimeout
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ClassTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return ClassUnreachable
	}
	var op *net.OpError
	if errors.As(err, &op) && op.Op == "dial" {
		return ClassUnreachable
	}

	// net/http flattens a few handshake failures into plain strings.
	msg := err.Error()
	if strings.Contains(msg, "tls: ") || strings.Contains(msg, "handshake") ||
		strings.Contains(msg, "HTTP response to HTTPS client") {
		return ClassHandshake
	}
	if strings.Contains(msg, "connection reset") || strings.Contains(msg, "broken pipe") {
		return ClassReset
	}
	return ClassNone
}

// NetworkError is returned after every tier failed at the transport level.
type NetworkError struct {
	Class    Class
	Attempts int
	Err      error // last underlying error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error (%s) after %d attempts: %v", e.Class, e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, errs.ErrNetwork) hold.
func (e *NetworkError) Is(target error) bool { return target == errs.ErrNetwork }

// StatusError is an HTTP response with status >= 400.
type StatusError struct {
	StatusCode int
	Code       string // backend error code when present
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// ServerClass reports whether the status means the endpoint itself is unavailable
// (404 missing route, 500/502/503 outage) rather than the request being rejected.
func (e *StatusError) ServerClass() bool {
	switch e.StatusCode {
	case http.StatusNotFound, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return true
	}
	return false
}

func newStatusError(status int, body []byte) *StatusError {
	se := &StatusError{StatusCode: status}
	if !gjson.ValidBytes(body) {
		return se
	}
	for _, path := range []string{"message", "msg", "error_description", "error.message", "error"} {
		if v := gjson.GetBytes(body, path); v.Exists() && v.Type == gjson.String && v.String() != "" {
			se.Message = v.String()
			break
		}
	}
	for _, path := range []string{"error_code", "code", "error.code"} {
		if v := gjson.GetBytes(body, path); v.Exists() && v.String() != "" {
			se.Code = v.String()
			break
		}
	}
	return se
}
