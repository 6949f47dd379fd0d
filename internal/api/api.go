// Package api holds typed clients for the remote endpoints: the gateway
// auth API, the direct auth provider, entity collections and row-level tables.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/and161185/petmem/internal/errs"
	"github.com/and161185/petmem/internal/transport"
)

// Executor is the subset of transport.Client used by endpoint clients.
type Executor interface {
	Execute(ctx context.Context, req *transport.Request, authToken string) (*transport.Response, error)
}

// ResponseError is an HTTP error response mapped onto a sentinel.
// errors.Is matches Kind; errors.As reaches the *transport.StatusError.
type ResponseError struct {
	Kind   error // may be nil when no sentinel applies
	Status *transport.StatusError
}

func (e *ResponseError) Error() string { return e.Status.Error() }

func (e *ResponseError) Unwrap() []error {
	if e.Kind == nil {
		return []error{e.Status}
	}
	return []error{e.Kind, e.Status}
}

// Unavailable reports whether err means the endpoint could not serve the
// request at all (transport failure or 404/500/502/503), so the next
// endpoint of a fallback ladder should be tried.
func Unavailable(err error) bool {
	if errors.Is(err, errs.ErrNetwork) {
		return true
	}
	var se *transport.StatusError
	return errors.As(err, &se) && se.ServerClass()
}

func checkResponse(resp *transport.Response) error {
	err := resp.Err()
	if err == nil {
		return nil
	}
	var se *transport.StatusError
	if !errors.As(err, &se) {
		return err
	}

	var kind error
	switch {
	case alreadyRegistered(se):
		kind = errs.ErrAlreadyExists
	case se.StatusCode == http.StatusBadRequest, se.StatusCode == http.StatusUnauthorized, se.StatusCode == http.StatusForbidden:
		kind = errs.ErrUnauthorized
	case se.StatusCode == http.StatusConflict:
		kind = errs.ErrAlreadyExists
	case se.StatusCode == http.StatusUnprocessableEntity:
		kind = errs.ErrInvalidInput
	case se.StatusCode == http.StatusNotFound:
		kind = errs.ErrNotFound
	}
	return &ResponseError{Kind: kind, Status: se}
}

func alreadyRegistered(se *transport.StatusError) bool {
	if se.Code == "user_already_exists" || se.Code == "email_exists" {
		return true
	}
	msg := strings.ToLower(se.Message)
	return strings.Contains(msg, "already registered") || strings.Contains(msg, "already exists")
}

func newRequest(method, url string, body any, header http.Header) (*transport.Request, error) {
	req := &transport.Request{Method: method, URL: url, Header: header}
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		req.Body = b
	}
	return req, nil
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}
