// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"fmt"
)

// Common sentinels across client layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates bad credentials or an invalid/expired token.
	ErrUnauthorized = errors.New("authentication failed")

	// ErrAlreadyExists indicates the email is already registered.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates client-side validation rejected the input before any network call.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNetwork indicates that every transport tier failed below the HTTP layer.
	ErrNetwork = errors.New("network unavailable")

	// ErrEmptyCart indicates checkout was attempted with no cart items.
	ErrEmptyCart = errors.New("empty cart")

	// ErrNotLoggedIn indicates an operation needs an authenticated session.
	ErrNotLoggedIn = errors.New("not logged in")

	// ErrSuperseded indicates the session a caller captured was replaced by a later sign-in/sign-out.
	ErrSuperseded = errors.New("session superseded")

	// ErrThrottled indicates an auto-login invocation was skipped by the throttle.
	ErrThrottled = errors.New("throttled")
)

// InputError is a validation failure with a user-facing reason.
type InputError struct {
	Field  string
	Reason string
}

// Invalid builds an InputError for field.
func Invalid(field, reason string) *InputError {
	return &InputError{Field: field, Reason: reason}
}

func (e *InputError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid input: %s", e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrInvalidInput) hold.
func (e *InputError) Is(target error) bool { return target == ErrInvalidInput }
