package errs

import "errors"

// UserMessage maps an error to the text shown to the user.
// Authentication and checkout failures get a specific message, transport failures a generic one.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var in *InputError
	switch {
	case errors.As(err, &in):
		return in.Reason
	case errors.Is(err, ErrUnauthorized):
		return "Incorrect email or password."
	case errors.Is(err, ErrAlreadyExists):
		return "This email is already registered."
	case errors.Is(err, ErrEmptyCart):
		return "Your cart is empty."
	case errors.Is(err, ErrNotLoggedIn), errors.Is(err, ErrSuperseded):
		return "Please sign in again."
	case errors.Is(err, ErrNotFound):
		return "Not found."
	case errors.Is(err, ErrNetwork):
		return "Unable to reach the server. Check your connection and try again."
	default:
		return "Something went wrong. Please try again."
	}
}
