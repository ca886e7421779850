package transport

import (
	"errors"
	"fmt"
)

// Kind classifies a transport failure.
type Kind int

const (
	KindOther Kind = iota
	// KindWindowClosed is WhatsApp's "outside the customer service window" rejection.
	KindWindowClosed
	// KindAuthFailure means the credentials must be reconfigured.
	KindAuthFailure
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindWindowClosed:
		return "window_closed"
	case KindAuthFailure:
		return "auth_failure"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "other"
	}
}

// Error is the typed failure every transport returns.
type Error struct {
	Platform string
	Kind     Kind
	// Code is the provider error code when one was reported (e.g. "131055", "429").
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	prefix := e.Platform
	if prefix == "" {
		prefix = "transport"
	}
	if e.Kind == KindAuthFailure {
		msg = "credentials rejected, reconfigure " + prefix + " credentials: " + msg
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code %s)", prefix, msg, e.Code)
	}
	return fmt.Sprintf("%s: %s", prefix, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the Kind of err, KindOther when err is not a *Error.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindOther
}

// IsWindowClosed is shorthand for KindOf(err) == KindWindowClosed.
func IsWindowClosed(err error) bool { return err != nil && KindOf(err) == KindWindowClosed }

// Wrap turns any error into a *Error of kind other, keeping existing classification.
func Wrap(platform string, err error) error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return err
	}
	return &Error{Platform: platform, Kind: KindOther, Err: err}
}
