package types

import (
	"errors"
	"fmt"
)

// Signal classifies the result of a call to an external service.
type Signal int

const (
	// SignalOK means the call succeeded or failed for a reason that is not
	// a rate limit or an authentication problem.
	SignalOK Signal = iota
	// SignalRateLimited means the service refused the call due to throttling.
	SignalRateLimited
	// SignalAuthExpired means the credentials used for the call are no
	// longer accepted.
	SignalAuthExpired
)

func (s Signal) String() string {
	switch s {
	case SignalRateLimited:
		return "rate-limited"
	case SignalAuthExpired:
		return "auth-expired"
	default:
		return "ok"
	}
}

// Service names used in [SignalError].
const (
	ServiceAI      = "ai"
	ServiceTwitter = "twitter"
)

// SignalError tags an error from an external service with its [Signal].
// Clients return it so callers can react to throttling or expired
// credentials without knowing the client's error shapes.
type SignalError struct {
	Service string
	Signal  Signal
	Err     error
}

func (e *SignalError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Service, e.Signal, e.Err)
}

func (e *SignalError) Unwrap() error { return e.Err }

// NewSignalError wraps err. A nil err yields nil.
func NewSignalError(service string, sig Signal, err error) error {
	if err == nil {
		return nil
	}
	return &SignalError{Service: service, Signal: sig, Err: err}
}

// SignalOf returns the [Signal] carried anywhere in err's chain, or
// SignalOK if there is none.
func SignalOf(err error) Signal {
	var se *SignalError
	if errors.As(err, &se) {
		return se.Signal
	}
	return SignalOK
}
