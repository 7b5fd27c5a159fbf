// Package fallback classifies why an adapter degraded to its safe default.
//
// Every external call in agrospeak (transcription, translation, assistant,
// speech synthesis) swallows its error and returns a usable value instead.
// The Reason recorded alongside that value keeps the degraded path visible
// to tests, logs and metrics.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Reason describes why a fallback value was used.
type Reason string

const (
	// None means the value is a real success.
	None Reason = ""

	// Network means the remote service could not be reached.
	Network Reason = "network"

	// Status means the remote service answered with a non-2xx status.
	Status Reason = "status"

	// Parse means the response body could not be decoded.
	Parse Reason = "parse"

	// Empty means the response decoded but carried no usable value.
	Empty Reason = "empty"

	// Timeout means the call exceeded its deadline.
	Timeout Reason = "timeout"

	// Canceled means the caller gave up before the call completed.
	Canceled Reason = "canceled"

	// Unavailable means no backend is configured for the call.
	Unavailable Reason = "unavailable"
)

// Degraded reports whether r marks a fallback value.
func (r Reason) Degraded() bool { return r != None }

func (r Reason) String() string {
	if r == None {
		return "none"
	}
	return string(r)
}

// Error is returned by adapters' underlying clients so the reason
// survives wrapping.
type Error struct {
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Reason.String()
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap tags err with reason. A nil err yields nil.
func Wrap(reason Reason, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Reason: reason, Err: err}
}

// Errorf builds a tagged error from a format string.
func Errorf(reason Reason, format string, args ...any) error {
	return &Error{Reason: reason, Err: fmt.Errorf(format, args...)}
}

// Classify maps err to a Reason. Tagged errors keep their tag; context
// and net errors are recognised; anything else counts as a network
// failure, which is how an untyped transport error usually presents.
func Classify(err error) Reason {
	if err == nil {
		return None
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Reason
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	if errors.Is(err, context.Canceled) {
		return Canceled
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return Timeout
	}
	return Network
}
