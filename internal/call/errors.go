package call

import (
	"errors"
	"fmt"
)

var (
	ErrMediaAccess            = errors.New("local media unavailable")
	ErrInsecureContext        = errors.New("calls require a secure relay connection")
	ErrNegotiation            = errors.New("negotiation failed")
	ErrConnectionFailure      = errors.New("peer connection failed")
	ErrScreenShareUnavailable = errors.New("screen sharing unavailable")
	ErrSignaling              = errors.New("signaling failed")
)

// Error ties a sentinel to the operation that produced it.
type Error struct {
	Op      string
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

// WrapError classifies cause under sentinel, keeping its text as details.
func WrapError(op string, sentinel error, cause error) *Error {
	e := &Error{Op: op, Err: sentinel}
	if cause != nil {
		e.Details = cause.Error()
	}
	return e
}
