package source

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/ppiankov/patfam/internal/model"
)

// ErrorKind classifies a source failure
type ErrorKind string

const (
	Transient ErrorKind = "transient" // Worth retrying
	Permanent ErrorKind = "permanent" // The source has no data for the request
	Malformed ErrorKind = "malformed" // The source answered with something undecodable
)

// Error is the failure type every adapter returns
type Error struct {
	Kind   ErrorKind
	Source string
	Op     string
	Status int // HTTP status when the failure is an unexpected response
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Source, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// FailureKind maps the error kind onto the diagnostics taxonomy
func (e *Error) FailureKind() model.FailureKind {
	switch e.Kind {
	case Transient:
		return model.FailureTransient
	case Malformed:
		return model.FailureMalformed
	default:
		return model.FailurePermanent
	}
}

// NewError wraps err with a kind
func NewError(kind ErrorKind, source, op string, err error) *Error {
	return &Error{Kind: kind, Source: source, Op: op, Err: err}
}

// StatusError builds the error for an unexpected HTTP status
func StatusError(source, op string, status int) *Error {
	err := fmt.Errorf("unexpected status: %d %s", status, http.StatusText(status))
	e := NewError(ClassifyStatus(status), source, op, err)
	e.Status = status
	return e
}

// ClassifyStatus maps an HTTP status onto an error kind
func ClassifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return Transient
	default:
		return Permanent
	}
}

// TransportError classifies a failure to complete an HTTP exchange
func TransportError(source, op string, err error) *Error {
	return NewError(Transient, source, op, err)
}

// KindOf returns the kind of err. Errors that are not *Error are Transient
// when they are timeouts or cancellations and Permanent otherwise.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Transient
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return Transient
	}
	return Permanent
}

// StatusOf returns the HTTP status carried by err, or 0
func StatusOf(err error) int {
	var se *Error
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

// IsRetryable reports whether err is worth another attempt
func IsRetryable(err error) bool {
	return KindOf(err) == Transient
}

// AsFailureKind returns the diagnostics kind for any error
func AsFailureKind(err error) model.FailureKind {
	var se *Error
	if errors.As(err, &se) {
		return se.FailureKind()
	}
	return (&Error{Kind: KindOf(err)}).FailureKind()
}
