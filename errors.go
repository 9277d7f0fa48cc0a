package callkit

import (
	"context"
	"errors"
	"net"
	"net/url"
	"reflect"
)

// FailureKind classifies a failed attempt for the retry policy.
type FailureKind uint8

const (
	// FailureTransport is a network or protocol error from the transport.
	FailureTransport FailureKind = iota
	// FailureTimeout is a transport error caused by a deadline or timeout.
	FailureTimeout
	// FailureCanceled means the call was canceled. Never retried.
	FailureCanceled
	// FailureMisuse means the Call was used incorrectly, e.g. executed twice. Never retried.
	FailureMisuse
	// FailureRejected means the dispatcher refused the attempt. Never retried.
	FailureRejected
)

// String returns the name of the kind.
func (k FailureKind) String() string {
	switch k {
	case FailureTransport:
		return "transport"
	case FailureTimeout:
		return "timeout"
	case FailureCanceled:
		return "canceled"
	case FailureMisuse:
		return "misuse"
	case FailureRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// attemptFailure is the error domain the retry policy works on. Every transport failure is
// adapted into one before the policy sees it, and unwrapped before it reaches a caller.
type attemptFailure struct {
	Kind FailureKind
	Err  error
}

func (f *attemptFailure) Error() string {
	return f.Kind.String() + " failure: " + f.Err.Error()
}

func (f *attemptFailure) Unwrap() error { return f.Err }

// retryable reports whether the policy may be consulted at all for this failure.
func (f *attemptFailure) retryable() bool {
	return f.Kind == FailureTransport || f.Kind == FailureTimeout
}

// adaptFailure classifies err into the policy's error domain. An error that is already an
// attemptFailure is returned as is.
func adaptFailure(err error) *attemptFailure {
	var af *attemptFailure
	if errors.As(err, &af) {
		return af
	}
	return &attemptFailure{Kind: classifyFailure(err), Err: err}
}

// unwrapFailure returns the error the transport originally produced.
func unwrapFailure(err error) error {
	var af *attemptFailure
	for errors.As(err, &af) {
		err = af.Err
	}
	return err
}

func classifyFailure(err error) FailureKind {
	switch {
	case errors.Is(err, ErrAlreadyExecuted):
		return FailureMisuse
	case errors.Is(err, ErrDispatcherStopped):
		return FailureRejected
	case errors.Is(err, ErrCanceled), errors.Is(err, context.Canceled):
		return FailureCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	return FailureTransport
}

// Kinder lets an error choose the name reported in the "exception" metric tag.
type Kinder interface {
	Kind() string
}

// ErrorKind returns a short, low-cardinality name for err, used as the "exception" metric tag.
// Well-known failures map to fixed names; other errors use their Go type name.
func ErrorKind(err error) string {
	if err == nil {
		return "None"
	}
	var k Kinder
	if errors.As(err, &k) {
		return k.Kind()
	}
	switch classifyFailure(err) {
	case FailureMisuse:
		return "AlreadyExecuted"
	case FailureRejected:
		return "Rejected"
	case FailureCanceled:
		return "Canceled"
	case FailureTimeout:
		return "Timeout"
	}

	// url.Error only says which operation failed, the cause is more telling
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Err != nil {
		err = uerr.Err
	}
	return typeName(err)
}

func typeName(err error) string {
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.PkgPath() {
	case "errors", "fmt":
		return "Error"
	}
	if t.Name() == "" {
		return "Error"
	}
	return t.Name()
}
