package callkit

import (
	"errors"
	"net/http"
	"net/url"
)

var (
	// ErrAlreadyExecuted is returned when a Call instance is executed or enqueued a second time.
	// Use Clone to obtain a fresh instance for the same request.
	ErrAlreadyExecuted = errors.New("call already executed")
	// ErrCanceled is returned when a Call was canceled before or while it was executing.
	ErrCanceled = errors.New("call canceled")
)

// Call is one logical network call that can be executed at most once. Decorators implement Call
// and hold the next layer, so callers cannot tell whether decoration occurred.
type Call interface {
	// Execute sends the request and blocks until the response or an error is available.
	Execute() (*Response, error)

	// Enqueue sends the request without blocking. Exactly one of the callback's methods is
	// invoked exactly once, on whatever goroutine the transport's dispatcher uses.
	Enqueue(cb Callback)

	// Cancel cancels the call. A call that has not started yet fails once executed.
	Cancel()

	// IsExecuted reports whether Execute or Enqueue has been invoked on this instance.
	IsExecuted() bool

	// IsCanceled reports whether Cancel has been invoked on this instance.
	IsCanceled() bool

	// Clone returns a new, unexecuted Call for the same request. It never fails.
	Clone() Call

	// Request returns a read-only view of the outgoing request.
	Request() RequestDescriptor
}

// Callback receives the result of an enqueued Call.
type Callback interface {
	// OnResponse is invoked when a response was received, whatever its status code.
	OnResponse(call Call, resp *Response)
	// OnFailure is invoked when no response could be obtained.
	OnFailure(call Call, err error)
}

// CallbackFuncs adapts a pair of functions to the Callback interface. Nil functions are skipped.
type CallbackFuncs struct {
	Response func(call Call, resp *Response)
	Failure  func(call Call, err error)
}

// OnResponse calls f.Response if set.
func (f CallbackFuncs) OnResponse(call Call, resp *Response) {
	if f.Response != nil {
		f.Response(call, resp)
	}
}

// OnFailure calls f.Failure if set.
func (f CallbackFuncs) OnFailure(call Call, err error) {
	if f.Failure != nil {
		f.Failure(call, err)
	}
}

// RequestDescriptor is an immutable view of an outgoing request.
type RequestDescriptor struct {
	// Method is the HTTP verb, custom verbs included.
	Method string
	// URL is the fully resolved request URL.
	URL *url.URL
	// BaseURL is the base URL of the client that produced the call.
	BaseURL string
	// Route is the declared, unresolved route template, e.g. "api/users/{userId}/foo".
	Route string
	// Header holds the request headers.
	Header http.Header
}

// clone returns a deep copy so that callers cannot mutate the descriptor held by a Call.
func (d RequestDescriptor) clone() RequestDescriptor {
	out := d
	if d.URL != nil {
		u := *d.URL
		out.URL = &u
	}
	out.Header = d.Header.Clone()
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	return out
}
