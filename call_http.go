package callkit

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"sync"

	"go.uber.org/atomic"
)

// httpCall is the innermost Call: it sends one HTTP request over an *http.Client. The body is
// held as bytes so that clones can replay the request.
type httpCall struct {
	client     *http.Client
	dispatcher Dispatcher
	desc       RequestDescriptor
	body       []byte
	parent     context.Context

	executed atomic.Bool
	canceled atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc // cancels the request in flight
}

func newHTTPCall(
	parent context.Context,
	client *http.Client,
	dispatcher Dispatcher,
	desc RequestDescriptor,
	body []byte,
) *httpCall {
	if parent == nil {
		parent = context.Background()
	}
	if dispatcher == nil {
		dispatcher = GoDispatcher{}
	}
	return &httpCall{
		client:     client,
		dispatcher: dispatcher,
		desc:       desc,
		body:       body,
		parent:     parent,
	}
}

// Execute sends the request and blocks until the response headers arrive or the request fails.
func (c *httpCall) Execute() (*Response, error) {
	if !c.executed.CompareAndSwap(false, true) {
		return nil, ErrAlreadyExecuted
	}
	return c.do()
}

// Enqueue sends the request on the dispatcher. A dispatcher refusal is reported to cb directly.
func (c *httpCall) Enqueue(cb Callback) {
	if !c.executed.CompareAndSwap(false, true) {
		cb.OnFailure(c, ErrAlreadyExecuted)
		return
	}
	err := c.dispatcher.Dispatch(func() {
		resp, err := c.do()
		if err != nil {
			cb.OnFailure(c, err)
			return
		}
		cb.OnResponse(c, resp)
	})
	if err != nil {
		cb.OnFailure(c, err)
	}
}

// Cancel aborts the request in flight. A call not started yet fails with ErrCanceled.
func (c *httpCall) Cancel() {
	c.canceled.Store(true)

	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *httpCall) IsExecuted() bool { return c.executed.Load() }
func (c *httpCall) IsCanceled() bool { return c.canceled.Load() }

// Clone returns an unexecuted call for the same request.
func (c *httpCall) Clone() Call {
	return newHTTPCall(c.parent, c.client, c.dispatcher, c.desc, c.body)
}

func (c *httpCall) Request() RequestDescriptor { return c.desc.clone() }

func (c *httpCall) do() (*Response, error) {
	ctx, cancel := context.WithCancel(c.parent)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	if c.canceled.Load() {
		cancel()
		return nil, ErrCanceled
	}

	times := &traceTimes{}
	remoteAddrChan := make(chan net.Addr, 1)
	trace := times.clientTrace()
	trace.GotConn = func(info httptrace.GotConnInfo) {
		if info.Conn != nil {
			select {
			case remoteAddrChan <- info.Conn.RemoteAddr():
			default: // Non-blocking send, only the first connection counts
			}
		}
	}
	ctx = httptrace.WithClientTrace(ctx, trace)

	request, err := http.NewRequestWithContext(ctx, c.desc.Method, c.desc.URL.String(),
		bytes.NewReader(c.body))
	if err != nil {
		cancel()
		return nil, err
	}
	request.Header = c.desc.Header.Clone()
	if request.Header == nil {
		request.Header = make(http.Header)
	}

	response, err := c.client.Do(request)
	if err != nil {
		cancel()
		if c.canceled.Load() && errors.Is(err, context.Canceled) {
			return nil, ErrCanceled
		}
		return nil, err
	}

	// GotConn fires before Do returns
	var remoteAddr net.Addr
	select {
	case remoteAddr = <-remoteAddrChan:
	default:
	}

	response.Body = &cancelOnClose{ReadCloser: response.Body, cancel: cancel}
	return newResponse(remoteAddr, response, times), nil
}

// cancelOnClose releases the request context once the body is done with.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
