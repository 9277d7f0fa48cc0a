package callkit

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/atomic"
)

// discardLimit bounds how much of a dropped response body is drained to allow connection reuse.
const discardLimit = 4096

// Response is the result of a call that reached the server, whatever its status code. The body
// can be consumed once, either fully via Data or streamed via Reader.
type Response struct {
	resp       *http.Response
	remoteAddr net.Addr
	times      *traceTimes

	once     sync.Once   // ensures Data() is only processed once
	dataOnce atomic.Bool // set once the body was read into memory
	data     []byte
	dataErr  error

	usedReader atomic.Bool // flags if we returned a Reader
}

// NewResponse wraps an *http.Response. It is used by the HTTP transport and by custom Call
// implementations that need to produce a Response.
func NewResponse(r *http.Response) *Response {
	return newResponse(nil, r, &traceTimes{})
}

func newResponse(remoteAddr net.Addr, r *http.Response, times *traceTimes) *Response {
	if times == nil {
		times = &traceTimes{}
	}
	return &Response{resp: r, remoteAddr: remoteAddr, times: times}
}

// StatusCode returns the HTTP status code, or 0 if the response is empty.
func (r *Response) StatusCode() int {
	if r == nil || r.resp == nil {
		return 0
	}
	return r.resp.StatusCode
}

// IsSuccessful reports whether the status code is in the 2xx range.
func (r *Response) IsSuccessful() bool {
	code := r.StatusCode()
	return code >= 200 && code < 300
}

// Header returns a copy of the response headers.
func (r *Response) Header() http.Header {
	if r == nil || r.resp == nil {
		return http.Header{}
	}
	return r.resp.Header.Clone()
}

// RemoteAddr returns the address of the server that answered, when known.
func (r *Response) RemoteAddr() net.Addr {
	return r.remoteAddr
}

// Times returns the timing information of the attempt that produced this response.
func (r *Response) Times() RequestTimes {
	return timesFromTimestamps(r.times.Snapshot())
}

// Raw returns the underlying *http.Response. Reading its body bypasses the Data/Reader rules.
func (r *Response) Raw() *http.Response {
	return r.resp
}

// readBody reads the HTTP response body into memory exactly once and then closes the body.
func (r *Response) readBody() {
	if r.resp == nil || r.resp.Body == nil {
		r.dataErr = errors.New("http.Response.Body is nil")
		return
	}
	defer func() {
		_ = r.resp.Body.Close()
	}()

	body, err := io.ReadAll(r.resp.Body)
	if err != nil {
		r.dataErr = err
		return
	}
	r.data = body
	r.dataOnce.Store(true)
	r.markDataDone()
}

func (r *Response) markDataDone() {
	if r.times.dataDone.Load().IsZero() {
		r.times.dataDone.Store(time.Now())
	}
}

// Data reads the entire body into memory exactly once and then closes it. Further calls return
// the data from memory.
func (r *Response) Data() ([]byte, error) {
	if r.usedReader.Load() {
		return nil, errors.New("cannot call Data() after Reader() was already used")
	}

	r.once.Do(r.readBody)

	return r.data, r.dataErr
}

// Reader returns the body for streaming. If Data() has already been called, an in-memory reader
// is returned instead. The caller is responsible for closing the reader.
func (r *Response) Reader() (io.ReadCloser, error) {
	if r.dataOnce.Load() {
		return io.NopCloser(bytes.NewReader(r.data)), nil
	}
	if !r.usedReader.CompareAndSwap(false, true) {
		return nil, errors.New("reader already called")
	}
	if r.resp == nil || r.resp.Body == nil {
		return nil, errors.New("http.Response.Body is nil")
	}

	return &timedReadCloser{rc: r.resp.Body, doneFn: r.markDataDone}, nil
}

// DecodeJSON reads the body and unmarshals it into v.
func (r *Response) DecodeJSON(v any) error {
	data, err := r.Data()
	if err != nil {
		return err
	}
	if err := sonic.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode response body: %w", err)
	}
	return nil
}

// Close closes the body without reading it.
func (r *Response) Close() error {
	if r.resp == nil || r.resp.Body == nil {
		return nil
	}
	return r.resp.Body.Close()
}

// discard drains a bounded part of the body and closes it, so a response dropped in favor of a
// retry does not leak its connection.
func (r *Response) discard() {
	if r == nil || r.resp == nil || r.resp.Body == nil || r.dataOnce.Load() {
		return
	}
	_, _ = io.CopyN(io.Discard, r.resp.Body, discardLimit)
	_ = r.resp.Body.Close()
}

// String returns a short description of the response.
func (r *Response) String() string {
	return fmt.Sprintf("Response{StatusCode: %d, Latency: %s}", r.StatusCode(), r.Times().Latency)
}
