package callkit

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
)

func TestMain(m *testing.M) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.InfoLevel)
	os.Exit(m.Run())
}

//
// Mocks
//

var errBoom = errors.New("boom")

// outcome is one scripted result of a mock attempt: a status code or an error.
type outcome struct {
	status int
	err    error
	delay  time.Duration
}

// script hands out outcomes to the attempts of a mock call in order. It is shared by a mock call
// and all of its clones, so it counts the dispatches of a logical call.
type script struct {
	mu         sync.Mutex
	outcomes   []outcome
	dispatches int
	onDispatch func(n int) // called after each dispatch with its 1-based index
}

func newScript(outcomes ...outcome) *script {
	return &script{outcomes: outcomes}
}

func (s *script) next() outcome {
	s.mu.Lock()
	idx := s.dispatches
	s.dispatches++
	hook := s.onDispatch
	s.mu.Unlock()

	if hook != nil {
		hook(idx + 1)
	}
	if idx >= len(s.outcomes) {
		return s.outcomes[len(s.outcomes)-1]
	}
	return s.outcomes[idx]
}

func (s *script) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dispatches
}

// MockCall is a transport stand-in that answers from a script.
type MockCall struct {
	script *script
	desc   RequestDescriptor

	executed atomic.Bool
	canceled atomic.Bool
}

func newMockCall(method, route string, s *script) *MockCall {
	u, _ := url.Parse("http://example.com/" + route)
	return &MockCall{
		script: s,
		desc: RequestDescriptor{
			Method:  method,
			URL:     u,
			BaseURL: "http://example.com",
			Route:   route,
			Header:  make(http.Header),
		},
	}
}

func (c *MockCall) run() (*Response, error) {
	if c.canceled.Load() {
		return nil, ErrCanceled
	}
	o := c.script.next()
	if o.delay > 0 {
		time.Sleep(o.delay)
	}
	if o.err != nil {
		return nil, o.err
	}
	return NewResponse(&http.Response{
		StatusCode: o.status,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(http.StatusText(o.status))),
	}), nil
}

func (c *MockCall) Execute() (*Response, error) {
	if !c.executed.CompareAndSwap(false, true) {
		return nil, ErrAlreadyExecuted
	}
	return c.run()
}

func (c *MockCall) Enqueue(cb Callback) {
	if !c.executed.CompareAndSwap(false, true) {
		cb.OnFailure(c, ErrAlreadyExecuted)
		return
	}
	go func() {
		resp, err := c.run()
		if err != nil {
			cb.OnFailure(c, err)
			return
		}
		cb.OnResponse(c, resp)
	}()
}

func (c *MockCall) Cancel()                    { c.canceled.Store(true) }
func (c *MockCall) IsExecuted() bool           { return c.executed.Load() }
func (c *MockCall) IsCanceled() bool           { return c.canceled.Load() }
func (c *MockCall) Clone() Call                { return &MockCall{script: c.script, desc: c.desc} }
func (c *MockCall) Request() RequestDescriptor { return c.desc.clone() }

// measurement is one recorded metric.
type measurement struct {
	tags TagSet
	d    time.Duration
}

// MockRecorder keeps every measurement in memory.
type MockRecorder struct {
	mu           sync.Mutex
	measurements []measurement
}

func (r *MockRecorder) Record(tags TagSet, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.measurements = append(r.measurements, measurement{tags: tags, d: d})
}

func (r *MockRecorder) all() []measurement {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]measurement(nil), r.measurements...)
}

// result collects the outcome delivered to a callback.
type result struct {
	call Call
	resp *Response
	err  error
}

// collectingCallback forwards every delivery on a channel and counts them.
type collectingCallback struct {
	results chan result
	fired   atomic.Int32
}

func newCollectingCallback() *collectingCallback {
	return &collectingCallback{results: make(chan result, 8)}
}

func (c *collectingCallback) OnResponse(call Call, resp *Response) {
	c.fired.Inc()
	c.results <- result{call: call, resp: resp}
}

func (c *collectingCallback) OnFailure(call Call, err error) {
	c.fired.Inc()
	c.results <- result{call: call, err: err}
}

func (c *collectingCallback) wait(t *testing.T) result {
	t.Helper()
	select {
	case r := <-c.results:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("callback not invoked")
		return result{}
	}
}

// fastRetry is a policy without waits, for tests that count attempts.
func fastRetry(opts ...RetryPolicyOption) *RetryPolicy {
	return NewRetryPolicy(append([]RetryPolicyOption{WithWaitDuration(0)}, opts...)...)
}

// echoHandler echoes the request body and content type, with the status from the "status"
// query parameter if given.
func echoHandler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	if ct := r.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("X-Method", r.Method)
	if code, err := strconv.Atoi(r.URL.Query().Get("status")); err == nil {
		w.WriteHeader(code)
	}
	_, _ = w.Write(body)
}
