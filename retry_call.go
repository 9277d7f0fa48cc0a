package callkit

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
)

// retryingCall re-dispatches clones of its delegate under the control of a RetryPolicy. One
// instance is one logical call: all internal attempts share one RetryContext, and Clone starts a
// new logical call with a fresh one.
type retryingCall struct {
	delegate Call // template for attempts; used as is for the first one
	policy   *RetryPolicy
	eligible RequestPredicate

	executed atomic.Bool
	canceled atomic.Bool
	done     chan struct{} // closed on Cancel, interrupts backoff waits
	stop     sync.Once

	mu      sync.Mutex
	current Call // attempt in flight
}

// newRetryingCall wraps delegate. A nil eligibility predicate means GETOnly.
func newRetryingCall(delegate Call, policy *RetryPolicy, eligible RequestPredicate) *retryingCall {
	if eligible == nil {
		eligible = GETOnly
	}
	return &retryingCall{
		delegate: delegate,
		policy:   policy,
		eligible: eligible,
		done:     make(chan struct{}),
	}
}

// Execute runs attempts until the policy accepts an outcome or gives up, blocking for the whole
// sequence including the waits in between.
func (c *retryingCall) Execute() (*Response, error) {
	if !c.executed.CompareAndSwap(false, true) {
		return nil, ErrAlreadyExecuted
	}
	attempt := c.delegate
	if !c.track(attempt) {
		return nil, ErrCanceled
	}
	if !c.eligible(c.delegate.Request()) {
		resp, err := attempt.Execute()
		c.settle()
		return resp, err
	}

	rc := c.policy.NewContext()
	for {
		resp, err := attempt.Execute()
		c.settle()
		var wait time.Duration
		if err != nil {
			w, perr := rc.OnError(err)
			if perr != nil {
				return nil, unwrapFailure(perr)
			}
			wait = w
		} else {
			w, retry := rc.OnResult(resp)
			if !retry {
				return resp, nil
			}
			wait = w
		}

		// a call canceled after its attempt completed keeps that outcome
		next := c.delegate.Clone()
		if !c.pause(wait) || !c.track(next) {
			return resp, err
		}
		resp.discard()
		attempt = next
	}
}

// Enqueue dispatches the first attempt. Each further attempt is dispatched from the completion
// callback of the previous one, so the caller's callback fires once, with the final outcome.
func (c *retryingCall) Enqueue(cb Callback) {
	if !c.executed.CompareAndSwap(false, true) {
		cb.OnFailure(c, ErrAlreadyExecuted)
		return
	}
	if !c.track(c.delegate) {
		cb.OnFailure(c, ErrCanceled)
		return
	}
	if !c.eligible(c.delegate.Request()) {
		c.delegate.Enqueue(&forwardingCallback{call: c, callback: cb})
		return
	}

	c.delegate.Enqueue(&retryCallback{call: c, rc: c.policy.NewContext(), callback: cb})
}

// Cancel cancels the attempt in flight and prevents any further attempt. A completed attempt is
// left alone so that its response stays readable.
func (c *retryingCall) Cancel() {
	c.canceled.Store(true)
	c.stop.Do(func() { close(c.done) })

	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()
	if cur != nil {
		cur.Cancel()
	}
}

func (c *retryingCall) IsExecuted() bool { return c.executed.Load() }
func (c *retryingCall) IsCanceled() bool { return c.canceled.Load() }

// Clone starts a new logical call: the attempt counter does not carry over.
func (c *retryingCall) Clone() Call {
	return newRetryingCall(c.delegate.Clone(), c.policy, c.eligible)
}

func (c *retryingCall) Request() RequestDescriptor { return c.delegate.Request() }

// track records attempt as the one in flight. It reports false if the call was canceled, in
// which case the attempt must not run.
func (c *retryingCall) track(attempt Call) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = attempt
	return !c.canceled.Load()
}

// settle marks the attempt in flight as completed.
func (c *retryingCall) settle() {
	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
}

// pause waits before the next attempt. It reports false if the call was canceled before or
// during the wait.
func (c *retryingCall) pause(wait time.Duration) bool {
	if c.canceled.Load() {
		return false
	}
	if wait <= 0 {
		return true
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return !c.canceled.Load()
	case <-c.done:
		return false
	}
}

// retryCallback continues the attempt chain of an enqueued logical call.
type retryCallback struct {
	call     *retryingCall
	rc       *RetryContext
	callback Callback
}

func (r *retryCallback) OnResponse(_ Call, resp *Response) {
	r.call.settle()
	wait, retry := r.rc.OnResult(resp)
	if !retry {
		r.callback.OnResponse(r.call, resp)
		return
	}
	r.next(wait, resp, nil)
}

func (r *retryCallback) OnFailure(_ Call, err error) {
	r.call.settle()
	wait, perr := r.rc.OnError(err)
	if perr != nil {
		r.callback.OnFailure(r.call, unwrapFailure(perr))
		return
	}
	r.next(wait, nil, err)
}

// next waits and dispatches a fresh attempt, or delivers the outcome at hand if the call was
// canceled meanwhile. The context mutations above happen before the transport hands the attempt
// to another goroutine.
func (r *retryCallback) next(wait time.Duration, resp *Response, err error) {
	attempt := r.call.delegate.Clone()
	if !r.call.pause(wait) || !r.call.track(attempt) {
		log.Debug().Str("call_id", r.rc.ID().String()).Int("attempts", r.rc.Attempts()).
			Msg("call canceled before retry")
		if err != nil {
			r.callback.OnFailure(r.call, err)
		} else {
			r.callback.OnResponse(r.call, resp)
		}
		return
	}
	resp.discard()
	attempt.Enqueue(r)
}

// forwardingCallback reports the outer call to the caller instead of the inner attempt.
type forwardingCallback struct {
	call     *retryingCall
	callback Callback
}

func (f *forwardingCallback) OnResponse(_ Call, resp *Response) {
	f.call.settle()
	f.callback.OnResponse(f.call, resp)
}

func (f *forwardingCallback) OnFailure(_ Call, err error) {
	f.call.settle()
	f.callback.OnFailure(f.call, err)
}
