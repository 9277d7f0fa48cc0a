package callkit

import (
	"time"

	"go.uber.org/atomic"
)

// measuredCall wraps a Call and records the duration and outcome of its execution. When it
// wraps a retrying call it measures the logical call end to end, once.
type measuredCall struct {
	delegate  Call
	collector *MetricsCollector
}

// newMeasuredCall wraps delegate so that its executions are recorded through collector.
func newMeasuredCall(delegate Call, collector *MetricsCollector) *measuredCall {
	return &measuredCall{delegate: delegate, collector: collector}
}

// Execute runs the delegate and records the outcome with async=false.
func (c *measuredCall) Execute() (*Response, error) {
	start := time.Now()
	req := c.delegate.Request()

	resp, err := c.delegate.Execute()
	c.collector.observe(time.Since(start), req, resp, err, false)

	return resp, err
}

// Enqueue starts the timer immediately and records the outcome with async=true right before the
// caller's callback runs.
func (c *measuredCall) Enqueue(cb Callback) {
	c.delegate.Enqueue(&measuredCallback{
		call:      c,
		callback:  cb,
		collector: c.collector,
		req:       c.delegate.Request(),
		start:     time.Now(),
	})
}

func (c *measuredCall) Cancel()          { c.delegate.Cancel() }
func (c *measuredCall) IsExecuted() bool { return c.delegate.IsExecuted() }
func (c *measuredCall) IsCanceled() bool { return c.delegate.IsCanceled() }

// Clone returns a measured clone of the delegate. The clone is timed from its own dispatch.
func (c *measuredCall) Clone() Call {
	return newMeasuredCall(c.delegate.Clone(), c.collector)
}

func (c *measuredCall) Request() RequestDescriptor { return c.delegate.Request() }

// measuredCallback records exactly one measurement before forwarding to the caller's callback.
type measuredCallback struct {
	call      Call
	callback  Callback
	collector *MetricsCollector
	req       RequestDescriptor
	start     time.Time

	fired atomic.Bool
}

func (m *measuredCallback) OnResponse(_ Call, resp *Response) {
	if m.fired.CompareAndSwap(false, true) {
		m.collector.observe(time.Since(m.start), m.req, resp, nil, true)
	}
	m.callback.OnResponse(m.call, resp)
}

func (m *measuredCallback) OnFailure(_ Call, err error) {
	if m.fired.CompareAndSwap(false, true) {
		m.collector.observe(time.Since(m.start), m.req, nil, err, true)
	}
	m.callback.OnFailure(m.call, err)
}
