package callkit

import (
	"crypto/tls"
	"errors"
	"io"
	"net/http/httptrace"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// requestTimestamps stores the timestamps of a request's phases.
type requestTimestamps struct {
	start     time.Time
	dnsStart  time.Time
	dnsDone   time.Time
	connStart time.Time
	connDone  time.Time
	tlsStart  time.Time
	tlsDone   time.Time
	wroteDone time.Time
	firstByte time.Time
	dataDone  time.Time
}

// traceTimes collects phase timestamps from httptrace hooks, which may fire on transport
// goroutines.
type traceTimes struct {
	start     atomic.Time
	dnsStart  atomic.Time
	dnsDone   atomic.Time
	connStart atomic.Time
	connDone  atomic.Time
	tlsStart  atomic.Time
	tlsDone   atomic.Time
	wroteDone atomic.Time
	firstByte atomic.Time
	dataDone  atomic.Time
}

// Snapshot returns the timestamps recorded so far.
func (t *traceTimes) Snapshot() requestTimestamps {
	return requestTimestamps{
		start:     t.start.Load(),
		dnsStart:  t.dnsStart.Load(),
		dnsDone:   t.dnsDone.Load(),
		connStart: t.connStart.Load(),
		connDone:  t.connDone.Load(),
		tlsStart:  t.tlsStart.Load(),
		tlsDone:   t.tlsDone.Load(),
		wroteDone: t.wroteDone.Load(),
		firstByte: t.firstByte.Load(),
		dataDone:  t.dataDone.Load(),
	}
}

// clientTrace returns hooks that store phase timestamps into t.
func (t *traceTimes) clientTrace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		// GetConn is the earliest hook that always fires
		GetConn:           func(string) { t.start.Store(time.Now()) },
		DNSStart:          func(httptrace.DNSStartInfo) { t.dnsStart.Store(time.Now()) },
		DNSDone:           func(httptrace.DNSDoneInfo) { t.dnsDone.Store(time.Now()) },
		ConnectStart:      func(_, _ string) { t.connStart.Store(time.Now()) },
		ConnectDone:       func(_, _ string, _ error) { t.connDone.Store(time.Now()) },
		TLSHandshakeStart: func() { t.tlsStart.Store(time.Now()) },
		TLSHandshakeDone: func(_ tls.ConnectionState, _ error) {
			t.tlsDone.Store(time.Now())
		},
		WroteRequest:         func(httptrace.WroteRequestInfo) { t.wroteDone.Store(time.Now()) },
		GotFirstResponseByte: func() { t.firstByte.Store(time.Now()) },
	}
}

// RequestTimes is the timing information for one attempt of a call.
type RequestTimes struct {
	// Time when the request was sent
	SentAt time.Time
	// Time when the first byte of the response was received
	ReceivedAt time.Time

	// Latency is the time from request send to the first byte of the response.
	Latency time.Duration

	// Optional durations, nil when not applicable
	RequestTimeTotal *time.Duration // Total time taken for a request, including full data transfer
	DNSLookup        *time.Duration // DNS lookup duration
	TCPConnect       *time.Duration // TCP connection duration
	TLSHandshake     *time.Duration // TLS handshake duration
	ServerProcessing *time.Duration // Server processing duration
	DataTransfer     *time.Duration // Data transfer duration
}

// ptr returns a pointer to the given value.
func ptr[T any](v T) *T { return &v }

// timesFromTimestamps converts raw phase timestamps into RequestTimes. Durations whose start or
// end was never observed stay nil.
func timesFromTimestamps(t requestTimestamps) RequestTimes {
	req := RequestTimes{
		SentAt:     t.start,
		ReceivedAt: t.firstByte,
	}

	if !t.start.IsZero() && !t.firstByte.IsZero() {
		req.Latency = t.firstByte.Sub(t.start)
	}
	req.DNSLookup = span(t.dnsStart, t.dnsDone)
	req.TCPConnect = span(t.connStart, t.connDone)
	req.TLSHandshake = span(t.tlsStart, t.tlsDone)
	req.ServerProcessing = span(t.wroteDone, t.firstByte)
	req.DataTransfer = span(t.firstByte, t.dataDone)
	req.RequestTimeTotal = span(t.start, t.dataDone)

	return req
}

func span(from, to time.Time) *time.Duration {
	if from.IsZero() || to.IsZero() {
		return nil
	}
	return ptr(to.Sub(from))
}

// timedReadCloser wraps a response body and records when the caller finishes reading (EOF) or
// closes the stream.
type timedReadCloser struct {
	rc     io.ReadCloser
	doneFn func() // called exactly once when stream is finished
	once   sync.Once
}

// Read reads from the underlying reader and records when the stream is finished.
func (t *timedReadCloser) Read(p []byte) (int, error) {
	n, err := t.rc.Read(p)
	if errors.Is(err, io.EOF) {
		t.once.Do(t.doneFn)
	}
	return n, err
}

// Close closes the underlying reader and records the time when the stream is finished.
func (t *timedReadCloser) Close() error {
	t.once.Do(t.doneFn)
	return t.rc.Close()
}
