package callkit

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestTimedReadCloser_EOFTriggersDone(t *testing.T) {
	var called atomic.Int32
	trc := &timedReadCloser{
		rc:     io.NopCloser(bytes.NewBufferString("hello")),
		doneFn: func() { called.Inc() },
	}

	n, err := trc.Read(make([]byte, 5))
	require.Equal(t, 5, n)
	require.NoError(t, err)

	n, err = trc.Read(make([]byte, 1))
	require.Zero(t, n)
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, int32(1), called.Load(), "done reported once")

	require.NoError(t, trc.Close())
	require.Equal(t, int32(1), called.Load(), "done reported once")
}

func TestTimedReadCloser_CloseTriggersDone(t *testing.T) {
	var called atomic.Int32
	trc := &timedReadCloser{
		rc:     io.NopCloser(bytes.NewBufferString("data")),
		doneFn: func() { called.Inc() },
	}

	require.NoError(t, trc.Close())
	require.NoError(t, trc.Close())
	require.Equal(t, int32(1), called.Load(), "done reported once")
}

func TestTimesFromTimestamps(t *testing.T) {
	start := time.Now()
	ts := requestTimestamps{
		start:     start,
		dnsStart:  start.Add(1 * time.Millisecond),
		dnsDone:   start.Add(4 * time.Millisecond),
		connStart: start.Add(4 * time.Millisecond),
		connDone:  start.Add(7 * time.Millisecond),
		tlsStart:  start.Add(7 * time.Millisecond),
		tlsDone:   start.Add(10 * time.Millisecond),
		wroteDone: start.Add(12 * time.Millisecond),
		firstByte: start.Add(18 * time.Millisecond),
		dataDone:  start.Add(28 * time.Millisecond),
	}

	req := timesFromTimestamps(ts)

	require.Equal(t, start, req.SentAt)
	require.Equal(t, ts.firstByte, req.ReceivedAt)
	require.Equal(t, 18*time.Millisecond, req.Latency)
	require.Equal(t, 3*time.Millisecond, *req.DNSLookup)
	require.Equal(t, 3*time.Millisecond, *req.TCPConnect)
	require.Equal(t, 3*time.Millisecond, *req.TLSHandshake)
	require.Equal(t, 6*time.Millisecond, *req.ServerProcessing)
	require.Equal(t, 10*time.Millisecond, *req.DataTransfer)
	require.Equal(t, 28*time.Millisecond, *req.RequestTimeTotal)
}

func TestTimesFromTimestampsPartial(t *testing.T) {
	start := time.Now()
	req := timesFromTimestamps(requestTimestamps{start: start, firstByte: start.Add(time.Millisecond)})

	require.Equal(t, time.Millisecond, req.Latency)
	require.Nil(t, req.DNSLookup)
	require.Nil(t, req.TLSHandshake)
	require.Nil(t, req.DataTransfer)
	require.Nil(t, req.RequestTimeTotal)
}

func TestTraceTimesSnapshot(t *testing.T) {
	tt := &traceTimes{}
	trace := tt.clientTrace()
	trace.GetConn("example.com:80")
	trace.GotFirstResponseByte()

	snap := tt.Snapshot()
	require.False(t, snap.start.IsZero())
	require.False(t, snap.firstByte.IsZero())
	require.True(t, snap.dnsStart.IsZero())
}
