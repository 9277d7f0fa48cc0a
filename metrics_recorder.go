package callkit

import (
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultMetricKey is the metric name used by the bundled recorders unless overridden.
const DefaultMetricKey = "http.client.requests"

// MetricsRecorder is a pluggable sink for call measurements. Implementations must be safe for
// concurrent use and should be fast; they are invoked on the goroutine that completed the call.
// A recorder cannot affect the outcome of a call: panics are recovered and logged.
type MetricsRecorder interface {
	Record(tags TagSet, d time.Duration)
}

// RecorderFunc adapts a function to the MetricsRecorder interface.
type RecorderFunc func(tags TagSet, d time.Duration)

// Record calls f.
func (f RecorderFunc) Record(tags TagSet, d time.Duration) { f(tags, d) }

// MultiRecorder fans out every measurement to several recorders. A failing recorder does not
// keep the others from receiving the measurement.
type MultiRecorder []MetricsRecorder

// Record forwards to each non-nil recorder.
func (m MultiRecorder) Record(tags TagSet, d time.Duration) {
	for _, r := range m {
		if r != nil {
			safeRecord(r, tags, d)
		}
	}
}

// LogRecorder logs every measurement. Useful during development and as a fallback sink.
type LogRecorder struct {
	// Key is the metric name in the log line, DefaultMetricKey when empty.
	Key string
}

// Record logs the measurement.
func (l LogRecorder) Record(tags TagSet, d time.Duration) {
	key := l.Key
	if key == "" {
		key = DefaultMetricKey
	}
	event := log.Info().Str("metric", key)
	for _, t := range tags {
		event = event.Str(t.Key, t.Value)
	}
	event.Dur("duration", d).Msg("measured call")
}

// safeRecord invokes r, swallowing and logging any panic.
func safeRecord(r MetricsRecorder, tags TagSet, d time.Duration) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Str("tags", tags.String()).Msg("metrics recorder failed")
		}
	}()
	r.Record(tags, d)
}
