// Package statsdrecorder sends call measurements to a StatsD/DogStatsD agent as timings with
// "key:value" tags.
package statsdrecorder

import (
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/jkbrsn/callkit"
	"github.com/rs/zerolog/log"
)

// Client is the part of the statsd client the recorder uses.
type Client interface {
	Timing(name string, value time.Duration, tags []string, rate float64) error
}

// Recorder sends every measurement as a timing named after its key.
type Recorder struct {
	client Client
	key    string
	rate   float64
	closer func() error
}

// NewWithClient creates a Recorder on an existing client. An empty key means
// callkit.DefaultMetricKey.
func NewWithClient(client Client, key string) *Recorder {
	if key == "" {
		key = callkit.DefaultMetricKey
	}
	return &Recorder{client: client, key: key, rate: 1}
}

// New dials a DogStatsD agent at addr, e.g. "127.0.0.1:8125" or "unix:///var/run/dsd.socket".
func New(addr, key string, opts ...statsd.Option) (*Recorder, error) {
	client, err := statsd.New(addr, opts...)
	if err != nil {
		return nil, err
	}
	r := NewWithClient(client, key)
	r.closer = client.Close
	return r, nil
}

// Record sends the measurement. Send errors are logged; they never reach the call.
func (r *Recorder) Record(tags callkit.TagSet, d time.Duration) {
	if err := r.client.Timing(r.key, d, tags.Strings(":"), r.rate); err != nil {
		log.Error().Err(err).Str("metric", r.key).Msg("statsd timing failed")
	}
}

// Close flushes and closes the client if the Recorder created it.
func (r *Recorder) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}
