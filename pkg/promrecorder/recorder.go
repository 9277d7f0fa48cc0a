// Package promrecorder records call measurements as a Prometheus histogram, labeled with the
// callkit tag schema.
package promrecorder

import (
	"errors"
	"strings"
	"time"

	"github.com/jkbrsn/callkit"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultName is the histogram name derived from callkit.DefaultMetricKey.
var DefaultName = metricName(callkit.DefaultMetricKey)

// Recorder observes call durations, in seconds, on a HistogramVec.
type Recorder struct {
	hist *prometheus.HistogramVec
}

type options struct {
	name    string
	help    string
	buckets []float64
}

// Option configures a Recorder.
type Option func(*options)

// WithName sets the histogram name. Dots are replaced by underscores.
func WithName(name string) Option {
	return func(o *options) { o.name = metricName(name) }
}

// WithBuckets sets the histogram buckets, in seconds.
func WithBuckets(buckets []float64) Option {
	return func(o *options) { o.buckets = buckets }
}

// New creates a Recorder registered with reg. If an identical histogram is already registered,
// it is reused.
func New(reg prometheus.Registerer, opts ...Option) (*Recorder, error) {
	o := &options{
		name:    DefaultName,
		help:    "Duration of outgoing HTTP calls.",
		buckets: prometheus.DefBuckets,
	}
	for _, opt := range opts {
		opt(o)
	}

	hist := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    o.name,
		Help:    o.help,
		Buckets: o.buckets,
	}, callkit.TagKeys)

	if err := reg.Register(hist); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
		existing, ok := are.ExistingCollector.(*prometheus.HistogramVec)
		if !ok {
			return nil, err
		}
		hist = existing
	}
	return &Recorder{hist: hist}, nil
}

// Record observes d under the label values of tags. Tags missing from the set are left empty.
func (r *Recorder) Record(tags callkit.TagSet, d time.Duration) {
	values := make([]string, len(callkit.TagKeys))
	for i, key := range callkit.TagKeys {
		values[i] = tags.Get(key)
	}
	r.hist.WithLabelValues(values...).Observe(d.Seconds())
}

// Describe implements prometheus.Collector.
func (r *Recorder) Describe(ch chan<- *prometheus.Desc) { r.hist.Describe(ch) }

// Collect implements prometheus.Collector.
func (r *Recorder) Collect(ch chan<- prometheus.Metric) { r.hist.Collect(ch) }

func metricName(key string) string {
	name := strings.NewReplacer(".", "_", "-", "_").Replace(key)
	if !strings.HasSuffix(name, "_seconds") {
		name += "_seconds"
	}
	return name
}
