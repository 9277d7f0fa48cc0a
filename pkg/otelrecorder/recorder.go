// Package otelrecorder records call measurements on an OpenTelemetry histogram.
package otelrecorder

import (
	"context"
	"time"

	"github.com/jkbrsn/callkit"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Recorder records call durations, in seconds, with one attribute per tag.
type Recorder struct {
	hist metric.Float64Histogram
}

// New creates the histogram on meter. An empty name means callkit.DefaultMetricKey.
func New(meter metric.Meter, name string) (*Recorder, error) {
	if name == "" {
		name = callkit.DefaultMetricKey
	}
	hist, err := meter.Float64Histogram(name,
		metric.WithUnit("s"),
		metric.WithDescription("Duration of outgoing HTTP calls."),
	)
	if err != nil {
		return nil, err
	}
	return &Recorder{hist: hist}, nil
}

// Record records d with the tags as attributes.
func (r *Recorder) Record(tags callkit.TagSet, d time.Duration) {
	attrs := make([]attribute.KeyValue, len(tags))
	for i, t := range tags {
		attrs[i] = attribute.String(t.Key, t.Value)
	}
	r.hist.Record(context.Background(), d.Seconds(), metric.WithAttributes(attrs...))
}
