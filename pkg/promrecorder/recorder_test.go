package promrecorder

import (
	"testing"
	"time"

	"github.com/jkbrsn/callkit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tags(status string) callkit.TagSet {
	return callkit.TagSet{
		{Key: callkit.TagBaseURL, Value: "http://example.com"},
		{Key: callkit.TagURI, Value: "api/users/{userId}"},
		{Key: callkit.TagMethod, Value: "GET"},
		{Key: callkit.TagAsync, Value: "false"},
		{Key: callkit.TagSeries, Value: "SUCCESSFUL"},
		{Key: callkit.TagStatus, Value: status},
		{Key: callkit.TagException, Value: "None"},
	}
}

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := New(reg)
	require.NoError(t, err)

	rec.Record(tags("200"), 20*time.Millisecond)
	rec.Record(tags("200"), 30*time.Millisecond)
	rec.Record(tags("404"), 10*time.Millisecond)

	count, err := testutil.GatherAndCount(reg, "http_client_requests_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one series per status")
	assert.Equal(t, 2, testutil.CollectAndCount(rec))
}

func TestRecorder_PartialTags(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := New(reg, WithName("custom.calls"), WithBuckets([]float64{0.1, 1}))
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		rec.Record(callkit.TagSet{{Key: callkit.TagMethod, Value: "GET"}}, time.Second)
	})
	count, err := testutil.GatherAndCount(reg, "custom_calls_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNew_AlreadyRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := New(reg)
	require.NoError(t, err)
	second, err := New(reg)
	require.NoError(t, err)

	first.Record(tags("200"), time.Millisecond)
	second.Record(tags("200"), time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(first))
}

func TestMetricName(t *testing.T) {
	assert.Equal(t, "http_client_requests_seconds", DefaultName)
	assert.Equal(t, "calls_seconds", metricName("calls_seconds"))
	assert.Equal(t, "my_app_calls_seconds", metricName("my-app.calls"))
}
