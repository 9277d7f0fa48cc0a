package callkit

import (
	"errors"
	"strconv"
	"time"
)

// MetricsCollector derives the tag set of a finished call and forwards it to a recorder. One
// collector is created per declared endpoint; it carries the route template so that the "uri"
// tag stays low-cardinality however many resources are requested.
type MetricsCollector struct {
	baseURL  string
	route    string
	recorder MetricsRecorder
}

// NewMetricsCollector creates a collector for the endpoint declared with route on baseURL.
func NewMetricsCollector(baseURL, route string, recorder MetricsRecorder) *MetricsCollector {
	return &MetricsCollector{baseURL: baseURL, route: route, recorder: recorder}
}

// OnCompletion records a call that produced a response with the given status code.
func (c *MetricsCollector) OnCompletion(d time.Duration, req RequestDescriptor, statusCode int, async bool) {
	c.record(TagSet{
		{TagBaseURL, c.baseURL},
		{TagURI, c.route},
		{TagMethod, req.Method},
		{TagAsync, strconv.FormatBool(async)},
		{TagSeries, SeriesOf(statusCode).String()},
		{TagStatus, strconv.Itoa(statusCode)},
		{TagException, "None"},
	}, d)
}

// OnException records a call that failed without a response.
func (c *MetricsCollector) OnException(d time.Duration, req RequestDescriptor, err error, async bool) {
	c.record(TagSet{
		{TagBaseURL, c.baseURL},
		{TagURI, c.route},
		{TagMethod, req.Method},
		{TagAsync, strconv.FormatBool(async)},
		{TagSeries, SeriesException.String()},
		{TagStatus, "Exception"},
		{TagException, ErrorKind(err)},
	}, d)
}

// observe records the outcome of one measured execution. Misuse of a Call is not a network
// outcome and is not recorded.
func (c *MetricsCollector) observe(d time.Duration, req RequestDescriptor, resp *Response, err error, async bool) {
	switch {
	case errors.Is(err, ErrAlreadyExecuted):
	case err != nil:
		c.OnException(d, req, err, async)
	default:
		c.OnCompletion(d, req, resp.StatusCode(), async)
	}
}

func (c *MetricsCollector) record(tags TagSet, d time.Duration) {
	if c.recorder == nil {
		return
	}
	safeRecord(c.recorder, tags, d)
}
