package callkit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeriesOf(t *testing.T) {
	testCases := []struct {
		code int
		want Series
		name string
	}{
		{100, SeriesInformational, "INFORMATIONAL"},
		{200, SeriesSuccessful, "SUCCESSFUL"},
		{204, SeriesSuccessful, "SUCCESSFUL"},
		{301, SeriesRedirection, "REDIRECTION"},
		{404, SeriesClientError, "CLIENT_ERROR"},
		{500, SeriesServerError, "SERVER_ERROR"},
		{599, SeriesServerError, "SERVER_ERROR"},
		{650, SeriesUnknown, "UNKNOWN"},
		{99, SeriesUnknown, "UNKNOWN"},
		{0, SeriesUnknown, "UNKNOWN"},
		{-1, SeriesUnknown, "UNKNOWN"},
	}

	for _, tc := range testCases {
		got := SeriesOf(tc.code)
		assert.Equal(t, tc.want, got, "code %d", tc.code)
		assert.Equal(t, tc.name, got.String(), "code %d", tc.code)
	}
}

func TestSeriesString(t *testing.T) {
	assert.Equal(t, "EXCEPTION", SeriesException.String())
	assert.Equal(t, "UNKNOWN", Series(42).String())
}

func TestTagSet(t *testing.T) {
	tags := TagSet{
		{TagBaseURL, "http://example.com"},
		{TagMethod, "GET"},
		{TagStatus, "200"},
	}

	assert.Equal(t, "GET", tags.Get(TagMethod))
	assert.Empty(t, tags.Get(TagException))
	assert.Equal(t, []string{"http://example.com", "GET", "200"}, tags.Values())
	assert.Equal(t, map[string]string{
		TagBaseURL: "http://example.com",
		TagMethod:  "GET",
		TagStatus:  "200",
	}, tags.Map())
	assert.Equal(t, []string{"base_url:http://example.com", "method:GET", "status:200"},
		tags.Strings(":"))
	assert.Equal(t, "{base_url=http://example.com, method=GET, status=200}", tags.String())
}
