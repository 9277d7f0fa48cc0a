package callkit

import "strings"

// Tag keys of the metric schema, in emission order.
const (
	TagBaseURL   = "base_url"
	TagURI       = "uri"
	TagMethod    = "method"
	TagAsync     = "async"
	TagSeries    = "series"
	TagStatus    = "status"
	TagException = "exception"
)

// TagKeys lists every tag key in the order they are emitted.
var TagKeys = []string{TagBaseURL, TagURI, TagMethod, TagAsync, TagSeries, TagStatus, TagException}

// Tag is a single metric tag.
type Tag struct {
	Key   string
	Value string
}

// TagSet is the ordered set of tags attached to one metric emission. The order is stable so
// backends that deduplicate on tag order see one series per combination.
type TagSet []Tag

// Get returns the value of key, or "" if absent.
func (ts TagSet) Get(key string) string {
	for _, t := range ts {
		if t.Key == key {
			return t.Value
		}
	}
	return ""
}

// Values returns the tag values in emission order.
func (ts TagSet) Values() []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Value
	}
	return out
}

// Map returns the tags as a map.
func (ts TagSet) Map() map[string]string {
	out := make(map[string]string, len(ts))
	for _, t := range ts {
		out[t.Key] = t.Value
	}
	return out
}

// Strings renders each tag as "key<sep>value", e.g. "method:GET" for StatsD.
func (ts TagSet) Strings(sep string) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Key + sep + t.Value
	}
	return out
}

// String returns the tags as "{k=v, ...}".
func (ts TagSet) String() string {
	return "{" + strings.Join(ts.Strings("="), ", ") + "}"
}
