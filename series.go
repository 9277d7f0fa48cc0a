package callkit

// Series is the coarse bucket of an HTTP status code used as the "series" metric tag.
type Series uint8

const (
	// SeriesUnknown covers codes outside 100-599.
	SeriesUnknown Series = iota
	// SeriesInformational is 1xx.
	SeriesInformational
	// SeriesSuccessful is 2xx.
	SeriesSuccessful
	// SeriesRedirection is 3xx.
	SeriesRedirection
	// SeriesClientError is 4xx.
	SeriesClientError
	// SeriesServerError is 5xx.
	SeriesServerError
	// SeriesException marks a call that produced no status code.
	SeriesException
)

var seriesNames = [...]string{
	SeriesUnknown:       "UNKNOWN",
	SeriesInformational: "INFORMATIONAL",
	SeriesSuccessful:    "SUCCESSFUL",
	SeriesRedirection:   "REDIRECTION",
	SeriesClientError:   "CLIENT_ERROR",
	SeriesServerError:   "SERVER_ERROR",
	SeriesException:     "EXCEPTION",
}

// String returns the tag value of the series.
func (s Series) String() string {
	if int(s) >= len(seriesNames) {
		return seriesNames[SeriesUnknown]
	}
	return seriesNames[s]
}

// SeriesOf buckets a status code by its hundreds digit. Codes outside 100-599 are SeriesUnknown.
func SeriesOf(statusCode int) Series {
	if statusCode < 100 {
		return SeriesUnknown
	}
	switch statusCode / 100 {
	case 1:
		return SeriesInformational
	case 2:
		return SeriesSuccessful
	case 3:
		return SeriesRedirection
	case 4:
		return SeriesClientError
	case 5:
		return SeriesServerError
	default:
		return SeriesUnknown
	}
}
