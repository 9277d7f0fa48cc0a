package callkit

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ErrMissingPathParam is returned when a route placeholder has no value.
var ErrMissingPathParam = errors.New("missing path parameter")

var placeholder = regexp.MustCompile(`\{([^{}/]+)\}`)

// Endpoint declares a call target relative to the base URL of a Client. Route is a template
// whose "{name}" placeholders are filled per call, e.g. "api/users/{userId}/foo".
type Endpoint struct {
	Method string
	Route  string
}

// EndpointInfo is what decorators learn about the endpoint a call was created for.
type EndpointInfo struct {
	BaseURL string
	Method  string
	Route   string
}

// Params returns the placeholder names of the route, in order of appearance.
func (e Endpoint) Params() []string {
	matches := placeholder.FindAllStringSubmatch(e.Route, -1)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m[1])
	}
	return names
}

// String returns the endpoint as "METHOD route".
func (e Endpoint) String() string {
	return e.Method + " " + e.Route
}

// expandRoute fills the placeholders of route with path-escaped values.
func expandRoute(route string, params map[string]string) (string, error) {
	var missing []string
	out := placeholder.ReplaceAllStringFunc(route, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := params[name]
		if !ok {
			missing = append(missing, name)
			return m
		}
		return url.PathEscape(v)
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: %s", ErrMissingPathParam, strings.Join(missing, ", "))
	}
	return out, nil
}

// resolve builds the request URL of the endpoint on base.
func (e Endpoint) resolve(base *url.URL, params map[string]string, query url.Values) (*url.URL, error) {
	route, err := expandRoute(e.Route, params)
	if err != nil {
		return nil, err
	}

	raw := strings.TrimSuffix(base.String(), "/")
	if route = strings.TrimPrefix(route, "/"); route != "" {
		raw += "/" + route
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", e, err)
	}

	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u, nil
}
