package callkit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/rs/xid"
	"github.com/rs/zerolog/log"
)

// RequestIDHeader carries an ID shared by all attempts of a call.
const RequestIDHeader = "X-Request-Id"

// ErrInvalidClient indicates the Client configuration is invalid.
var ErrInvalidClient = errors.New("invalid client configuration")

// CallDecorator wraps a Call with additional behavior. Decorators are applied to every call a
// Client creates, below the retry and metrics layers.
type CallDecorator interface {
	Decorate(call Call, info EndpointInfo) Call
}

// CallDecoratorFunc adapts a function to the CallDecorator interface.
type CallDecoratorFunc func(call Call, info EndpointInfo) Call

// Decorate calls f.
func (f CallDecoratorFunc) Decorate(call Call, info EndpointInfo) Call { return f(call, info) }

// Client creates decorated calls against one base URL. It is the place where decorations are
// installed: the order is transport, custom decorators, retry, metrics, so that by default one
// measurement is recorded per logical call, however many attempts it took.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	timeouts   *HTTPTimeouts
	dispatcher Dispatcher
	header     http.Header

	retry      *RetryPolicy
	eligible   RequestPredicate
	recorder   MetricsRecorder
	perAttempt bool
	decorators []CallDecorator
}

// ClientOption is a functional option for NewClient.
type ClientOption func(*Client)

// WithHTTPClient sends requests with the given client. Takes precedence over WithTimeouts.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.httpClient = c }
}

// WithTimeouts builds the HTTP client from the given timeouts.
func WithTimeouts(t HTTPTimeouts) ClientOption {
	return func(cl *Client) { cl.timeouts = &t }
}

// WithDispatcher runs enqueued calls on d instead of a goroutine per call.
func WithDispatcher(d Dispatcher) ClientOption {
	return func(cl *Client) { cl.dispatcher = d }
}

// WithDefaultHeader adds a header to every call.
func WithDefaultHeader(key, value string) ClientOption {
	return func(cl *Client) { cl.header.Add(key, value) }
}

// WithRetry retries eligible calls under policy. A nil eligibility means GETOnly.
func WithRetry(policy *RetryPolicy, eligibility RequestPredicate) ClientOption {
	return func(cl *Client) {
		cl.retry = policy
		cl.eligible = eligibility
	}
}

// WithMetrics records every call through recorder.
func WithMetrics(recorder MetricsRecorder) ClientOption {
	return func(cl *Client) { cl.recorder = recorder }
}

// WithPerAttemptMetrics places the metrics layer below the retry layer, so every attempt is
// recorded instead of every logical call.
func WithPerAttemptMetrics() ClientOption {
	return func(cl *Client) { cl.perAttempt = true }
}

// WithDecorators installs custom decorators, applied in the given order right above the
// transport.
func WithDecorators(decorators ...CallDecorator) ClientOption {
	return func(cl *Client) { cl.decorators = append(cl.decorators, decorators...) }
}

// NewClient creates a Client for baseURL, which must be an absolute URL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Join(ErrInvalidClient, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Join(ErrInvalidClient, fmt.Errorf("base URL %q is not absolute", baseURL))
	}
	u.RawQuery, u.Fragment = "", ""

	c := &Client{
		baseURL: u,
		header:  make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.retry != nil {
		if err := c.retry.Validate(); err != nil {
			return nil, errors.Join(ErrInvalidClient, err)
		}
	}
	if c.httpClient == nil {
		if c.timeouts != nil {
			if err := c.timeouts.Validate(); err != nil {
				return nil, errors.Join(ErrInvalidClient, err)
			}
			c.httpClient = c.timeouts.newHTTPClient()
		} else {
			c.httpClient = HTTPTimeouts{}.newHTTPClient()
		}
	}
	if c.dispatcher == nil {
		c.dispatcher = GoDispatcher{}
	}

	log.Debug().Str("base_url", c.BaseURL()).Bool("retry", c.retry != nil).
		Bool("metrics", c.recorder != nil).Msg("Client created")
	return c, nil
}

// BaseURL returns the base URL as configured, without a trailing slash.
func (c *Client) BaseURL() string {
	return strings.TrimSuffix(c.baseURL.String(), "/")
}

// CallOption sets per-call request details.
type CallOption func(*callOptions)

type callOptions struct {
	params map[string]string
	query  map[string][]string
	header http.Header
	body   []byte
	err    error
}

// WithPathParam fills the route placeholder "{name}".
func WithPathParam(name, value string) CallOption {
	return func(o *callOptions) { o.params[name] = value }
}

// WithQuery adds a query parameter.
func WithQuery(key, value string) CallOption {
	return func(o *callOptions) { o.query[key] = append(o.query[key], value) }
}

// WithHeader adds a request header.
func WithHeader(key, value string) CallOption {
	return func(o *callOptions) { o.header.Add(key, value) }
}

// WithBody sends body as is.
func WithBody(body []byte) CallOption {
	return func(o *callOptions) { o.body = body }
}

// WithJSONBody sends v encoded as JSON and sets the content type.
func WithJSONBody(v any) CallOption {
	return func(o *callOptions) {
		b, err := sonic.Marshal(v)
		if err != nil {
			o.err = fmt.Errorf("encode request body: %w", err)
			return
		}
		o.body = b
		o.header.Set("Content-Type", "application/json")
	}
}

// NewCall creates a decorated call to ep. The call and all its clones use ctx as parent context.
func (c *Client) NewCall(ctx context.Context, ep Endpoint, opts ...CallOption) (Call, error) {
	o := &callOptions{
		params: make(map[string]string),
		query:  make(map[string][]string),
		header: c.header.Clone(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.err != nil {
		return nil, o.err
	}

	method := strings.ToUpper(ep.Method)
	if method == "" {
		method = http.MethodGet
	}
	u, err := ep.resolve(c.baseURL, o.params, o.query)
	if err != nil {
		return nil, err
	}
	if o.header.Get(RequestIDHeader) == "" {
		o.header.Set(RequestIDHeader, xid.New().String())
	}

	desc := RequestDescriptor{
		Method:  method,
		URL:     u,
		BaseURL: c.BaseURL(),
		Route:   ep.Route,
		Header:  o.header,
	}
	info := EndpointInfo{BaseURL: desc.BaseURL, Method: method, Route: ep.Route}

	return c.decorate(newHTTPCall(ctx, c.httpClient, c.dispatcher, desc, o.body), info), nil
}

// Do creates a call to ep and executes it.
func (c *Client) Do(ctx context.Context, ep Endpoint, opts ...CallOption) (*Response, error) {
	call, err := c.NewCall(ctx, ep, opts...)
	if err != nil {
		return nil, err
	}
	return call.Execute()
}

// decorate stacks the configured layers on top of the transport call.
func (c *Client) decorate(call Call, info EndpointInfo) Call {
	for _, d := range c.decorators {
		call = d.Decorate(call, info)
	}

	var collector *MetricsCollector
	if c.recorder != nil {
		collector = NewMetricsCollector(info.BaseURL, info.Route, c.recorder)
	}

	if collector != nil && c.perAttempt {
		call = newMeasuredCall(call, collector)
	}
	if c.retry != nil {
		call = newRetryingCall(call, c.retry, c.eligible)
	}
	if collector != nil && !c.perAttempt {
		call = newMeasuredCall(call, collector)
	}
	return call
}
