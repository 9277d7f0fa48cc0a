// Package config loads the YAML configuration of the callkit command: the target base URL,
// transport timeouts, retry and metrics settings, and the endpoints to call.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jkbrsn/callkit"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig indicates the configuration is invalid.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the root of the configuration file.
type Config struct {
	BaseURL    string           `yaml:"base_url"`
	Timeouts   Timeouts         `yaml:"timeouts"`
	Retry      *Retry           `yaml:"retry"`
	Metrics    Metrics          `yaml:"metrics"`
	Dispatcher Dispatcher       `yaml:"dispatcher"`
	Endpoints  []EndpointConfig `yaml:"endpoints"`
}

// Timeouts mirrors callkit.HTTPTimeouts.
type Timeouts struct {
	Total          time.Duration `yaml:"total"`
	ResponseHeader time.Duration `yaml:"response_header"`
	IdleConn       time.Duration `yaml:"idle_conn"`
	TLSHandshake   time.Duration `yaml:"tls_handshake"`
	Dial           time.Duration `yaml:"dial"`
}

// Retry configures the retry policy. A missing section disables retries.
type Retry struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	Wait              time.Duration `yaml:"wait"`
	MaxWait           time.Duration `yaml:"max_wait"`
	Multiplier        float64       `yaml:"multiplier"`
	RetryStatuses     []int         `yaml:"retry_statuses"`
	RetryServerErrors bool          `yaml:"retry_server_errors"`
	RetryAfter        time.Duration `yaml:"retry_after"`
	Methods           []string      `yaml:"methods"`
	Routes            []string      `yaml:"routes"`
}

// Metrics selects the recorders.
type Metrics struct {
	Key        string `yaml:"key"`
	Log        bool   `yaml:"log"`
	PerAttempt bool   `yaml:"per_attempt"`
	Prometheus struct {
		Listen string `yaml:"listen"`
	} `yaml:"prometheus"`
	StatsD struct {
		Addr string `yaml:"addr"`
	} `yaml:"statsd"`
}

// Dispatcher sizes the worker pool running async calls. Zero workers means a goroutine per call.
type Dispatcher struct {
	Workers int `yaml:"workers"`
	Queue   int `yaml:"queue"`
}

// EndpointConfig declares one endpoint to call.
type EndpointConfig struct {
	Name   string              `yaml:"name"`
	Method string              `yaml:"method"`
	Route  string              `yaml:"route"`
	Params map[string]string   `yaml:"params"`
	Query  map[string][]string `yaml:"query"`
	Header map[string]string   `yaml:"header"`
	Body   string              `yaml:"body"`
}

// Load reads and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML configuration.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors that would only show at call time.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.Join(ErrInvalidConfig, errors.New("base_url is required"))
	}
	if err := c.HTTPTimeouts().Validate(); err != nil {
		return errors.Join(ErrInvalidConfig, err)
	}
	if c.Retry != nil {
		if c.Retry.Multiplier != 0 && c.Retry.Multiplier < 1 {
			return errors.Join(ErrInvalidConfig, errors.New("retry.multiplier must be at least 1"))
		}
		if err := c.Policy().Validate(); err != nil {
			return errors.Join(ErrInvalidConfig, err)
		}
	}
	if c.Dispatcher.Workers < 0 || c.Dispatcher.Queue < 0 {
		return errors.Join(ErrInvalidConfig, errors.New("dispatcher sizes cannot be negative"))
	}
	names := make(map[string]struct{}, len(c.Endpoints))
	for i, ep := range c.Endpoints {
		if ep.Name == "" {
			return errors.Join(ErrInvalidConfig, fmt.Errorf("endpoints[%d]: name is required", i))
		}
		if _, dup := names[ep.Name]; dup {
			return errors.Join(ErrInvalidConfig, fmt.Errorf("endpoints[%d]: duplicate name %q", i, ep.Name))
		}
		names[ep.Name] = struct{}{}
		for _, p := range ep.Endpoint().Params() {
			if _, ok := ep.Params[p]; !ok {
				return errors.Join(ErrInvalidConfig,
					fmt.Errorf("endpoint %q: %w: %s", ep.Name, callkit.ErrMissingPathParam, p))
			}
		}
	}
	return nil
}

// HTTPTimeouts returns the transport timeouts.
func (c *Config) HTTPTimeouts() callkit.HTTPTimeouts {
	return callkit.HTTPTimeouts(c.Timeouts)
}

// Policy builds the retry policy, or returns nil if retries are disabled.
func (c *Config) Policy() *callkit.RetryPolicy {
	r := c.Retry
	if r == nil {
		return nil
	}

	opts := []callkit.RetryPolicyOption{callkit.WithPolicyName("config")}
	if r.MaxAttempts != 0 {
		opts = append(opts, callkit.WithMaxAttempts(r.MaxAttempts))
	}
	wait := r.Wait
	if wait == 0 {
		wait = callkit.DefaultWaitDuration
	}
	if r.Multiplier > 1 {
		maxWait := r.MaxWait
		if maxWait == 0 {
			maxWait = 10 * wait
		}
		opts = append(opts, callkit.WithExponentialBackoff(wait, maxWait, r.Multiplier))
	} else {
		opts = append(opts, callkit.WithWaitDuration(wait))
	}

	switch {
	case len(r.RetryStatuses) > 0 && r.RetryServerErrors:
		statuses := make(map[int]struct{}, len(r.RetryStatuses))
		for _, s := range r.RetryStatuses {
			statuses[s] = struct{}{}
		}
		opts = append(opts, callkit.WithRetryOnResult(func(resp *callkit.Response) bool {
			_, listed := statuses[resp.StatusCode()]
			return listed || callkit.SeriesOf(resp.StatusCode()) == callkit.SeriesServerError
		}))
	case len(r.RetryStatuses) > 0:
		opts = append(opts, callkit.WithRetryOnStatus(r.RetryStatuses...))
	case r.RetryServerErrors:
		opts = append(opts, callkit.WithRetryOnServerErrors())
	}
	if r.RetryAfter > 0 {
		opts = append(opts, callkit.WithRetryAfter(r.RetryAfter))
	}
	return callkit.NewRetryPolicy(opts...)
}

// Eligibility returns the retry eligibility: the listed methods or routes, GET only if neither
// is set.
func (c *Config) Eligibility() callkit.RequestPredicate {
	if c.Retry == nil || (len(c.Retry.Methods) == 0 && len(c.Retry.Routes) == 0) {
		return callkit.GETOnly
	}
	var preds []callkit.RequestPredicate
	if len(c.Retry.Methods) > 0 {
		preds = append(preds, callkit.MethodsIn(c.Retry.Methods...))
	}
	if len(c.Retry.Routes) > 0 {
		preds = append(preds, callkit.RoutesIn(c.Retry.Routes...))
	}
	return callkit.AnyOf(preds...)
}

// Endpoint returns the declared endpoint.
func (e EndpointConfig) Endpoint() callkit.Endpoint {
	return callkit.Endpoint{Method: e.Method, Route: e.Route}
}

// CallOptions returns the per-call request details.
func (e EndpointConfig) CallOptions() []callkit.CallOption {
	var opts []callkit.CallOption
	for k, v := range e.Params {
		opts = append(opts, callkit.WithPathParam(k, v))
	}
	for k, vs := range e.Query {
		for _, v := range vs {
			opts = append(opts, callkit.WithQuery(k, v))
		}
	}
	for k, v := range e.Header {
		opts = append(opts, callkit.WithHeader(k, v))
	}
	if e.Body != "" {
		opts = append(opts, callkit.WithBody([]byte(e.Body)))
	}
	return opts
}
