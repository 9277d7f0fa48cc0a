package callkit

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/xid"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultMaxAttempts is the number of attempts, first one included, of a default policy.
	DefaultMaxAttempts = 3
	// DefaultWaitDuration is the fixed wait between attempts of a default policy.
	DefaultWaitDuration = 500 * time.Millisecond
)

// ErrInvalidRetryPolicy indicates the RetryPolicy configuration is invalid.
var ErrInvalidRetryPolicy = errors.New("invalid retry policy configuration")

// RequestPredicate decides whether a request may ever be retried. It is evaluated once per
// logical call, before the first attempt.
type RequestPredicate func(req RequestDescriptor) bool

// ResultPredicate reports whether a response should be retried.
type ResultPredicate func(resp *Response) bool

// ErrorPredicate reports whether a transport error should be retried. It receives the error the
// transport produced; canceled calls and misuse never reach it.
type ErrorPredicate func(err error) bool

// GETOnly allows retries for GET requests only. It is the default eligibility.
func GETOnly(req RequestDescriptor) bool {
	return req.Method == http.MethodGet
}

// MethodsIn allows retries for the given methods.
func MethodsIn(methods ...string) RequestPredicate {
	allowed := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		allowed[strings.ToUpper(m)] = struct{}{}
	}
	return func(req RequestDescriptor) bool {
		_, ok := allowed[strings.ToUpper(req.Method)]
		return ok
	}
}

// RoutesIn allows retries for the given declared route templates, whatever the method. Leading
// and trailing slashes are ignored.
func RoutesIn(routes ...string) RequestPredicate {
	allowed := make(map[string]struct{}, len(routes))
	for _, r := range routes {
		allowed[strings.Trim(r, "/")] = struct{}{}
	}
	return func(req RequestDescriptor) bool {
		_, ok := allowed[strings.Trim(req.Route, "/")]
		return ok
	}
}

// AnyOf allows retries when any of the predicates does.
func AnyOf(preds ...RequestPredicate) RequestPredicate {
	return func(req RequestDescriptor) bool {
		for _, p := range preds {
			if p != nil && p(req) {
				return true
			}
		}
		return false
	}
}

// RetryPolicy holds the rules that drive re-attempts. It is immutable once built and may be
// shared by any number of concurrent logical calls.
type RetryPolicy struct {
	name          string
	maxAttempts   int
	newBackoff    func() backoff.BackOff
	retryOnResult ResultPredicate
	retryOnError  ErrorPredicate
	retryAfterMax time.Duration
}

// RetryPolicyOption is a functional option for NewRetryPolicy.
type RetryPolicyOption func(*RetryPolicy)

// NewRetryPolicy builds a policy. Without options it makes up to DefaultMaxAttempts attempts,
// waits DefaultWaitDuration in between, retries every transport error and no response.
func NewRetryPolicy(opts ...RetryPolicyOption) *RetryPolicy {
	p := &RetryPolicy{
		name:         "default",
		maxAttempts:  DefaultMaxAttempts,
		newBackoff:   constantBackoff(DefaultWaitDuration),
		retryOnError: func(error) bool { return true },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithPolicyName names the policy in log output.
func WithPolicyName(name string) RetryPolicyOption {
	return func(p *RetryPolicy) { p.name = name }
}

// WithMaxAttempts sets the maximum number of attempts, the first one included.
func WithMaxAttempts(n int) RetryPolicyOption {
	return func(p *RetryPolicy) { p.maxAttempts = n }
}

// WithWaitDuration waits a fixed duration between attempts.
func WithWaitDuration(d time.Duration) RetryPolicyOption {
	return func(p *RetryPolicy) { p.newBackoff = constantBackoff(d) }
}

// WithExponentialBackoff grows the wait from initial by multiplier up to maxWait, with jitter.
func WithExponentialBackoff(initial, maxWait time.Duration, multiplier float64) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.newBackoff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = initial
			b.MaxInterval = maxWait
			b.Multiplier = multiplier
			// attempts are bounded by the policy, not by elapsed time
			b.MaxElapsedTime = 0
			b.Reset()
			return b
		}
	}
}

// WithBackoff supplies a backoff factory. It is called once per logical call.
func WithBackoff(newBackoff func() backoff.BackOff) RetryPolicyOption {
	return func(p *RetryPolicy) { p.newBackoff = newBackoff }
}

// WithRetryOnResult retries responses matching pred.
func WithRetryOnResult(pred ResultPredicate) RetryPolicyOption {
	return func(p *RetryPolicy) { p.retryOnResult = pred }
}

// WithRetryOnStatus retries responses with one of the given status codes.
func WithRetryOnStatus(codes ...int) RetryPolicyOption {
	set := make(map[int]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return WithRetryOnResult(func(resp *Response) bool {
		_, ok := set[resp.StatusCode()]
		return ok
	})
}

// WithRetryOnServerErrors retries responses in the 5xx range.
func WithRetryOnServerErrors() RetryPolicyOption {
	return WithRetryOnResult(func(resp *Response) bool {
		return SeriesOf(resp.StatusCode()) == SeriesServerError
	})
}

// WithRetryOnError retries transport errors matching pred.
func WithRetryOnError(pred ErrorPredicate) RetryPolicyOption {
	return func(p *RetryPolicy) { p.retryOnError = pred }
}

// WithRetryAfter honors a Retry-After header on retried responses, waiting at most limit.
func WithRetryAfter(limit time.Duration) RetryPolicyOption {
	return func(p *RetryPolicy) { p.retryAfterMax = limit }
}

// Name returns the policy name.
func (p *RetryPolicy) Name() string { return p.name }

// MaxAttempts returns the maximum number of attempts, the first one included.
func (p *RetryPolicy) MaxAttempts() int { return p.maxAttempts }

// Validate checks that the policy is usable.
func (p *RetryPolicy) Validate() error {
	if p.maxAttempts < 1 {
		return errors.Join(ErrInvalidRetryPolicy, errors.New("max attempts must be positive"))
	}
	if p.newBackoff == nil {
		return errors.Join(ErrInvalidRetryPolicy, errors.New("backoff is nil"))
	}
	if p.retryAfterMax < 0 {
		return errors.Join(ErrInvalidRetryPolicy, errors.New("retry-after limit cannot be negative"))
	}
	return nil
}

// NewContext starts the attempt bookkeeping for one logical call.
func (p *RetryPolicy) NewContext() *RetryContext {
	return &RetryContext{
		id:      xid.New(),
		policy:  p,
		backoff: p.newBackoff(),
	}
}

func constantBackoff(d time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff { return backoff.NewConstantBackOff(d) }
}

// RetryContext counts the attempts of one logical call and decides on continuation. It is owned
// by a single attempt chain; attempts are sequential, so it needs no locking.
type RetryContext struct {
	id       xid.ID
	policy   *RetryPolicy
	backoff  backoff.BackOff
	attempts int
}

// ID identifies the logical call in logs.
func (c *RetryContext) ID() xid.ID { return c.id }

// Attempts returns the number of attempts whose outcome was reported so far.
func (c *RetryContext) Attempts() int { return c.attempts }

// OnResult reports the response of an attempt. It returns true, with the wait before the next
// attempt, if the policy wants another attempt. Exhaustion by result is not an error: the caller
// keeps the last response.
func (c *RetryContext) OnResult(resp *Response) (time.Duration, bool) {
	c.attempts++
	if c.policy.retryOnResult == nil || !c.policy.retryOnResult(resp) {
		return 0, false
	}
	if c.attempts >= c.policy.maxAttempts {
		log.Debug().Str("call_id", c.id.String()).Str("policy", c.policy.name).
			Int("attempts", c.attempts).Int("status", resp.StatusCode()).
			Msg("retries exhausted on result")
		return 0, false
	}
	wait, ok := c.nextWait()
	if !ok {
		return 0, false
	}
	if hinted, ok := c.retryAfter(resp); ok && hinted > wait {
		wait = hinted
	}
	log.Debug().Str("call_id", c.id.String()).Str("policy", c.policy.name).
		Int("attempt", c.attempts).Int("status", resp.StatusCode()).Dur("wait", wait).
		Msg("retrying call on result")
	return wait, true
}

// OnError reports the failure of an attempt. A nil error means another attempt should follow
// after the returned wait. A non-nil error terminates the logical call; it wraps the original
// failure, which unwrapFailure recovers.
func (c *RetryContext) OnError(err error) (time.Duration, error) {
	c.attempts++
	failure := adaptFailure(err)
	if !failure.retryable() {
		return 0, failure
	}
	if c.policy.retryOnError != nil && !c.policy.retryOnError(failure.Err) {
		return 0, failure
	}
	if c.attempts >= c.policy.maxAttempts {
		log.Debug().Str("call_id", c.id.String()).Str("policy", c.policy.name).
			Int("attempts", c.attempts).Err(failure.Err).Msg("retries exhausted on error")
		return 0, failure
	}
	wait, ok := c.nextWait()
	if !ok {
		return 0, failure
	}
	log.Debug().Str("call_id", c.id.String()).Str("policy", c.policy.name).
		Int("attempt", c.attempts).Str("kind", failure.Kind.String()).Dur("wait", wait).
		Msg("retrying call on error")
	return wait, nil
}

func (c *RetryContext) nextWait() (time.Duration, bool) {
	wait := c.backoff.NextBackOff()
	if wait == backoff.Stop {
		return 0, false
	}
	return wait, true
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date.
func (c *RetryContext) retryAfter(resp *Response) (time.Duration, bool) {
	if c.policy.retryAfterMax <= 0 || resp == nil || resp.resp == nil {
		return 0, false
	}
	s := resp.resp.Header.Get("Retry-After")
	if s == "" {
		return 0, false
	}

	var d time.Duration
	if secs, err := strconv.Atoi(s); err == nil && secs >= 0 {
		d = time.Duration(secs) * time.Second
	} else if t, err := http.ParseTime(s); err == nil {
		d = max(time.Until(t), 0)
	} else {
		return 0, false
	}
	return min(d, c.policy.retryAfterMax), true
}

// String describes the policy.
func (p *RetryPolicy) String() string {
	return fmt.Sprintf("RetryPolicy{Name: %s, MaxAttempts: %d}", p.name, p.maxAttempts)
}
