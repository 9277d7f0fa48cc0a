package callkit

import (
	"errors"
	"net"
	"net/http"
	"time"
)

// defaultDialTimeout is the default timeout for network dial operations.
const defaultDialTimeout = 5 * time.Second

// HTTPTimeouts configures the per-attempt timeouts of the HTTP transport. Zero values indicate no
// timeout, except where the Go stdlib provides defaults. An attempt that runs out of time fails
// with a Timeout failure, which the retry decorator may retry.
type HTTPTimeouts struct {
	// Total is the overall timeout for one attempt, including connection establishment,
	// redirects, and reading the response body. Maps to http.Client.Timeout.
	Total time.Duration

	// ResponseHeader is the timeout waiting for the server's response headers after the request
	// has been written. Maps to http.Transport.ResponseHeaderTimeout.
	ResponseHeader time.Duration

	// IdleConn is the maximum duration an idle connection will remain in the connection pool.
	// Maps to http.Transport.IdleConnTimeout.
	IdleConn time.Duration

	// TLSHandshake is the maximum duration waiting for a TLS handshake to complete.
	// Maps to http.Transport.TLSHandshakeTimeout. Zero uses the Go stdlib default.
	TLSHandshake time.Duration

	// Dial is the maximum duration waiting for a network dial to complete.
	// Applied to net.Dialer.Timeout. Zero uses a 5 second default. Negative values are invalid.
	Dial time.Duration
}

// Validate checks that the HTTPTimeouts configuration is valid.
func (t HTTPTimeouts) Validate() error {
	if t.Dial < 0 {
		return errors.New("HTTPTimeouts.Dial cannot be negative")
	}
	if t.Total < 0 || t.ResponseHeader < 0 || t.IdleConn < 0 || t.TLSHandshake < 0 {
		return errors.New("HTTPTimeouts cannot be negative")
	}
	return nil
}

// newHTTPClient builds a client whose transport applies the timeouts.
func (t HTTPTimeouts) newHTTPClient() *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()

	dial := t.Dial
	if dial == 0 {
		dial = defaultDialTimeout
	}
	tr.DialContext = (&net.Dialer{Timeout: dial, KeepAlive: 30 * time.Second}).DialContext

	if t.ResponseHeader > 0 {
		tr.ResponseHeaderTimeout = t.ResponseHeader
	}
	if t.IdleConn > 0 {
		tr.IdleConnTimeout = t.IdleConn
	}
	if t.TLSHandshake > 0 {
		tr.TLSHandshakeTimeout = t.TLSHandshake
	}

	return &http.Client{Transport: tr, Timeout: t.Total}
}
