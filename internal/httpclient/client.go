// Package httpclient wraps *http.Client with configurable retry/backoff.
// Grounded on the teacher's pkg/httpclient: callers that want retries ask
// for them explicitly via WithMaxRetries; the capability clients in this
// repository construct it with zero retries because the runtime's contract
// (spec section 4.1) forbids implicit retries at the transport layer -
// retry policy belongs to the caller, not the wire client.
package httpclient

import (
	"math"
	"net/http"
	"time"
)

// Client issues HTTP requests with optional exponential-backoff retry on a
// fixed set of retryable status codes.
type Client struct {
	http       *http.Client
	maxRetries int
	baseDelay  time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying *http.Client (e.g. for a custom
// timeout or transport).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithMaxRetries sets the maximum number of retry attempts. Zero disables
// retries entirely.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithBaseDelay sets the base delay used for exponential backoff.
func WithBaseDelay(d time.Duration) Option {
	return func(c *Client) { c.baseDelay = d }
}

// New builds a Client with the given options applied over sane defaults.
func New(opts ...Option) *Client {
	c := &Client{
		http:       &http.Client{Timeout: 30 * time.Second},
		maxRetries: 0,
		baseDelay:  500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusRequestTimeout,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// Do issues req, retrying on retryable status codes up to maxRetries times
// with exponential backoff. A request whose context is cancelled or that
// exceeds its deadline is never retried.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	var err error

	for attempt := 0; ; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, berr := req.GetBody()
			if berr != nil {
				return nil, berr
			}
			req.Body = body
		}

		resp, err = c.http.Do(req)
		if err != nil {
			return nil, err
		}

		if attempt >= c.maxRetries || !retryable(resp.StatusCode) {
			return resp, nil
		}

		resp.Body.Close()
		delay := time.Duration(math.Pow(2, float64(attempt))) * c.baseDelay
		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(delay):
		}
	}
}
