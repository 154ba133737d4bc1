package httpx

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// RetryConfig configures retry behavior for HTTP requests
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64

	// RetryableStatus reports whether a response status should trigger a retry.
	RetryableStatus func(code int) bool
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:      DefaultMaxRetries,
		InitialDelay:    500 * time.Millisecond,
		MaxDelay:        8 * time.Second,
		BackoffFactor:   2.0,
		RetryableStatus: IsRetryableStatus,
	}
}

// IsRetryableStatus reports 429 and 5xx responses.
func IsRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// RetryTransport retries transport errors and retryable statuses with
// exponential backoff. Requests with a body are only retried when the
// body can be replayed through GetBody.
type RetryTransport struct {
	base   http.RoundTripper
	config RetryConfig
}

var _ http.RoundTripper = (*RetryTransport)(nil)

// NewRetryTransport wraps base. A nil base uses http.DefaultTransport and
// a nil config uses DefaultRetryConfig.
func NewRetryTransport(base http.RoundTripper, config *RetryConfig) *RetryTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	if config == nil {
		config = DefaultRetryConfig()
	}
	cfg := *config
	if cfg.RetryableStatus == nil {
		cfg.RetryableStatus = IsRetryableStatus
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = 1
	}
	return &RetryTransport{base: base, config: cfg}
}

// RoundTrip implements http.RoundTripper.
func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	delay := t.config.InitialDelay

	for attempt := 0; ; attempt++ {
		attemptReq := req
		if attempt > 0 {
			var err error
			attemptReq, err = rewind(req)
			if err != nil {
				return nil, err
			}
		}

		resp, err := t.base.RoundTrip(attemptReq)
		if attempt >= t.config.MaxRetries || !t.shouldRetry(resp, err) {
			return resp, err
		}
		if req.Body != nil && req.GetBody == nil {
			return resp, err
		}

		wait := delay
		if resp != nil {
			if ra := retryAfter(resp); ra > 0 {
				wait = ra
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		if t.config.MaxDelay > 0 {
			wait = min(wait, t.config.MaxDelay)
		}

		select {
		case <-time.After(wait):
			delay = time.Duration(float64(delay) * t.config.BackoffFactor)
			if t.config.MaxDelay > 0 {
				delay = min(delay, t.config.MaxDelay)
			}
		case <-ctx.Done():
			return nil, fmt.Errorf("retry cancelled during backoff: %w", ctx.Err())
		}
	}
}

func (t *RetryTransport) shouldRetry(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	return t.config.RetryableStatus(resp.StatusCode)
}

func rewind(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.Body == nil || req.GetBody == nil {
		return clone, nil
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("rewind request body: %w", err)
	}
	clone.Body = body
	return clone, nil
}

func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		return time.Until(at)
	}
	return 0
}
