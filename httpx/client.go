package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	DefaultTimeout    = 60 * time.Second
	DefaultMaxRetries = 3
)

// Config holds the transport settings shared by an adapter's sync and async clients.
type Config struct {
	Timeout    time.Duration
	MaxRetries int

	// Retry overrides the backoff schedule. MaxRetries still wins.
	Retry *RetryConfig

	// Transport is the base round tripper; nil means http.DefaultTransport.
	Transport http.RoundTripper
}

// DefaultConfig returns the default timeout and retry settings.
func DefaultConfig() Config {
	return Config{
		Timeout:    DefaultTimeout,
		MaxRetries: DefaultMaxRetries,
	}
}

// NewClient builds an *http.Client with cfg's timeout and a retrying transport.
// Every call returns an independent client.
func NewClient(cfg Config) *http.Client {
	retry := DefaultRetryConfig()
	if cfg.Retry != nil {
		r := *cfg.Retry
		retry = &r
	}
	retry.MaxRetries = max(cfg.MaxRetries, 0)

	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: NewRetryTransport(cfg.Transport, retry),
	}
}

// NewClientPair returns the sync and async clients for an adapter.
func NewClientPair(cfg Config) (client, aclient *http.Client) {
	return NewClient(cfg), NewClient(cfg)
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d, body: %s", e.StatusCode, e.Body)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// IsAuthError reports a 401 or 403 response.
func IsAuthError(err error) bool {
	code := StatusCode(err)
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

// IsRateLimited reports a 429 response.
func IsRateLimited(err error) bool {
	return StatusCode(err) == http.StatusTooManyRequests
}

// Request describes a JSON call.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   any

	// Accept overrides the default application/json Accept header.
	Accept string
}

// Do sends req and returns the raw response body of a 2xx response.
func Do(ctx context.Context, client *http.Client, req Request) ([]byte, error) {
	var body io.Reader
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.Accept != "" {
		httpReq.Header.Set("Accept", req.Accept)
	} else if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}

// DoJSON sends req and decodes a 2xx JSON response into out. A nil out
// discards the body.
func DoJSON(ctx context.Context, client *http.Client, req Request, out any) error {
	respBody, err := Do(ctx, client, req)
	if err != nil {
		return err
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// BearerHeader returns an Authorization: Bearer header.
func BearerHeader(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}
