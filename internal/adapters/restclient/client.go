package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"onboardr/internal/metrics"
	"onboardr/pkg/errors"
)

const maxErrorBody = 512

// StatusError is returned for non-2xx upstream responses
type StatusError struct {
	Service    string
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s returned status %d: %s", e.Service, e.Endpoint, e.StatusCode, e.Body)
}

// Unwrap classifies the failure so callers can use errors.Is
func (e *StatusError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return errors.ErrRateLimitExceeded
	case e.StatusCode == http.StatusNotFound:
		return errors.ErrNotFound
	case e.StatusCode >= 500:
		return errors.ErrUnavailable
	default:
		return errors.ErrInvalidInput
	}
}

// Client is a small JSON-over-HTTP client shared by the upstream adapters
type Client struct {
	service string
	baseURL string
	http    *http.Client
	headers map[string]string
	limiter *rate.Limiter
}

type Option func(*Client)

// WithHeader sets a header on every request
func WithHeader(key, value string) Option {
	return func(c *Client) {
		if value != "" {
			c.headers[key] = value
		}
	}
}

// WithRateLimit paces outgoing requests
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithHTTPClient replaces the underlying http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// New creates a client for service rooted at baseURL
func New(service, baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &Client{
		service: service,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		headers: map[string]string{
			"Accept":     "application/json",
			"User-Agent": "onboardr-orchestrator/1.0",
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get issues a GET and decodes the JSON response into out
func (c *Client) Get(ctx context.Context, path string, out interface{}) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

// Post issues a POST with a JSON body and decodes the response into out
func (c *Client) Post(ctx context.Context, path string, body, out interface{}) error {
	return c.Do(ctx, http.MethodPost, path, body, out)
}

// Do performs one request. The endpoint label for metrics is the path
// without its query string.
func (c *Client) Do(ctx context.Context, method, path string, body, out interface{}) (err error) {
	endpoint := path
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		endpoint = endpoint[:i]
	}

	start := time.Now()
	defer func() {
		metrics.RecordExternalAPICall(c.service, endpoint, time.Since(start), err)
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return errors.Wrap(err, "rate limiter wait")
		}
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request body")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "create API request")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s request failed", c.service, endpoint)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Service:    c.service,
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(data)),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s %s response", c.service, endpoint)
	}
	return nil
}
