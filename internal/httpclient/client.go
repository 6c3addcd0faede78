// Package httpclient provides the authenticated JSON transport used by the
// Jules SDK: per-request timeouts, capped exponential backoff with full
// jitter on retryable statuses, and a counting semaphore bounding in-flight
// requests.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/julesfleet/julesfleet/internal/common/config"
	"github.com/julesfleet/julesfleet/internal/common/logger"
)

const apiKeyHeader = "X-Goog-Api-Key"

// retryableStatuses trigger the backoff policy.
var retryableStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// RequestOptions describes a single API request.
type RequestOptions struct {
	Method  string // GET or POST; empty defaults to GET
	Body    any
	Query   map[string]string
	Headers map[string]string
}

// Client is a rate-limited JSON HTTP client for the Agent API.
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	retry   config.RetryConfig
	sem     *semaphore.Weighted
	httpc   *http.Client
	logger  *logger.Logger

	// injectable for deterministic tests
	randFloat func() float64
	sleep     func(ctx context.Context, d time.Duration) error
}

// Options configures a Client.
type Options struct {
	APIKey                string
	BaseURL               string
	Timeout               time.Duration
	Retry                 config.RetryConfig
	MaxConcurrentRequests int64
	Logger                *logger.Logger
}

// New creates a Client. Missing options fall back to production defaults.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Retry.MaxRetryTimeMs <= 0 {
		opts.Retry.MaxRetryTimeMs = 300_000
	}
	if opts.Retry.BaseDelayMs <= 0 {
		opts.Retry.BaseDelayMs = 1000
	}
	if opts.Retry.MaxDelayMs <= 0 {
		opts.Retry.MaxDelayMs = 30_000
	}
	if opts.MaxConcurrentRequests <= 0 {
		opts.MaxConcurrentRequests = 50
	}
	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}
	return &Client{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		apiKey:    opts.APIKey,
		timeout:   opts.Timeout,
		retry:     opts.Retry,
		sem:       semaphore.NewWeighted(opts.MaxConcurrentRequests),
		httpc:     &http.Client{},
		logger:    log.WithFields(zap.String("component", "http_client")),
		randFloat: rand.Float64,
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
	}
}

// WithAPIKey returns a copy of the client using a different credential.
// The semaphore is shared so the in-flight bound stays process-wide.
func (c *Client) WithAPIKey(key string) *Client {
	clone := *c
	clone.apiKey = key
	return &clone
}

// Request executes a JSON request against baseURL+endpoint and decodes the
// response body into out (ignored when out is nil). Retryable statuses are
// retried with capped exponential backoff and full jitter until the shared
// deadline elapses; the retry count never crosses requests.
func (c *Client) Request(ctx context.Context, endpoint string, opts RequestOptions, out any) error {
	fullURL := c.composeURL(endpoint, opts.Query)
	safeURL := SanitizeURL(fullURL)

	if c.apiKey == "" {
		return &Error{
			Kind:    KindMissingCredentials,
			URL:     safeURL,
			Message: "no API key configured; set JULES_API_KEY or pass one explicitly",
			Err:     ErrMissingAPIKey,
		}
	}

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	var bodyBytes []byte
	if opts.Body != nil {
		var err error
		bodyBytes, err = json.Marshal(opts.Body)
		if err != nil {
			return &Error{Kind: KindAPI, URL: safeURL, Message: "encode request body", Err: err}
		}
	}

	startTime := time.Now()
	maxRetryTime := time.Duration(c.retry.MaxRetryTimeMs) * time.Millisecond
	retryCount := 0

	for {
		status, respBody, err := c.attempt(ctx, method, fullURL, bodyBytes, opts.Headers)
		if err != nil {
			if ctx.Err() != nil {
				return &Error{Kind: KindTimeout, URL: safeURL, Message: "request cancelled", Err: ctx.Err()}
			}
			return &Error{Kind: KindNetwork, URL: safeURL, Message: "request failed", Err: err}
		}

		switch {
		case status >= 200 && status < 300:
			if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
				return nil
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				return &Error{Kind: KindAPI, Status: status, URL: safeURL, Message: "decode response body", Err: err}
			}
			return nil

		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return &Error{Kind: KindAuthentication, Status: status, URL: safeURL, Message: "authentication failed"}

		case retryableStatuses[status]:
			original := &Error{Kind: KindAPI, Status: status, URL: safeURL, Message: "retryable API error"}
			if status == http.StatusTooManyRequests {
				original.Kind = KindRateLimitExhausted
				original.Message = "rate limited"
			}
			if time.Since(startTime) >= maxRetryTime {
				return original
			}
			delay := c.backoffDelay(retryCount)
			c.logger.Debug("retrying request",
				zap.Int("status", status),
				zap.Int("retry", retryCount),
				zap.Duration("delay", delay),
				zap.String("url", safeURL))
			if err := c.sleep(ctx, delay); err != nil {
				return &Error{Kind: KindTimeout, URL: safeURL, Message: "cancelled during backoff", Err: err}
			}
			retryCount++

		default:
			return &Error{
				Kind:    KindAPI,
				Status:  status,
				URL:     safeURL,
				Message: fmt.Sprintf("unexpected status %d", status),
			}
		}
	}
}

// attempt performs one HTTP round trip under the semaphore and per-attempt
// timeout. Credentials are re-injected on every attempt.
func (c *Client) attempt(ctx context.Context, method, fullURL string, body []byte, headers map[string]string) (int, []byte, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return 0, nil, err
	}
	defer c.sem.Release(1)

	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, fullURL, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}

// backoffDelay implements full jitter: floor(rand * min(base*2^n, maxDelay)),
// never below 1ms.
func (c *Client) backoffDelay(retryCount int) time.Duration {
	raw := float64(c.retry.BaseDelayMs)
	for i := 0; i < retryCount; i++ {
		raw *= 2
		if raw >= float64(c.retry.MaxDelayMs) {
			break
		}
	}
	capped := raw
	if capped > float64(c.retry.MaxDelayMs) {
		capped = float64(c.retry.MaxDelayMs)
	}
	delayMs := int64(c.randFloat() * capped)
	if delayMs < 1 {
		delayMs = 1
	}
	return time.Duration(delayMs) * time.Millisecond
}

func (c *Client) composeURL(endpoint string, query map[string]string) string {
	full := c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	if len(query) == 0 {
		return full
	}
	values := url.Values{}
	for k, v := range query {
		values.Set(k, v)
	}
	return full + "?" + values.Encode()
}
