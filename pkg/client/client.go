package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/schoolops/rollcall/pkg/log"
	"github.com/schoolops/rollcall/pkg/metrics"
)

const (
	// maxServerErrorAttempts caps retries of HTTP 500 responses
	maxServerErrorAttempts = 3

	// rateLimitPadding is added on top of the server's retry-after value
	rateLimitPadding = 3 * time.Second

	// defaultRetryAfter applies when a 429 carries no usable retry-after
	defaultRetryAfter = 1 * time.Second
)

// TokenSource supplies bearer tokens and knows how to re-acquire one
// after the upstream rejects the current token.
type TokenSource interface {
	// Token returns the current bearer token
	Token(ctx context.Context) (string, error)

	// Refresh re-acquires a token after a 401 and returns the new one
	Refresh(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource for services authenticated by a fixed
// bearer token. Refresh always fails: there is nothing to re-acquire.
type StaticToken string

// Token returns the fixed token
func (t StaticToken) Token(_ context.Context) (string, error) {
	return string(t), nil
}

// Refresh fails; a 401 against a static token means the token is bad
func (t StaticToken) Refresh(_ context.Context) (string, error) {
	return "", fmt.Errorf("static token cannot be refreshed")
}

// SleepFunc waits for d or until the context is cancelled
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithSleep replaces the backoff sleep function (used by tests)
func WithSleep(sleep SleepFunc) Option {
	return func(c *Client) { c.sleep = sleep }
}

// WithServerErrorBackoff replaces the randomized 500-backoff generator
func WithServerErrorBackoff(backoff func() time.Duration) Option {
	return func(c *Client) { c.backoff = backoff }
}

// Client issues HTTP requests against one upstream service, applying
// authentication and the engine's retry policy:
//
//   - 401: exactly one token refresh-and-retry per logical request,
//     AuthError if the refresh fails or the retry is rejected again
//   - 429: wait retry-after + 3s, retry with no attempt cap
//   - 500: wait a uniform 1-3s, retry up to 3 attempts, then UpstreamError
//   - any other 4xx/5xx: UpstreamError immediately
//
// Every request/response pair is logged and counted; retry waits suspend
// only the calling goroutine.
type Client struct {
	name    string // service label for logs and metrics
	baseURL string
	tokens  TokenSource
	http    *http.Client
	logger  zerolog.Logger
	sleep   SleepFunc
	backoff func() time.Duration
}

// New creates a Client for the service at baseURL
func New(name, baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  log.WithComponent(name),
		sleep:   sleepContext,
		backoff: serverErrorBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get issues a GET and decodes the JSON response into out (if non-nil)
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.Do(ctx, http.MethodGet, path, query, nil, out)
}

// Post issues a POST with a JSON body and decodes the response into out
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, nil, body, out)
}

// Put issues a PUT with a JSON body and decodes the response into out
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPut, path, nil, body, out)
}

// Do sends one logical request, retrying per the policy above
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return &AuthError{Err: err}
	}

	serverErrors := 0
	refreshed := false

	for {
		status, respBody, header, err := c.roundTrip(ctx, method, u, payload, token)
		if err != nil {
			return &NetworkError{Err: err}
		}

		switch {
		case status >= 200 && status < 300:
			if out == nil || len(respBody) == 0 {
				return nil
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("failed to decode response from %s: %w", u, err)
			}
			return nil

		case status == http.StatusUnauthorized:
			if refreshed {
				return &AuthError{Err: fmt.Errorf("request rejected after token refresh")}
			}
			refreshed = true
			metrics.RetriesTotal.WithLabelValues("token_refresh").Inc()
			c.logger.Warn().Str("url", u).Msg("token rejected, refreshing")
			token, err = c.tokens.Refresh(ctx)
			if err != nil {
				return &AuthError{Err: fmt.Errorf("token refresh failed: %w", err)}
			}

		case status == http.StatusTooManyRequests:
			wait := retryAfter(header.Get("Retry-After")) + rateLimitPadding
			metrics.RetriesTotal.WithLabelValues("rate_limited").Inc()
			c.logger.Warn().
				Str("url", u).
				Dur("wait", wait).
				Msg("rate limited, backing off")
			if err := c.sleep(ctx, wait); err != nil {
				return &NetworkError{Err: err}
			}

		case status == http.StatusInternalServerError:
			serverErrors++
			if serverErrors >= maxServerErrorAttempts {
				return &UpstreamError{Status: status, Body: string(respBody)}
			}
			wait := c.backoff()
			metrics.RetriesTotal.WithLabelValues("server_error").Inc()
			c.logger.Warn().
				Str("url", u).
				Int("attempt", serverErrors).
				Dur("wait", wait).
				Msg("server error, retrying")
			if err := c.sleep(ctx, wait); err != nil {
				return &NetworkError{Err: err}
			}

		default:
			return &UpstreamError{Status: status, Body: string(respBody)}
		}
	}
}

// roundTrip performs a single HTTP exchange and logs it
func (c *Client) roundTrip(ctx context.Context, method, u string, payload []byte, token string) (int, []byte, http.Header, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	duration := time.Since(start)
	if err != nil {
		c.logger.Error().
			Str("method", method).
			Str("url", u).
			Dur("duration", duration).
			Err(err).
			Msg("request failed")
		metrics.UpstreamRequestsTotal.WithLabelValues(c.name, "transport_error").Inc()
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	c.logger.Debug().
		Str("method", method).
		Str("url", u).
		Int("status", resp.StatusCode).
		Dur("duration", duration).
		Msg("request completed")
	metrics.UpstreamRequestsTotal.WithLabelValues(c.name, strconv.Itoa(resp.StatusCode)).Inc()
	metrics.UpstreamRequestDuration.WithLabelValues(c.name).Observe(duration.Seconds())

	return resp.StatusCode, body, resp.Header, nil
}

// retryAfter reads the server's retry-after value in seconds
func retryAfter(header string) time.Duration {
	if header == "" {
		return defaultRetryAfter
	}
	secs, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || secs < 0 {
		return defaultRetryAfter
	}
	return time.Duration(secs) * time.Second
}

// serverErrorBackoff returns a uniform wait in [1s, 3s)
func serverErrorBackoff() time.Duration {
	return time.Second + time.Duration(rand.Int64N(int64(2*time.Second)))
}

// sleepContext waits for d or until ctx is cancelled
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
