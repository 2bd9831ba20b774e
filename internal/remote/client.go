package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// MaxRetries is the maximum number of retry attempts for retryable errors
	MaxRetries = 3

	// DefaultBackoff is the initial backoff duration for exponential backoff
	DefaultBackoff = 1 * time.Second

	// DefaultTimeout bounds every request so a stalled call fails instead of hanging
	DefaultTimeout = 30 * time.Second
)

// Client wraps http.Client with authentication and retry logic.
// Automatically injects:
// - Authorization: Bearer <token> (production) OR X-Debug-Sub (dev mode)
// - X-Correlation-ID: <uuid>
//
// Handles retries for:
// - 401 Unauthorized: invalidate token, retry
// - 429 Too Many Requests: respect Retry-After, exponential backoff
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource // nil in dev mode
	debugSub   string
	backoff    time.Duration
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBackoff sets the initial 429 backoff when no Retry-After is sent
func WithBackoff(d time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

// WithDebugSubject switches the client to dev mode, authenticating with X-Debug-Sub
func WithDebugSubject(sub string) Option {
	return func(c *Client) {
		c.debugSub = sub
		c.tokens = nil
	}
}

// NewClient creates a client for the backend at baseURL
func NewClient(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		tokens:     tokens,
		backoff:    DefaultBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Upsert sends record with merge-duplicates resolution
func (c *Client) Upsert(ctx context.Context, table string, record map[string]any) error {
	return c.send(ctx, http.MethodPost, c.tableURL(table, ""), record, "resolution=merge-duplicates")
}

// Update patches the row with id
func (c *Client) Update(ctx context.Context, table string, partial map[string]any, id string) error {
	return c.send(ctx, http.MethodPatch, c.tableURL(table, id), partial, "")
}

// Delete deletes the row with id
func (c *Client) Delete(ctx context.Context, table, id string) error {
	return c.send(ctx, http.MethodDelete, c.tableURL(table, id), nil, "")
}

// Health checks the backend; any transport error or non-2xx status fails
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	return nil
}

func (c *Client) tableURL(table, id string) string {
	u := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, url.PathEscape(table))
	if id != "" {
		u += "?id=eq." + url.QueryEscape(id)
	}
	return u
}

func (c *Client) send(ctx context.Context, method, reqURL string, body map[string]any, prefer string) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Do executes an HTTP request with auto-injection of auth headers and retry logic
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	correlationID := uuid.New().String()

	logger := log.With().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Str("correlationId", correlationID).
		Logger()

	return c.doWithRetry(ctx, req, &logger, correlationID, 0)
}

// authorize sets the auth header for one attempt
func (c *Client) authorize(ctx context.Context, h http.Header) error {
	if c.tokens == nil {
		h.Set("X-Debug-Sub", c.debugSub)
		return nil
	}
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("failed to get auth token: %w", err)
	}
	h.Set("Authorization", "Bearer "+token)
	return nil
}

// doWithRetry handles retry logic for 401 and 429
func (c *Client) doWithRetry(ctx context.Context, req *http.Request, logger *zerolog.Logger, correlationID string, retryCount int) (*http.Response, error) {
	// Clone request (body may need to be re-sent on retry)
	reqClone, err := cloneRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to clone request: %w", err)
	}

	reqClone.Header.Set("X-Correlation-ID", correlationID)

	// Fresh credentials on each attempt
	if err := c.authorize(ctx, reqClone.Header); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(reqClone)
	duration := time.Since(start)

	if err != nil {
		logger.Debug().Err(err).Dur("duration", duration).Msg("HTTP request failed")
		return nil, err
	}

	logger.Debug().
		Int("status", resp.StatusCode).
		Dur("duration", duration).
		Int("retryCount", retryCount).
		Msg("HTTP request completed")

	switch resp.StatusCode {
	case http.StatusUnauthorized: // 401
		return c.handleUnauthorized(ctx, req, resp, logger, correlationID, retryCount)

	case http.StatusTooManyRequests: // 429
		return c.handleRateLimit(ctx, req, resp, logger, correlationID, retryCount)

	default:
		// Success or non-retryable error - return as-is
		return resp, nil
	}
}

// handleUnauthorized invalidates the token and retries.
// In dev mode, or once retries run out, the 401 is returned to the caller.
func (c *Client) handleUnauthorized(ctx context.Context, req *http.Request, resp *http.Response, logger *zerolog.Logger, correlationID string, retryCount int) (*http.Response, error) {
	if c.tokens == nil || retryCount >= MaxRetries {
		logger.Warn().Int("retryCount", retryCount).Msg("401 Unauthorized - giving up")
		return resp, nil
	}
	resp.Body.Close()

	logger.Warn().Msg("401 Unauthorized - invalidating token and retrying")
	c.tokens.Invalidate()

	return c.doWithRetry(ctx, req, logger, correlationID, retryCount+1)
}

// handleRateLimit handles 429 Too Many Requests with exponential backoff
func (c *Client) handleRateLimit(ctx context.Context, req *http.Request, resp *http.Response, logger *zerolog.Logger, correlationID string, retryCount int) (*http.Response, error) {
	resp.Body.Close()

	// Parse Retry-After header (seconds or HTTP-date)
	retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))

	if retryCount >= MaxRetries {
		logger.Warn().Msg("Rate limited - max retries exceeded")
		return nil, ErrRateLimited{RetryAfter: int(retryAfter.Seconds())}
	}

	if retryAfter == 0 {
		retryAfter = c.backoff * time.Duration(1<<retryCount)
	}

	logger.Warn().
		Dur("retryAfter", retryAfter).
		Int("retryCount", retryCount).
		Str("rateLimitRemaining", resp.Header.Get("X-RateLimit-Remaining")).
		Msg("Rate limited - backing off")

	select {
	case <-time.After(retryAfter):
		return c.doWithRetry(ctx, req, logger, correlationID, retryCount+1)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// cloneRequest creates a copy of an HTTP request for retry
// Preserves the request body by reading and restoring it
func cloneRequest(ctx context.Context, req *http.Request) (*http.Request, error) {
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body.Close()
		req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
	}

	reqClone, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, err
	}

	for k, v := range req.Header {
		if k == "Authorization" || k == "X-Debug-Sub" {
			continue // re-injected per attempt
		}
		reqClone.Header[k] = v
	}

	return reqClone, nil
}

// parseRetryAfter parses the Retry-After header
// Supports both integer seconds and HTTP-date format
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}

	return 0
}
