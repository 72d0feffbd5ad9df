package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultEndpoint is the daemon's default listen address.
const DefaultEndpoint = "http://127.0.0.1:8095"

// DefaultMaxRetries bounds DispatchWithRetry.
const DefaultMaxRetries = 5

// Client is the skaler SDK client.
type Client struct {
	endpoint   string
	token      string
	http       *http.Client
	backoff    BackoffStrategy
	maxRetries int
}

// Option configures a Client.
type Option func(*Client)

// WithToken sends "Authorization: Bearer <token>" to the daemon.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithBackoff sets the strategy used by DispatchWithRetry.
func WithBackoff(b BackoffStrategy) Option {
	return func(c *Client) {
		if b != nil {
			c.backoff = b
		}
	}
}

// WithMaxRetries sets how many times DispatchWithRetry retries after the first attempt.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// NewClient creates a new skaler client.
// endpoint defaults to DefaultEndpoint if empty.
func NewClient(endpoint string, opts ...Option) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	c := &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		http: &http.Client{
			// Covers the daemon's upstream timeout plus relay overhead.
			Timeout: 2 * time.Minute,
		},
		backoff:    DefaultBackoff(),
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dispatch relays one request through the daemon. Upstream status codes are
// returned in the response; only daemon-level failures become an *APIError.
func (c *Client) Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResponse, error) {
	if req.URL == "" {
		return nil, fmt.Errorf("invalid dispatch request: url is required")
	}
	var out DispatchResponse
	if err := c.do(ctx, http.MethodPost, "/v1/dispatch", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DispatchWithRetry is Dispatch with caller-side backoff while the daemon
// reports no available providers, passing the daemon's Retry-After hint to the
// backoff strategy. Every other error is returned immediately, since the
// daemon already blocked the failing provider.
func (c *Client) DispatchWithRetry(ctx context.Context, req DispatchRequest) (*DispatchResponse, error) {
	for attempt := 0; ; attempt++ {
		resp, err := c.Dispatch(ctx, req)
		if err == nil || !IsNoAvailableProviders(err) || attempt >= c.maxRetries {
			return resp, err
		}

		var apiErr *APIError
		errors.As(err, &apiErr)

		select {
		case <-time.After(c.backoff.Next(attempt, apiErr.RetryAfter)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Probe sends a health-check GET through the named provider.
func (c *Client) Probe(ctx context.Context, provider, target string) (*DispatchResponse, error) {
	var out DispatchResponse
	if err := c.do(ctx, http.MethodPost, "/v1/probe", probeRequest{Provider: provider, URL: target}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status fetches the provider and proxy snapshot.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.do(ctx, http.MethodGet, "/v1/status", nil, &st)
	return st, err
}

// GetEvents fetches recent events from the daemon, newest first.
func (c *Client) GetEvents(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	var events []Event
	path := "/v1/events?" + url.Values{"limit": {fmt.Sprint(limit)}}.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// ReportOptions selects the window and provider of a CSV report.
// Zero times use the daemon's default of the last 24 hours.
type ReportOptions struct {
	From     time.Time
	To       time.Time
	Provider string
}

// Report downloads a CSV report ("access_log" or "usage").
func (c *Client) Report(ctx context.Context, reportType string, opts ReportOptions) ([]byte, error) {
	q := url.Values{"type": {reportType}}
	if !opts.From.IsZero() {
		q.Set("from", opts.From.UTC().Format(time.RFC3339))
	}
	if !opts.To.IsZero() {
		q.Set("to", opts.To.UTC().Format(time.RFC3339))
	}
	if opts.Provider != "" {
		q.Set("provider", opts.Provider)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/v1/reports?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	return data, nil
}

// Ping checks the health of the daemon.
func (c *Client) Ping(ctx context.Context) (Health, error) {
	var h Health
	err := c.do(ctx, http.MethodGet, "/v1/health", nil, &h)
	return h, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.send(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) send(req *http.Request) (*http.Response, error) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("daemon unreachable: %w", err)
	}
	return resp, nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		apiErr.RetryAfter = time.Duration(secs) * time.Second
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Code == "" {
		apiErr.Code = fmt.Sprintf("unexpected_status_%d", resp.StatusCode)
		apiErr.Reason = strings.TrimSpace(string(data))
	}
	return apiErr
}

// IsNoAvailableProviders reports whether err means every provider was busy.
func IsNoAvailableProviders(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == CodeNoAvailableProviders
}
