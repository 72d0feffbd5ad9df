// Package requester executes single HTTP requests, optionally through a proxy.
// It never retries and never interprets status codes: any response is a success,
// only transport-level failures are errors.
package requester

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// DefaultTimeout bounds a request when the caller does not set one.
const DefaultTimeout = 10 * time.Second

// Request describes one outbound call.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string

	// Body is sent verbatim. When Body is nil and JSON is set, JSON is encoded
	// and Content-Type defaults to application/json.
	Body []byte
	JSON any

	// Proxy is a proxy URL; empty means a direct connection.
	Proxy   string
	Timeout time.Duration
}

// Response is the fully read upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Text returns the body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Requester sends a request and returns the response or a transport error.
type Requester interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// HTTPRequester is the net/http implementation of Requester.
// It keeps one pooled transport per proxy.
type HTTPRequester struct {
	base           *http.Transport
	defaultTimeout time.Duration

	mu         sync.Mutex
	transports map[string]*http.Transport
}

// NewHTTPRequester creates a requester whose transports are cloned from base.
// A nil base uses http.DefaultTransport settings.
func NewHTTPRequester(base *http.Transport) *HTTPRequester {
	if base == nil {
		base = http.DefaultTransport.(*http.Transport)
	}
	return &HTTPRequester{
		base:           base.Clone(),
		defaultTimeout: DefaultTimeout,
		transports:     make(map[string]*http.Transport),
	}
}

// SetDefaultTimeout replaces DefaultTimeout for requests without their own.
func (r *HTTPRequester) SetDefaultTimeout(d time.Duration) {
	if d > 0 {
		r.defaultTimeout = d
	}
}

// Send executes req. The whole exchange, body read included, is bounded by req.Timeout.
func (r *HTTPRequester) Send(ctx context.Context, req *Request) (*Response, error) {
	transport, err := r.transportFor(req.Proxy)
	if err != nil {
		return nil, err
	}

	body, contentType, err := encodeBody(req)
	if err != nil {
		return nil, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if contentType != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	client := &http.Client{Transport: transport}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// CloseIdleConnections releases pooled connections on every transport.
func (r *HTTPRequester) CloseIdleConnections() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.transports {
		t.CloseIdleConnections()
	}
}

func (r *HTTPRequester) transportFor(proxy string) (*http.Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.transports[proxy]; ok {
		return t, nil
	}

	t := r.base.Clone()
	if proxy == "" {
		t.Proxy = nil
	} else {
		proxyURL, err := ParseProxyURL(proxy)
		if err != nil {
			return nil, err
		}
		t.Proxy = http.ProxyURL(proxyURL)
	}
	r.transports[proxy] = t
	return t, nil
}

// ParseProxyURL parses a proxy address, assuming http:// when no scheme is given.
func ParseProxyURL(proxy string) (*url.URL, error) {
	if !strings.Contains(proxy, "://") {
		proxy = "http://" + proxy
	}
	u, err := url.Parse(proxy)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy %q: %w", proxy, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid proxy %q: missing host", proxy)
	}
	return u, nil
}

func encodeBody(req *Request) (io.Reader, string, error) {
	if req.Body != nil {
		return bytes.NewReader(req.Body), "", nil
	}
	if req.JSON != nil {
		data, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode JSON body: %w", err)
		}
		return bytes.NewReader(data), "application/json", nil
	}
	return nil, "", nil
}
