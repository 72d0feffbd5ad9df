package client

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// DispatchRequest is a request the daemon relays through its provider pool.
type DispatchRequest struct {
	// Method defaults to GET on the daemon side.
	Method string `json:"method,omitempty"`
	// URL is the required upstream URL.
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	// JSON is sent as an application/json body. Takes precedence over Body.
	JSON json.RawMessage `json:"json,omitempty"`
	Body string          `json:"body,omitempty"`
	// TimeoutSeconds bounds the upstream call (daemon default: 10).
	TimeoutSeconds float64 `json:"timeout_seconds,omitempty"`
}

// BodyEncodingBase64 marks a body the daemon base64-encoded because it was not UTF-8.
const BodyEncodingBase64 = "base64"

// DispatchResponse is the upstream response, passed through verbatim.
type DispatchResponse struct {
	StatusCode   int         `json:"status_code"`
	Headers      http.Header `json:"headers,omitempty"`
	Body         string      `json:"body"`
	BodyEncoding string      `json:"body_encoding,omitempty"`
}

// Bytes returns the raw upstream body, decoding it if the daemon had to.
func (r *DispatchResponse) Bytes() ([]byte, error) {
	switch r.BodyEncoding {
	case "":
		return []byte(r.Body), nil
	case BodyEncodingBase64:
		data, err := base64.StdEncoding.DecodeString(r.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to decode body: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unknown body encoding %q", r.BodyEncoding)
	}
}

// DecodeJSON unmarshals the upstream body into v.
func (r *DispatchResponse) DecodeJSON(v any) error {
	data, err := r.Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

type probeRequest struct {
	Provider string `json:"provider"`
	URL      string `json:"url"`
}

// Health represents the health check response.
type Health struct {
	Status string `json:"status"`
}

type ProviderStatus struct {
	Name      string `json:"name"`
	Usage     int64  `json:"usage"`
	Limit     int64  `json:"limit"`
	Blocked   bool   `json:"blocked"`
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

type ProxyStatus struct {
	Proxy   string `json:"proxy"`
	Blocked bool   `json:"blocked"`
}

// Status is the daemon's provider and proxy snapshot.
type Status struct {
	Providers []ProviderStatus `json:"providers"`
	Proxies   []ProxyStatus    `json:"proxies"`
}

// Event represents one recorded dispatch outcome.
type Event struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	TsEvent    time.Time `json:"ts_event"`
	Provider   string    `json:"provider,omitempty"`
	Proxy      string    `json:"proxy,omitempty"`
	Method     string    `json:"method,omitempty"`
	URL        string    `json:"url,omitempty"`
	StatusCode int       `json:"status_code,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

// APIError is a non-2xx answer from the daemon itself, not from the upstream.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"error"`
	Reason     string `json:"reason,omitempty"`
	Provider   string `json:"provider,omitempty"`
	Proxy      string `json:"proxy,omitempty"`
	// RetryAfter is the daemon's Retry-After header, zero when absent.
	RetryAfter time.Duration `json:"-"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("skaler: %s (HTTP %d)", e.Code, e.StatusCode)
	if e.Provider != "" {
		msg += " provider=" + e.Provider
	}
	if e.Proxy != "" {
		msg += " proxy=" + e.Proxy
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Error codes returned by the daemon.
const (
	CodeNoAvailableProviders = "no_available_providers"
	CodeRequestFailed        = "request_failed"
	CodeProviderBlocked      = "provider_blocked"
	CodeProxyError           = "proxy_error"
	CodeUnknownProvider      = "unknown_provider"
	CodeUnauthorized         = "unauthorized"
)
