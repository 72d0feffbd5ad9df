package api

import "encoding/json"

// DispatchRequest matches the POST /v1/dispatch body schema
type DispatchRequest struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	// JSON is forwarded verbatim as an application/json body.
	JSON json.RawMessage `json:"json,omitempty"`
	// Body is forwarded as-is when JSON is empty.
	Body           string  `json:"body,omitempty"`
	TimeoutSeconds float64 `json:"timeout_seconds,omitempty"`
}

// BodyEncodingBase64 marks a DispatchResponse body that was not valid UTF-8.
const BodyEncodingBase64 = "base64"

// DispatchResponse carries the upstream response verbatim
type DispatchResponse struct {
	StatusCode int                 `json:"status_code"`
	Headers    map[string][]string `json:"headers,omitempty"`
	Body       string              `json:"body"`
	// BodyEncoding is empty for UTF-8 text and "base64" otherwise.
	BodyEncoding string `json:"body_encoding,omitempty"`
}

// ProbeRequest matches the POST /v1/probe body schema
type ProbeRequest struct {
	Provider string `json:"provider"`
	URL      string `json:"url"`
}

// ErrorResponse is the JSON body of every non-2xx answer
type ErrorResponse struct {
	Error    string `json:"error"`
	Reason   string `json:"reason,omitempty"`
	Provider string `json:"provider,omitempty"`
	Proxy    string `json:"proxy,omitempty"`
}
