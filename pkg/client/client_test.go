package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fixedBackoff waits the same short time on every attempt.
type fixedBackoff time.Duration

func (f fixedBackoff) Next(int, time.Duration) time.Duration { return time.Duration(f) }

// hintRecorder remembers the Retry-After hint passed for each retry.
type hintRecorder struct {
	mu    sync.Mutex
	hints []time.Duration
}

func (h *hintRecorder) Next(_ int, retryAfter time.Duration) time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hints = append(h.hints, retryAfter)
	return time.Millisecond
}

func TestClient_Dispatch(t *testing.T) {
	tests := []struct {
		name         string
		serverStatus int
		serverBody   string
		wantErr      bool
		wantCode     string
		wantStatus   int
	}{
		{
			name:         "Upstream success",
			serverStatus: http.StatusOK,
			serverBody:   `{"status_code":201,"headers":{"X-Id":["1"]},"body":"{\"id\":1}"}`,
			wantStatus:   201,
		},
		{
			name:         "Upstream error passes through",
			serverStatus: http.StatusOK,
			serverBody:   `{"status_code":500,"body":"oops"}`,
			wantStatus:   500,
		},
		{
			name:         "No providers",
			serverStatus: http.StatusServiceUnavailable,
			serverBody:   `{"error":"no_available_providers"}`,
			wantErr:      true,
			wantCode:     CodeNoAvailableProviders,
		},
		{
			name:         "Request failed",
			serverStatus: http.StatusBadGateway,
			serverBody:   `{"error":"request_failed","provider":"openai","reason":"refused"}`,
			wantErr:      true,
			wantCode:     CodeRequestFailed,
		},
		{
			name:         "Non-JSON error",
			serverStatus: http.StatusBadGateway,
			serverBody:   `bad gateway`,
			wantErr:      true,
			wantCode:     "unexpected_status_502",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/v1/dispatch" || r.Method != http.MethodPost {
					t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
				}
				var req DispatchRequest
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					t.Errorf("failed to decode request: %v", err)
				}
				if req.URL != "https://api.example.com" {
					t.Errorf("url not forwarded: %q", req.URL)
				}
				w.WriteHeader(tt.serverStatus)
				w.Write([]byte(tt.serverBody))
			}))
			defer ts.Close()

			c := NewClient(ts.URL)
			resp, err := c.Dispatch(context.Background(), DispatchRequest{Method: "POST", URL: "https://api.example.com"})
			if tt.wantErr {
				var apiErr *APIError
				if !errors.As(err, &apiErr) {
					t.Fatalf("expected *APIError, got %v", err)
				}
				if apiErr.Code != tt.wantCode {
					t.Errorf("Code = %q, want %q", apiErr.Code, tt.wantCode)
				}
				if apiErr.StatusCode != tt.serverStatus {
					t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tt.serverStatus)
				}
				return
			}
			if err != nil {
				t.Fatalf("Dispatch failed: %v", err)
			}
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("StatusCode = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestClient_DispatchRequiresURL(t *testing.T) {
	c := NewClient("http://127.0.0.1:1")
	if _, err := c.Dispatch(context.Background(), DispatchRequest{}); err == nil {
		t.Error("expected validation error")
	}
}

func TestClient_DispatchWithRetry(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"no_available_providers"}`))
			return
		}
		w.Write([]byte(`{"status_code":200,"body":"ok"}`))
	}))
	defer ts.Close()

	c := NewClient(ts.URL, WithBackoff(fixedBackoff(time.Millisecond)))
	resp, err := c.DispatchWithRetry(context.Background(), DispatchRequest{URL: "https://x"})
	if err != nil {
		t.Fatalf("DispatchWithRetry failed: %v", err)
	}
	if resp.Body != "ok" {
		t.Errorf("Body = %q, want ok", resp.Body)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestClient_DispatchWithRetryPassesRetryAfter(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"no_available_providers"}`))
		case 2:
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"no_available_providers"}`))
		default:
			w.Write([]byte(`{"status_code":200,"body":"ok"}`))
		}
	}))
	defer ts.Close()

	rec := &hintRecorder{}
	c := NewClient(ts.URL, WithBackoff(rec))
	if _, err := c.DispatchWithRetry(context.Background(), DispatchRequest{URL: "https://x"}); err != nil {
		t.Fatalf("DispatchWithRetry failed: %v", err)
	}

	want := []time.Duration{7 * time.Second, 0}
	if len(rec.hints) != len(want) || rec.hints[0] != want[0] || rec.hints[1] != want[1] {
		t.Errorf("hints = %v, want %v", rec.hints, want)
	}
}

func TestDispatchResponse_Bytes(t *testing.T) {
	tests := []struct {
		name    string
		resp    DispatchResponse
		want    string
		wantErr bool
	}{
		{name: "text", resp: DispatchResponse{Body: "plain"}, want: "plain"},
		{name: "base64", resp: DispatchResponse{Body: "iVBORw==", BodyEncoding: BodyEncodingBase64}, want: "\x89PNG"},
		{name: "bad base64", resp: DispatchResponse{Body: "***", BodyEncoding: BodyEncodingBase64}, wantErr: true},
		{name: "unknown encoding", resp: DispatchResponse{Body: "x", BodyEncoding: "gzip"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.resp.Bytes()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Bytes failed: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Bytes() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClient_DispatchWithRetryGivesUp(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"no_available_providers"}`))
	}))
	defer ts.Close()

	c := NewClient(ts.URL, WithBackoff(fixedBackoff(time.Millisecond)), WithMaxRetries(2))
	_, err := c.DispatchWithRetry(context.Background(), DispatchRequest{URL: "https://x"})
	if !IsNoAvailableProviders(err) {
		t.Fatalf("expected no_available_providers, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 1 attempt + 2 retries, got %d", calls.Load())
	}
}

func TestClient_DispatchWithRetryDoesNotRetryFailures(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":"request_failed","provider":"openai"}`))
	}))
	defer ts.Close()

	c := NewClient(ts.URL, WithBackoff(fixedBackoff(time.Millisecond)))
	_, err := c.DispatchWithRetry(context.Background(), DispatchRequest{URL: "https://x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single attempt, got %d", calls.Load())
	}
}

func TestClient_DispatchWithRetryHonoursContext(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"no_available_providers"}`))
	}))
	defer ts.Close()

	c := NewClient(ts.URL, WithBackoff(fixedBackoff(time.Hour)))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.DispatchWithRetry(ctx, DispatchRequest{URL: "https://x"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestClient_Token(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer s3cret" {
			t.Errorf("Authorization = %q", got)
		}
		w.Write([]byte(`{"status_code":200,"body":""}`))
	}))
	defer ts.Close()

	c := NewClient(ts.URL, WithToken("s3cret"))
	if _, err := c.Probe(context.Background(), "openai", "https://x"); err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
}

func TestClient_Ping(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/health" {
			t.Errorf("Expected path /v1/health, got %s", r.URL.Path)
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer ts.Close()

	c := NewClient(ts.URL + "/")
	h, err := c.Ping(context.Background())
	if err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	if h.Status != "ok" {
		t.Errorf("Status = %q, want ok", h.Status)
	}
}

func TestClient_StatusAndEvents(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/status":
			w.Write([]byte(`{"providers":[{"name":"openai","usage":2,"limit":10,"available":true}],"proxies":[{"proxy":"p1","blocked":true}]}`))
		case "/v1/events":
			if r.URL.Query().Get("limit") != "50" {
				t.Errorf("limit = %q, want default 50", r.URL.Query().Get("limit"))
			}
			w.Write([]byte(`[{"event_id":"e1","event_type":"request_succeeded","provider":"openai","status_code":200}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	st, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if len(st.Providers) != 1 || st.Providers[0].Usage != 2 || !st.Proxies[0].Blocked {
		t.Errorf("unexpected status: %+v", st)
	}

	events, err := c.GetEvents(context.Background(), 0)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(events) != 1 || events[0].EventID != "e1" || events[0].StatusCode != 200 {
		t.Errorf("unexpected events: %+v", events)
	}
}

func TestClient_Unreachable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL
	ts.Close()

	c := NewClient(url)
	if _, err := c.Ping(context.Background()); err == nil {
		t.Error("expected error for unreachable daemon")
	}
}

func TestClient_Report(t *testing.T) {
	from := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/v1/reports" || q.Get("type") != "usage" {
			http.Error(w, `{"error":"missing_type"}`, http.StatusBadRequest)
			return
		}
		if q.Get("from") != "2026-01-02T03:04:05Z" || q.Get("provider") != "openai" || q.Has("to") {
			t.Errorf("unexpected query %v", q)
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Write([]byte("provider,succeeded\nopenai,3\n"))
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	data, err := c.Report(context.Background(), "usage", ReportOptions{From: from, Provider: "openai"})
	if err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	if string(data) != "provider,succeeded\nopenai,3\n" {
		t.Errorf("unexpected report %q", data)
	}

	_, err = c.Report(context.Background(), "", ReportOptions{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "missing_type" {
		t.Errorf("expected missing_type APIError, got %v", err)
	}
}

func TestAPIError_Message(t *testing.T) {
	err := &APIError{StatusCode: 502, Code: CodeRequestFailed, Provider: "openai", Reason: "refused"}
	want := "skaler: request_failed (HTTP 502) provider=openai: refused"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
