package api

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/rmax-ai/skaler/pkg/engine"
	"github.com/rmax-ai/skaler/pkg/reports"
	"github.com/rmax-ai/skaler/pkg/requester"
	"github.com/rmax-ai/skaler/pkg/store"
)

// Context keys
type contextKey string

const traceIDKey contextKey = "trace_id"

const (
	// DefaultAddr is used when NewServer gets an empty address.
	DefaultAddr = "127.0.0.1:8095"

	// MaxDispatchTimeout bounds timeout_seconds and the daemon's default
	// upstream timeout; the server's write deadline leaves slack above it.
	MaxDispatchTimeout = 110 * time.Second
	writeTimeout       = MaxDispatchTimeout + 10*time.Second

	maxBodyBytes = 10 << 20
)

// Interfaces for dependencies to enable mocking

// Dispatcher is the subset of engine.Manager the API relays to.
type Dispatcher interface {
	SendRequest(ctx context.Context, req engine.Request) (*requester.Response, error)
	Probe(ctx context.Context, name, url string) (*requester.Response, error)
	Status(ctx context.Context) engine.Status
}

// EventReader serves the dispatch history.
type EventReader interface {
	ReadRecentEvents(ctx context.Context, limit int) ([]*store.Event, error)
}

// Server encapsulates the HTTP API server
type Server struct {
	dispatcher Dispatcher
	events     EventReader
	server     *http.Server

	// sha256 of the bearer token required on /v1/dispatch and /v1/probe; empty disables auth.
	tokenHash []byte

	// Retry-After sent with no_available_providers; zero omits the header.
	retryAfter time.Duration

	// TLS Config
	tlsCertFile string
	tlsKeyFile  string
}

// NewServer creates a new API server instance. events may be nil.
func NewServer(d Dispatcher, events EventReader, addr string) *Server {
	s := &Server{
		dispatcher: d,
		events:     events,
	}

	mux := http.NewServeMux()

	// Register routes
	mux.HandleFunc("/v1/health", handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/v1/dispatch", s.withAuth(s.handleDispatch))
	mux.HandleFunc("/v1/probe", s.withAuth(s.handleProbe))
	mux.HandleFunc("/v1/status", s.handleStatus)
	mux.HandleFunc("/v1/events", s.handleEvents)
	mux.HandleFunc("/v1/reports", s.handleReports)

	// Middleware: Logging, Panic Recovery, Security Headers
	handler := withLogging(withRecovery(withSecureHeaders(mux)))

	if addr == "" {
		addr = DefaultAddr
	}

	s.server = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Handler exposes the full middleware chain, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// SetAuthToken requires "Authorization: Bearer <token>" on dispatch and probe.
func (s *Server) SetAuthToken(token string) {
	if token == "" {
		s.tokenHash = nil
		return
	}
	s.tokenHash = hashToken(token)
}

// SetRetryAfter advertises how long callers should wait after
// no_available_providers, rounded up to whole seconds.
func (s *Server) SetRetryAfter(d time.Duration) {
	s.retryAfter = d
}

// SetTLS configures the server to use TLS
func (s *Server) SetTLS(certFile, keyFile string) {
	s.tlsCertFile = certFile
	s.tlsKeyFile = keyFile
}

// Start runs the HTTP server (blocking)
func (s *Server) Start() error {
	logger := log.WithField("addr", s.server.Addr)
	if s.tlsCertFile != "" && s.tlsKeyFile != "" {
		logger.Info("server_starting_tls")
		if err := s.server.ListenAndServeTLS(s.tlsCertFile, s.tlsKeyFile); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
	logger.Info("server_starting")
	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	log.Info("server_stopping")
	return s.server.Shutdown(ctx)
}

// handleDispatch relays one request through the manager.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method_not_allowed"})
		return
	}

	var req DispatchRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Reason: err.Error()})
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Reason: "url is required"})
		return
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if req.TimeoutSeconds < 0 || req.TimeoutSeconds > MaxDispatchTimeout.Seconds() {
		writeError(w, http.StatusBadRequest, ErrorResponse{
			Error:  "invalid_request",
			Reason: fmt.Sprintf("timeout_seconds must be between 0 and %g", MaxDispatchTimeout.Seconds()),
		})
		return
	}

	out := engine.Request{
		Method:  req.Method,
		URL:     req.URL,
		Headers: req.Headers,
		Timeout: time.Duration(req.TimeoutSeconds * float64(time.Second)),
	}
	switch {
	case len(req.JSON) > 0 && string(req.JSON) != "null":
		out.Body = req.JSON
		if !hasHeader(req.Headers, "Content-Type") {
			out.Headers = withHeader(req.Headers, "Content-Type", "application/json")
		}
	case req.Body != "":
		out.Body = []byte(req.Body)
	}

	resp, err := s.dispatcher.SendRequest(r.Context(), out)
	if err != nil {
		s.writeDispatchError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toDispatchResponse(resp))
}

// handleProbe runs the health-check path for a single provider.
func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method_not_allowed"})
		return
	}

	var req ProbeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Reason: err.Error()})
		return
	}
	if req.Provider == "" || req.URL == "" {
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Reason: "provider and url are required"})
		return
	}

	resp, err := s.dispatcher.Probe(r.Context(), req.Provider, req.URL)
	if err != nil {
		s.writeDispatchError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toDispatchResponse(resp))
}

// handleStatus returns the provider and proxy snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method_not_allowed"})
		return
	}
	writeJSON(w, r, http.StatusOK, s.dispatcher.Status(r.Context()))
}

// handleEvents returns recent events for diagnostics.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method_not_allowed"})
		return
	}

	limit := store.DefaultEventLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil && val > 0 {
			limit = val
		}
	}

	if s.events == nil {
		writeJSON(w, r, http.StatusOK, []*store.Event{})
		return
	}

	events, err := s.events.ReadRecentEvents(r.Context(), limit)
	if err != nil {
		log.WithError(err).WithField("trace_id", getTraceID(r.Context())).Error("failed_to_read_events")
		writeError(w, http.StatusInternalServerError, ErrorResponse{Error: "internal_server_error"})
		return
	}
	if events == nil {
		events = []*store.Event{}
	}
	writeJSON(w, r, http.StatusOK, events)
}

// handleReports generates and streams CSV reports over the event log.
func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method_not_allowed"})
		return
	}
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, ErrorResponse{Error: "events_unavailable"})
		return
	}

	q := r.URL.Query()
	reportType := reports.ReportType(q.Get("type"))
	if reportType == "" {
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: "missing_type"})
		return
	}

	// Default time range: last 24h if not specified
	to := time.Now()
	if toStr := q.Get("to"); toStr != "" {
		var err error
		if to, err = time.Parse(time.RFC3339, toStr); err != nil {
			writeError(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_to", Reason: "to must be RFC3339"})
			return
		}
	}
	from := to.Add(-24 * time.Hour)
	if fromStr := q.Get("from"); fromStr != "" {
		var err error
		if from, err = time.Parse(time.RFC3339, fromStr); err != nil {
			writeError(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_from", Reason: "from must be RFC3339"})
			return
		}
	}

	gen, err := reports.NewReportGenerator(reportType, s.events)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_report_type", Reason: err.Error()})
		return
	}

	reader, err := gen.Generate(r.Context(), reports.ReportParams{
		Start:    from,
		End:      to,
		Provider: q.Get("provider"),
	})
	if err != nil {
		log.WithError(err).WithField("trace_id", getTraceID(r.Context())).Error("failed_to_generate_report")
		writeError(w, http.StatusInternalServerError, ErrorResponse{Error: "report_generation_failed"})
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	filename := fmt.Sprintf("report_%s_%d.csv", reportType, time.Now().Unix())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	if _, err := io.Copy(w, reader); err != nil {
		log.WithError(err).WithField("trace_id", getTraceID(r.Context())).Error("failed_to_stream_report")
	}
}

func (s *Server) writeDispatchError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		failed   *engine.RequestFailedError
		blocked  *engine.ProviderBlockedError
		proxyErr *engine.ProxyError
	)
	switch {
	case errors.Is(err, engine.ErrNoAvailableProviders):
		if s.retryAfter > 0 {
			secs := int64((s.retryAfter + time.Second - 1) / time.Second)
			w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
		}
		writeError(w, http.StatusServiceUnavailable, ErrorResponse{Error: "no_available_providers"})
	case errors.Is(err, engine.ErrUnknownProvider):
		writeError(w, http.StatusNotFound, ErrorResponse{Error: "unknown_provider", Reason: err.Error()})
	case errors.As(err, &blocked):
		writeError(w, http.StatusLocked, ErrorResponse{Error: "provider_blocked", Provider: blocked.Provider})
	case errors.As(err, &proxyErr):
		writeError(w, http.StatusBadGateway, ErrorResponse{Error: "proxy_error", Proxy: proxyErr.Proxy, Reason: proxyErr.Reason})
	case errors.As(err, &failed):
		status := http.StatusBadGateway
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		writeError(w, status, ErrorResponse{
			Error:    "request_failed",
			Provider: failed.Provider,
			Proxy:    failed.Proxy,
			Reason:   failed.Err.Error(),
		})
	default:
		log.WithError(err).WithField("trace_id", getTraceID(r.Context())).Error("dispatch_failed")
		writeError(w, http.StatusInternalServerError, ErrorResponse{Error: "internal_server_error"})
	}
}

func toDispatchResponse(resp *requester.Response) DispatchResponse {
	out := DispatchResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		Body:       resp.Text(),
	}
	if !utf8.Valid(resp.Body) {
		out.Body = base64.StdEncoding.EncodeToString(resp.Body)
		out.BodyEncoding = BodyEncodingBase64
	}
	return out
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func hasHeader(headers map[string]string, name string) bool {
	for k := range headers {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}

func withHeader(headers map[string]string, name, value string) map[string]string {
	out := make(map[string]string, len(headers)+1)
	for k, v := range headers {
		out[k] = v
	}
	out[name] = value
	return out
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).WithField("trace_id", getTraceID(r.Context())).Error("failed_to_encode_response")
	}
}

func writeError(w http.ResponseWriter, status int, body ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// handleHealth returns simple status
func handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// Middleware: Auth
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.tokenHash == nil {
			next(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Reason: "missing_token"})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeError(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Reason: "invalid_token_format"})
			return
		}

		if subtle.ConstantTimeCompare(hashToken(parts[1]), s.tokenHash) != 1 {
			writeError(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Reason: "invalid_token"})
			return
		}

		next(w, r)
	}
}

// Middleware: Panic Recovery
func withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.WithFields(log.Fields{"error": err, "path": r.URL.Path}).Error("panic_recovered")
				writeError(w, http.StatusInternalServerError, ErrorResponse{Error: "internal_server_error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Middleware: Request Logging
func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = uuid.NewString()
		}

		ctx := context.WithValue(r.Context(), traceIDKey, traceID)
		r = r.WithContext(ctx)

		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		w.Header().Set("X-Trace-ID", traceID)

		next.ServeHTTP(ww, r)

		log.WithFields(log.Fields{
			"trace_id":    traceID,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.status,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info("http_request")
	})
}

func getTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// statusWriter captures HTTP status code
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func hashToken(token string) []byte {
	hash := sha256.Sum256([]byte(token))
	return hash[:]
}

// Middleware: Secure Headers
func withSecureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")

		next.ServeHTTP(w, r)
	})
}
