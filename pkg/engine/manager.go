package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/rmax-ai/skaler/pkg/provider"
	"github.com/rmax-ai/skaler/pkg/requester"
	"github.com/rmax-ai/skaler/pkg/store"
)

var (
	ErrNoProviders = errors.New("manager requires at least one provider")
	ErrNilProvider = errors.New("provider must not be nil")
)

// Request is a caller's outbound request. The manager adds the credential
// and picks the proxy.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
	JSON    any
	Timeout time.Duration
}

// Recorder receives one event per dispatch outcome.
type Recorder interface {
	AppendEvent(ctx context.Context, evt *store.Event) error
}

// Manager selects a provider and proxy for each request, executes a single
// attempt and applies the usage and blocking side effects.
//
// Selection is check-then-act: concurrent callers that all pass IsAvailable
// may push a provider's usage past its limit by the number of requests in flight.
type Manager struct {
	providers []provider.Provider
	byName    map[string]provider.Provider
	proxies   *ProxyPool
	requester requester.Requester
	blockTTL  time.Duration
	recorder  Recorder
	nowFn     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithProxyPool routes requests through pool.
func WithProxyPool(pool *ProxyPool) Option {
	return func(m *Manager) { m.proxies = pool }
}

// WithRequester replaces the default net/http requester.
func WithRequester(r requester.Requester) Option {
	return func(m *Manager) { m.requester = r }
}

// WithBlockTTL sets how long a failing provider or proxy is excluded.
func WithBlockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.blockTTL = ttl
		}
	}
}

// WithRecorder sends dispatch events to r.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// NewManager creates a manager over providers, in priority order.
func NewManager(providers []provider.Provider, opts ...Option) (*Manager, error) {
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}

	m := &Manager{
		providers: make([]provider.Provider, 0, len(providers)),
		byName:    make(map[string]provider.Provider, len(providers)),
		blockTTL:  provider.DefaultBlockTTL,
		nowFn:     time.Now,
	}
	for i, p := range providers {
		if p == nil {
			return nil, fmt.Errorf("%w: index %d", ErrNilProvider, i)
		}
		m.providers = append(m.providers, p)
		if _, ok := m.byName[p.Name()]; !ok {
			m.byName[p.Name()] = p
		}
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.requester == nil {
		m.requester = requester.NewHTTPRequester(nil)
	}
	return m, nil
}

// Providers returns the providers in priority order.
func (m *Manager) Providers() []provider.Provider {
	return append([]provider.Provider(nil), m.providers...)
}

// SendRequest dispatches req through the first available provider.
// It returns ErrNoAvailableProviders without any network attempt when nothing
// is available, and *RequestFailedError after blocking the provider when the
// transport fails. A failure caused by ctx ending is returned without blocking.
// Status codes are never interpreted.
func (m *Manager) SendRequest(ctx context.Context, req Request) (*requester.Response, error) {
	requestID := uuid.NewString()
	logger := log.WithFields(log.Fields{
		"request_id": requestID,
		"method":     req.Method,
		"url":        req.URL,
	})

	prov := m.selectProvider(ctx)
	if prov == nil {
		SkalerNoProviderTotal.Inc()
		logger.Warn("no available providers")
		m.record(ctx, &store.Event{
			EventID:   requestID,
			EventType: store.EventTypeNoAvailableProviders,
			Method:    req.Method,
			URL:       req.URL,
		})
		return nil, ErrNoAvailableProviders
	}

	proxy := m.nextProxy()
	logger = logger.WithFields(log.Fields{"provider": prov.Name(), "proxy": proxy})

	resp, elapsed, err := m.execute(ctx, prov, proxy, req)
	if err != nil {
		SkalerRequestsTotal.WithLabelValues(prov.Name(), outcomeFailure).Inc()
		if abandoned(ctx, err) {
			logger.WithError(err).Info("request abandoned by caller, provider not blocked")
		} else {
			logger.WithError(err).Warn("request failed, blocking provider")
			m.blockProvider(ctx, prov)
		}
		m.record(ctx, &store.Event{
			EventID:    requestID,
			EventType:  store.EventTypeRequestFailed,
			Provider:   prov.Name(),
			Proxy:      proxy,
			Method:     req.Method,
			URL:        req.URL,
			DurationMs: elapsed.Milliseconds(),
			Error:      err.Error(),
		})
		return nil, &RequestFailedError{Provider: prov.Name(), Proxy: proxy, Err: err}
	}

	SkalerRequestsTotal.WithLabelValues(prov.Name(), outcomeSuccess).Inc()
	m.recordUsage(ctx, prov)
	logger.WithField("status", resp.StatusCode).Debug("request dispatched")
	m.record(ctx, &store.Event{
		EventID:    requestID,
		EventType:  store.EventTypeRequestSucceeded,
		Provider:   prov.Name(),
		Proxy:      proxy,
		Method:     req.Method,
		URL:        req.URL,
		StatusCode: resp.StatusCode,
		DurationMs: elapsed.Milliseconds(),
	})
	return resp, nil
}

// Probe sends a GET to url through the named provider and the next proxy,
// bypassing the skip logic of SendRequest. Failures are reported with the
// typed errors SendRequest never returns.
func (m *Manager) Probe(ctx context.Context, name, url string) (*requester.Response, error) {
	prov, ok := m.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	if !prov.IsAvailable(ctx) {
		return nil, &ProviderBlockedError{Provider: name}
	}

	requestID := uuid.NewString()
	proxy := m.nextProxy()
	logger := log.WithFields(log.Fields{
		"request_id": requestID,
		"provider":   name,
		"proxy":      proxy,
		"url":        url,
	})

	evt := &store.Event{
		EventID:  requestID,
		Provider: name,
		Proxy:    proxy,
		Method:   http.MethodGet,
		URL:      url,
	}

	resp, elapsed, err := m.execute(ctx, prov, proxy, Request{Method: http.MethodGet, URL: url})
	evt.DurationMs = elapsed.Milliseconds()
	if err != nil {
		evt.EventType = store.EventTypeProbeFailed
		evt.Error = err.Error()
		m.record(ctx, evt)

		if abandoned(ctx, err) {
			logger.WithError(err).Info("probe abandoned by caller, nothing blocked")
			return nil, &RequestFailedError{Provider: name, Proxy: proxy, Err: err}
		}
		if proxy != "" {
			logger.WithError(err).Warn("probe failed, blocking proxy")
			m.proxies.Block(proxy, m.blockTTL)
			SkalerProxyBlocksTotal.WithLabelValues(proxy).Inc()
			return nil, &ProxyError{Proxy: proxy, Reason: err.Error(), Err: err}
		}
		logger.WithError(err).Warn("probe failed, blocking provider")
		m.blockProvider(ctx, prov)
		return nil, &RequestFailedError{Provider: name, Err: err}
	}

	m.recordUsage(ctx, prov)
	evt.EventType = store.EventTypeProbeSucceeded
	evt.StatusCode = resp.StatusCode
	m.record(ctx, evt)
	return resp, nil
}

func (m *Manager) selectProvider(ctx context.Context) provider.Provider {
	for _, p := range m.providers {
		if p.IsAvailable(ctx) {
			return p
		}
	}
	return nil
}

func (m *Manager) nextProxy() string {
	if m.proxies == nil {
		return ""
	}
	proxy, _ := m.proxies.Next()
	return proxy
}

func (m *Manager) execute(ctx context.Context, prov provider.Provider, proxy string, req Request) (*requester.Response, time.Duration, error) {
	start := m.nowFn()
	resp, err := m.requester.Send(ctx, &requester.Request{
		Method:  req.Method,
		URL:     req.URL,
		Headers: withCredential(req.Headers, prov.Credential()),
		Body:    req.Body,
		JSON:    req.JSON,
		Proxy:   proxy,
		Timeout: req.Timeout,
	})
	elapsed := m.nowFn().Sub(start)
	SkalerRequestDuration.WithLabelValues(prov.Name()).Observe(elapsed.Seconds())
	return resp, elapsed, err
}

// abandoned reports whether err is the caller's own context ending rather
// than a failure of the provider or proxy. A timeout set on the Request
// itself does not count: the caller's ctx is still live in that case.
func abandoned(ctx context.Context, err error) bool {
	return ctx.Err() != nil && errors.Is(err, ctx.Err())
}

// withCredential copies headers and sets the bearer token, replacing any
// caller-supplied Authorization in whatever case it was written.
func withCredential(headers map[string]string, credential string) map[string]string {
	out := make(map[string]string, len(headers)+1)
	for k, v := range headers {
		if credential != "" && strings.EqualFold(k, "Authorization") {
			continue
		}
		out[k] = v
	}
	if credential != "" {
		out["Authorization"] = "Bearer " + credential
	}
	return out
}

// Side effects run detached from the caller's cancellation: the attempt
// already happened, so its bookkeeping must not be lost.

func (m *Manager) blockProvider(ctx context.Context, prov provider.Provider) {
	ctx = context.WithoutCancel(ctx)
	SkalerProviderBlocksTotal.WithLabelValues(prov.Name()).Inc()
	if err := prov.Block(ctx, m.blockTTL); err != nil {
		log.WithError(err).WithField("provider", prov.Name()).Error("failed to block provider")
	}
}

func (m *Manager) recordUsage(ctx context.Context, prov provider.Provider) {
	ctx = context.WithoutCancel(ctx)
	if err := prov.RecordUsage(ctx); err != nil {
		log.WithError(err).WithField("provider", prov.Name()).Error("failed to record usage")
		return
	}
	if r, ok := prov.(provider.Reporter); ok {
		if used, err := r.Usage(ctx); err == nil {
			SkalerUsage.WithLabelValues(prov.Name()).Set(float64(used))
		}
	}
}

func (m *Manager) record(ctx context.Context, evt *store.Event) {
	if m.recorder == nil {
		return
	}
	if evt.TsEvent.IsZero() {
		evt.TsEvent = m.nowFn().UTC()
	}
	if err := m.recorder.AppendEvent(context.WithoutCancel(ctx), evt); err != nil {
		log.WithError(err).WithField("event_type", evt.EventType).Warn("failed to record event")
	}
}
