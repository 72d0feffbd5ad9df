package engine

import (
	"context"

	"github.com/rmax-ai/skaler/pkg/provider"
)

// ProviderStatus describes one provider at the time of the snapshot.
// Limit is zero for providers without a quota.
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

// Status is a point-in-time view of providers and proxies, in priority order.
type Status struct {
	Providers []ProviderStatus `json:"providers"`
	Proxies   []ProxyStatus    `json:"proxies"`
}

// Status builds a snapshot. Store errors are reported per provider, not returned.
func (m *Manager) Status(ctx context.Context) Status {
	st := Status{
		Providers: make([]ProviderStatus, 0, len(m.providers)),
		Proxies:   []ProxyStatus{},
	}

	for _, p := range m.providers {
		ps := ProviderStatus{Name: p.Name(), Available: p.IsAvailable(ctx)}
		if r, ok := p.(provider.Reporter); ok {
			ps.Limit = r.Limit()
			if used, err := r.Usage(ctx); err != nil {
				ps.Error = err.Error()
			} else {
				ps.Usage = used
				SkalerUsage.WithLabelValues(p.Name()).Set(float64(used))
			}
			if blocked, err := r.IsBlocked(ctx); err != nil {
				ps.Error = err.Error()
			} else {
				ps.Blocked = blocked
			}
		}
		st.Providers = append(st.Providers, ps)
	}

	if m.proxies != nil {
		for _, proxy := range m.proxies.Proxies() {
			st.Proxies = append(st.Proxies, ProxyStatus{
				Proxy:   proxy,
				Blocked: m.proxies.IsBlocked(proxy),
			})
		}
	}
	return st
}
