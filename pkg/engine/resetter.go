package engine

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rmax-ai/skaler/pkg/provider"
)

// DefaultUsageWindow is the rate-limit window a UsageResetter enforces by default.
const DefaultUsageWindow = time.Minute

// UsageResetter clears every provider's usage counter once per window,
// turning monotonic counting into a per-window limit.
type UsageResetter struct {
	providers []provider.Provider
	window    time.Duration
}

// NewUsageResetter creates a resetter. A non-positive window uses DefaultUsageWindow.
func NewUsageResetter(providers []provider.Provider, window time.Duration) *UsageResetter {
	if window <= 0 {
		window = DefaultUsageWindow
	}
	return &UsageResetter{providers: providers, window: window}
}

// Start runs the reset loop until the context is cancelled.
func (r *UsageResetter) Start(ctx context.Context) {
	ticker := time.NewTicker(r.window)
	defer ticker.Stop()

	log.WithField("window", r.window).Info("usage resetter started")

	for {
		select {
		case <-ctx.Done():
			log.Info("usage resetter stopping due to context cancellation")
			return
		case <-ticker.C:
			r.ResetAll(ctx)
		}
	}
}

// ResetAll clears usage for every provider that supports it and returns how many were reset.
func (r *UsageResetter) ResetAll(ctx context.Context) int {
	reset := 0
	for _, p := range r.providers {
		rs, ok := p.(provider.Resetter)
		if !ok {
			continue
		}
		if err := rs.ResetUsage(ctx); err != nil {
			log.WithError(err).WithField("provider", p.Name()).Warn("failed to reset usage")
			continue
		}
		SkalerUsage.WithLabelValues(p.Name()).Set(0)
		reset++
	}
	SkalerUsageResetsTotal.Inc()
	return reset
}
