package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// SkalerRequestsTotal counts dispatch attempts by provider and outcome
	SkalerRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skaler_requests_total",
			Help: "Total number of dispatched requests",
		},
		[]string{"provider", "outcome"},
	)

	// SkalerNoProviderTotal counts calls rejected because nothing was available
	SkalerNoProviderTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "skaler_no_available_providers_total",
			Help: "Total number of requests rejected with no available provider",
		},
	)

	// SkalerProviderBlocksTotal counts provider blocks caused by failures
	SkalerProviderBlocksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skaler_provider_blocks_total",
			Help: "Total number of times a provider was blocked",
		},
		[]string{"provider"},
	)

	// SkalerProxyBlocksTotal counts proxy blocks caused by probe failures
	SkalerProxyBlocksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skaler_proxy_blocks_total",
			Help: "Total number of times a proxy was blocked",
		},
		[]string{"proxy"},
	)

	// SkalerRequestDuration tracks upstream latency
	SkalerRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "skaler_request_duration_seconds",
			Help:    "Upstream request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// SkalerUsage tracks the current usage counter for a provider
	SkalerUsage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "skaler_usage",
			Help: "Current usage counter for a provider",
		},
		[]string{"provider"},
	)

	// SkalerUsageResetsTotal counts window resets performed by the UsageResetter
	SkalerUsageResetsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "skaler_usage_resets_total",
			Help: "Total number of usage window resets",
		},
	)

	// SkalerEventsPrunedTotal counts events deleted by the PruneWorker
	SkalerEventsPrunedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "skaler_events_pruned_total",
			Help: "Total number of events deleted by retention",
		},
	)
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

func init() {
	// Register metrics with the default registry
	prometheus.MustRegister(SkalerRequestsTotal)
	prometheus.MustRegister(SkalerNoProviderTotal)
	prometheus.MustRegister(SkalerProviderBlocksTotal)
	prometheus.MustRegister(SkalerProxyBlocksTotal)
	prometheus.MustRegister(SkalerRequestDuration)
	prometheus.MustRegister(SkalerUsage)
	prometheus.MustRegister(SkalerUsageResetsTotal)
	prometheus.MustRegister(SkalerEventsPrunedTotal)
}
