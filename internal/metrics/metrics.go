// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProviderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "liveclass",
		Name:      "provider_requests_total",
		Help:      "Meeting provider API calls by operation and HTTP status.",
	}, []string{"operation", "status"})

	ProviderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "liveclass",
		Name:      "provider_request_duration_seconds",
		Help:      "Meeting provider API latency, including retries.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "liveclass",
		Name:      "token_refresh_total",
		Help:      "OAuth token exchanges by result.",
	}, []string{"result"})

	PartialFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "liveclass",
		Name:      "partial_failures_total",
		Help:      "Orchestration calls that left remote and local state diverged.",
	}, []string{"operation"})

	CleanupJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "liveclass",
		Name:      "cleanup_jobs_total",
		Help:      "Orphaned meeting cleanup jobs by result.",
	}, []string{"result"})
)
