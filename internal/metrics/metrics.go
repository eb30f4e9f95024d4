// Package metrics holds the Prometheus collectors shared by the service and
// its HTTP layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EngagementToggles counts ledger mutations by edge kind and outcome
	// (added, removed, joined, already_member, error).
	EngagementToggles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ideaforge_engagement_toggles_total",
		Help: "Engagement ledger mutations by kind and result",
	}, []string{"kind", "result"})

	CommentsPosted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ideaforge_comments_posted_total",
		Help: "Comments posted by subject type",
	}, []string{"subject_type"})

	Promotions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ideaforge_promotions_total",
		Help: "Idea promotions by result",
	}, []string{"result"})

	// ReadRetries counts read transactions retried after a transient failure.
	ReadRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ideaforge_read_retries_total",
		Help: "Read transactions retried after a transient store failure",
	})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ideaforge_http_request_duration_seconds",
		Help:    "HTTP request duration by route pattern and status class",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"method", "route", "status"})
)
