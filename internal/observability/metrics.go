package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SearchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "carpool", Name: "searches_total", Help: "Total matching queries by kind"},
		[]string{"kind"},
	)
	SearchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "carpool", Name: "search_latency_seconds", Help: "Matching query latency seconds"},
		[]string{"kind"},
	)
	SearchResults = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "carpool",
		Name:      "search_results",
		Help:      "Rides returned per matching query",
		Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
	})
	MatchScores = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "carpool",
		Name:      "match_score",
		Help:      "Distribution of compatibility scores",
		Buckets:   prometheus.LinearBuckets(50, 5, 11),
	})

	LifecycleOps = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "carpool", Name: "lifecycle_ops_total", Help: "Ride lifecycle operations by outcome"},
		[]string{"op", "result"},
	)
	EventPublishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "carpool",
		Name:      "event_publish_errors_total",
		Help:      "Ride events that could not be published",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "carpool", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "carpool",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
