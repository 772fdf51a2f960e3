package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jobchat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Backend business metrics
	MessagesPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jobchat_messages_persisted_total",
			Help: "Messages written to storage",
		},
	)

	MessagesReplayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jobchat_messages_idempotent_replays_total",
			Help: "Message writes answered with an existing record for the same client token",
		},
	)

	AttachmentsUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jobchat_attachments_uploaded_total",
			Help: "Attachments stored in object storage",
		},
	)

	OrphansRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jobchat_orphan_attachments_removed_total",
			Help: "Uploaded objects removed because no message references them",
		},
	)

	// Push metrics
	LiveSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobchat_live_subscribers",
			Help: "Open live subscriptions",
		},
	)

	PushDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jobchat_push_delivered_total",
			Help: "Messages handed to live subscribers",
		},
	)

	PushEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jobchat_push_evicted_total",
			Help: "Live subscribers dropped because their buffer was full",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobchat_rate_limit_hits_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"route"},
	)

	// Client sync metrics
	ChatResyncs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jobchat_client_resyncs_total",
			Help: "History resyncs started by conversation views",
		},
	)

	ChatReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jobchat_client_connection_lost_total",
			Help: "Live channel losses observed by conversation views",
		},
	)

	ChatDuplicatesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jobchat_client_duplicates_dropped_total",
			Help: "Live deliveries that were already in the store",
		},
	)

	ChatSendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jobchat_client_send_failures_total",
			Help: "Sends that ended in the failed state",
		},
	)
)
