// Package metrics holds the bot's Prometheus collectors.
// Collectors register with the default registry and are served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MoodleRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moodle_requests_total",
			Help: "Total number of Moodle web-service requests",
		},
		[]string{"function", "outcome"},
	)

	MoodleRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "moodle_request_duration_seconds",
			Help:    "Duration of Moodle web-service requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"function"},
	)

	MoodleCircuitOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "moodle_circuit_open",
			Help: "1 when the Moodle circuit breaker is open",
		},
	)

	RegistrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registrations_total",
			Help: "Registration flows by final state",
		},
		[]string{"state"},
	)

	RegistrationsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "registrations_active",
			Help: "Number of registration conversations awaiting input",
		},
	)

	BotUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_updates_total",
			Help: "Total number of Telegram updates received",
		},
		[]string{"type"},
	)

	BotCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_commands_total",
			Help: "Total number of bot commands handled",
		},
		[]string{"command", "status"},
	)

	BotCommandDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bot_command_duration_seconds",
			Help:    "Duration of bot command handling in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	BotRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_rate_limited_total",
			Help: "Total number of updates dropped by the per-user rate limiter",
		},
	)

	PageSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "page_sessions_active",
			Help: "Number of paginated views that can still be navigated",
		},
	)

	TokenCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_cache_total",
			Help: "Token cache lookups by result",
		},
		[]string{"result"},
	)
)
