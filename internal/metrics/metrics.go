// Package metrics holds the Prometheus instrumentation for the API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	CommentsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "colloquy_comments_created_total",
		Help: "Comments created, labelled by their initial status.",
	}, []string{"status"})

	ModerationDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "colloquy_moderation_decisions_total",
		Help: "Moderation decisions applied to comments.",
	}, []string{"to_status"})

	FlagActions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "colloquy_flag_actions_total",
		Help: "Flag actions recorded against comments.",
	}, []string{"reason"})

	StoriesClosed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "colloquy_stories_closed_total",
		Help: "Stories explicitly closed by a moderator.",
	})

	RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "colloquy_http_request_duration_seconds",
		Help:    "HTTP request latency by route and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method", "status"})
)

// MustRegister registers every collector with the given registerer.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		CommentsCreated,
		ModerationDecisions,
		FlagActions,
		StoriesClosed,
		RequestDuration,
	)
}
