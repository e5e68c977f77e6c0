// Package metrics holds the Prometheus collectors for payment reconciliation, badge
// tokens and the integrity monitor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConfirmOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conference_payment_confirm_total",
		Help: "Payment confirm calls by outcome (paid, deferred, gateway_error, invalid, skipped)",
	}, []string{"outcome"})

	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conference_payment_webhook_total",
		Help: "Gateway webhook deliveries by reported status and outcome",
	}, []string{"status", "outcome"})

	GatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "conference_gateway_request_duration_seconds",
		Help:    "Latency of payment gateway calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "operation"})

	MemberLockFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conference_member_code_lock_failures_total",
		Help: "Member-code locks that failed after a committed payment",
	})

	BadgeTokensMinted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conference_badge_tokens_minted_total",
		Help: "Badge tokens minted by reason (issue, reissue, self_heal)",
	}, []string{"reason"})

	IntegrityAlerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conference_integrity_alerts_total",
		Help: "Data integrity alerts raised by rule and severity",
	}, []string{"rule", "severity"})

	ChangeFeedParked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conference_change_feed_parked_total",
		Help: "Outbox changes parked after exhausting their integrity-check attempts",
	})

	NotificationsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conference_notifications_total",
		Help: "Attendee notifications by delivery result",
	}, []string{"result"})
)
