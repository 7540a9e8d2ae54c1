// Package metrics provides Prometheus metrics for the fern service.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LifecycleEventsTotal counts observer events by name and error kind
	LifecycleEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "integration",
			Name:      "events_total",
			Help:      "Total number of integration lifecycle events",
		},
		[]string{"event", "provider_type", "error_kind"},
	)

	// LifecycleEventDuration tracks how long each lifecycle operation took
	LifecycleEventDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "integration",
			Name:      "event_duration_seconds",
			Help:      "Duration of integration lifecycle operations in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"event", "provider_type"},
	)

	// SyncRecordsTotal counts records pushed to providers by outcome
	SyncRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "sync",
			Name:      "records_total",
			Help:      "Total number of mapped records synced by outcome",
		},
		[]string{"provider_type", "outcome"},
	)

	// ProviderRequestsTotal tracks outbound provider calls
	ProviderRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Total number of outbound provider requests",
		},
		[]string{"provider_type", "operation", "status_code"},
	)

	// ProviderRequestDuration tracks outbound provider call latency
	ProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "provider",
			Name:      "request_duration_seconds",
			Help:      "Duration of outbound provider requests in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"provider_type", "operation"},
	)

	// BreakerState is 0 closed, 1 half-open, 2 open
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fern",
			Subsystem: "provider",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per provider (0 closed, 1 half-open, 2 open)",
		},
		[]string{"provider_type"},
	)

	// RateLimitWaitTime tracks time spent waiting for a provider token
	RateLimitWaitTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "ratelimit",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for provider rate limit tokens in seconds",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider_type"},
	)

	// TokenRefreshesTotal tracks OAuth refresh grants
	TokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "auth",
			Name:      "token_refreshes_total",
			Help:      "Total number of OAuth token refreshes",
		},
		[]string{"provider_type", "status"},
	)

	// ObserverDroppedTotal counts events dropped on a full observer queue
	ObserverDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "observer",
			Name:      "dropped_total",
			Help:      "Total number of observer events dropped because the queue was full",
		},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	// SchedulerCyclesTotal tracks pending-sync cycles
	SchedulerCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "scheduler",
			Name:      "cycles_total",
			Help:      "Total number of pending sync cycles by outcome",
		},
		[]string{"status"},
	)
)

// RecordLifecycleEvent records an observer event
func RecordLifecycleEvent(event, providerType, errorKind string, durationSeconds float64) {
	LifecycleEventsTotal.WithLabelValues(event, providerType, errorKind).Inc()
	LifecycleEventDuration.WithLabelValues(event, providerType).Observe(durationSeconds)
}

// RecordSyncRecords records per-record sync outcomes
func RecordSyncRecords(providerType string, success, failed int) {
	if success > 0 {
		SyncRecordsTotal.WithLabelValues(providerType, "success").Add(float64(success))
	}
	if failed > 0 {
		SyncRecordsTotal.WithLabelValues(providerType, "failed").Add(float64(failed))
	}
}

// RecordProviderRequest records an outbound provider call. statusCode is zero
// when no response was received.
func RecordProviderRequest(providerType, operation string, statusCode int, durationSeconds float64) {
	code := "none"
	if statusCode != 0 {
		code = strconv.Itoa(statusCode)
	}
	ProviderRequestsTotal.WithLabelValues(providerType, operation, code).Inc()
	ProviderRequestDuration.WithLabelValues(providerType, operation).Observe(durationSeconds)
}

func RecordTokenRefresh(providerType, status string) {
	TokenRefreshesTotal.WithLabelValues(providerType, status).Inc()
}

func RecordRateLimitWait(providerType string, waitSeconds float64) {
	RateLimitWaitTime.WithLabelValues(providerType).Observe(waitSeconds)
}

func SetBreakerState(providerType string, state float64) {
	BreakerState.WithLabelValues(providerType).Set(state)
}

func RecordKafkaPublish(topic, status string) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
}

func RecordSchedulerCycle(status string) {
	SchedulerCyclesTotal.WithLabelValues(status).Inc()
}
