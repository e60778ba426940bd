package observer

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsEnabled = true // Flag to control metric collection

	// Labels for standard event metrics
	eventProcessingLabels = []string{"event_type", "company_id", "consumer_type"}
	// Labels for tracking specific processing actions
	eventActionLabels = []string{"event_type", "company_id", "consumer_type", "action", "error_type"}

	EventsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchant_onboarding_events_received_total",
			Help: "Total number of events received from NATS, labeled by consumer type.",
		},
		eventProcessingLabels,
	)
	EventsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchant_onboarding_events_processed_total",
			Help: "Total number of events successfully processed and acknowledged, labeled by consumer type.",
		},
		eventProcessingLabels,
	)
	EventsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchant_onboarding_events_failed_total",
			Help: "Total number of events that failed processing (resulting in Nack or error), labeled by consumer type.",
		},
		eventProcessingLabels,
	)

	EventProcessingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "merchant_onboarding_event_processing_duration_seconds",
			Help:    "Histogram of event processing durations.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
		eventProcessingLabels,
	)

	EventRoutingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "merchant_onboarding_event_routing_duration_seconds",
			Help:    "Histogram of event routing specific durations (time spent in router.Route).",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		eventProcessingLabels,
	)

	EventProcessingActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchant_onboarding_event_processing_actions_total",
			Help: "Total count of specific actions taken after event processing, labeled by error type.",
		},
		eventActionLabels,
	)

	// Global metrics instance
	Metrics *metricsStore
)

// Dialogue and conversation flow metrics
var (
	tenantLabels = []string{"company_id"}

	stepTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchant_onboarding_step_transitions_total",
			Help: "Total number of onboarding step transitions, labeled by destination step and trigger.",
		},
		[]string{"company_id", "to_step", "trigger"},
	)
	slaEscalationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchant_onboarding_sla_escalations_total",
			Help: "Total number of records escalated because the go-live date missed the SLA threshold.",
		},
		tenantLabels,
	)
	supportTicketsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchant_onboarding_support_tickets_created_total",
			Help: "Total number of support tickets opened from the support command.",
		},
		tenantLabels,
	)
	outboundPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchant_onboarding_outbound_published_total",
			Help: "Total number of outbound replies published, labeled by outcome.",
		},
		[]string{"company_id", "outcome"},
	)
	augmenterRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchant_onboarding_augmenter_requests_total",
			Help: "Total number of augmenter calls, labeled by outcome (applied, rejected, error).",
		},
		[]string{"company_id", "outcome"},
	)
	cacheChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchant_onboarding_activation_cache_checks_total",
			Help: "Total number of activation cache lookups, labeled by filter and result.",
		},
		[]string{"company_id", "filter", "result"},
	)
)

// Metrics related to DLQ processing
var (
	dlqFetchRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "merchant_onboarding_dlq_fetch_requests_total",
		Help: "Total number of fetch requests made to the DLQ stream.",
	})
	dlqFetchErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "merchant_onboarding_dlq_fetch_errors_total",
		Help: "Total number of errors encountered during DLQ fetch requests.",
	})
	dlqQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "merchant_onboarding_dlq_queue_length",
		Help: "Current number of messages waiting in the internal DLQ worker channel.",
	})
	dlqWorkersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "merchant_onboarding_dlq_workers_active",
		Help: "Current number of active worker goroutines in the DLQ pool.",
	})

	dlqTasksSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchant_onboarding_dlq_tasks_submitted_total",
			Help: "Total number of tasks submitted to the DLQ worker pool.",
		},
		tenantLabels,
	)
	dlqProcessingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "merchant_onboarding_dlq_processing_duration_seconds",
			Help:    "Histogram of processing durations for DLQ messages.",
			Buckets: prometheus.DefBuckets,
		},
		tenantLabels,
	)
	dlqTaskRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchant_onboarding_dlq_task_retries_total",
			Help: "Total number of retry attempts (NAKs with delay) for DLQ messages.",
		},
		tenantLabels,
	)
	dlqAcksSuccessTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchant_onboarding_dlq_acks_success_total",
			Help: "Total number of successful acknowledgements (ACKs) for DLQ messages.",
		},
		tenantLabels,
	)
	dlqAcksFailureTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchant_onboarding_dlq_acks_failure_total",
			Help: "Total number of failed acknowledgements (NAKs, Term) for DLQ messages (excluding retries).",
		},
		tenantLabels,
	)
	dlqTasksDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchant_onboarding_dlq_tasks_dropped_total",
			Help: "Total number of DLQ messages dropped after exceeding max retries.",
		},
		tenantLabels,
	)
)

// Labels for database operations
var (
	dbOperationLabels = []string{"operation", "entity", "company_id", "status"}

	DatabaseOperationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "merchant_onboarding_db_operation_duration_seconds",
			Help:    "Histogram of database operation durations.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		dbOperationLabels,
	)
)

// Acquisition worker pool metrics
var (
	acquisitionStatusLabels = []string{"company_id", "status"}

	acquisitionTriggeredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchant_onboarding_acquisition_triggered_total",
			Help: "Total number of acquisition triggers that created a prospect record.",
		},
		tenantLabels,
	)
	acquisitionTasksSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchant_onboarding_acquisition_tasks_submitted_total",
			Help: "Total number of outreach tasks submitted to the acquisition worker pool.",
		},
		tenantLabels,
	)
	acquisitionTasksProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchant_onboarding_acquisition_tasks_processed_total",
			Help: "Total number of outreach tasks processed by the worker pool, labeled by final status.",
		},
		acquisitionStatusLabels,
	)
	acquisitionQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "merchant_onboarding_acquisition_queue_length",
		Help: "Approximate number of tasks waiting in the acquisition worker pool queue.",
	})
)

// Load generator metrics, used by the tester binary only.
var (
	loadgenLabels = []string{"subject", "company_id"}

	loadgenMessagesAttemptedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchant_onboarding_loadgen_messages_attempted_total",
			Help: "Total number of messages the load generator attempted to publish.",
		},
		loadgenLabels,
	)
	loadgenMessagesPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchant_onboarding_loadgen_messages_published_total",
			Help: "Total number of messages successfully published by the load generator.",
		},
		loadgenLabels,
	)
	loadgenPublishErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchant_onboarding_loadgen_publish_errors_total",
			Help: "Total number of errors encountered by the load generator during publishing.",
		},
		loadgenLabels,
	)
)

// metricsStore holds references to all Prometheus metrics.
type metricsStore struct{}

// InitMetrics initializes the Prometheus metrics if enabled. Call this
// during application startup.
func InitMetrics(enabled bool) {
	if !enabled {
		metricsEnabled = false
		return
	}

	metricsEnabled = true
	// Metrics are auto-registered via promauto; the store exists for
	// future global setup.
	Metrics = &metricsStore{}
}

// IncEventsReceived increments the events received counter.
func IncEventsReceived(eventType, tenant, consumerType string) {
	if !metricsEnabled {
		return
	}
	EventsReceivedTotal.WithLabelValues(eventType, sanitizeTenant(tenant), consumerType).Inc()
}

// IncEventsProcessed increments the events processed counter.
func IncEventsProcessed(eventType, tenant, consumerType string) {
	if !metricsEnabled {
		return
	}
	EventsProcessedTotal.WithLabelValues(eventType, sanitizeTenant(tenant), consumerType).Inc()
}

// IncEventsFailed increments the events failed counter.
func IncEventsFailed(eventType, tenant, consumerType string) {
	if !metricsEnabled {
		return
	}
	EventsFailedTotal.WithLabelValues(eventType, sanitizeTenant(tenant), consumerType).Inc()
}

// sanitizeTenant ensures the tenant label is valid or returns a default value.
func sanitizeTenant(tenant string) string {
	if tenant == "" {
		return "unknown"
	}
	return tenant
}

// --- Dialogue Metric Helpers ---

// IncStepTransition increments the step transition counter.
func IncStepTransition(companyID, toStep, trigger string) {
	if !metricsEnabled {
		return
	}
	stepTransitionsTotal.WithLabelValues(sanitizeTenant(companyID), toStep, trigger).Inc()
}

// IncSLAEscalation increments the SLA escalation counter.
func IncSLAEscalation(companyID string) {
	if !metricsEnabled {
		return
	}
	slaEscalationsTotal.WithLabelValues(sanitizeTenant(companyID)).Inc()
}

// IncSupportTicketCreated increments the support ticket counter.
func IncSupportTicketCreated(companyID string) {
	if !metricsEnabled {
		return
	}
	supportTicketsCreatedTotal.WithLabelValues(sanitizeTenant(companyID)).Inc()
}

// IncOutboundPublished increments the outbound publish counter by outcome.
func IncOutboundPublished(companyID, outcome string) {
	if !metricsEnabled {
		return
	}
	outboundPublishedTotal.WithLabelValues(sanitizeTenant(companyID), outcome).Inc()
}

// IncAugmenterRequest increments the augmenter request counter by outcome.
func IncAugmenterRequest(companyID, outcome string) {
	if !metricsEnabled {
		return
	}
	augmenterRequestsTotal.WithLabelValues(sanitizeTenant(companyID), outcome).Inc()
}

// IncCacheCheck increments the activation cache check counter by filter and result.
func IncCacheCheck(companyID, filter, result string) {
	if !metricsEnabled {
		return
	}
	cacheChecksTotal.WithLabelValues(sanitizeTenant(companyID), filter, result).Inc()
}

// --- DLQ Metric Helpers ---

// IncDlqFetchRequest increments the DLQ fetch request counter.
func IncDlqFetchRequest() {
	if Metrics != nil {
		dlqFetchRequestsTotal.Inc()
	}
}

// IncDlqFetchError increments the DLQ fetch error counter.
func IncDlqFetchError() {
	if Metrics != nil {
		dlqFetchErrorsTotal.Inc()
	}
}

// SetDlqQueueLength sets the current DLQ internal queue length.
func SetDlqQueueLength(length int) {
	if Metrics != nil {
		dlqQueueLength.Set(float64(length))
	}
}

// IncDlqTasksSubmitted increments the counter for tasks submitted to the pool.
func IncDlqTasksSubmitted(companyID string) {
	if Metrics != nil {
		dlqTasksSubmittedTotal.WithLabelValues(sanitizeTenant(companyID)).Inc()
	}
}

// SetDlqWorkersActive sets the current number of active DLQ workers.
func SetDlqWorkersActive(count int) {
	if Metrics != nil {
		dlqWorkersActive.Set(float64(count))
	}
}

// ObserveDlqProcessingDuration records the processing time for a DLQ message.
func ObserveDlqProcessingDuration(companyID string, duration time.Duration) {
	if Metrics != nil {
		dlqProcessingDurationSeconds.WithLabelValues(sanitizeTenant(companyID)).Observe(duration.Seconds())
	}
}

// IncDlqTaskRetry increments the counter for DLQ message retry attempts.
func IncDlqTaskRetry(companyID string) {
	if Metrics != nil {
		dlqTaskRetriesTotal.WithLabelValues(sanitizeTenant(companyID)).Inc()
	}
}

// IncDlqAckSuccess increments the counter for successful DLQ message ACKs.
func IncDlqAckSuccess(companyID string) {
	if Metrics != nil {
		dlqAcksSuccessTotal.WithLabelValues(sanitizeTenant(companyID)).Inc()
	}
}

// IncDlqAckFailure increments the counter for failed DLQ message ACKs/TERMs (non-retry).
func IncDlqAckFailure(companyID string) {
	if Metrics != nil {
		dlqAcksFailureTotal.WithLabelValues(sanitizeTenant(companyID)).Inc()
	}
}

// IncDlqTasksDropped increments the counter for DLQ messages dropped after max retries.
func IncDlqTasksDropped(companyID string) {
	if Metrics != nil {
		dlqTasksDroppedTotal.WithLabelValues(sanitizeTenant(companyID)).Inc()
	}
}

// --- Event Processing Helpers ---

// ObserveEventProcessingDuration records the processing time for a specific event.
func ObserveEventProcessingDuration(eventType, tenant, consumerType string, duration time.Duration) {
	if !metricsEnabled {
		return
	}
	EventProcessingDurationSeconds.WithLabelValues(eventType, sanitizeTenant(tenant), consumerType).Observe(duration.Seconds())
}

// ObserveEventRoutingDuration records the routing time for a specific event.
func ObserveEventRoutingDuration(eventType, tenant, consumerType string, duration time.Duration) {
	if !metricsEnabled {
		return
	}
	EventRoutingDurationSeconds.WithLabelValues(eventType, sanitizeTenant(tenant), consumerType).Observe(duration.Seconds())
}

// ObserveDbOperationDuration records the duration for a database operation.
func ObserveDbOperationDuration(operation, entity, companyID string, duration time.Duration, err error) {
	if !metricsEnabled {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	DatabaseOperationDurationSeconds.WithLabelValues(operation, entity, sanitizeTenant(companyID), status).Observe(duration.Seconds())
}

// IncEventProcessingAction increments the counter for a specific processing outcome.
func IncEventProcessingAction(eventType, tenant, consumerType, action, errorType string) {
	if !metricsEnabled {
		return
	}
	sanitizedErrorType := SanitizeErrorType(errorType)
	EventProcessingActionsTotal.WithLabelValues(eventType, sanitizeTenant(tenant), consumerType, action, sanitizedErrorType).Inc()
}

// SanitizeErrorType maps specific errors to a coarse category.
// Keep this simple to avoid high cardinality.
func SanitizeErrorType(errStr string) string {
	if errStr == "" || errStr == "none" {
		return "none"
	}

	switch {
	case strings.Contains(errStr, "database"), strings.Contains(errStr, "SQL"), strings.Contains(errStr, "duplicate key"), strings.Contains(errStr, "constraint"), strings.Contains(errStr, "connection"):
		return "database"
	case strings.Contains(errStr, "validation failed"), strings.Contains(errStr, "bad request"), strings.Contains(errStr, "invalid"), strings.Contains(errStr, "missing field"):
		return "validation"
	case strings.Contains(errStr, "not found"), strings.Contains(errStr, "no rows"):
		return "not_found"
	case strings.Contains(errStr, "nats"), strings.Contains(errStr, "jetstream"):
		return "nats"
	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline exceeded"):
		return "timeout"
	case strings.Contains(errStr, "unmarshal"), strings.Contains(errStr, "json"):
		return "unmarshal"
	case strings.Contains(errStr, "panic"):
		return "panic"
	default:
		return "unknown"
	}
}

// --- Acquisition Metric Helpers ---

// IncAcquisitionTriggered increments the counter for created prospect records.
func IncAcquisitionTriggered(companyID string) {
	if Metrics != nil {
		acquisitionTriggeredTotal.WithLabelValues(sanitizeTenant(companyID)).Inc()
	}
}

// IncAcquisitionTasksSubmitted increments the counter for submitted outreach tasks.
func IncAcquisitionTasksSubmitted(companyID string) {
	if Metrics != nil {
		acquisitionTasksSubmittedTotal.WithLabelValues(sanitizeTenant(companyID)).Inc()
	}
}

// IncAcquisitionTasksProcessed increments the counter for processed outreach tasks by status.
func IncAcquisitionTasksProcessed(companyID, status string) {
	if Metrics != nil {
		acquisitionTasksProcessedTotal.WithLabelValues(sanitizeTenant(companyID), status).Inc()
	}
}

// SetAcquisitionQueueLength sets the current acquisition queue length.
func SetAcquisitionQueueLength(length int) {
	if Metrics != nil {
		acquisitionQueueLength.Set(float64(length))
	}
}

// --- Load Generator Metric Helpers ---

// IncLoadgenMessagesAttempted increments the counter for attempted message publications.
func IncLoadgenMessagesAttempted(subject, companyID string) {
	if Metrics != nil {
		loadgenMessagesAttemptedTotal.WithLabelValues(subject, sanitizeTenant(companyID)).Inc()
	}
}

// IncLoadgenMessagesPublished increments the counter for successfully published messages.
func IncLoadgenMessagesPublished(subject, companyID string) {
	if Metrics != nil {
		loadgenMessagesPublishedTotal.WithLabelValues(subject, sanitizeTenant(companyID)).Inc()
	}
}

// IncLoadgenPublishErrors increments the counter for publishing errors.
func IncLoadgenPublishErrors(subject, companyID string) {
	if Metrics != nil {
		loadgenPublishErrorsTotal.WithLabelValues(subject, sanitizeTenant(companyID)).Inc()
	}
}
