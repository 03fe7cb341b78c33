package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Consultation metrics for monitoring message lifecycle, channel fan-out
// and session phase transitions
var (
	// Message lifecycle metrics
	ConsultMessageAppendedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consult_message_appended_total",
		Help: "Total number of messages appended to the consultation log",
	}, []string{"message_type"})

	ConsultMessagePersistedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consult_message_persisted_total",
		Help: "Total number of message writes to Cassandra",
	}, []string{"status"})

	ConsultMessageRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consult_message_rejected_total",
		Help: "Total number of messages rejected before persistence",
	}, []string{"reason"})

	ConsultMessageStatusTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consult_message_status_total",
		Help: "Total number of message status transitions",
	}, []string{"status"})

	ConsultMessageDeliveryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "consult_message_delivery_duration_seconds",
		Help:    "Time taken per message delivery step",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"step"}) // "persist", "publish", "notify"

	// Channel fan-out metrics
	ChannelSubscriptionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "consult_channel_subscriptions_active",
		Help: "Current number of active channel subscriptions",
	})

	ChannelEventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consult_channel_events_published_total",
		Help: "Total number of events published to the channel transport",
	}, []string{"kind"})

	ChannelPublishErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consult_channel_publish_errors_total",
		Help: "Total number of failed channel publishes",
	})

	ChannelEventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consult_channel_events_dropped_total",
		Help: "Total number of channel events dropped before delivery",
	}, []string{"reason"}) // "queue_full", "decode_error"

	ChannelResyncTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consult_channel_resync_total",
		Help: "Total number of resync signals handed to subscribers",
	})

	// Session phase metrics
	SessionPhaseTransitionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consult_session_phase_transition_total",
		Help: "Total number of session phase transitions",
	}, []string{"from", "to"})

	SessionPhaseRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consult_session_phase_rejected_total",
		Help: "Total number of rejected phase transition attempts",
	}, []string{"from", "to"})

	SessionJoinOutOfWindowTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consult_session_join_out_of_window_total",
		Help: "Total number of join attempts before the join window opened",
	})

	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "consult_sessions_active",
		Help: "Current number of sessions in the in_progress phase",
	})

	// Attachment metrics
	AttachmentUploadURLsIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consult_attachment_upload_urls_issued_total",
		Help: "Total number of presigned attachment upload URLs issued",
	})

	AttachmentErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consult_attachment_errors_total",
		Help: "Total number of attachment storage errors",
	}, []string{"operation"})

	// Push notification metrics
	PushNotificationsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consult_push_notifications_sent_total",
		Help: "Total number of push notifications sent to absent participants",
	}, []string{"platform"})

	PushNotificationsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consult_push_notifications_failed_total",
		Help: "Total number of failed push notification sends",
	}, []string{"platform", "reason"})
)

// RecordMessageAppended increments the appended-message counter
func RecordMessageAppended(messageType string) {
	ConsultMessageAppendedTotal.WithLabelValues(messageType).Inc()
}

// RecordMessagePersisted records the outcome of a Cassandra message write
func RecordMessagePersisted(status string) {
	ConsultMessagePersistedTotal.WithLabelValues(status).Inc()
}

// RecordMessageRejected increments the rejection counter for a validation reason
func RecordMessageRejected(reason string) {
	ConsultMessageRejectedTotal.WithLabelValues(reason).Inc()
}

// RecordMessageStatus records a message status transition
func RecordMessageStatus(status string) {
	ConsultMessageStatusTotal.WithLabelValues(status).Inc()
}

// RecordDeliveryStep records the latency of one message delivery step
func RecordDeliveryStep(step string, seconds float64) {
	ConsultMessageDeliveryDuration.WithLabelValues(step).Observe(seconds)
}

// RecordPhaseTransition records a successful phase transition
func RecordPhaseTransition(from, to string) {
	SessionPhaseTransitionTotal.WithLabelValues(from, to).Inc()
}

// RecordPhaseRejected records a rejected phase transition attempt
func RecordPhaseRejected(from, to string) {
	SessionPhaseRejectedTotal.WithLabelValues(from, to).Inc()
}

// RecordJoinOutOfWindow increments the early-join counter
func RecordJoinOutOfWindow() {
	SessionJoinOutOfWindowTotal.Inc()
}

// RecordPushSent records a delivered push notification
func RecordPushSent(platform string) {
	PushNotificationsSentTotal.WithLabelValues(platform).Inc()
}

// RecordPushFailed records a failed push notification
func RecordPushFailed(platform, reason string) {
	PushNotificationsFailedTotal.WithLabelValues(platform, reason).Inc()
}
