// Package metrics provides Prometheus metrics for zrc's host agent and
// server-side collaborators (directory, relay, mailbox).
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "zrc"
)

// Metrics contains all Prometheus metrics for a zrc process. A given
// process only ever drives the subset of fields relevant to its role; an
// agent process updates the pairing/session/transport groups, while the
// directory/relay/mailbox daemons update their own groups.
type Metrics struct {
	// Pairing metrics
	PairingAttempts  *prometheus.CounterVec
	PairingApprovals prometheus.Counter
	PairingRejects   *prometheus.CounterVec
	PairingSASFails  prometheus.Counter

	// Session metrics
	SessionsActive          prometheus.Gauge
	SessionsEstablished     prometheus.Counter
	SessionEstablishLatency prometheus.Histogram
	SessionsReconnected     prometheus.Counter
	SessionTeardowns        *prometheus.CounterVec

	// Transport metrics
	TransportDials      *prometheus.CounterVec
	TransportDialErrors *prometheus.CounterVec
	TransportRungUsed   *prometheus.CounterVec

	// Channel/mux metrics
	ChannelFramesSent     *prometheus.CounterVec
	ChannelFramesReceived *prometheus.CounterVec
	ChannelBytesSent      *prometheus.CounterVec
	ChannelBytesReceived  *prometheus.CounterVec
	ChannelFramesDropped  *prometheus.CounterVec

	// Replay/crypto metrics
	EnvelopeSealed       prometheus.Counter
	EnvelopeOpenFailures *prometheus.CounterVec
	ReplayRejections     *prometheus.CounterVec

	// Rate limiter metrics
	RateLimitRejections     *prometheus.CounterVec
	RateLimitBackoffSeconds prometheus.Histogram

	// Directory metrics
	DirectoryRecordsPublished prometheus.Counter
	DirectoryLookups          prometheus.Counter
	DirectoryLookupLatency    prometheus.Histogram
	DirectoryLookupsRejected  *prometheus.CounterVec

	// Relay metrics
	RelayAllocationsActive  prometheus.Gauge
	RelayBytesForwarded     *prometheus.CounterVec
	RelayQuotaWarnings      prometheus.Counter
	RelayConnectionsMigrated prometheus.Counter

	// Mailbox metrics
	MailboxQueueDepth        *prometheus.GaugeVec
	MailboxMessagesStored    prometheus.Counter
	MailboxMessagesDelivered prometheus.Counter
	MailboxMessagesExpired   prometheus.Counter
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the default metrics instance.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Pairing metrics
		PairingAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pairing_attempts_total",
			Help:      "Total pairing attempts by role (host/controller)",
		}, []string{"role"}),
		PairingApprovals: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pairing_approvals_total",
			Help:      "Total pairings completed with an operator approval",
		}),
		PairingRejects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pairing_rejects_total",
			Help:      "Total pairing attempts rejected, by reason",
		}, []string{"reason"}),
		PairingSASFails: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pairing_sas_mismatches_total",
			Help:      "Total pairings aborted due to a SAS mismatch",
		}),

		// Session metrics
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active remote-control sessions",
		}),
		SessionsEstablished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_established_total",
			Help:      "Total sessions successfully established",
		}),
		SessionEstablishLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_establish_latency_seconds",
			Help:      "Histogram of session establishment latency",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		SessionsReconnected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_reconnected_total",
			Help:      "Total sessions that survived a transport-level reconnect",
		}),
		SessionTeardowns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_teardowns_total",
			Help:      "Total session teardowns by reason",
		}, []string{"reason"}),

		// Transport metrics
		TransportDials: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_dials_total",
			Help:      "Total transport dial attempts by rung (direct/relay/mailbox)",
		}, []string{"rung"}),
		TransportDialErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_dial_errors_total",
			Help:      "Total transport dial failures by rung",
		}, []string{"rung"}),
		TransportRungUsed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_rung_used_total",
			Help:      "Total sessions that settled on a given transport rung",
		}, []string{"rung"}),

		// Channel/mux metrics
		ChannelFramesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_frames_sent_total",
			Help:      "Total channel frames sent by channel",
		}, []string{"channel"}),
		ChannelFramesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_frames_received_total",
			Help:      "Total channel frames received by channel",
		}, []string{"channel"}),
		ChannelBytesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_bytes_sent_total",
			Help:      "Total plaintext bytes sent by channel",
		}, []string{"channel"}),
		ChannelBytesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_bytes_received_total",
			Help:      "Total plaintext bytes received by channel",
		}, []string{"channel"}),
		ChannelFramesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_frames_dropped_total",
			Help:      "Total frames dropped by backpressure policy, by channel and policy",
		}, []string{"channel", "policy"}),

		// Replay/crypto metrics
		EnvelopeSealed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_sealed_total",
			Help:      "Total envelopes sealed",
		}),
		EnvelopeOpenFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelope_open_failures_total",
			Help:      "Total envelope open failures by reason",
		}, []string{"reason"}),
		ReplayRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replay_rejections_total",
			Help:      "Total counters rejected by the replay filter, by reason",
		}, []string{"reason"}),

		// Rate limiter metrics
		RateLimitRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejections_total",
			Help:      "Total requests rejected by the rate limiter, by request type",
		}, []string{"request_type"}),
		RateLimitBackoffSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rate_limit_backoff_seconds",
			Help:      "Histogram of applied exponential backoff durations",
			Buckets:   []float64{.1, .5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),

		// Directory metrics
		DirectoryRecordsPublished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "directory_records_published_total",
			Help:      "Total directory records published",
		}),
		DirectoryLookups: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "directory_lookups_total",
			Help:      "Total directory lookups served",
		}),
		DirectoryLookupLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "directory_lookup_latency_seconds",
			Help:      "Histogram of directory lookup latency",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		DirectoryLookupsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "directory_lookups_rejected_total",
			Help:      "Total directory lookups rejected, by reason (rate_limited/enumeration)",
		}, []string{"reason"}),

		// Relay metrics
		RelayAllocationsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_allocations_active",
			Help:      "Number of currently active relay allocations",
		}),
		RelayBytesForwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_bytes_forwarded_total",
			Help:      "Total bytes forwarded by the relay, by direction",
		}, []string{"direction"}),
		RelayQuotaWarnings: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_quota_warnings_total",
			Help:      "Total times an allocation crossed the quota warning threshold",
		}),
		RelayConnectionsMigrated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_connections_migrated_total",
			Help:      "Total relay connection migrations tracked",
		}),

		// Mailbox metrics
		MailboxQueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mailbox_queue_depth",
			Help:      "Current number of queued messages per mailbox",
		}, []string{"mailbox"}),
		MailboxMessagesStored: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mailbox_messages_stored_total",
			Help:      "Total messages stored for later delivery",
		}),
		MailboxMessagesDelivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mailbox_messages_delivered_total",
			Help:      "Total messages delivered to a long-poll recipient",
		}),
		MailboxMessagesExpired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mailbox_messages_expired_total",
			Help:      "Total queued messages dropped after exceeding their TTL",
		}),
	}
}

// RecordPairingAttempt records a pairing attempt by role.
func (m *Metrics) RecordPairingAttempt(role string) {
	m.PairingAttempts.WithLabelValues(role).Inc()
}

// RecordPairingApproval records a pairing completed with operator approval.
func (m *Metrics) RecordPairingApproval() {
	m.PairingApprovals.Inc()
}

// RecordPairingReject records a rejected pairing attempt.
func (m *Metrics) RecordPairingReject(reason string) {
	m.PairingRejects.WithLabelValues(reason).Inc()
}

// RecordPairingSASFail records a SAS mismatch abort.
func (m *Metrics) RecordPairingSASFail() {
	m.PairingSASFails.Inc()
}

// RecordSessionEstablished records a session establishment and its latency.
func (m *Metrics) RecordSessionEstablished(latencySeconds float64) {
	m.SessionsActive.Inc()
	m.SessionsEstablished.Inc()
	m.SessionEstablishLatency.Observe(latencySeconds)
}

// RecordSessionTeardown records a session ending, by reason.
func (m *Metrics) RecordSessionTeardown(reason string) {
	m.SessionsActive.Dec()
	m.SessionTeardowns.WithLabelValues(reason).Inc()
}

// RecordSessionReconnect records a session surviving a reconnect.
func (m *Metrics) RecordSessionReconnect() {
	m.SessionsReconnected.Inc()
}

// RecordTransportDial records a dial attempt on a given transport rung.
func (m *Metrics) RecordTransportDial(rung string) {
	m.TransportDials.WithLabelValues(rung).Inc()
}

// RecordTransportDialError records a dial failure on a given transport rung.
func (m *Metrics) RecordTransportDialError(rung string) {
	m.TransportDialErrors.WithLabelValues(rung).Inc()
}

// RecordTransportRungSettled records which rung a session settled on.
func (m *Metrics) RecordTransportRungSettled(rung string) {
	m.TransportRungUsed.WithLabelValues(rung).Inc()
}

// RecordChannelFrameSent records a frame sent on a channel.
func (m *Metrics) RecordChannelFrameSent(channel string, bytes int) {
	m.ChannelFramesSent.WithLabelValues(channel).Inc()
	m.ChannelBytesSent.WithLabelValues(channel).Add(float64(bytes))
}

// RecordChannelFrameReceived records a frame received on a channel.
func (m *Metrics) RecordChannelFrameReceived(channel string, bytes int) {
	m.ChannelFramesReceived.WithLabelValues(channel).Inc()
	m.ChannelBytesReceived.WithLabelValues(channel).Add(float64(bytes))
}

// RecordChannelFrameDropped records a frame dropped by backpressure policy.
func (m *Metrics) RecordChannelFrameDropped(channel, policy string) {
	m.ChannelFramesDropped.WithLabelValues(channel, policy).Inc()
}

// RecordEnvelopeSealed records an envelope seal.
func (m *Metrics) RecordEnvelopeSealed() {
	m.EnvelopeSealed.Inc()
}

// RecordEnvelopeOpenFailure records an envelope open failure, by reason.
func (m *Metrics) RecordEnvelopeOpenFailure(reason string) {
	m.EnvelopeOpenFailures.WithLabelValues(reason).Inc()
}

// RecordReplayRejection records a counter rejected by the replay filter.
func (m *Metrics) RecordReplayRejection(reason string) {
	m.ReplayRejections.WithLabelValues(reason).Inc()
}

// RecordRateLimitRejection records a request rejected by the rate limiter.
func (m *Metrics) RecordRateLimitRejection(requestType string) {
	m.RateLimitRejections.WithLabelValues(requestType).Inc()
}

// RecordRateLimitBackoff records the backoff duration applied after a violation.
func (m *Metrics) RecordRateLimitBackoff(seconds float64) {
	m.RateLimitBackoffSeconds.Observe(seconds)
}

// RecordDirectoryPublish records a directory record publication.
func (m *Metrics) RecordDirectoryPublish() {
	m.DirectoryRecordsPublished.Inc()
}

// RecordDirectoryLookup records a served directory lookup and its latency.
func (m *Metrics) RecordDirectoryLookup(latencySeconds float64) {
	m.DirectoryLookups.Inc()
	m.DirectoryLookupLatency.Observe(latencySeconds)
}

// RecordDirectoryLookupRejected records a rejected directory lookup.
func (m *Metrics) RecordDirectoryLookupRejected(reason string) {
	m.DirectoryLookupsRejected.WithLabelValues(reason).Inc()
}

// RecordRelayAllocate records a new relay allocation.
func (m *Metrics) RecordRelayAllocate() {
	m.RelayAllocationsActive.Inc()
}

// RecordRelayRelease records a relay allocation being released.
func (m *Metrics) RecordRelayRelease() {
	m.RelayAllocationsActive.Dec()
}

// RecordRelayBytesForwarded records bytes forwarded by the relay.
func (m *Metrics) RecordRelayBytesForwarded(direction string, bytes int) {
	m.RelayBytesForwarded.WithLabelValues(direction).Add(float64(bytes))
}

// RecordRelayQuotaWarning records an allocation crossing the quota warning threshold.
func (m *Metrics) RecordRelayQuotaWarning() {
	m.RelayQuotaWarnings.Inc()
}

// RecordRelayConnectionMigrated records a tracked connection migration.
func (m *Metrics) RecordRelayConnectionMigrated() {
	m.RelayConnectionsMigrated.Inc()
}

// SetMailboxQueueDepth sets the current queue depth for a mailbox.
func (m *Metrics) SetMailboxQueueDepth(mailbox string, depth int) {
	m.MailboxQueueDepth.WithLabelValues(mailbox).Set(float64(depth))
}

// RecordMailboxMessageStored records a message queued for later delivery.
func (m *Metrics) RecordMailboxMessageStored() {
	m.MailboxMessagesStored.Inc()
}

// RecordMailboxMessageDelivered records a message delivered to a long-poll recipient.
func (m *Metrics) RecordMailboxMessageDelivered() {
	m.MailboxMessagesDelivered.Inc()
}

// RecordMailboxMessageExpired records a queued message dropped after exceeding its TTL.
func (m *Metrics) RecordMailboxMessageExpired() {
	m.MailboxMessagesExpired.Inc()
}
