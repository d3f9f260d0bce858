package mailbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "zrc_mailbox"

// Metrics holds the Prometheus collectors exposed on /metrics.
type Metrics struct {
	EnvelopesPosted  prometheus.Counter
	EnvelopesDelivered prometheus.Counter
	EnvelopesExpired prometheus.Counter
	PostErrors       *prometheus.CounterVec
	QueueDepth       prometheus.Gauge
	MailboxesActive  prometheus.Gauge
	LongPollWaiters  prometheus.Gauge
}

// NewMetrics registers mailbox metrics against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EnvelopesPosted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_posted_total",
			Help:      "Total envelopes accepted via POST.",
		}),
		EnvelopesDelivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_delivered_total",
			Help:      "Total envelopes returned via GET.",
		}),
		EnvelopesExpired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_expired_total",
			Help:      "Total envelopes dropped for exceeding their TTL.",
		}),
		PostErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "post_errors_total",
			Help:      "Total rejected POST requests by reason.",
		}, []string{"reason"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Sum of queued envelopes across all mailboxes.",
		}),
		MailboxesActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mailboxes_active",
			Help:      "Number of distinct recipient mailboxes currently held.",
		}),
		LongPollWaiters: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "long_poll_waiters",
			Help:      "Number of GET requests currently blocked in long-poll.",
		}),
	}
}
