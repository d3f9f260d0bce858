package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "zrc_relay"

// Metrics holds the Prometheus collectors exposed by the relay server.
type Metrics struct {
	AllocationsCreated  prometheus.Counter
	AllocationsActive   prometheus.Gauge
	AllocationsExpired  prometheus.Counter
	BytesForwarded      *prometheus.CounterVec // label: direction=device_to_peer|peer_to_device
	QuotaExceededTotal  prometheus.Counter
	QuotaWarningsTotal  prometheus.Counter
	RateLimitedTotal    prometheus.Counter
	TokenVerifyFailures prometheus.Counter
}

// NewMetrics registers relay metrics against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AllocationsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocations_created_total",
			Help:      "Total allocations admitted from a verified token.",
		}),
		AllocationsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "allocations_active",
			Help:      "Number of allocations currently tracked.",
		}),
		AllocationsExpired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocations_expired_total",
			Help:      "Total allocations removed by the periodic eviction sweep.",
		}),
		BytesForwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_forwarded_total",
			Help:      "Total bytes forwarded, by direction.",
		}, []string{"direction"}),
		QuotaExceededTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_exceeded_total",
			Help:      "Total forwarding attempts rejected for exhausting an allocation's quota.",
		}),
		QuotaWarningsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_warnings_total",
			Help:      "Total one-shot 90%-of-quota warnings emitted.",
		}),
		RateLimitedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Total forwarding attempts rejected by the bandwidth limiter.",
		}),
		TokenVerifyFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_verify_failures_total",
			Help:      "Total relay tokens that failed verification.",
		}),
	}
}
