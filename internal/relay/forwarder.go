package relay

import (
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
)

var ErrPeerDisconnected = errors.New("relay: peer leg not connected")

// Forwarder relays bytes between an allocation's two legs, metering every
// chunk against the allocation's quota and bandwidth limit before it is
// written onward. It never inspects payload contents beyond the byte count:
// spec §4.12 requires the relay not read payload beyond outer framing.
type Forwarder struct {
	allocations *Manager
	bandwidth   *BandwidthLimiter
	metrics     *Metrics
	logger      *slog.Logger
}

// NewForwarder builds a forwarder bound to allocations and bandwidth.
func NewForwarder(allocations *Manager, bandwidth *BandwidthLimiter, metrics *Metrics, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{allocations: allocations, bandwidth: bandwidth, metrics: metrics, logger: logger}
}

const forwardChunkSize = 16 << 10

// Pump copies bytes from src to dst for allocationID's forwarding
// direction, stopping on quota exhaustion, a read/write error, or EOF. The
// returned error is nil on a clean EOF.
func (f *Forwarder) Pump(allocationID [16]byte, fromDevice bool, src io.Reader, dst io.Writer) error {
	direction := "peer_to_device"
	if fromDevice {
		direction = "device_to_peer"
	}

	buf := make([]byte, forwardChunkSize)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			alloc, ok := f.allocations.Get(allocationID)
			if !ok {
				return ErrAllocationNotFound
			}

			if !f.bandwidth.Allow(allocationID, n, alloc.BandwidthLimit) {
				if f.metrics != nil {
					f.metrics.RateLimitedTotal.Inc()
				}
				continue
			}

			warned, err := f.allocations.RecordTransfer(allocationID, uint64(n))
			if err != nil {
				if f.metrics != nil {
					f.metrics.QuotaExceededTotal.Inc()
				}
				return err
			}
			if warned {
				if f.metrics != nil {
					f.metrics.QuotaWarningsTotal.Inc()
				}
				f.logger.Warn("relay allocation approaching quota",
					slog.String("allocation_id_hex", hex.EncodeToString(allocationID[:])))
			}

			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				return writeErr
			}
			if f.metrics != nil {
				f.metrics.BytesForwarded.WithLabelValues(direction).Add(float64(n))
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			return readErr
		}
	}
}
