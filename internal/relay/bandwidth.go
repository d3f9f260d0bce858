package relay

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// BandwidthLimiter enforces each allocation's sustained transfer rate with
// a token bucket sized to its token's bandwidth_limit (bytes/sec), per
// spec §4.12's "sustained rate capped by bandwidth_limit" requirement.
type BandwidthLimiter struct {
	mu       sync.Mutex
	limiters map[[16]byte]*rate.Limiter
}

// NewBandwidthLimiter builds an empty per-allocation limiter set.
func NewBandwidthLimiter() *BandwidthLimiter {
	return &BandwidthLimiter{limiters: make(map[[16]byte]*rate.Limiter)}
}

func (b *BandwidthLimiter) limiterFor(id [16]byte, bandwidthLimit uint32) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.limiters[id]
	if !ok {
		burst := int(bandwidthLimit)
		if burst <= 0 {
			burst = 1
		}
		l = rate.NewLimiter(rate.Limit(bandwidthLimit), burst)
		b.limiters[id] = l
	}
	return l
}

// Allow reports whether n bytes may be forwarded for id right now. When it
// returns true, n bytes of the allowance are consumed; callers that get
// false should drop or delay the packet rather than forward it.
func (b *BandwidthLimiter) Allow(id [16]byte, n int, bandwidthLimit uint32) bool {
	return b.limiterFor(id, bandwidthLimit).AllowN(time.Now(), n)
}

// Remove discards the limiter for id, e.g. on allocation teardown.
func (b *BandwidthLimiter) Remove(id [16]byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.limiters, id)
}
