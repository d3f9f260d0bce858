package relay

import (
	"errors"
	"net"
	"sync"
	"time"
)

var (
	ErrAllocationNotFound = errors.New("relay: allocation not found")
	ErrQuotaExceeded      = errors.New("relay: allocation quota exhausted")
)

const (
	// DefaultAllocationLifetime bounds how long an allocation may live from
	// creation, independent of its token's own expiry.
	DefaultAllocationLifetime = 8 * time.Hour

	quotaWarningFraction = 0.9

	// DefaultEvictionInterval is how often EvictExpired should be invoked
	// by the server's background sweep.
	DefaultEvictionInterval = time.Minute
)

// Allocation tracks one authorized two-party forwarding path.
type Allocation struct {
	ID             [16]byte
	DeviceID       [32]byte
	PeerID         [32]byte
	BandwidthLimit uint32
	QuotaBytes     uint64

	mu               sync.Mutex
	bytesTransferred uint64
	warned           bool
	createdAt        time.Time
	expiresAt        time.Time
	lastActive       time.Time
	deviceAddr       net.Addr
	peerAddr         net.Addr
}

// BytesTransferred returns the cumulative bytes forwarded in both directions.
func (a *Allocation) BytesTransferred() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bytesTransferred
}

// Expired reports whether the allocation's lifetime or token expiry has
// passed as of now.
func (a *Allocation) Expired(now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !now.Before(a.expiresAt)
}

// recordTransfer adds n bytes to the running total, returning an error if
// the quota is now exhausted and a bool reporting whether this call just
// crossed the 90%-used warning threshold for the first time.
func (a *Allocation) recordTransfer(n uint64) (warningTriggered bool, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.bytesTransferred+n > a.QuotaBytes {
		return false, ErrQuotaExceeded
	}
	a.bytesTransferred += n
	a.lastActive = time.Now()

	if !a.warned && a.QuotaBytes > 0 && float64(a.bytesTransferred) >= quotaWarningFraction*float64(a.QuotaBytes) {
		a.warned = true
		return true, nil
	}
	return false, nil
}

// noteMigration records a new observed source address for the device or
// peer leg. Address changes are tracked for audit purposes but never
// invalidate the allocation: connection migration is a QUIC-native event.
func (a *Allocation) noteMigration(fromDevice bool, addr net.Addr) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if fromDevice {
		a.deviceAddr = addr
	} else {
		a.peerAddr = addr
	}
}

// Manager owns the bounded table of active allocations. EvictExpired
// removes expired entries; Create evicts the least recently active entry
// when the table is full.
type Manager struct {
	mu          sync.Mutex
	allocations map[[16]byte]*Allocation
	lifetime    time.Duration
	maxTable    int
}

// NewManager builds an allocation table bounding entries at maxTable (0
// means unbounded) and defaulting new allocations' lifetime to lifetime
// (DefaultAllocationLifetime if zero).
func NewManager(lifetime time.Duration, maxTable int) *Manager {
	if lifetime <= 0 {
		lifetime = DefaultAllocationLifetime
	}
	return &Manager{
		allocations: make(map[[16]byte]*Allocation),
		lifetime:    lifetime,
		maxTable:    maxTable,
	}
}

// Create admits a new allocation from a verified token, evicting the least
// recently active entry first if the table is at capacity.
func (m *Manager) Create(token *Token, now time.Time) (*Allocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxTable > 0 && len(m.allocations) >= m.maxTable {
		m.evictLRULocked()
	}

	expiresAt := now.Add(m.lifetime)
	if token.ExpiresAt.Before(expiresAt) {
		expiresAt = token.ExpiresAt
	}

	alloc := &Allocation{
		ID:             token.AllocationID,
		DeviceID:       token.DeviceID,
		PeerID:         token.PeerID,
		BandwidthLimit: token.BandwidthLimit,
		QuotaBytes:     token.QuotaBytes,
		createdAt:      now,
		expiresAt:      expiresAt,
		lastActive:     now,
	}
	m.allocations[token.AllocationID] = alloc
	return alloc, nil
}

// Get returns the allocation for id, if present.
func (m *Manager) Get(id [16]byte) (*Allocation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.allocations[id]
	return a, ok
}

// RecordTransfer meters n bytes against id's allocation.
func (m *Manager) RecordTransfer(id [16]byte, n uint64) (warningTriggered bool, err error) {
	alloc, ok := m.Get(id)
	if !ok {
		return false, ErrAllocationNotFound
	}
	return alloc.recordTransfer(n)
}

// NoteMigration records a possibly-changed source address on id's
// allocation without invalidating it.
func (m *Manager) NoteMigration(id [16]byte, fromDevice bool, addr net.Addr) error {
	alloc, ok := m.Get(id)
	if !ok {
		return ErrAllocationNotFound
	}
	alloc.noteMigration(fromDevice, addr)
	return nil
}

// Remove deletes id's allocation, e.g. when a peer disconnects cleanly.
func (m *Manager) Remove(id [16]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.allocations, id)
}

// Len reports how many allocations are currently tracked.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.allocations)
}

// EvictExpired removes every allocation whose lifetime (capped by its
// token's expiry) has passed as of now, returning the count removed.
// Quota exhaustion is not checked here. Intended to run on
// DefaultEvictionInterval.
func (m *Manager) EvictExpired(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, a := range m.allocations {
		if a.Expired(now) {
			delete(m.allocations, id)
			removed++
		}
	}
	return removed
}

// evictLRULocked removes the allocation with the oldest lastActive time.
// Must be called with m.mu held.
func (m *Manager) evictLRULocked() {
	var oldestID [16]byte
	var oldestAt time.Time
	first := true
	for id, a := range m.allocations {
		a.mu.Lock()
		active := a.lastActive
		a.mu.Unlock()
		if first || active.Before(oldestAt) {
			oldestID, oldestAt = id, active
			first = false
		}
	}
	if !first {
		delete(m.allocations, oldestID)
	}
}
