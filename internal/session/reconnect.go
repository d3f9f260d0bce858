package session

import (
	"sync/atomic"
	"time"
)

// ReconnectionPolicy configures a ReconnectionManager's exponential
// backoff schedule (spec §4.9).
type ReconnectionPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// ReconnectionManager drives a bounded sequence of reconnect attempts
// with exponential backoff, cancellable mid-wait.
type ReconnectionManager struct {
	policy    ReconnectionPolicy
	cancelled atomic.Bool
}

// NewReconnectionManager builds a manager for policy.
func NewReconnectionManager(policy ReconnectionPolicy) *ReconnectionManager {
	return &ReconnectionManager{policy: policy}
}

// Delay returns the backoff delay before attempt n (0-indexed):
// min(base * 2^n, max).
func (m *ReconnectionManager) Delay(attempt int) time.Duration {
	d := m.policy.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= m.policy.MaxDelay {
			return m.policy.MaxDelay
		}
	}
	if d > m.policy.MaxDelay {
		d = m.policy.MaxDelay
	}
	return d
}

// Cancel marks the manager cancelled; any in-progress or future Run call
// returns ErrCancelled at its next wait boundary.
func (m *ReconnectionManager) Cancel() {
	m.cancelled.Store(true)
}

// Cancelled reports whether Cancel has been called.
func (m *ReconnectionManager) Cancelled() bool {
	return m.cancelled.Load()
}

// Run calls attempt up to MaxAttempts times, sleeping Delay(n) between
// tries, stopping as soon as attempt returns a nil error. It returns nil
// on success, ErrCancelled if Cancel was called, the last attempt's error
// if every attempt failed, or ErrMaxAttemptsExceeded if MaxAttempts allowed
// no attempt at all.
func (m *ReconnectionManager) Run(attempt func(n int) error) error {
	var lastErr error
	for n := 0; n < m.policy.MaxAttempts; n++ {
		if m.cancelled.Load() {
			return ErrCancelled
		}
		if n > 0 {
			if !m.sleep(m.Delay(n - 1)) {
				return ErrCancelled
			}
		}
		lastErr = attempt(n)
		if lastErr == nil {
			return nil
		}
	}
	if lastErr != nil {
		return lastErr
	}
	return ErrMaxAttemptsExceeded
}

// sleep waits for d, checking for cancellation every tick; returns false
// if cancelled before d elapses.
func (m *ReconnectionManager) sleep(d time.Duration) bool {
	const tick = 5 * time.Millisecond
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if m.cancelled.Load() {
			return false
		}
		remaining := time.Until(deadline)
		if remaining > tick {
			time.Sleep(tick)
		} else if remaining > 0 {
			time.Sleep(remaining)
		}
	}
	return !m.cancelled.Load()
}
