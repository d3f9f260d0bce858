package ratelimit

import (
	"testing"
	"time"
)

func testLimits() Limits {
	return Limits{
		Window:       time.Minute,
		PairingLimit: 3,
		SessionLimit: 10,
		BaseBackoff:  time.Second,
		MaxBackoff:   time.Minute,
	}
}

func TestAllow_UnderLimitSucceeds(t *testing.T) {
	l := New(testLimits(), nil)
	now := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := l.Allow("1.2.3.4", Pairing, now); err != nil {
			t.Fatalf("Allow() call %d: %v", i, err)
		}
	}
}

func TestAllow_OverLimitRejectsWithBackoff(t *testing.T) {
	l := New(testLimits(), nil)
	now := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := l.Allow("1.2.3.4", Pairing, now); err != nil {
			t.Fatalf("Allow() call %d: %v", i, err)
		}
	}
	retryAfter, err := l.Allow("1.2.3.4", Pairing, now)
	if err != ErrRejected {
		t.Fatalf("Allow() error = %v, want ErrRejected", err)
	}
	if retryAfter != 2*time.Second {
		t.Errorf("retryAfter = %v, want 2s (base=1s * 2^1)", retryAfter)
	}
}

func TestAllow_BackoffEscalatesAndCaps(t *testing.T) {
	l := New(testLimits(), nil)
	now := time.Now()

	// Exhaust the limit once to trip violations=1.
	for i := 0; i < 3; i++ {
		l.Allow("src", Pairing, now)
	}
	retryAfter1, err := l.Allow("src", Pairing, now)
	if err != ErrRejected {
		t.Fatalf("Allow() error = %v, want ErrRejected", err)
	}
	if retryAfter1 != 2*time.Second {
		t.Fatalf("retryAfter1 = %v, want 2s (base=1s * 2^1)", retryAfter1)
	}

	// Still within backoff: rejected immediately with the remaining
	// backoff duration, without incrementing violations further.
	now = now.Add(retryAfter1 / 2)
	retryAfterStill, err := l.Allow("src", Pairing, now)
	if err != ErrRejected {
		t.Fatalf("Allow() within backoff error = %v, want ErrRejected", err)
	}
	if retryAfterStill >= retryAfter1 {
		t.Errorf("expected remaining backoff to shrink, got %v then %v", retryAfter1, retryAfterStill)
	}

	// Advance past the backoff window. The three original timestamps are
	// still within the 1-minute sliding window, so the very next call
	// immediately re-trips the limit at violations=2, doubling the backoff.
	now = now.Add(retryAfter1)
	retryAfter2, err := l.Allow("src", Pairing, now)
	if err != ErrRejected {
		t.Fatalf("Allow() error = %v, want ErrRejected", err)
	}
	if retryAfter2 != 4*time.Second {
		t.Errorf("retryAfter2 = %v, want 4s (base=1s * 2^2)", retryAfter2)
	}
	if retryAfter2 > testLimits().MaxBackoff {
		t.Errorf("backoff %v exceeds MaxBackoff %v", retryAfter2, testLimits().MaxBackoff)
	}
}

func TestAllow_SuccessResetsViolations(t *testing.T) {
	l := New(testLimits(), nil)
	now := time.Now()
	for i := 0; i < 3; i++ {
		l.Allow("src", Pairing, now)
	}
	if _, err := l.Allow("src", Pairing, now); err != ErrRejected {
		t.Fatalf("expected rejection to trip violations")
	}

	// Advance past window and backoff so the next call succeeds and
	// resets violations to 0.
	now = now.Add(2 * time.Minute)
	if _, err := l.Allow("src", Pairing, now); err != nil {
		t.Fatalf("Allow() after cooldown: %v", err)
	}

	// A fresh trip to the limit should now use violations=1 backoff again.
	now = now.Add(time.Second)
	for i := 0; i < 2; i++ {
		l.Allow("src", Pairing, now)
	}
	retryAfter, err := l.Allow("src", Pairing, now)
	if err != ErrRejected {
		t.Fatalf("Allow() error = %v, want ErrRejected", err)
	}
	if retryAfter != 2*time.Second {
		t.Errorf("retryAfter = %v, want 2s for a first-time violation after reset", retryAfter)
	}
}

func TestAllow_AllowlistBypasses(t *testing.T) {
	l := New(testLimits(), []string{"trusted"})
	now := time.Now()
	for i := 0; i < 100; i++ {
		if _, err := l.Allow("trusted", Pairing, now); err != nil {
			t.Fatalf("Allow() call %d for allowlisted source: %v", i, err)
		}
	}
}

func TestAllow_SeparateBucketsPerRequestType(t *testing.T) {
	l := New(testLimits(), nil)
	now := time.Now()
	for i := 0; i < 3; i++ {
		l.Allow("src", Pairing, now)
	}
	if _, err := l.Allow("src", Pairing, now); err != ErrRejected {
		t.Fatalf("expected pairing bucket to be exhausted")
	}
	if _, err := l.Allow("src", Session, now); err != nil {
		t.Fatalf("expected session bucket to be independent, got %v", err)
	}
}

func TestAllow_SlidingWindowExpiresOldTimestamps(t *testing.T) {
	l := New(testLimits(), nil)
	now := time.Now()
	for i := 0; i < 3; i++ {
		l.Allow("src", Pairing, now)
	}
	now = now.Add(90 * time.Second)
	if _, err := l.Allow("src", Pairing, now); err != nil {
		t.Fatalf("Allow() after window expiry: %v", err)
	}
}

func TestReset_ClearsState(t *testing.T) {
	l := New(testLimits(), nil)
	now := time.Now()
	for i := 0; i < 3; i++ {
		l.Allow("src", Pairing, now)
	}
	if _, err := l.Allow("src", Pairing, now); err != ErrRejected {
		t.Fatalf("expected rejection before reset")
	}
	l.Reset("src")
	if _, err := l.Allow("src", Pairing, now); err != nil {
		t.Fatalf("Allow() after Reset: %v", err)
	}
}
