package directory

import (
	"testing"
	"time"
)

func TestSearchProtection_AllowsBelowThreshold(t *testing.T) {
	p := NewSearchProtection(SearchProtectionConfig{
		Window:                  time.Minute,
		DistinctLookupThreshold: 5,
		BlockDuration:           time.Minute,
	})
	now := time.Now()
	for i := 0; i < 4; i++ {
		var id [32]byte
		id[0] = byte(i)
		if !p.Allow("1.2.3.4", id, now) {
			t.Fatalf("lookup %d unexpectedly blocked", i)
		}
	}
}

func TestSearchProtection_BlocksAtEnumerationThreshold(t *testing.T) {
	p := NewSearchProtection(SearchProtectionConfig{
		Window:                  time.Minute,
		DistinctLookupThreshold: 3,
		BlockDuration:           time.Minute,
	})
	now := time.Now()
	for i := 0; i < 3; i++ {
		var id [32]byte
		id[0] = byte(i)
		p.Allow("1.2.3.4", id, now)
	}
	var another [32]byte
	another[0] = 0xFF
	if p.Allow("1.2.3.4", another, now) {
		t.Fatal("expected lookup after the 3rd distinct subject tripped blocking to be rejected")
	}
	if !p.Blocked("1.2.3.4", now) {
		t.Error("expected source to be blocked after tripping")
	}
}

func TestSearchProtection_RepeatedSameSubjectDoesNotTrip(t *testing.T) {
	p := NewSearchProtection(SearchProtectionConfig{
		Window:                  time.Minute,
		DistinctLookupThreshold: 3,
		BlockDuration:           time.Minute,
	})
	now := time.Now()
	var id [32]byte
	id[0] = 7
	for i := 0; i < 10; i++ {
		if !p.Allow("1.2.3.4", id, now) {
			t.Fatalf("repeated lookup of the same subject unexpectedly blocked at iteration %d", i)
		}
	}
}

func TestSearchProtection_BlockExpires(t *testing.T) {
	p := NewSearchProtection(SearchProtectionConfig{
		Window:                  time.Minute,
		DistinctLookupThreshold: 2,
		BlockDuration:           30 * time.Second,
	})
	now := time.Now()
	var a, b [32]byte
	a[0], b[0] = 1, 2
	p.Allow("1.2.3.4", a, now)
	p.Allow("1.2.3.4", b, now)

	later := now.Add(time.Minute)
	if p.Blocked("1.2.3.4", later) {
		t.Error("expected block to have expired")
	}
}

func TestSearchProtection_DistinctSourcesTrackedIndependently(t *testing.T) {
	p := NewSearchProtection(SearchProtectionConfig{
		Window:                  time.Minute,
		DistinctLookupThreshold: 2,
		BlockDuration:           time.Minute,
	})
	now := time.Now()
	var a, b, c [32]byte
	a[0], b[0], c[0] = 1, 2, 3
	p.Allow("1.2.3.4", a, now)
	p.Allow("1.2.3.4", b, now)
	// Source "1.2.3.4" should now be blocked, but a fresh source is unaffected.
	if p.Allow("1.2.3.4", c, now) {
		t.Fatal("expected first source to be blocked")
	}
	if !p.Allow("5.6.7.8", a, now) {
		t.Fatal("expected independent source to be unaffected")
	}
}
