package directory

import (
	"sync"
	"time"
)

// SearchProtectionConfig tunes enumeration detection.
type SearchProtectionConfig struct {
	// Window is the rolling period over which distinct lookups are counted.
	Window time.Duration
	// DistinctLookupThreshold distinct subject_ids within Window trips
	// blocking (spec §4.10 default: 100 within 5 minutes).
	DistinctLookupThreshold int
	// BlockDuration is how long a tripped source stays blocked.
	BlockDuration time.Duration
}

// DefaultSearchProtectionConfig matches spec.md's stated default.
func DefaultSearchProtectionConfig() SearchProtectionConfig {
	return SearchProtectionConfig{
		Window:                  5 * time.Minute,
		DistinctLookupThreshold: 100,
		BlockDuration:           15 * time.Minute,
	}
}

type lookupEntry struct {
	subject [32]byte
	at      time.Time
}

type sourceState struct {
	lookups     []lookupEntry
	blockedUntil time.Time
}

// SearchProtection rate-limits and tracks per-source-IP lookup diversity,
// blocking sources that enumerate the directory rather than looking up
// known subjects.
type SearchProtection struct {
	mu     sync.Mutex
	cfg    SearchProtectionConfig
	states map[string]*sourceState
}

// NewSearchProtection builds a tracker using cfg.
func NewSearchProtection(cfg SearchProtectionConfig) *SearchProtection {
	return &SearchProtection{cfg: cfg, states: make(map[string]*sourceState)}
}

// Allow records a lookup of subjectID from source and reports whether it
// should proceed. A source already blocked, or one that just crossed the
// distinct-lookup threshold, is rejected.
func (p *SearchProtection) Allow(source string, subjectID [32]byte, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.states[source]
	if !ok {
		st = &sourceState{}
		p.states[source] = st
	}
	if now.Before(st.blockedUntil) {
		return false
	}

	cutoff := now.Add(-p.cfg.Window)
	kept := st.lookups[:0]
	for _, l := range st.lookups {
		if l.at.After(cutoff) {
			kept = append(kept, l)
		}
	}
	st.lookups = kept
	st.lookups = append(st.lookups, lookupEntry{subject: subjectID, at: now})

	if p.distinctCount(st.lookups) >= p.cfg.DistinctLookupThreshold {
		st.blockedUntil = now.Add(p.cfg.BlockDuration)
		return false
	}
	return true
}

func (p *SearchProtection) distinctCount(lookups []lookupEntry) int {
	seen := make(map[[32]byte]struct{}, len(lookups))
	for _, l := range lookups {
		seen[l.subject] = struct{}{}
	}
	return len(seen)
}

// Blocked reports whether source is currently blocked.
func (p *SearchProtection) Blocked(source string, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.states[source]
	if !ok {
		return false
	}
	return now.Before(st.blockedUntil)
}
