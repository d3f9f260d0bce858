package mux

import (
	"sync"

	"github.com/zrcore/zrc/internal/crypto"
)

// SendSequencer hands out strict-monotonic per-channel sequence numbers
// for outgoing frames. Sequence 0 is reserved and never issued.
type SendSequencer struct {
	mu      sync.Mutex
	next    map[ChannelID]uint64
}

// NewSendSequencer builds a sequencer starting every channel at 1.
func NewSendSequencer() *SendSequencer {
	return &SendSequencer{next: make(map[ChannelID]uint64)}
}

// Next returns the next sequence number to use for channel and advances
// its counter.
func (s *SendSequencer) Next(channel ChannelID) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.next[channel]
	if n == 0 {
		n = 1
	}
	s.next[channel] = n + 1
	return n
}

// ReceiveSequencer applies replay protection independently per channel,
// per spec §4.4/§4.8: cross-channel ordering is not preserved, but each
// channel rejects duplicate or too-old sequence numbers on its own.
type ReceiveSequencer struct {
	mu       sync.Mutex
	filters  map[ChannelID]*crypto.ReplayFilter
	windowSize uint64
}

// NewReceiveSequencer builds a receive sequencer; each channel's replay
// filter is created lazily with the given sliding window size.
func NewReceiveSequencer(windowSize uint64) *ReceiveSequencer {
	return &ReceiveSequencer{
		filters:    make(map[ChannelID]*crypto.ReplayFilter),
		windowSize: windowSize,
	}
}

// CheckAndUpdate validates seq against channel's replay filter, creating
// the filter on first use.
func (s *ReceiveSequencer) CheckAndUpdate(channel ChannelID, seq uint64) error {
	s.mu.Lock()
	f, ok := s.filters[channel]
	if !ok {
		f = crypto.NewReplayFilter(s.windowSize)
		s.filters[channel] = f
	}
	s.mu.Unlock()
	return f.CheckAndUpdate(seq)
}
