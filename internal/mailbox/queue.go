// Package mailbox implements the store-and-forward envelope queue service
// (spec §4.13/§6): a bounded per-recipient queue with TTL expiry and
// idle-mailbox eviction, fronted by a long-polling HTTP API.
package mailbox

import (
	"container/list"
	"errors"
	"sync"
	"time"
)

var (
	ErrQueueFull     = errors.New("mailbox: recipient queue is full")
	ErrEnvelopeTooLarge = errors.New("mailbox: envelope exceeds max size")
)

// QueueConfig bounds a single mailbox's behavior.
type QueueConfig struct {
	MaxQueueLength int
	MessageTTL     time.Duration
	MaxEnvelopeSize int
	IdleEvictAfter time.Duration
}

// DefaultQueueConfig matches the spec's implied defaults for a modest
// store-and-forward deployment.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxQueueLength:  256,
		MessageTTL:      10 * time.Minute,
		MaxEnvelopeSize: 256 << 10,
		IdleEvictAfter:  24 * time.Hour,
	}
}

type queuedEnvelope struct {
	seq      uint64
	payload  []byte
	expires  time.Time
}

type mailboxQueue struct {
	mu       sync.Mutex
	items    *list.List // of *queuedEnvelope
	nextSeq  uint64
	lastActive time.Time

	// waiters holds channels for long-poll GETs currently blocked,
	// signalled in FIFO order when a new envelope arrives.
	waiters []chan struct{}
}

// Store holds one bounded, TTL-expiring queue per recipient ID.
type Store struct {
	mu      sync.Mutex
	cfg     QueueConfig
	mailboxes map[[32]byte]*mailboxQueue
}

// NewStore builds an empty mailbox store using cfg for every recipient.
func NewStore(cfg QueueConfig) *Store {
	return &Store{cfg: cfg, mailboxes: make(map[[32]byte]*mailboxQueue)}
}

func (s *Store) mailboxFor(recipient [32]byte, now time.Time) *mailboxQueue {
	s.mu.Lock()
	defer s.mu.Unlock()
	mb, ok := s.mailboxes[recipient]
	if !ok {
		mb = &mailboxQueue{items: list.New(), lastActive: now}
		s.mailboxes[recipient] = mb
	}
	return mb
}

// Post enqueues payload for recipient, dropping expired entries from the
// front first. Returns ErrQueueFull if the bounded queue is already at
// capacity, or ErrEnvelopeTooLarge if payload exceeds MaxEnvelopeSize.
func (s *Store) Post(recipient [32]byte, payload []byte, now time.Time) error {
	if len(payload) > s.cfg.MaxEnvelopeSize {
		return ErrEnvelopeTooLarge
	}
	mb := s.mailboxFor(recipient, now)

	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.lastActive = now
	s.dropExpiredLocked(mb, now)

	if mb.items.Len() >= s.cfg.MaxQueueLength {
		return ErrQueueFull
	}
	mb.nextSeq++
	mb.items.PushBack(&queuedEnvelope{
		seq:     mb.nextSeq,
		payload: payload,
		expires: now.Add(s.cfg.MessageTTL),
	})
	s.wakeWaitersLocked(mb)
	return nil
}

// Poll removes and returns the earliest queued envelope for recipient,
// waiting up to waitFor for one to arrive if the queue is currently empty.
// queueLength reports the depth remaining after that removal, for the
// X-Queue-Length header.
func (s *Store) Poll(recipient [32]byte, waitFor time.Duration, now time.Time) (payload []byte, seq uint64, queueLength int, ok bool) {
	mb := s.mailboxFor(recipient, now)

	deadline := now.Add(waitFor)
	for {
		mb.mu.Lock()
		mb.lastActive = time.Now()
		s.dropExpiredLocked(mb, time.Now())
		if front := mb.items.Front(); front != nil {
			qe := front.Value.(*queuedEnvelope)
			mb.items.Remove(front)
			length := mb.items.Len()
			mb.mu.Unlock()
			return qe.payload, qe.seq, length, true
		}
		if waitFor <= 0 || time.Now().After(deadline) {
			mb.mu.Unlock()
			return nil, 0, 0, false
		}
		wait := make(chan struct{}, 1)
		mb.waiters = append(mb.waiters, wait)
		mb.mu.Unlock()

		remaining := time.Until(deadline)
		select {
		case <-wait:
		case <-time.After(remaining):
			return nil, 0, 0, false
		}
	}
}

func (s *Store) dropExpiredLocked(mb *mailboxQueue, now time.Time) {
	for front := mb.items.Front(); front != nil; front = mb.items.Front() {
		qe := front.Value.(*queuedEnvelope)
		if now.Before(qe.expires) {
			break
		}
		mb.items.Remove(front)
	}
}

func (s *Store) wakeWaitersLocked(mb *mailboxQueue) {
	for _, w := range mb.waiters {
		select {
		case w <- struct{}{}:
		default:
		}
	}
	mb.waiters = nil
}

// QueueLength returns the current depth of recipient's mailbox.
func (s *Store) QueueLength(recipient [32]byte, now time.Time) int {
	mb := s.mailboxFor(recipient, now)
	mb.mu.Lock()
	defer mb.mu.Unlock()
	s.dropExpiredLocked(mb, now)
	return mb.items.Len()
}

// EvictIdle removes every mailbox whose last activity is older than
// IdleEvictAfter, returning the count removed. Intended to run
// periodically.
func (s *Store) EvictIdle(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, mb := range s.mailboxes {
		mb.mu.Lock()
		idle := now.Sub(mb.lastActive) > s.cfg.IdleEvictAfter
		mb.mu.Unlock()
		if idle {
			delete(s.mailboxes, id)
			removed++
		}
	}
	return removed
}

// MailboxCount returns how many distinct recipient mailboxes currently exist.
func (s *Store) MailboxCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.mailboxes)
}
