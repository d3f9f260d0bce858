package mux

import (
	"sync"
)

// BackpressurePolicy selects how a channel sender behaves when its send
// buffer is full.
type BackpressurePolicy int

const (
	// Block waits for buffer space, applying natural backpressure to the
	// caller. Appropriate for Control, Clipboard, Files.
	Block BackpressurePolicy = iota
	// DropOldest evicts the oldest buffered frame to make room for the
	// new one.
	DropOldest
	// DropNewest discards the incoming frame, keeping the buffer as-is.
	DropNewest
	// DropByPriority evicts the lowest-priority buffered frame across
	// all channels sharing the handler, regardless of send order.
	DropByPriority
)

// queuedFrame pairs a channel's outgoing payload with its originating
// channel, so DropByPriority can compare across channels.
type queuedFrame struct {
	channel ChannelID
	payload []byte
}

// BackpressureHandler buffers outgoing frames for all channels of one
// session and applies the configured policy when the shared capacity is
// exhausted. Dropped frames increment Dropped per channel; they never
// silently succeed.
type BackpressureHandler struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	capacity int
	queue    []queuedFrame
	policy   BackpressurePolicy
	closed   bool

	Dropped map[ChannelID]uint64
}

// NewBackpressureHandler builds a handler with the given shared queue
// capacity (in frames) and policy.
func NewBackpressureHandler(capacity int, policy BackpressurePolicy) *BackpressureHandler {
	h := &BackpressureHandler{
		capacity: capacity,
		policy:   policy,
		Dropped:  make(map[ChannelID]uint64),
	}
	h.notFull = sync.NewCond(&h.mu)
	return h
}

// Enqueue offers payload for sending on channel. Under Block it waits
// until space is available or Close is called (returning false). Under a
// Drop* policy it never blocks, returning false if the frame was dropped.
func (h *BackpressureHandler) Enqueue(channel ChannelID, payload []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	for len(h.queue) >= h.capacity && !h.closed {
		switch h.policy {
		case Block:
			h.notFull.Wait()
			continue
		case DropOldest:
			dropped := h.queue[0]
			h.queue = h.queue[1:]
			h.Dropped[dropped.channel]++
		case DropNewest:
			h.Dropped[channel]++
			return false
		case DropByPriority:
			idx := h.lowestPriorityIndex()
			if channel.Priority() >= h.queue[idx].channel.Priority() {
				// The new frame is no higher priority than the worst
				// frame already queued; drop the new frame instead.
				h.Dropped[channel]++
				return false
			}
			dropped := h.queue[idx]
			h.queue = append(h.queue[:idx], h.queue[idx+1:]...)
			h.Dropped[dropped.channel]++
		}
	}
	if h.closed {
		return false
	}

	h.queue = append(h.queue, queuedFrame{channel: channel, payload: payload})
	return true
}

func (h *BackpressureHandler) lowestPriorityIndex() int {
	worst := 0
	for i := 1; i < len(h.queue); i++ {
		if h.queue[i].channel.Priority() > h.queue[worst].channel.Priority() {
			worst = i
		}
	}
	return worst
}

// Dequeue removes and returns the next queued frame in FIFO order, or ok
// = false if the queue is empty. Wakes any Block-policy Enqueue waiters.
func (h *BackpressureHandler) Dequeue() (channel ChannelID, payload []byte, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.queue) == 0 {
		return 0, nil, false
	}
	f := h.queue[0]
	h.queue = h.queue[1:]
	h.notFull.Signal()
	return f.channel, f.payload, true
}

// Close unblocks any pending Block-policy Enqueue callers, which then
// return false. Used on session teardown to release waiters cleanly.
func (h *BackpressureHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.notFull.Broadcast()
}

// Len returns the current queue depth.
func (h *BackpressureHandler) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queue)
}

// DroppedCount returns how many frames have been dropped for channel.
func (h *BackpressureHandler) DroppedCount(channel ChannelID) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Dropped[channel]
}
