package bridge

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Subscription.Next once the hub or the subscription
// has been closed and no queued frames remain.
var ErrClosed = errors.New("bridge closed")

// Hub fans frames out to any number of subscriptions. Each subscription has
// its own unbounded FIFO, so a slow consumer never stalls the publisher or
// other consumers.
type Hub struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewHub returns an open hub with no subscribers.
func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscription]struct{})}
}

// Subscribe attaches a new read cursor. It only sees frames published after
// the call. Subscribing to a closed hub returns a subscription that reports
// ErrClosed immediately.
func (h *Hub) Subscribe() *Subscription {
	s := &Subscription{
		hub:    h,
		notify: make(chan struct{}, 1),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		s.ended = true
		return s
	}
	h.subs[s] = struct{}{}
	return s
}

// Publish appends frame to every subscription. It returns false once the hub
// is closed.
func (h *Hub) Publish(frame []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	for s := range h.subs {
		s.push(frame)
	}
	return true
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Closed reports whether Close has been called.
func (h *Hub) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Close ends the hub. Subscribers drain what is queued and then get ErrClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		s.end()
	}
	h.subs = nil
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, s)
}

// Subscription is one consumer's cursor on a Hub.
type Subscription struct {
	hub    *Hub
	notify chan struct{}

	mu       sync.Mutex
	queue    [][]byte
	ended    bool // no more frames will be pushed
	detached bool // Close was called; queued frames are discarded
}

func (s *Subscription) push(frame []byte) {
	s.mu.Lock()
	s.queue = append(s.queue, frame)
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription) end() {
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next returns the next frame in publication order. It blocks until a frame
// is queued, ctx is done, or the subscription ends.
func (s *Subscription) Next(ctx context.Context) ([]byte, error) {
	for {
		s.mu.Lock()
		if s.detached {
			s.mu.Unlock()
			return nil, ErrClosed
		}
		if len(s.queue) > 0 {
			frame := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return frame, nil
		}
		ended := s.ended
		s.mu.Unlock()
		if ended {
			return nil, ErrClosed
		}

		select {
		case <-s.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Pending returns the number of queued frames.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close detaches the subscription from its hub and discards queued frames.
// A blocked Next returns ErrClosed.
func (s *Subscription) Close() {
	s.hub.remove(s)

	s.mu.Lock()
	s.detached = true
	s.ended = true
	s.queue = nil
	s.mu.Unlock()
	s.wake()
}
