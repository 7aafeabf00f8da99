package stream

import (
	"sync"
	"sync/atomic"
	"time"
)

// SubscriberID identifies a subscription within its broker.
type SubscriberID uint64

// Subscriber receives the events matching its filter on a buffered
// channel. A subscriber that falls behind loses events instead of blocking
// commits; Dropped counts them.
type Subscriber struct {
	ID      SubscriberID
	Filter  WatchFilter
	Created time.Time

	ch      chan ChangeEvent
	mu      sync.Mutex // orders sends against close
	closed  bool
	dropped atomic.Uint64
	last    atomic.Uint64 // token of the last delivered event
}

func newSubscriber(id SubscriberID, filter WatchFilter, bufferSize int) *Subscriber {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Subscriber{
		ID:      id,
		Filter:  filter,
		Created: time.Now(),
		ch:      make(chan ChangeEvent, bufferSize),
	}
}

// Events returns the channel events are delivered on. It is closed when
// the subscription ends.
func (s *Subscriber) Events() <-chan ChangeEvent {
	return s.ch
}

// send delivers event without blocking and reports whether it fit.
func (s *Subscriber) send(event ChangeEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	select {
	case s.ch <- event:
		s.last.Store(event.Token)
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// IsClosed returns true once the subscription has ended.
func (s *Subscriber) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Dropped returns the number of events lost because the channel was full.
func (s *Subscriber) Dropped() uint64 {
	return s.dropped.Load()
}

// LastToken returns the token of the last event queued for the subscriber.
func (s *Subscriber) LastToken() uint64 {
	return s.last.Load()
}
