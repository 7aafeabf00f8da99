package stream

import (
	"errors"
	"sync"
	"time"
)

// Buffer size constants.
const (
	DefaultBufferSize = 256
	ReplayBufferSize  = 4096
)

// Errors.
var (
	ErrTokenTooOld  = errors.New("stream: resume token too old")
	ErrBrokerClosed = errors.New("stream: broker is closed")
	ErrBadPattern   = errors.New("stream: invalid key pattern")
)

// Broker fans change events out to subscribers and keeps a replay buffer
// for resuming.
type Broker struct {
	mu          sync.Mutex
	subscribers map[SubscriberID]*Subscriber
	replay      *RingBuffer
	nextID      SubscriberID
	token       uint64 // last assigned token
	bufferSize  int
	closed      bool
}

// NewBroker creates a broker whose subscribers buffer bufferSize events.
// A bufferSize of 0 selects DefaultBufferSize.
func NewBroker(bufferSize int) *Broker {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Broker{
		subscribers: make(map[SubscriberID]*Subscriber),
		replay:      NewRingBuffer(ReplayBufferSize),
		bufferSize:  bufferSize,
	}
}

// Subscribe starts a subscription that receives events published from now
// on.
func (b *Broker) Subscribe(filter WatchFilter) (*Subscriber, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribeLocked(filter)
}

// SubscribeFrom starts a subscription that first receives the buffered
// events after token and then every new one. It fails with ErrTokenTooOld
// if some of those events are no longer buffered.
func (b *Broker) SubscribeFrom(filter WatchFilter, token uint64) (*Subscriber, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	events, ok := b.replay.EventsSince(token)
	if !ok {
		return nil, ErrTokenTooOld
	}
	sub, err := b.subscribeLocked(filter)
	if err != nil {
		return nil, err
	}
	for i := range events {
		if filter.Matches(&events[i]) {
			sub.send(events[i])
		}
	}
	return sub, nil
}

func (b *Broker) subscribeLocked(filter WatchFilter) (*Subscriber, error) {
	if b.closed {
		return nil, ErrBrokerClosed
	}
	b.nextID++
	sub := newSubscriber(b.nextID, filter, b.bufferSize)
	b.subscribers[sub.ID] = sub
	return sub, nil
}

// Unsubscribe ends a subscription and closes its channel.
func (b *Broker) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	delete(b.subscribers, sub.ID)
	b.mu.Unlock()
	sub.close()
}

// Publish assigns tokens to events and delivers them to every matching
// subscriber. Events of one call are delivered together and in order.
// It returns the token of the last event.
func (b *Broker) Publish(events ...ChangeEvent) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || len(events) == 0 {
		return b.token
	}

	now := time.Now()
	for _, event := range events {
		b.token++
		event.Token = b.token
		event.Timestamp = now
		b.replay.Push(event)

		for _, sub := range b.subscribers {
			if sub.Filter.Matches(&event) {
				sub.send(event)
			}
		}
	}
	return b.token
}

// CurrentToken returns the last assigned token.
func (b *Broker) CurrentToken() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.token
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := BrokerStats{
		Subscribers:    len(b.subscribers),
		CurrentToken:   b.token,
		ReplayLen:      b.replay.Len(),
		MinReplayToken: b.replay.MinToken(),
	}
	for _, sub := range b.subscribers {
		stats.Dropped += sub.Dropped()
	}
	return stats
}

// Close ends every subscription. Later publishes are ignored.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		sub.close()
		delete(b.subscribers, id)
	}
}

// IsClosed returns true if the broker has been closed.
func (b *Broker) IsClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// BrokerStats contains broker statistics.
type BrokerStats struct {
	Subscribers    int
	CurrentToken   uint64
	ReplayLen      int
	MinReplayToken uint64
	Dropped        uint64 // events lost by current subscribers
}
