package stream

// RingBuffer keeps the most recent events for resuming subscribers. Events
// must be pushed with consecutive tokens, which lets EventsSince locate a
// token by arithmetic. It is not safe for concurrent use; the broker
// guards it.
type RingBuffer struct {
	events []ChangeEvent
	start  int // index of the oldest event
	size   int
}

// NewRingBuffer creates a ring buffer holding up to capacity events.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = ReplayBufferSize
	}
	return &RingBuffer{events: make([]ChangeEvent, capacity)}
}

// Push appends an event, overwriting the oldest one when full.
func (rb *RingBuffer) Push(event ChangeEvent) {
	if rb.size < len(rb.events) {
		rb.events[(rb.start+rb.size)%len(rb.events)] = event
		rb.size++
		return
	}
	rb.events[rb.start] = event
	rb.start = (rb.start + 1) % len(rb.events)
}

// EventsSince returns the buffered events with tokens above token, oldest
// first. ok is false when events after token were already overwritten.
func (rb *RingBuffer) EventsSince(token uint64) (events []ChangeEvent, ok bool) {
	if rb.size == 0 {
		return nil, true
	}
	first := rb.events[rb.start].Token
	if token+1 < first {
		return nil, false
	}

	skip := int(min(token+1-first, uint64(rb.size)))
	events = make([]ChangeEvent, 0, rb.size-skip)
	for i := skip; i < rb.size; i++ {
		events = append(events, rb.events[(rb.start+i)%len(rb.events)])
	}
	return events, true
}

// Len returns the number of buffered events.
func (rb *RingBuffer) Len() int {
	return rb.size
}

// MinToken returns the oldest buffered token, 0 when empty.
func (rb *RingBuffer) MinToken() uint64 {
	if rb.size == 0 {
		return 0
	}
	return rb.events[rb.start].Token
}
