package audio

import (
	"sync"
)

// RingBuffer holds the most recent audio up to a fixed capacity. When full,
// the oldest bytes are overwritten so that the latest speech is kept.
type RingBuffer struct {
	mu      sync.Mutex
	buffer  []byte
	start   int
	length  int
	dropped int
}

// NewRingBuffer creates a ring buffer holding at most size bytes
func NewRingBuffer(size int) *RingBuffer {
	if size < BytesPerSample {
		size = BytesPerSample
	}
	// keep whole samples so a drained backlog stays aligned
	size -= size % BytesPerSample
	return &RingBuffer{buffer: make([]byte, size)}
}

// Write appends data, overwriting the oldest bytes when the buffer is full.
// It returns the number of bytes that had to be overwritten.
func (rb *RingBuffer) Write(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	size := len(rb.buffer)
	lost := 0
	if len(data) > size {
		lost = len(data) - size
		data = data[lost:]
	}
	if over := rb.length + len(data) - size; over > 0 {
		rb.start = (rb.start + over) % size
		rb.length -= over
		lost += over
	}

	end := (rb.start + rb.length) % size
	n := copy(rb.buffer[end:], data)
	copy(rb.buffer, data[n:])
	rb.length += len(data)
	rb.dropped += lost
	return lost
}

// Drain returns everything buffered, oldest first, and empties the buffer
func (rb *RingBuffer) Drain() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	out := make([]byte, rb.length)
	n := copy(out, rb.buffer[rb.start:min(rb.start+rb.length, len(rb.buffer))])
	copy(out[n:], rb.buffer)
	rb.start, rb.length = 0, 0
	return out
}

// Len returns the number of buffered bytes
func (rb *RingBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.length
}

// Dropped returns how many bytes were overwritten since the last Reset
func (rb *RingBuffer) Dropped() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.dropped
}

// Reset empties the buffer
func (rb *RingBuffer) Reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.start, rb.length, rb.dropped = 0, 0, 0
}
