package audio

import (
	"sync"
	"time"
)

// RingBuffer is a fixed-capacity circular store of mono samples. Writes past
// capacity silently overwrite the oldest data, so the buffer always holds the
// most recent samples. Safe for concurrent use.
type RingBuffer struct {
	mu     sync.Mutex
	buf    []float32
	cursor int
	count  int
}

// NewRingBuffer creates a ring buffer holding at most capacity samples.
// A capacity below 1 is clamped to 1.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{buf: make([]float32, capacity)}
}

// Write appends samples, overwriting the oldest data once full. Accepts any
// length; an input longer than capacity leaves exactly its last capacity
// samples in the buffer.
func (r *RingBuffer) Write(samples []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(samples)
	size := len(r.buf)
	if n == 0 {
		return
	}
	if n >= size {
		// Only the tail survives a full wrap.
		copy(r.buf, samples[n-size:])
		r.cursor = 0
		r.count = size
		return
	}

	written := copy(r.buf[r.cursor:], samples)
	if written < n {
		copy(r.buf, samples[written:])
	}
	r.cursor = (r.cursor + n) % size
	r.count += n
	if r.count > size {
		r.count = size
	}
}

// Read returns all held samples in chronological order, oldest first.
// The buffer is not modified.
func (r *RingBuffer) Read() []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]float32, r.count)
	if r.count == 0 {
		return out
	}
	size := len(r.buf)
	start := (r.cursor - r.count + size) % size
	if start+r.count <= size {
		copy(out, r.buf[start:start+r.count])
	} else {
		n := copy(out, r.buf[start:])
		copy(out[n:], r.buf[:r.count-n])
	}
	return out
}

// Reset empties the buffer. The backing storage is not cleared; Read is
// gated by the sample count alone.
func (r *RingBuffer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursor = 0
	r.count = 0
}

// Count returns the number of valid samples currently held.
func (r *RingBuffer) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Capacity returns the fixed capacity of the buffer.
func (r *RingBuffer) Capacity() int {
	return len(r.buf)
}

// Duration returns the audio duration of the held samples at the given
// sample rate. Returns zero for a non-positive rate.
func (r *RingBuffer) Duration(sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Duration(r.count) * time.Second / time.Duration(sampleRate)
}
