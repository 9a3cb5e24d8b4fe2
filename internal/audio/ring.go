package audio

import "sync"

// RingBuffer is an append-only rolling buffer of 16 kHz mono PCM bounded to
// a fixed number of seconds; oldest samples are evicted as new ones arrive.
// A read always returns the most recent contiguous window.
type RingBuffer struct {
	mu       sync.Mutex
	buf      []int16
	cap      int
	writePos int
	total    int64 // samples ever written
	endMs    int64 // capture timestamp of the newest sample
}

// NewRingBuffer creates a buffer holding capacityS seconds of audio.
func NewRingBuffer(capacityS float64) *RingBuffer {
	samples := int(capacityS * TargetSampleRate)
	if samples < TargetSampleRate/10 {
		samples = TargetSampleRate / 10
	}
	return &RingBuffer{buf: make([]int16, samples), cap: samples}
}

// Append writes a chunk's samples, evicting the oldest on overflow.
func (r *RingBuffer) Append(c Chunk) {
	r.mu.Lock()
	for _, s := range c.Samples {
		r.buf[r.writePos] = s
		r.writePos = (r.writePos + 1) % r.cap
	}
	r.total += int64(len(c.Samples))
	r.endMs = c.TimestampMs + c.DurationMs()
	r.mu.Unlock()
}

// Len reports how many samples are currently buffered (at most capacity).
func (r *RingBuffer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.total < int64(r.cap) {
		return int(r.total)
	}
	return r.cap
}

// Full reports whether a complete window of audio is available.
func (r *RingBuffer) Full() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total >= int64(r.cap)
}

// Window copies out the most recent contiguous span of up to n samples and
// the capture timestamp (ms) of its first sample.
func (r *RingBuffer) Window(n int) ([]int16, int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n > r.cap {
		n = r.cap
	}
	if int64(n) > r.total {
		n = int(r.total)
	}
	out := make([]int16, n)
	start := (r.writePos - n + r.cap) % r.cap
	for i := 0; i < n; i++ {
		out[i] = r.buf[(start+i)%r.cap]
	}
	startMs := r.endMs - int64(n)*1000/TargetSampleRate
	return out, startMs
}

// Release drops the backing storage. The buffer must not be used afterwards.
func (r *RingBuffer) Release() {
	r.mu.Lock()
	r.buf = nil
	r.cap = 1
	r.total = 0
	r.mu.Unlock()
}
