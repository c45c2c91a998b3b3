package audio

import (
	"sync"
)

// Buffer is a progressive byte buffer between a network producer and a
// local consumer. Bytes append at the tail and are consumed from the
// head. Once the total number of appended bytes crosses the prebuffer
// threshold the buffer signals readiness and stays ready for its
// lifetime, even after draining.
type Buffer struct {
	prebufferBytes int

	// Byte accounting
	data     []byte
	total    int64 // lifetime bytes appended
	consumed int64 // lifetime bytes consumed

	// Readiness latch
	ready   bool
	readyCh chan struct{}

	mu sync.RWMutex
}

// BufferStats represents buffer state for monitoring
type BufferStats struct {
	BufferedBytes  int   `json:"buffered_bytes"`
	TotalBytes     int64 `json:"total_bytes"`
	ConsumedBytes  int64 `json:"consumed_bytes"`
	PrebufferBytes int   `json:"prebuffer_bytes"`
	Ready          bool  `json:"ready"`
}

// NewBuffer creates a buffer that reports readiness once prebufferBytes
// have arrived. A threshold of zero or less is ready immediately.
func NewBuffer(prebufferBytes int) *Buffer {
	capacity := prebufferBytes
	if capacity < 4096 {
		capacity = 4096
	}

	b := &Buffer{
		prebufferBytes: prebufferBytes,
		data:           make([]byte, 0, capacity), // pre-allocate through the prebuffer phase
		readyCh:        make(chan struct{}),
	}

	if prebufferBytes <= 0 {
		b.ready = true
		close(b.readyCh)
	}

	return b
}

// Append adds bytes at the tail of the buffer.
func (b *Buffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append(b.data, p...)
	b.total += int64(len(p))

	if !b.ready && b.total >= int64(b.prebufferBytes) {
		b.ready = true
		close(b.readyCh)
	}
}

// Consume removes and returns up to max bytes from the head of the
// buffer. A max of zero or less drains everything buffered. The
// returned slice is a copy; nil means the buffer was empty.
func (b *Buffer) Consume(max int) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.data)
	if n == 0 {
		return nil
	}
	if max > 0 && max < n {
		n = max
	}

	out := make([]byte, n)
	copy(out, b.data)

	// Shift the remainder down so the backing array gets reused
	rest := copy(b.data, b.data[n:])
	b.data = b.data[:rest]

	b.consumed += int64(n)
	return out
}

// Len returns the number of bytes currently buffered.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}

// Total returns the lifetime number of bytes appended.
func (b *Buffer) Total() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.total
}

// Consumed returns the lifetime number of bytes consumed.
func (b *Buffer) Consumed() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.consumed
}

// IsReady reports whether the prebuffer threshold has been reached.
func (b *Buffer) IsReady() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ready
}

// Ready returns a channel that is closed once the prebuffer threshold
// has been reached. For a stream that ends before the threshold the
// channel never closes; wait on the stream's completion signal
// alongside it.
func (b *Buffer) Ready() <-chan struct{} {
	return b.readyCh
}

// GetStats returns current buffer state
func (b *Buffer) GetStats() BufferStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return BufferStats{
		BufferedBytes:  len(b.data),
		TotalBytes:     b.total,
		ConsumedBytes:  b.consumed,
		PrebufferBytes: b.prebufferBytes,
		Ready:          b.ready,
	}
}
