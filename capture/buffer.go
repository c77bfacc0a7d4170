package capture

import (
	"context"
	"sync"

	"github.com/crowd-ai/go-density/images"
)

// Buffer is a single-slot frame exchange between one producer and one
// consumer. The producer overwrites the slot on every Put; the consumer
// only ever sees the newest frame and never the same frame twice. A slow
// consumer therefore drops intermediate frames instead of queueing them.
type Buffer struct {
	mu        sync.Mutex
	frame     images.Frame
	seq       uint64
	delivered uint64
	updated   chan struct{}
	closed    bool
}

// NewBuffer returns an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{updated: make(chan struct{})}
}

// Put stores a frame, replacing any undelivered one, and wakes the
// consumer. Put on a closed buffer is a no-op.
func (b *Buffer) Put(frame images.Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.frame = frame
	b.seq++
	close(b.updated)
	b.updated = make(chan struct{})
}

// Latest blocks until a frame newer than the last delivered one arrives,
// then returns it.
//
// Returns:
//   - images.Frame: The newest frame.
//   - error: ctx.Err() on cancellation, ErrStopped once the buffer is
//     closed and drained.
func (b *Buffer) Latest(ctx context.Context) (images.Frame, error) {
	for {
		b.mu.Lock()
		if b.seq > b.delivered {
			b.delivered = b.seq
			frame := b.frame
			b.mu.Unlock()
			return frame, nil
		}
		if b.closed {
			b.mu.Unlock()
			return images.Frame{}, ErrStopped
		}
		wait := b.updated
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return images.Frame{}, ctx.Err()
		case <-wait:
		}
	}
}

// TryLatest returns the newest undelivered frame without blocking.
func (b *Buffer) TryLatest() (images.Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.seq > b.delivered {
		b.delivered = b.seq
		return b.frame, true
	}
	return images.Frame{}, false
}

// Close wakes any waiter with ErrStopped once the remaining frame, if
// undelivered, has been consumed. Idempotent.
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.updated)
}
