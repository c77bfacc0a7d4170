package capture

import (
	"context"
	"image"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crowd-ai/go-density/images"
)

func numberedFrame(n int) images.Frame {
	return images.Frame{
		Image:     image.NewRGBA(image.Rect(0, 0, 8, 8)),
		SourceID:  "test",
		Number:    n,
		Timestamp: time.Now(),
	}
}

func TestBufferOverwritesToNewest(t *testing.T) {
	b := NewBuffer()

	// Producer outruns the consumer: only the newest frame survives.
	b.Put(numberedFrame(1))
	b.Put(numberedFrame(2))
	b.Put(numberedFrame(3))

	frame, err := b.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, frame.Number)

	// The same frame is never delivered twice.
	_, ok := b.TryLatest()
	assert.False(t, ok)
}

func TestBufferBlocksUntilNewerFrame(t *testing.T) {
	b := NewBuffer()
	b.Put(numberedFrame(1))

	frame, err := b.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, frame.Number)

	got := make(chan images.Frame, 1)
	go func() {
		f, err := b.Latest(context.Background())
		if err == nil {
			got <- f
		}
	}()

	// The waiter stays blocked until a newer frame arrives.
	select {
	case <-got:
		t.Fatal("Latest returned without a newer frame")
	case <-time.After(50 * time.Millisecond):
	}

	b.Put(numberedFrame(2))
	select {
	case f := <-got:
		assert.Equal(t, 2, f.Number)
	case <-time.After(time.Second):
		t.Fatal("Latest did not wake on Put")
	}
}

func TestBufferLatestHonorsContext(t *testing.T) {
	b := NewBuffer()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.Latest(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestBufferCloseUnblocksWaiter(t *testing.T) {
	b := NewBuffer()

	errCh := make(chan error, 1)
	go func() {
		_, err := b.Latest(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	b.Close()

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, ErrStopped))
	case <-time.After(time.Second):
		t.Fatal("Latest did not unblock on Close")
	}

	// Put after Close is a no-op.
	b.Put(numberedFrame(9))
	_, ok := b.TryLatest()
	assert.False(t, ok)
}

func TestBufferCloseDrainsLastFrame(t *testing.T) {
	b := NewBuffer()
	b.Put(numberedFrame(7))
	b.Close()

	// The undelivered frame is still handed out once, then stop.
	frame, err := b.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, frame.Number)

	_, err = b.Latest(context.Background())
	assert.True(t, errors.Is(err, ErrStopped))
}
