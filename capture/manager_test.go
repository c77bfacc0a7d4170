package capture

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crowd-ai/go-density/images"
)

// fakeSource emits a fixed number of frames and then stops itself.
type fakeSource struct {
	id     string
	buf    *Buffer
	frames int
}

func newFakeSource(id string, frames int) *fakeSource {
	return &fakeSource{id: id, buf: NewBuffer(), frames: frames}
}

func (f *fakeSource) Start(ctx context.Context) error {
	go func() {
		for i := 1; i <= f.frames; i++ {
			f.buf.Put(numberedFrame(i))
			time.Sleep(time.Millisecond)
		}
		f.buf.Close()
	}()
	return nil
}

func (f *fakeSource) Latest(ctx context.Context) (images.Frame, error) {
	return f.buf.Latest(ctx)
}

func (f *fakeSource) Stop() error {
	f.buf.Close()
	return nil
}

func (f *fakeSource) ID() string { return f.id }

func TestNewManagerValidation(t *testing.T) {
	handler := func(context.Context, CameraConfig, images.Frame) error { return nil }

	_, err := NewManager(nil, nil, zerolog.Nop())
	assert.Error(t, err)

	configs := []CameraConfig{
		{Source: SourceConfig{Kind: KindWebcam, SourceID: "cam1"}, Enabled: true},
		{Source: SourceConfig{Kind: KindWebcam, SourceID: "cam1"}, Enabled: true},
	}
	_, err = NewManager(configs, handler, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewManager([]CameraConfig{
		{Source: SourceConfig{Kind: "hologram", SourceID: "cam1"}, Enabled: true},
	}, handler, zerolog.Nop())
	assert.Error(t, err)

	// Disabled cameras skip source construction entirely.
	m, err := NewManager([]CameraConfig{
		{Source: SourceConfig{Kind: "hologram", SourceID: "cam1"}, Enabled: false},
	}, handler, zerolog.Nop())
	require.NoError(t, err)
	assert.Len(t, m.Status(), 1)
	assert.False(t, m.Status()[0].Connected)
}

func TestManagerDeliversFrames(t *testing.T) {
	var mu sync.Mutex
	var delivered []int

	handler := func(_ context.Context, cfg CameraConfig, frame images.Frame) error {
		mu.Lock()
		delivered = append(delivered, frame.Number)
		mu.Unlock()
		return nil
	}

	m, err := NewManager(nil, handler, zerolog.Nop())
	require.NoError(t, err)

	// Wire a fake source in directly; NewSource only builds real devices.
	cfg := CameraConfig{
		Source:   SourceConfig{Kind: KindWebcam, SourceID: "fake"},
		AreaName: "Test Area",
		AreaSqm:  50,
		Enabled:  true,
	}
	m.cameras["fake"] = &managedCamera{cfg: cfg, source: newFakeSource("fake", 5)}

	require.NoError(t, m.Start(context.Background()))

	// The fake closes its buffer after the last frame; wait for drain.
	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(delivered)
		mu.Unlock()
		if n > 0 {
			status := m.Status()
			if len(status) == 1 && !status[0].Connected {
				break
			}
		}
		select {
		case <-deadline:
			t.Fatal("frames never fully delivered")
		case <-time.After(5 * time.Millisecond):
		}
	}
	m.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, delivered)
	// Ordering holds and the final frame always arrives.
	last := 0
	for _, n := range delivered {
		assert.Greater(t, n, last)
		last = n
	}
	assert.Equal(t, 5, last)

	status := m.Status()
	require.Len(t, status, 1)
	assert.Equal(t, "Test Area", status[0].AreaName)
	assert.Equal(t, len(delivered), status[0].FramesDelivered)

	latest := m.LatestFrames()
	require.Contains(t, latest, "fake")
	assert.Equal(t, 5, latest["fake"].Number)
}
