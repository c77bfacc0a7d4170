package capture

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/crowd-ai/go-density/images"
)

// baseSource carries the buffer and lifecycle shared by the concrete
// sources.
type baseSource struct {
	id  string
	buf *Buffer

	mu       sync.Mutex
	cancel   context.CancelFunc
	started  bool
	terminal error

	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newBaseSource(id string) baseSource {
	return baseSource{id: id, buf: NewBuffer()}
}

func (s *baseSource) ID() string { return s.id }

// Latest implements Source. Once the capture loop dies it reports the
// terminal cause instead of a bare stop.
func (s *baseSource) Latest(ctx context.Context) (images.Frame, error) {
	frame, err := s.buf.Latest(ctx)
	if errors.Is(err, ErrStopped) {
		s.mu.Lock()
		terminal := s.terminal
		s.mu.Unlock()
		if terminal != nil {
			return images.Frame{}, terminal
		}
	}
	return frame, err
}

func (s *baseSource) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		cancel := s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		s.wg.Wait()
		s.buf.Close()
	})
	return nil
}

// fail records the terminal error and releases waiters.
func (s *baseSource) fail(err error) {
	s.mu.Lock()
	if s.terminal == nil {
		s.terminal = err
	}
	s.mu.Unlock()
	s.buf.Close()
}

// matToFrame copies a captured BGR mat into an immutable frame.
func matToFrame(m *gocv.Mat, sourceID string, number int) (images.Frame, error) {
	if m.Empty() || m.Channels() != 3 {
		return images.Frame{}, errors.Errorf("unusable mat: empty=%v channels=%d", m.Empty(), m.Channels())
	}
	img, err := images.MatToImage(m.ToBytes(), m.Cols(), m.Rows(), m.Cols()*3)
	if err != nil {
		return images.Frame{}, err
	}
	return images.Frame{
		Image:     img,
		SourceID:  sourceID,
		Number:    number,
		Timestamp: time.Now(),
	}, nil
}

// webcamSource captures from a local camera device. Local devices do not
// reconnect; an open failure or mid-stream drop is immediately terminal.
type webcamSource struct {
	baseSource
	device int
}

func newWebcamSource(cfg SourceConfig) *webcamSource {
	return &webcamSource{baseSource: newBaseSource(cfg.SourceID), device: cfg.Device}
}

func (s *webcamSource) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("source already started")
	}
	s.started = true
	s.mu.Unlock()

	cap, err := gocv.OpenVideoCapture(s.device)
	if err != nil || !cap.IsOpened() {
		if cap != nil {
			cap.Close()
		}
		return errors.Wrapf(ErrUnavailable, "cannot open camera device %d", s.device)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cap.Close()

		mat := gocv.NewMat()
		defer mat.Close()

		number := 0
		for loopCtx.Err() == nil {
			if !cap.Read(&mat) {
				s.fail(errors.Wrapf(ErrUnavailable, "camera device %d dropped", s.device))
				return
			}
			frame, err := matToFrame(&mat, s.id, number+1)
			if err != nil {
				continue
			}
			number++
			s.buf.Put(frame)
		}
	}()
	return nil
}

// fileSource replays a video file, optionally looping. A finished,
// non-looping file closes the buffer so consumers see ErrStopped after
// draining the last frame.
type fileSource struct {
	baseSource
	path string
	loop bool
}

func newFileSource(cfg SourceConfig) *fileSource {
	return &fileSource{baseSource: newBaseSource(cfg.SourceID), path: cfg.Path, loop: cfg.Loop}
}

func (s *fileSource) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("source already started")
	}
	s.started = true
	s.mu.Unlock()

	cap, err := gocv.VideoCaptureFile(s.path)
	if err != nil || !cap.IsOpened() {
		if cap != nil {
			cap.Close()
		}
		return errors.Wrapf(ErrUnavailable, "cannot open video file %s", s.path)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cap.Close()

		mat := gocv.NewMat()
		defer mat.Close()

		number := 0
		for loopCtx.Err() == nil {
			if !cap.Read(&mat) || mat.Empty() {
				if !s.loop {
					s.buf.Close()
					return
				}
				cap.Set(gocv.VideoCapturePosFrames, 0)
				continue
			}
			frame, err := matToFrame(&mat, s.id, number+1)
			if err != nil {
				continue
			}
			number++
			s.buf.Put(frame)
		}
	}()
	return nil
}
