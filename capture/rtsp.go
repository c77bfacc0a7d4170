package capture

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

const (
	defaultMaxReconnects = 5
	initialBackoff       = time.Second
	maxBackoff           = 30 * time.Second
)

// rtspSource captures from a network stream. Drops are expected on
// networks, so both the initial connect and mid-stream reconnects retry
// with exponential backoff before the source turns terminal.
type rtspSource struct {
	baseSource
	url           string
	maxReconnects int
}

func newRTSPSource(cfg SourceConfig) *rtspSource {
	max := cfg.MaxReconnects
	if max <= 0 {
		max = defaultMaxReconnects
	}
	return &rtspSource{
		baseSource:    newBaseSource(cfg.SourceID),
		url:           cfg.URL,
		maxReconnects: max,
	}
}

// connect dials the stream, backing off exponentially between attempts.
func (s *rtspSource) connect(ctx context.Context) (*gocv.VideoCapture, error) {
	backoff := initialBackoff
	for attempt := 0; attempt <= s.maxReconnects; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		cap, err := gocv.OpenVideoCapture(s.url)
		if err == nil && cap.IsOpened() {
			return cap, nil
		}
		if cap != nil {
			cap.Close()
		}
	}
	return nil, errors.Wrapf(ErrUnavailable,
		"stream %s unreachable after %d attempts", s.url, s.maxReconnects+1)
}

func (s *rtspSource) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("source already started")
	}
	s.started = true
	s.mu.Unlock()

	cap, err := s.connect(ctx)
	if err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { cap.Close() }()

		mat := gocv.NewMat()
		defer mat.Close()

		number := 0
		for loopCtx.Err() == nil {
			if !cap.Read(&mat) || mat.Empty() {
				// Stream dropped; rebuild the connection.
				cap.Close()
				next, err := s.connect(loopCtx)
				if err != nil {
					if loopCtx.Err() == nil {
						s.fail(err)
					}
					return
				}
				cap = next
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
