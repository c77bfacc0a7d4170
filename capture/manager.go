package capture

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/crowd-ai/go-density/images"
)

// CameraConfig describes one managed camera and the area it watches.
type CameraConfig struct {
	Source SourceConfig `json:"source"`
	// AreaName is a human-readable label, e.g. "Main Gate".
	AreaName string `json:"area_name"`
	// AreaSqm is the calibrated ground coverage of this camera.
	AreaSqm float64 `json:"area_sqm"`
	// Enabled cameras start with the manager; disabled ones are kept in
	// config but never opened.
	Enabled bool `json:"enabled"`
}

// CameraStatus is a point-in-time snapshot of one managed camera.
type CameraStatus struct {
	SourceID        string    `json:"source_id"`
	AreaName        string    `json:"area_name"`
	Connected       bool      `json:"connected"`
	FramesDelivered int       `json:"frames_delivered"`
	Errors          int       `json:"errors"`
	LastFrameTime   time.Time `json:"last_frame_time,omitempty"`
}

// FrameHandler consumes frames from one managed camera. Returning an
// error counts against the camera's error tally but does not stop it.
type FrameHandler func(ctx context.Context, cfg CameraConfig, frame images.Frame) error

// Manager runs one capture loop per enabled camera and hands the newest
// frame of each to a handler. Cameras are independent; a failing stream
// never affects its siblings.
type Manager struct {
	handler FrameHandler
	log     zerolog.Logger

	mu      sync.Mutex
	cameras map[string]*managedCamera
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type managedCamera struct {
	cfg    CameraConfig
	source Source

	mu        sync.Mutex
	connected bool
	frames    int
	errs      int
	lastFrame time.Time
	latest    images.Frame
	hasLatest bool
}

// NewManager builds a manager over a camera set.
//
// Arguments:
//   - configs: The cameras to manage; disabled entries are tracked but
//     never started.
//   - handler: Receives each camera's newest frame.
//   - log: Structured logger.
//
// Returns:
//   - *Manager: The manager.
//   - error: An error for duplicate source IDs or an invalid source
//     configuration.
func NewManager(configs []CameraConfig, handler FrameHandler, log zerolog.Logger) (*Manager, error) {
	if handler == nil {
		return nil, errors.New("nil frame handler")
	}

	m := &Manager{
		handler: handler,
		log:     log,
		cameras: make(map[string]*managedCamera, len(configs)),
	}
	for _, cfg := range configs {
		if _, dup := m.cameras[cfg.Source.SourceID]; dup {
			return nil, errors.Errorf("duplicate source id %q", cfg.Source.SourceID)
		}
		cam := &managedCamera{cfg: cfg}
		if cfg.Enabled {
			source, err := NewSource(cfg.Source)
			if err != nil {
				return nil, errors.Wrapf(err, "camera %q", cfg.Source.SourceID)
			}
			cam.source = source
		}
		m.cameras[cfg.Source.SourceID] = cam
	}
	return m, nil
}

// Start opens every enabled camera and begins delivering frames. A
// camera that fails to open is logged and skipped; Start only errors if
// no enabled camera could be opened.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errors.New("manager already started")
	}
	m.started = true
	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.mu.Unlock()

	var enabled, opened int
	for _, cam := range m.cameras {
		if cam.source == nil {
			continue
		}
		enabled++
		if err := cam.source.Start(ctx); err != nil {
			m.log.Error().Err(err).Str("source", cam.cfg.Source.SourceID).
				Msg("camera failed to open")
			cam.recordError()
			continue
		}
		opened++
		cam.setConnected(true)

		m.wg.Add(1)
		go m.deliverLoop(runCtx, cam)
	}

	if enabled > 0 && opened == 0 {
		return errors.Wrap(ErrUnavailable, "no camera could be opened")
	}
	m.log.Info().Int("cameras", opened).Msg("capture manager started")
	return nil
}

func (m *Manager) deliverLoop(ctx context.Context, cam *managedCamera) {
	defer m.wg.Done()
	for {
		frame, err := cam.source.Latest(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, ErrStopped) {
				cam.setConnected(false)
				return
			}
			cam.recordError()
			cam.setConnected(false)
			m.log.Error().Err(err).Str("source", cam.cfg.Source.SourceID).
				Msg("camera terminated")
			return
		}
		cam.recordFrame(frame)

		if err := m.handler(ctx, cam.cfg, frame); err != nil {
			cam.recordError()
			m.log.Warn().Err(err).Str("source", cam.cfg.Source.SourceID).
				Msg("frame handler failed")
		}
	}
}

// Stop releases every camera and waits for the delivery loops to drain.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	for _, cam := range m.cameras {
		if cam.source != nil {
			cam.source.Stop()
		}
	}
	m.wg.Wait()
	m.log.Info().Msg("capture manager stopped")
}

// Status snapshots every managed camera, enabled or not.
func (m *Manager) Status() []CameraStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	statuses := make([]CameraStatus, 0, len(m.cameras))
	for _, cam := range m.cameras {
		cam.mu.Lock()
		statuses = append(statuses, CameraStatus{
			SourceID:        cam.cfg.Source.SourceID,
			AreaName:        cam.cfg.AreaName,
			Connected:       cam.connected,
			FramesDelivered: cam.frames,
			Errors:          cam.errs,
			LastFrameTime:   cam.lastFrame,
		})
		cam.mu.Unlock()
	}
	return statuses
}

// LatestFrames snapshots the most recently delivered frame of every
// camera that has produced one, keyed by source ID.
func (m *Manager) LatestFrames() map[string]images.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()

	frames := make(map[string]images.Frame, len(m.cameras))
	for id, cam := range m.cameras {
		cam.mu.Lock()
		if cam.hasLatest {
			frames[id] = cam.latest
		}
		cam.mu.Unlock()
	}
	return frames
}

func (c *managedCamera) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

func (c *managedCamera) recordFrame(f images.Frame) {
	c.mu.Lock()
	c.frames++
	c.lastFrame = f.Timestamp
	c.latest = f
	c.hasLatest = true
	c.mu.Unlock()
}

func (c *managedCamera) recordError() {
	c.mu.Lock()
	c.errs++
	c.mu.Unlock()
}
