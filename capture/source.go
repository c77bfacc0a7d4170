// Package capture abstracts video origins (webcam, RTSP stream, file
// replay) behind one Source contract and decouples the capture rate from
// the inference rate with a single-slot frame buffer.
package capture

import (
	"context"

	"github.com/pkg/errors"

	"github.com/crowd-ai/go-density/images"
)

// ErrUnavailable indicates the device or stream cannot be opened, or
// dropped and exhausted its reconnect budget.
var ErrUnavailable = errors.New("capture source unavailable")

// ErrStopped indicates the source was stopped; waiters unblock with it
// instead of hanging.
var ErrStopped = errors.New("capture source stopped")

// Source is a running video origin. Implementations capture on their own
// goroutine and publish into a single-slot buffer; Latest never sees a
// growing queue, only the newest frame.
type Source interface {
	// Start opens the origin and begins capturing. Fails with
	// ErrUnavailable when the origin cannot be opened.
	Start(ctx context.Context) error
	// Latest blocks until a frame newer than the previously returned one
	// is available, the context is cancelled, or the source stops.
	Latest(ctx context.Context) (images.Frame, error)
	// Stop releases the capture handle and unblocks waiters with
	// ErrStopped. Safe to call more than once.
	Stop() error
	// ID returns the source identifier stamped on frames.
	ID() string
}

// Kind selects a source implementation.
type Kind string

const (
	// KindWebcam is a local camera device.
	KindWebcam Kind = "webcam"
	// KindRTSP is a network stream with reconnect-on-drop.
	KindRTSP Kind = "rtsp"
	// KindFile replays a video file.
	KindFile Kind = "file"
)

// SourceConfig describes a source to open.
type SourceConfig struct {
	// Kind selects the implementation.
	Kind Kind `json:"kind"`
	// SourceID labels frames from this source.
	SourceID string `json:"source_id"`
	// Device is the local camera index, for KindWebcam.
	Device int `json:"device,omitempty"`
	// URL is the stream address, for KindRTSP.
	URL string `json:"url,omitempty"`
	// Path is the video file, for KindFile.
	Path string `json:"path,omitempty"`
	// Loop restarts file replay at the end instead of stopping.
	Loop bool `json:"loop,omitempty"`
	// MaxReconnects bounds RTSP reconnect attempts; zero selects the
	// default.
	MaxReconnects int `json:"max_reconnects,omitempty"`
}

// NewSource builds a source from its configuration. The origin is not
// opened until Start.
func NewSource(cfg SourceConfig) (Source, error) {
	if cfg.SourceID == "" {
		return nil, errors.New("source id is required")
	}
	switch cfg.Kind {
	case KindWebcam:
		return newWebcamSource(cfg), nil
	case KindRTSP:
		if cfg.URL == "" {
			return nil, errors.New("rtsp source requires a url")
		}
		return newRTSPSource(cfg), nil
	case KindFile:
		if cfg.Path == "" {
			return nil, errors.New("file source requires a path")
		}
		return newFileSource(cfg), nil
	default:
		return nil, errors.Errorf("unknown source kind %q", cfg.Kind)
	}
}
