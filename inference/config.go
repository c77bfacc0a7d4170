package inference

import (
	"github.com/pkg/errors"

	"github.com/crowd-ai/go-density/models"
)

// ErrConfig indicates an invalid engine configuration. Configuration is
// validated at construction so this never surfaces on the per-frame path.
var ErrConfig = errors.New("invalid engine configuration")

// ErrInvalidFrame indicates a malformed frame rejected before
// preprocessing. The engine stays usable for subsequent calls.
var ErrInvalidFrame = errors.New("invalid frame")

// Config is the immutable engine configuration snapshot. Reconfiguring
// means constructing a new engine.
type Config struct {
	// Model selects the network variant, backend and weights.
	Model models.Config `json:"model"`

	// ScaleFactor resizes frames before inference, in (0, 1].
	// 0.5 halves each dimension, quartering inference cost.
	ScaleFactor float64 `json:"scale_factor"`

	// AreaSqm is the ground area the camera covers, in square meters.
	// Must be positive; per-call overrides replace it.
	AreaSqm float64 `json:"area_sqm"`

	// Thresholds classifies density per square meter into levels.
	// Nil selects DefaultThresholds.
	Thresholds Thresholds `json:"thresholds,omitempty"`

	// EnableSmoothing averages counts over a sliding window to damp
	// frame-to-frame model noise.
	EnableSmoothing bool `json:"enable_smoothing"`
	// SmoothingWindow is the window size in frames.
	SmoothingWindow int `json:"smoothing_window"`

	// UseAcceleratedDevice and UseReducedPrecision are recorded
	// preferences passed through to backends that support them.
	UseAcceleratedDevice bool `json:"use_accelerated_device"`
	UseReducedPrecision  bool `json:"use_reduced_precision"`
}

// DefaultConfig returns a config suitable for a single fixed camera over
// a 100 square meter area.
func DefaultConfig() Config {
	return Config{
		Model: models.Config{
			Variant: models.VariantStandard,
			Backend: models.BackendNative,
		},
		ScaleFactor:     0.5,
		AreaSqm:         100.0,
		Thresholds:      DefaultThresholds(),
		EnableSmoothing: true,
		SmoothingWindow: 5,
	}
}

// Validate checks the snapshot before any engine is built from it.
func (c *Config) Validate() error {
	if c.ScaleFactor <= 0 || c.ScaleFactor > 1 {
		return errors.Wrapf(ErrConfig, "scale factor %v must be in (0, 1]", c.ScaleFactor)
	}
	if c.AreaSqm <= 0 {
		return errors.Wrapf(ErrConfig, "area %v sqm must be positive", c.AreaSqm)
	}
	if c.Thresholds != nil {
		if err := c.Thresholds.Validate(); err != nil {
			return err
		}
	}
	if c.EnableSmoothing && c.SmoothingWindow <= 0 {
		return errors.Wrapf(ErrConfig, "smoothing window %d must be positive", c.SmoothingWindow)
	}
	switch c.Model.Variant {
	case models.VariantStandard, models.VariantLite:
	default:
		return errors.Wrapf(ErrConfig, "unknown model variant %q", c.Model.Variant)
	}
	switch c.Model.Backend {
	case models.BackendNative, models.BackendONNX, "":
	default:
		return errors.Wrapf(ErrConfig, "unknown model backend %q", c.Model.Backend)
	}
	return nil
}
