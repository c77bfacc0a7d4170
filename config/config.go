// Package config loads deployment configuration from JSON files.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/crowd-ai/go-density/calibration"
	"github.com/crowd-ai/go-density/capture"
	"github.com/crowd-ai/go-density/inference"
	"github.com/crowd-ai/go-density/models"
)

// DefaultListenAddr is the HTTP bind address used when none is
// configured.
const DefaultListenAddr = ":8080"

// maxFileSize caps config file reads at 1MB.
const maxFileSize = 1 << 20

// Frame dimensions assumed when resolving a preset without a live
// capture source.
const (
	defaultFrameWidth  = 1920
	defaultFrameHeight = 1080
)

// EngineOverrides holds partial overrides for the inference engine.
// Fields omitted from the JSON keep the engine defaults, so partial
// configs are safe.
type EngineOverrides struct {
	ModelVariant      *string  `json:"model_variant,omitempty"`
	ModelBackend      *string  `json:"model_backend,omitempty"`
	WeightsPath       *string  `json:"weights_path,omitempty"`
	ONNXLibraryPath   *string  `json:"onnx_library_path,omitempty"`
	ScaleFactor       *float64 `json:"scale_factor,omitempty"`
	AreaSqm           *float64 `json:"area_sqm,omitempty"`
	EnableSmoothing   *bool    `json:"enable_smoothing,omitempty"`
	SmoothingWindow   *int     `json:"smoothing_window,omitempty"`
	AcceleratedDevice *bool    `json:"use_accelerated_device,omitempty"`
	ReducedPrecision  *bool    `json:"use_reduced_precision,omitempty"`
}

// Config is the root deployment configuration.
type Config struct {
	// ListenAddr is the HTTP bind address.
	ListenAddr string `json:"listen_addr,omitempty"`
	// Engine overrides the default inference engine configuration.
	Engine EngineOverrides `json:"engine,omitempty"`
	// Cameras lists the capture sources to run in live mode.
	Cameras []capture.CameraConfig `json:"cameras,omitempty"`
	// CalibrationPreset names a built-in scene calibration applied to
	// cameras that do not set their own area.
	CalibrationPreset string `json:"calibration_preset,omitempty"`
	// Calibration is an explicit scene calibration. Takes precedence
	// over CalibrationPreset when both are set.
	Calibration *calibration.Calibration `json:"calibration,omitempty"`
}

// Load reads and validates a config file.
//
// Arguments:
//   - path: Path to a JSON config file.
//
// Returns:
//   - *Config: The parsed configuration.
//   - error: An error if the file is missing, oversized or invalid.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, errors.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to stat config file")
	}
	if info.Size() > maxFileSize {
		return nil, errors.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config JSON")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency. Engine
// overrides are validated through the engine config they produce.
func (c *Config) Validate() error {
	if c.CalibrationPreset != "" {
		if _, err := calibration.FromPreset(c.CalibrationPreset, "config", defaultFrameWidth, defaultFrameHeight); err != nil {
			return err
		}
	}
	if c.Calibration != nil {
		if err := c.Calibration.Validate(); err != nil {
			return err
		}
	}
	seen := make(map[string]bool, len(c.Cameras))
	for i, cam := range c.Cameras {
		id := cam.Source.SourceID
		if id == "" {
			return errors.Errorf("camera %d has no source_id", i)
		}
		if seen[id] {
			return errors.Errorf("duplicate camera source_id %q", id)
		}
		seen[id] = true
	}
	return c.EngineConfig().Validate()
}

// Addr returns the configured listen address or the default.
func (c *Config) Addr() string {
	if c.ListenAddr == "" {
		return DefaultListenAddr
	}
	return c.ListenAddr
}

// SceneArea resolves the monitored area in square meters. Explicit
// calibration wins, then the named preset, then the engine override,
// then the engine default.
func (c *Config) SceneArea() float64 {
	if c.Calibration != nil {
		return c.Calibration.TotalAreaSqm
	}
	if c.CalibrationPreset != "" {
		if cal, err := calibration.FromPreset(c.CalibrationPreset, "config", defaultFrameWidth, defaultFrameHeight); err == nil {
			return cal.TotalAreaSqm
		}
	}
	if c.Engine.AreaSqm != nil {
		return *c.Engine.AreaSqm
	}
	return inference.DefaultConfig().AreaSqm
}

// EngineConfig applies the overrides on top of the engine defaults.
func (c *Config) EngineConfig() inference.Config {
	cfg := inference.DefaultConfig()
	if c.Engine.ModelVariant != nil {
		cfg.Model.Variant = models.Variant(*c.Engine.ModelVariant)
	}
	if c.Engine.ModelBackend != nil {
		cfg.Model.Backend = models.Backend(*c.Engine.ModelBackend)
	}
	if c.Engine.WeightsPath != nil {
		cfg.Model.WeightsPath = *c.Engine.WeightsPath
	}
	if c.Engine.ONNXLibraryPath != nil {
		cfg.Model.ONNXLibraryPath = *c.Engine.ONNXLibraryPath
	}
	if c.Engine.ScaleFactor != nil {
		cfg.ScaleFactor = *c.Engine.ScaleFactor
	}
	if c.Engine.EnableSmoothing != nil {
		cfg.EnableSmoothing = *c.Engine.EnableSmoothing
	}
	if c.Engine.SmoothingWindow != nil {
		cfg.SmoothingWindow = *c.Engine.SmoothingWindow
	}
	if c.Engine.AcceleratedDevice != nil {
		cfg.UseAcceleratedDevice = *c.Engine.AcceleratedDevice
	}
	if c.Engine.ReducedPrecision != nil {
		cfg.UseReducedPrecision = *c.Engine.ReducedPrecision
	}
	cfg.AreaSqm = c.SceneArea()
	return cfg
}
