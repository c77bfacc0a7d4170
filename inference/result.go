package inference

import (
	"time"

	"github.com/crowd-ai/go-density/models"
)

// Result is the output contract of one Process call. Immutable once
// returned.
type Result struct {
	// CrowdCount is the reported head count, smoothed when smoothing is
	// enabled.
	CrowdCount float64 `json:"crowd_count"`
	// RawCount is the instantaneous count before smoothing, kept for
	// diagnostics.
	RawCount float64 `json:"raw_count"`
	// DensityMap is the clamped model output backing this result.
	DensityMap *models.DensityMap `json:"-"`
	// DensityPerSqm is CrowdCount divided by the calibrated area.
	DensityPerSqm float64 `json:"density_per_sqm"`
	// Level is the classification of DensityPerSqm.
	Level Level `json:"density_level"`
	// AreaSqm is the area the density computation used.
	AreaSqm float64 `json:"area_sqm"`

	// FrameWidth and FrameHeight are the source frame dimensions.
	FrameWidth  int `json:"frame_width"`
	FrameHeight int `json:"frame_height"`

	// MaxDensity, MinDensity and StdDensity describe the clamped map's
	// cell distribution.
	MaxDensity float64 `json:"max_density"`
	MinDensity float64 `json:"min_density"`
	StdDensity float64 `json:"std_density"`

	// ProcessingTime covers preprocessing through classification.
	ProcessingTime time.Duration `json:"-"`
	// ProcessingTimeMs is ProcessingTime in milliseconds for callers
	// consuming the result as JSON.
	ProcessingTimeMs float64 `json:"processing_time_ms"`
	// Timestamp is the wall clock at call start.
	Timestamp time.Time `json:"timestamp"`
}

// PerformanceStats summarizes engine throughput since construction or
// the last warmup.
type PerformanceStats struct {
	AverageInferenceMs    float64        `json:"average_inference_ms"`
	EstimatedFPS          float64        `json:"estimated_fps"`
	FramesProcessed       int            `json:"total_frames_processed"`
	ModelVariant          models.Variant `json:"model_variant"`
	ModelBackend          models.Backend `json:"model_backend"`
	UsingReducedPrecision bool           `json:"using_reduced_precision"`
}
