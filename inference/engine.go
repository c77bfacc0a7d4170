// Package inference orchestrates the per-frame pipeline: preprocess,
// forward pass, clamp and sum, smooth, normalize by area, classify.
package inference

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/crowd-ai/go-density/images"
	"github.com/crowd-ai/go-density/models"
	"github.com/crowd-ai/go-density/models/csrnet"
	"github.com/crowd-ai/go-density/models/onnxcsrnet"
)

// Engine runs density estimation over frames from one camera. The only
// cross-call state is the smoothing FIFO and performance counters, both
// guarded by the engine lock, so Process may be called from any
// goroutine.
type Engine struct {
	cfg        Config
	thresholds Thresholds
	model      models.Model
	ownsModel  bool
	log        zerolog.Logger

	mu       sync.Mutex
	smoother *smoother
	timesMs  []float64
	frames   int
}

// maxTimingSamples bounds the retained latency samples, so Stats reports
// a rolling average and long-running pipelines hold constant memory.
const maxTimingSamples = 600

// New builds an engine from a validated configuration, loading the model
// up front. A missing or corrupt weights file fails here with
// models.ErrWeightsUnavailable; no partial engine is ever returned.
//
// Arguments:
//   - cfg: The engine configuration.
//   - log: Structured logger for engine lifecycle events.
//
// Returns:
//   - *Engine: The ready engine.
//   - error: ErrConfig or models.ErrWeightsUnavailable.
func New(cfg Config, log zerolog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	model, err := newModel(cfg.Model)
	if err != nil {
		return nil, err
	}

	e, err := NewWithModel(cfg, model, log)
	if err != nil {
		model.Close()
		return nil, err
	}
	e.ownsModel = true
	return e, nil
}

// NewWithModel builds an engine around an already loaded model. The
// caller keeps ownership of the model; Close will not release it. This
// is how multi-camera setups share one set of weights across engines.
func NewWithModel(cfg Config, model models.Model, log zerolog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if model == nil {
		return nil, errors.Wrap(ErrConfig, "nil model")
	}

	thresholds := cfg.Thresholds
	if thresholds == nil {
		thresholds = DefaultThresholds()
	}

	e := &Engine{
		cfg:        cfg,
		thresholds: thresholds,
		model:      model,
		log:        log,
	}
	if cfg.EnableSmoothing {
		e.smoother = newSmoother(cfg.SmoothingWindow)
	}

	info := model.Info()
	log.Info().
		Str("variant", string(info.Variant)).
		Str("backend", string(info.Backend)).
		Int("parameters", info.Parameters).
		Float64("area_sqm", cfg.AreaSqm).
		Float64("scale_factor", cfg.ScaleFactor).
		Msg("inference engine ready")

	return e, nil
}

func newModel(cfg models.Config) (models.Model, error) {
	switch cfg.Backend {
	case models.BackendONNX:
		return onnxcsrnet.New(cfg.Variant, cfg.WeightsPath, cfg.ONNXLibraryPath)
	case models.BackendNative, "":
		return csrnet.New(cfg.Variant, cfg.WeightsPath)
	default:
		return nil, errors.Wrapf(ErrConfig, "unknown model backend %q", cfg.Backend)
	}
}

// Process runs the full pipeline on one frame.
//
// Arguments:
//   - ctx: Cancels the call between stages; an in-flight forward pass
//     still runs to completion.
//   - frame: The frame to analyze.
//   - areaOverride: Replaces the configured area when positive; zero
//     keeps the configured value, negative is a configuration error.
//
// Returns:
//   - *Result: The analysis result.
//   - error: ErrInvalidFrame for malformed frames, ErrConfig for a bad
//     override, or a model error.
func (e *Engine) Process(ctx context.Context, frame images.Frame, areaOverride float64) (*Result, error) {
	start := time.Now()

	if err := frame.Validate(); err != nil {
		return nil, errors.Wrap(ErrInvalidFrame, err.Error())
	}

	area := e.cfg.AreaSqm
	if areaOverride > 0 {
		area = areaOverride
	} else if areaOverride < 0 {
		return nil, errors.Wrapf(ErrConfig, "area override %v sqm must be positive", areaOverride)
	}

	tensor, err := images.Preprocess(frame, e.cfg.ScaleFactor)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidFrame, err.Error())
	}

	dm, err := e.model.Predict(ctx, tensor)
	if err != nil {
		return nil, err
	}

	// Convolution output can dip below zero; counts never do.
	dm.ClampNegatives()
	rawCount := float64(dm.Sum())

	e.mu.Lock()
	count := rawCount
	if e.smoother != nil {
		count = e.smoother.push(rawCount)
	}
	e.mu.Unlock()

	densityPerSqm := count / area
	level := e.thresholds.Classify(densityPerSqm)

	if len(dm.Data) == 0 {
		return nil, errors.New("model returned empty density map")
	}

	cells := make([]float64, len(dm.Data))
	minDensity := float64(dm.Data[0])
	for i, v := range dm.Data {
		cells[i] = float64(v)
		if cells[i] < minDensity {
			minDensity = cells[i]
		}
	}

	elapsed := time.Since(start)
	e.recordTiming(float64(elapsed.Microseconds()) / 1000.0)

	result := &Result{
		CrowdCount:       count,
		RawCount:         rawCount,
		DensityMap:       dm,
		DensityPerSqm:    densityPerSqm,
		Level:            level,
		AreaSqm:          area,
		FrameWidth:       tensor.OriginalWidth,
		FrameHeight:      tensor.OriginalHeight,
		MaxDensity:       float64(dm.Max()),
		MinDensity:       minDensity,
		StdDensity:       stat.StdDev(cells, nil),
		ProcessingTime:   elapsed,
		ProcessingTimeMs: float64(elapsed.Microseconds()) / 1000.0,
		Timestamp:        start,
	}

	e.log.Debug().
		Str("source", frame.SourceID).
		Float64("count", result.CrowdCount).
		Float64("density_per_sqm", result.DensityPerSqm).
		Stringer("level", result.Level).
		Dur("elapsed", elapsed).
		Msg("frame processed")

	return result, nil
}

// recordTiming appends one latency sample, dropping the oldest once the
// window is full.
func (e *Engine) recordTiming(ms float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.frames++
	if len(e.timesMs) >= maxTimingSamples {
		copy(e.timesMs, e.timesMs[1:])
		e.timesMs = e.timesMs[:len(e.timesMs)-1]
	}
	e.timesMs = append(e.timesMs, ms)
}

// ResetSmoothing clears the smoothing FIFO, e.g. after a scene change.
func (e *Engine) ResetSmoothing() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.smoother != nil {
		e.smoother.reset()
	}
}

// Thresholds returns the classification table in effect.
func (e *Engine) Thresholds() Thresholds {
	return e.thresholds
}

// Config returns the configuration snapshot the engine was built from.
func (e *Engine) Config() Config {
	return e.cfg
}

// Stats reports throughput since construction or the last Warmup. The
// latency average covers the most recent maxTimingSamples frames.
func (e *Engine) Stats() PerformanceStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := PerformanceStats{
		FramesProcessed:       e.frames,
		ModelVariant:          e.cfg.Model.Variant,
		ModelBackend:          e.cfg.Model.Backend,
		UsingReducedPrecision: e.cfg.UseReducedPrecision,
	}
	if len(e.timesMs) > 0 {
		s.AverageInferenceMs = stat.Mean(e.timesMs, nil)
		if s.AverageInferenceMs > 0 {
			s.EstimatedFPS = 1000.0 / s.AverageInferenceMs
		}
	}
	return s
}

// Warmup runs dummy frames through the pipeline so graph compilation and
// allocator churn happen before real traffic, then clears the smoothing
// FIFO and timing history.
func (e *Engine) Warmup(ctx context.Context, iterations int) error {
	if iterations <= 0 {
		iterations = 5
	}

	dummy := images.Frame{
		Image:     image.NewRGBA(image.Rect(0, 0, 640, 480)),
		SourceID:  "warmup",
		Timestamp: time.Now(),
	}
	for i := 0; i < iterations; i++ {
		if _, err := e.Process(ctx, dummy, 0); err != nil {
			return errors.Wrapf(err, "warmup iteration %d", i)
		}
	}

	e.mu.Lock()
	e.timesMs = e.timesMs[:0]
	e.frames = 0
	if e.smoother != nil {
		e.smoother.reset()
	}
	e.mu.Unlock()

	e.log.Info().Int("iterations", iterations).Msg("warmup complete")
	return nil
}

// Close releases the model when the engine owns it.
func (e *Engine) Close() error {
	if e.ownsModel {
		return e.model.Close()
	}
	return nil
}
