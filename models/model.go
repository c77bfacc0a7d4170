package models

import (
	"context"

	"github.com/pkg/errors"

	"github.com/crowd-ai/go-density/images"
)

// ErrWeightsUnavailable indicates that the weights file for a model is
// missing, truncated or malformed. Callers should treat it as fatal at
// startup rather than retrying.
var ErrWeightsUnavailable = errors.New("model weights unavailable")

// Variant selects the network architecture.
type Variant string

const (
	// VariantStandard is the full network: VGG-16 frontend with a
	// 512-512-512-256-128-64 dilated backend.
	VariantStandard Variant = "standard"
	// VariantLite halves the backend channel counts for roughly 2x
	// faster inference at a small accuracy cost.
	VariantLite Variant = "lite"
)

// Backend selects the execution engine for the network.
type Backend string

const (
	// BackendNative runs the network on the in-process graph engine.
	BackendNative Backend = "native"
	// BackendONNX runs an exported network through onnxruntime.
	BackendONNX Backend = "onnx"
)

// Config describes a model to instantiate.
type Config struct {
	// Variant selects standard or lite architecture.
	Variant Variant `json:"variant"`
	// Backend selects the execution engine.
	Backend Backend `json:"backend"`
	// WeightsPath points at the weights blob (native) or .onnx file.
	WeightsPath string `json:"weights_path"`
	// ONNXLibraryPath overrides the onnxruntime shared library location.
	// Only consulted by the ONNX backend.
	ONNXLibraryPath string `json:"onnx_library_path,omitempty"`
}

// Info describes a loaded model instance.
type Info struct {
	Variant Variant
	Backend Backend
	// Parameters is the total weight count.
	Parameters int
	// DownsampleFactor is the spatial ratio between network input and
	// the density map it produces.
	DownsampleFactor int
}

// Model produces density maps from preprocessed frames. Implementations
// serialize forward passes internally, so a single instance is safe to
// share across goroutines.
type Model interface {
	// Predict runs a forward pass. The returned map is the raw network
	// output and may contain small negative values.
	Predict(ctx context.Context, input *images.Tensor) (*DensityMap, error)
	// Info reports the loaded architecture.
	Info() Info
	// Close releases backing resources. The model is unusable afterwards.
	Close() error
}
