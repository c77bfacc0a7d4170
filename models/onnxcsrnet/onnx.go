// Package onnxcsrnet runs an exported density network through
// onnxruntime. It is the drop-in alternative to the native graph engine
// for deployments that ship an .onnx model instead of a weights blob.
package onnxcsrnet

import (
	"context"
	"os"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/crowd-ai/go-density/images"
	"github.com/crowd-ai/go-density/models"
)

const downsampleFactor = 8

var (
	initOnce sync.Once
	initErr  error
)

// initRuntime prepares the native onnxruntime environment. Required once
// per process; a failed first attempt is sticky, so every later caller
// sees the same error instead of running against an uninitialized
// runtime.
func initRuntime(libraryPath string) error {
	if libraryPath == "" {
		libraryPath = defaultLibraryPath()
	}
	if _, err := os.Stat(libraryPath); err != nil {
		return errors.Wrapf(err, "onnxruntime library not found at %s", libraryPath)
	}

	initOnce.Do(func() {
		ort.SetSharedLibraryPath(libraryPath)
		initErr = ort.InitializeEnvironment()
	})
	return errors.Wrap(initErr, "failed to initialize onnxruntime")
}

func defaultLibraryPath() string {
	switch runtime.GOOS {
	case "darwin":
		return "./third_party/libonnxruntime.dylib"
	case "windows":
		return "./third_party/onnxruntime.dll"
	default:
		if runtime.GOARCH == "arm64" {
			return "./third_party/onnxruntime_arm64.so"
		}
		return "./third_party/onnxruntime.so"
	}
}

// Network wraps a dynamic-shape onnxruntime session. Input geometry may
// vary between calls; the mutex serializes Run on the shared session.
type Network struct {
	variant models.Variant

	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
	closed  bool
}

var _ models.Model = (*Network)(nil)

// New opens an exported model. The file check happens up front so a
// missing export fails at startup.
//
// Arguments:
//   - variant: The architecture the export was produced from.
//   - modelPath: Path to the .onnx file.
//   - libraryPath: Optional onnxruntime shared library override.
//
// Returns:
//   - *Network: The ready network.
//   - error: models.ErrWeightsUnavailable if the export is missing, or a
//     runtime error if the session cannot be created.
func New(variant models.Variant, modelPath, libraryPath string) (*Network, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, errors.Wrapf(models.ErrWeightsUnavailable, "model file %s: %v", modelPath, err)
	}
	if err := initRuntime(libraryPath); err != nil {
		return nil, err
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{"input"}, []string{"density"}, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open session for %s", modelPath)
	}

	return &Network{variant: variant, session: session}, nil
}

// Info implements models.Model. Parameter counts are not recoverable
// from a session, so Parameters is zero for this backend.
func (n *Network) Info() models.Info {
	return models.Info{
		Variant:          n.variant,
		Backend:          models.BackendONNX,
		DownsampleFactor: downsampleFactor,
	}
}

// Predict implements models.Model.
func (n *Network) Predict(ctx context.Context, input *images.Tensor) (*models.DensityMap, error) {
	if input == nil || len(input.Data) == 0 {
		return nil, errors.New("nil input tensor")
	}
	if input.Width%downsampleFactor != 0 || input.Height%downsampleFactor != 0 {
		return nil, errors.Errorf("input %dx%d not divisible by %d",
			input.Width, input.Height, downsampleFactor)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inputTensor, err := ort.NewTensor(
		ort.NewShape(1, 3, int64(input.Height), int64(input.Width)), input.Data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create input tensor")
	}
	defer inputTensor.Destroy()

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, errors.New("network is closed")
	}

	outputs := []ort.Value{nil}
	if err := n.session.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return nil, errors.Wrap(err, "forward pass failed")
	}
	defer outputs[0].Destroy()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, errors.Errorf("unexpected output value %T", outputs[0])
	}

	shape := out.GetShape()
	if len(shape) != 4 || shape[1] != 1 {
		return nil, errors.Errorf("unexpected output shape %v", shape)
	}
	outH := int(shape[2])
	outW := int(shape[3])

	data := out.GetData()
	if len(data) != outH*outW {
		return nil, errors.Errorf("output has %d cells, want %d", len(data), outH*outW)
	}

	dm := &models.DensityMap{
		Data:   make([]float32, len(data)),
		Width:  outW,
		Height: outH,
	}
	copy(dm.Data, data)
	return dm, nil
}

// Close implements models.Model.
func (n *Network) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	return errors.Wrap(n.session.Destroy(), "failed to destroy session")
}
