// Package csrnet implements the crowd density network on the in-process
// gorgonia graph engine.
//
// The network follows the CSRNet design: the first ten convolutional
// layers of VGG-16 extract features at 1/8 spatial resolution, then a
// stack of dilated 3x3 convolutions widens the receptive field without
// further downsampling, and a final 1x1 convolution emits a
// single-channel density map.
package csrnet

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/crowd-ai/go-density/images"
	"github.com/crowd-ai/go-density/models"
)

// DownsampleFactor is the spatial ratio between network input and the
// density map, fixed by the three pooling stages in the frontend.
const DownsampleFactor = 8

type layerSpec struct {
	name      string
	in, out   int
	kernel    int
	dilation  int
	poolAfter bool
}

// frontendSpec is the VGG-16 feature extractor up to conv4_3.
var frontendSpec = []layerSpec{
	{name: "frontend.conv0", in: 3, out: 64, kernel: 3, dilation: 1},
	{name: "frontend.conv1", in: 64, out: 64, kernel: 3, dilation: 1, poolAfter: true},
	{name: "frontend.conv2", in: 64, out: 128, kernel: 3, dilation: 1},
	{name: "frontend.conv3", in: 128, out: 128, kernel: 3, dilation: 1, poolAfter: true},
	{name: "frontend.conv4", in: 128, out: 256, kernel: 3, dilation: 1},
	{name: "frontend.conv5", in: 256, out: 256, kernel: 3, dilation: 1},
	{name: "frontend.conv6", in: 256, out: 256, kernel: 3, dilation: 1, poolAfter: true},
	{name: "frontend.conv7", in: 256, out: 512, kernel: 3, dilation: 1},
	{name: "frontend.conv8", in: 512, out: 512, kernel: 3, dilation: 1},
	{name: "frontend.conv9", in: 512, out: 512, kernel: 3, dilation: 1},
}

func backendSpec(variant models.Variant) ([]layerSpec, error) {
	var channels []int
	switch variant {
	case models.VariantStandard:
		channels = []int{512, 512, 512, 256, 128, 64}
	case models.VariantLite:
		channels = []int{256, 256, 128, 64, 32}
	default:
		return nil, errors.Errorf("unknown variant %q", variant)
	}

	in := 512
	layers := make([]layerSpec, 0, len(channels))
	for i, out := range channels {
		layers = append(layers, layerSpec{
			name:     fmt.Sprintf("backend.conv%d", i),
			in:       in,
			out:      out,
			kernel:   3,
			dilation: 2,
		})
		in = out
	}
	return layers, nil
}

// Layer describes one convolution of a variant, in network order.
// Weight exporters use it to lay out deterministic blobs.
type Layer struct {
	Name    string
	In, Out int
	Kernel  int
}

// Layers returns every convolution the variant requires, including the
// final 1x1 projection.
func Layers(variant models.Variant) ([]Layer, error) {
	backend, err := backendSpec(variant)
	if err != nil {
		return nil, err
	}
	var layers []Layer
	for _, l := range append(append([]layerSpec{}, frontendSpec...), backend...) {
		layers = append(layers, Layer{Name: l.name, In: l.in, Out: l.out, Kernel: l.kernel})
	}
	outIn := backend[len(backend)-1].out
	layers = append(layers, Layer{Name: "output", In: outIn, Out: 1, Kernel: 1})
	return layers, nil
}

// LayerNames returns the weight tensor names the variant requires, in
// network order.
func LayerNames(variant models.Variant) ([]string, error) {
	layers, err := Layers(variant)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, l := range layers {
		names = append(names, l.Name+".weight", l.Name+".bias")
	}
	return names, nil
}

// compiled is a network graph built for one input geometry. Graphs are
// static in gorgonia, so each distinct height/width pair gets its own
// graph sharing the same weight tensors.
type compiled struct {
	graph  *G.ExprGraph
	input  *G.Node
	output *G.Node
	vm     G.VM
}

// Network runs the density model on the graph engine. The mutex
// serializes forward passes; the tape machine is not reentrant.
type Network struct {
	variant models.Variant
	weights *models.Weights
	backend []layerSpec
	outIn   int

	mu     sync.Mutex
	graphs map[[2]int]*compiled
	closed bool
}

var _ models.Model = (*Network)(nil)

// New loads weights from disk and prepares a network. The graph itself
// is compiled lazily on the first Predict for each input geometry.
//
// Arguments:
//   - variant: Standard or lite architecture.
//   - weightsPath: Path to the weights blob.
//
// Returns:
//   - *Network: The ready network.
//   - error: models.ErrWeightsUnavailable if the blob is missing or does
//     not match the variant.
func New(variant models.Variant, weightsPath string) (*Network, error) {
	weights, err := models.LoadWeights(weightsPath)
	if err != nil {
		return nil, err
	}
	return NewFromWeights(variant, weights)
}

// NewFromWeights prepares a network from an already loaded weight set,
// verifying every layer's shape up front.
func NewFromWeights(variant models.Variant, weights *models.Weights) (*Network, error) {
	backend, err := backendSpec(variant)
	if err != nil {
		return nil, err
	}

	for _, l := range append(append([]layerSpec{}, frontendSpec...), backend...) {
		if _, err := weights.Get(l.name+".weight", l.out, l.in, l.kernel, l.kernel); err != nil {
			return nil, err
		}
		if _, err := weights.Get(l.name+".bias", l.out); err != nil {
			return nil, err
		}
	}
	outIn := backend[len(backend)-1].out
	if _, err := weights.Get("output.weight", 1, outIn, 1, 1); err != nil {
		return nil, err
	}
	if _, err := weights.Get("output.bias", 1); err != nil {
		return nil, err
	}

	return &Network{
		variant: variant,
		weights: weights,
		backend: backend,
		outIn:   outIn,
		graphs:  make(map[[2]int]*compiled),
	}, nil
}

// Info implements models.Model.
func (n *Network) Info() models.Info {
	return models.Info{
		Variant:          n.variant,
		Backend:          models.BackendNative,
		Parameters:       n.weights.Parameters(),
		DownsampleFactor: DownsampleFactor,
	}
}

// Predict implements models.Model. Passes are serialized per instance.
func (n *Network) Predict(ctx context.Context, input *images.Tensor) (*models.DensityMap, error) {
	if input == nil || len(input.Data) == 0 {
		return nil, errors.New("nil input tensor")
	}
	if input.Channels != 3 {
		return nil, errors.Errorf("input has %d channels, want 3", input.Channels)
	}
	if input.Width%DownsampleFactor != 0 || input.Height%DownsampleFactor != 0 {
		return nil, errors.Errorf("input %dx%d not divisible by %d",
			input.Width, input.Height, DownsampleFactor)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, errors.New("network is closed")
	}

	c, err := n.compiledFor(input.Height, input.Width)
	if err != nil {
		return nil, err
	}

	in := tensor.New(
		tensor.WithShape(1, 3, input.Height, input.Width),
		tensor.WithBacking(input.Data),
	)
	if err := G.Let(c.input, in); err != nil {
		return nil, errors.Wrap(err, "failed to bind input")
	}

	defer c.vm.Reset()
	if err := c.vm.RunAll(); err != nil {
		return nil, errors.Wrap(err, "forward pass failed")
	}

	raw, ok := c.output.Value().Data().([]float32)
	if !ok {
		return nil, errors.Errorf("unexpected output type %T", c.output.Value().Data())
	}

	outW := input.Width / DownsampleFactor
	outH := input.Height / DownsampleFactor
	if len(raw) != outW*outH {
		return nil, errors.Errorf("output has %d cells, want %d", len(raw), outW*outH)
	}

	dm := &models.DensityMap{
		Data:   make([]float32, len(raw)),
		Width:  outW,
		Height: outH,
	}
	copy(dm.Data, raw)
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
	for _, c := range n.graphs {
		c.vm.Close()
	}
	n.graphs = nil
	return nil
}

// compiledFor returns the graph for one input geometry, building it on
// first use. Caller holds n.mu.
func (n *Network) compiledFor(height, width int) (*compiled, error) {
	key := [2]int{height, width}
	if c, ok := n.graphs[key]; ok {
		return c, nil
	}

	g := G.NewGraph()
	input := G.NewTensor(g, tensor.Float32, 4,
		G.WithShape(1, 3, height, width), G.WithName("input"))

	x := input
	var err error
	for _, l := range frontendSpec {
		if x, err = n.convRelu(g, x, l); err != nil {
			return nil, err
		}
		if l.poolAfter {
			if x, err = G.MaxPool2D(x, tensor.Shape{2, 2}, []int{0, 0}, []int{2, 2}); err != nil {
				return nil, errors.Wrapf(err, "pool after %s", l.name)
			}
		}
	}
	for _, l := range n.backend {
		if x, err = n.convRelu(g, x, l); err != nil {
			return nil, err
		}
	}

	// 1x1 projection to the single-channel map, without activation.
	output, err := n.conv(g, x, layerSpec{name: "output", in: n.outIn, out: 1, kernel: 1, dilation: 1})
	if err != nil {
		return nil, err
	}

	c := &compiled{
		graph:  g,
		input:  input,
		output: output,
		vm:     G.NewTapeMachine(g),
	}
	n.graphs[key] = c
	return c, nil
}

func (n *Network) convRelu(g *G.ExprGraph, x *G.Node, l layerSpec) (*G.Node, error) {
	out, err := n.conv(g, x, l)
	if err != nil {
		return nil, err
	}
	out, err = G.Rectify(out)
	if err != nil {
		return nil, errors.Wrapf(err, "relu after %s", l.name)
	}
	return out, nil
}

// conv applies a bias-added convolution. Padding equals dilation so a
// 3x3 kernel preserves spatial size at any dilation rate.
func (n *Network) conv(g *G.ExprGraph, x *G.Node, l layerSpec) (*G.Node, error) {
	wT, err := n.weights.Get(l.name+".weight", l.out, l.in, l.kernel, l.kernel)
	if err != nil {
		return nil, err
	}
	bT, err := n.weights.Get(l.name+".bias", l.out)
	if err != nil {
		return nil, err
	}

	kernel := G.NodeFromAny(g, wT, G.WithName(l.name+".weight"))
	pad := 0
	if l.kernel == 3 {
		pad = l.dilation
	}
	out, err := G.Conv2d(x, kernel,
		tensor.Shape{l.kernel, l.kernel},
		[]int{pad, pad}, []int{1, 1}, []int{l.dilation, l.dilation})
	if err != nil {
		return nil, errors.Wrapf(err, "conv %s", l.name)
	}

	bias := G.NodeFromAny(g, bT, G.WithName(l.name+".bias"))
	bias, err = G.Reshape(bias, tensor.Shape{1, l.out, 1, 1})
	if err != nil {
		return nil, errors.Wrapf(err, "reshape bias %s", l.name)
	}
	out, err = G.BroadcastAdd(out, bias, nil, []byte{0, 2, 3})
	if err != nil {
		return nil, errors.Wrapf(err, "add bias %s", l.name)
	}
	return out, nil
}
