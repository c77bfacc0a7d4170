package models

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Weights blob layout, all little-endian:
//
//	magic   [4]byte "CDWT"
//	version uint32
//	count   uint32
//	count entries of:
//	  nameLen uint16, name []byte
//	  rank    uint8,  dims []uint32
//	  values  []float32 (product of dims)
var weightsMagic = [4]byte{'C', 'D', 'W', 'T'}

const weightsVersion = 1

// maxTensorElems bounds a single tensor's element count so a corrupt
// header cannot trigger a huge allocation.
const maxTensorElems = 1 << 28

// Weights is a named collection of dense tensors loaded from disk.
type Weights struct {
	Tensors map[string]*tensor.Dense
}

// Get returns the named tensor and verifies its shape.
//
// Arguments:
//   - name: The tensor name, e.g. "frontend.conv0.weight".
//   - shape: The expected dimensions.
//
// Returns:
//   - *tensor.Dense: The tensor.
//   - error: ErrWeightsUnavailable if the tensor is absent or misshapen.
func (w *Weights) Get(name string, shape ...int) (*tensor.Dense, error) {
	t, ok := w.Tensors[name]
	if !ok {
		return nil, errors.Wrapf(ErrWeightsUnavailable, "missing tensor %q", name)
	}
	if !t.Shape().Eq(tensor.Shape(shape)) {
		return nil, errors.Wrapf(ErrWeightsUnavailable,
			"tensor %q has shape %v, want %v", name, t.Shape(), shape)
	}
	return t, nil
}

// Parameters returns the total element count across all tensors.
func (w *Weights) Parameters() int {
	var n int
	for _, t := range w.Tensors {
		n += t.Shape().TotalSize()
	}
	return n
}

// LoadWeights reads a weights blob from disk. It fails fast on a missing
// file, bad magic, version mismatch or truncated data so startup errors
// surface immediately instead of during the first forward pass.
func LoadWeights(path string) (*Weights, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(ErrWeightsUnavailable, "weights file %s: %v", path, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(ErrWeightsUnavailable, "open %s: %v", path, err)
	}
	defer f.Close()

	return ReadWeights(bufio.NewReaderSize(f, 1<<20))
}

// ReadWeights parses a weights blob from a reader.
func ReadWeights(r io.Reader) (*Weights, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, errors.Wrapf(ErrWeightsUnavailable, "read magic: %v", err)
	}
	if magic != weightsMagic {
		return nil, errors.Wrapf(ErrWeightsUnavailable, "bad magic %q", magic)
	}

	var version, count uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, errors.Wrapf(ErrWeightsUnavailable, "read version: %v", err)
	}
	if version != weightsVersion {
		return nil, errors.Wrapf(ErrWeightsUnavailable, "unsupported version %d", version)
	}
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, errors.Wrapf(ErrWeightsUnavailable, "read tensor count: %v", err)
	}

	w := &Weights{Tensors: make(map[string]*tensor.Dense, count)}
	for i := uint32(0); i < count; i++ {
		name, dense, err := readTensor(r)
		if err != nil {
			return nil, errors.Wrapf(err, "tensor %d of %d", i, count)
		}
		if _, dup := w.Tensors[name]; dup {
			return nil, errors.Wrapf(ErrWeightsUnavailable, "duplicate tensor %q", name)
		}
		w.Tensors[name] = dense
	}
	return w, nil
}

func readTensor(r io.Reader) (string, *tensor.Dense, error) {
	var nameLen uint16
	if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
		return "", nil, errors.Wrapf(ErrWeightsUnavailable, "read name length: %v", err)
	}
	nameBuf := make([]byte, nameLen)
	if _, err := io.ReadFull(r, nameBuf); err != nil {
		return "", nil, errors.Wrapf(ErrWeightsUnavailable, "read name: %v", err)
	}
	name := string(nameBuf)

	var rank uint8
	if err := binary.Read(r, binary.LittleEndian, &rank); err != nil {
		return "", nil, errors.Wrapf(ErrWeightsUnavailable, "read rank of %q: %v", name, err)
	}
	if rank == 0 || rank > 4 {
		return "", nil, errors.Wrapf(ErrWeightsUnavailable, "tensor %q has rank %d", name, rank)
	}

	dims := make([]int, rank)
	elems := 1
	for d := range dims {
		var v uint32
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return "", nil, errors.Wrapf(ErrWeightsUnavailable, "read dims of %q: %v", name, err)
		}
		if v == 0 {
			return "", nil, errors.Wrapf(ErrWeightsUnavailable, "tensor %q has zero dim", name)
		}
		dims[d] = int(v)
		elems *= int(v)
		if elems > maxTensorElems {
			return "", nil, errors.Wrapf(ErrWeightsUnavailable, "tensor %q too large", name)
		}
	}

	raw := make([]byte, 4*elems)
	if _, err := io.ReadFull(r, raw); err != nil {
		return "", nil, errors.Wrapf(ErrWeightsUnavailable, "read values of %q: %v", name, err)
	}
	values := make([]float32, elems)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}

	dense := tensor.New(tensor.WithShape(dims...), tensor.WithBacking(values))
	return name, dense, nil
}

// WriteWeights serializes a weights collection in blob format. Tensor
// order follows the names slice so output is deterministic.
func WriteWeights(w io.Writer, weights *Weights, names []string) error {
	if _, err := w.Write(weightsMagic[:]); err != nil {
		return errors.Wrap(err, "write magic")
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(weightsVersion)); err != nil {
		return errors.Wrap(err, "write version")
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(names))); err != nil {
		return errors.Wrap(err, "write count")
	}

	for _, name := range names {
		dense, ok := weights.Tensors[name]
		if !ok {
			return errors.Errorf("tensor %q not present", name)
		}
		if err := writeTensor(w, name, dense); err != nil {
			return errors.Wrapf(err, "tensor %q", name)
		}
	}
	return nil
}

func writeTensor(w io.Writer, name string, dense *tensor.Dense) error {
	if err := binary.Write(w, binary.LittleEndian, uint16(len(name))); err != nil {
		return err
	}
	if _, err := io.WriteString(w, name); err != nil {
		return err
	}
	shape := dense.Shape()
	if err := binary.Write(w, binary.LittleEndian, uint8(len(shape))); err != nil {
		return err
	}
	for _, d := range shape {
		if err := binary.Write(w, binary.LittleEndian, uint32(d)); err != nil {
			return err
		}
	}
	values, ok := dense.Data().([]float32)
	if !ok {
		return errors.Errorf("tensor is %v, want float32", dense.Dtype())
	}
	raw := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(v))
	}
	_, err := w.Write(raw)
	return err
}
