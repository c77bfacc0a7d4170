// Package models - density map output type and model abstractions.
package models

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

// DensityMap is a single-channel map produced by a density network. Each
// cell holds the estimated person density at that location; the sum over
// all cells approximates the head count in the frame.
type DensityMap struct {
	// Data holds Height*Width values in row-major order.
	Data []float32
	// Width and Height are the map dimensions, typically 1/8 of the
	// network input.
	Width  int
	Height int
}

// NewDensityMap allocates a zeroed map with the given dimensions.
func NewDensityMap(width, height int) (*DensityMap, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid density map dimensions: %dx%d", width, height)
	}
	return &DensityMap{
		Data:   make([]float32, width*height),
		Width:  width,
		Height: height,
	}, nil
}

// At returns the value at (x, y). Out-of-range coordinates return 0.
func (m *DensityMap) At(x, y int) float32 {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return 0
	}
	return m.Data[y*m.Width+x]
}

// Sum returns the total of all cells. Raw network output may contain
// small negative values; Sum does not clamp them.
func (m *DensityMap) Sum() float32 {
	var total float32
	for _, v := range m.Data {
		total += v
	}
	return total
}

// Max returns the largest cell value, or 0 for an empty map.
func (m *DensityMap) Max() float32 {
	var max float32
	for _, v := range m.Data {
		max = math32.Max(max, v)
	}
	return max
}

// ClampNegatives zeroes every negative cell in place and returns the map.
func (m *DensityMap) ClampNegatives() *DensityMap {
	for i, v := range m.Data {
		if v < 0 {
			m.Data[i] = 0
		}
	}
	return m
}

// Normalized returns a copy scaled into [0, 1] by the map maximum.
// A map with no positive values comes back all zero.
func (m *DensityMap) Normalized() *DensityMap {
	out := &DensityMap{
		Data:   make([]float32, len(m.Data)),
		Width:  m.Width,
		Height: m.Height,
	}
	max := m.Max()
	if max <= 0 {
		return out
	}
	for i, v := range m.Data {
		if v > 0 {
			out.Data[i] = v / max
		}
	}
	return out
}

// RegionSum returns the sum over the rectangle [x0, x1) x [y0, y1),
// clipped to the map bounds.
func (m *DensityMap) RegionSum(x0, y0, x1, y1 int) float32 {
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if x1 > m.Width {
		x1 = m.Width
	}
	if y1 > m.Height {
		y1 = m.Height
	}
	var total float32
	for y := y0; y < y1; y++ {
		row := m.Data[y*m.Width : (y+1)*m.Width]
		for x := x0; x < x1; x++ {
			total += row[x]
		}
	}
	return total
}
