package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDensityMap(t *testing.T) {
	m, err := NewDensityMap(4, 3)
	require.NoError(t, err)
	assert.Equal(t, 4, m.Width)
	assert.Equal(t, 3, m.Height)
	assert.Len(t, m.Data, 12)

	_, err = NewDensityMap(0, 3)
	assert.Error(t, err)
	_, err = NewDensityMap(4, -1)
	assert.Error(t, err)
}

func TestDensityMapSumAndMax(t *testing.T) {
	m := &DensityMap{
		Data:   []float32{0.5, -0.1, 2.0, 0.25},
		Width:  2,
		Height: 2,
	}
	assert.InDelta(t, 2.65, float64(m.Sum()), 1e-6)
	assert.InDelta(t, 2.0, float64(m.Max()), 1e-6)
}

func TestDensityMapClampNegatives(t *testing.T) {
	m := &DensityMap{
		Data:   []float32{0.5, -0.1, -3.0, 0.25},
		Width:  2,
		Height: 2,
	}
	m.ClampNegatives()
	assert.Equal(t, []float32{0.5, 0, 0, 0.25}, m.Data)
	assert.InDelta(t, 0.75, float64(m.Sum()), 1e-6)
}

func TestDensityMapAt(t *testing.T) {
	m := &DensityMap{
		Data:   []float32{1, 2, 3, 4, 5, 6},
		Width:  3,
		Height: 2,
	}
	assert.Equal(t, float32(1), m.At(0, 0))
	assert.Equal(t, float32(6), m.At(2, 1))
	assert.Zero(t, m.At(-1, 0))
	assert.Zero(t, m.At(3, 0))
	assert.Zero(t, m.At(0, 2))
}

func TestDensityMapNormalized(t *testing.T) {
	m := &DensityMap{
		Data:   []float32{0, 2, -1, 4},
		Width:  2,
		Height: 2,
	}
	n := m.Normalized()
	assert.Equal(t, []float32{0, 0.5, 0, 1}, n.Data)

	// Source map untouched.
	assert.Equal(t, float32(-1), m.Data[2])

	zero := &DensityMap{Data: []float32{0, 0}, Width: 2, Height: 1}
	assert.Equal(t, []float32{0, 0}, zero.Normalized().Data)
}

func TestDensityMapRegionSum(t *testing.T) {
	m := &DensityMap{
		Data: []float32{
			1, 2, 3,
			4, 5, 6,
			7, 8, 9,
		},
		Width:  3,
		Height: 3,
	}
	assert.InDelta(t, 12.0, float64(m.RegionSum(0, 0, 2, 2)), 1e-6)
	assert.InDelta(t, 45.0, float64(m.RegionSum(0, 0, 3, 3)), 1e-6)
	// Out-of-range bounds clip to the map.
	assert.InDelta(t, 45.0, float64(m.RegionSum(-5, -5, 100, 100)), 1e-6)
	assert.Zero(t, m.RegionSum(2, 2, 2, 2))
}
