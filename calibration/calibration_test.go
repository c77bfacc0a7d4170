package calibration

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isCalibrationError(err error) bool {
	var ce *Error
	return errors.As(err, &ce)
}

func TestDirect(t *testing.T) {
	c, err := Direct("cam1", 1920, 1080, 100)
	require.NoError(t, err)
	assert.Equal(t, 100.0, c.TotalAreaSqm)
	assert.InDelta(t, 100.0/float64(1920*1080), c.SqmPerPixel(), 1e-12)
	assert.InDelta(t, float64(1920*1080)/100.0, c.PixelsPerSqm(), 1e-9)

	_, err = Direct("cam1", 1920, 1080, 0)
	assert.True(t, isCalibrationError(err))

	_, err = Direct("cam1", 0, 1080, 100)
	assert.True(t, isCalibrationError(err))
}

func TestFromReference(t *testing.T) {
	// A 1m marking spanning 150px in a 1920x1080 frame.
	c, err := FromReference("cam1", 1920, 1080, 150, 1.0)
	require.NoError(t, err)

	mpp := 1.0 / 150.0
	want := (1920 * mpp) * (1080 * mpp)
	assert.InDelta(t, want, c.TotalAreaSqm, 1e-9)
	assert.InDelta(t, 92.16, c.TotalAreaSqm, 0.01)
}

func TestFromReferenceScaleInvariance(t *testing.T) {
	base, err := FromReference("cam1", 1920, 1080, 150, 1.0)
	require.NoError(t, err)

	doubled, err := FromReference("cam1", 3840, 2160, 300, 1.0)
	require.NoError(t, err)

	assert.InDelta(t, base.TotalAreaSqm, doubled.TotalAreaSqm, 1e-9)
}

func TestFromReferenceRejectsBadInput(t *testing.T) {
	tests := []struct {
		name       string
		w, h       int
		px, meters float64
	}{
		{name: "zero pixels", w: 1920, h: 1080, px: 0, meters: 1},
		{name: "negative pixels", w: 1920, h: 1080, px: -10, meters: 1},
		{name: "zero meters", w: 1920, h: 1080, px: 100, meters: 0},
		{name: "zero width", w: 0, h: 1080, px: 100, meters: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromReference("cam1", tt.w, tt.h, tt.px, tt.meters)
			assert.True(t, isCalibrationError(err))
		})
	}
}

func TestFromGeometry(t *testing.T) {
	c, err := FromGeometry("cam1", 1920, 1080, 5.0, 60, 70)
	require.NoError(t, err)

	assert.Positive(t, c.TotalAreaSqm)
	assert.False(t, math.IsNaN(c.TotalAreaSqm))
	assert.False(t, math.IsInf(c.TotalAreaSqm, 0))
	assert.LessOrEqual(t, c.TotalAreaSqm, 10000.0)
	assert.GreaterOrEqual(t, c.TotalAreaSqm, 1.0)
	assert.Equal(t, 5.0, c.CameraHeightM)
}

func TestFromGeometryShallowTiltStaysFinite(t *testing.T) {
	// Far ray above horizontal triggers the bounded fallback.
	c, err := FromGeometry("cam1", 1920, 1080, 5.0, 10, 70)
	require.NoError(t, err)
	assert.False(t, math.IsInf(c.TotalAreaSqm, 0))
	assert.LessOrEqual(t, c.TotalAreaSqm, 10000.0)
}

func TestFromGeometryRejectsBadInput(t *testing.T) {
	tests := []struct {
		name              string
		height, tilt, fov float64
	}{
		{name: "straight down", height: 5, tilt: 90, fov: 70},
		{name: "past vertical", height: 5, tilt: 120, fov: 70},
		{name: "horizontal", height: 5, tilt: 0, fov: 70},
		{name: "zero height", height: 0, tilt: 45, fov: 70},
		{name: "negative height", height: -2, tilt: 45, fov: 70},
		{name: "zero fov", height: 5, tilt: 45, fov: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromGeometry("cam1", 1920, 1080, tt.height, tt.tilt, tt.fov)
			assert.True(t, isCalibrationError(err), "expected calibration error, got %v", err)
		})
	}
}

func TestCellAreaSqm(t *testing.T) {
	c, err := Direct("cam1", 1920, 1080, 100)
	require.NoError(t, err)

	// 240x135 density map cells share the area equally.
	assert.InDelta(t, 100.0/(240*135), c.CellAreaSqm(240, 135), 1e-12)
	assert.Zero(t, c.CellAreaSqm(0, 135))
}

func TestFromPreset(t *testing.T) {
	c, err := FromPreset("temple_entrance", "cam1", 1920, 1080)
	require.NoError(t, err)
	assert.Equal(t, 80.0, c.TotalAreaSqm)
	assert.Equal(t, 5.0, c.CameraHeightM)
	assert.Equal(t, 50.0, c.CameraTiltDeg)

	_, err = FromPreset("bogus", "cam1", 1920, 1080)
	assert.True(t, isCalibrationError(err))

	assert.Contains(t, PresetNames(), "temple_main_hall")
}
