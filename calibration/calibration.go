// Package calibration converts pixel-space measurements into physical
// ground area so density maps can be expressed in people per square
// meter.
//
// Three methods are supported, all pure computations over plain data: a
// direct area figure, a reference-object pixel measurement, and camera
// mounting geometry (height, tilt, field of view). A preset table covers
// common deployments.
package calibration

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// Error reports an invalid calibration input with the specific reason.
type Error struct {
	Reason string
}

func (e *Error) Error() string {
	return "calibration: " + e.Reason
}

func errorf(format string, args ...interface{}) error {
	return errors.WithStack(&Error{Reason: fmt.Sprintf(format, args...)})
}

// Calibration ties a camera's frame geometry to the physical ground
// area it covers.
type Calibration struct {
	// CameraID identifies the camera this calibration belongs to.
	CameraID string `json:"camera_id"`
	// AreaName is a human-readable label, e.g. "Main Gate".
	AreaName string `json:"area_name"`
	// FrameWidth and FrameHeight are the capture dimensions in pixels.
	FrameWidth  int `json:"frame_width"`
	FrameHeight int `json:"frame_height"`
	// TotalAreaSqm is the covered ground area in square meters.
	TotalAreaSqm float64 `json:"total_area_sqm"`

	// Physical mount parameters, recorded when known.
	CameraHeightM float64 `json:"camera_height_m,omitempty"`
	CameraTiltDeg float64 `json:"camera_tilt_deg,omitempty"`
	CameraFOVDeg  float64 `json:"camera_fov_deg,omitempty"`
}

// SqmPerPixel returns the average ground area one pixel covers.
func (c *Calibration) SqmPerPixel() float64 {
	px := c.FrameWidth * c.FrameHeight
	if px <= 0 {
		return 0
	}
	return c.TotalAreaSqm / float64(px)
}

// PixelsPerSqm returns the average pixel count per square meter.
func (c *Calibration) PixelsPerSqm() float64 {
	if c.TotalAreaSqm <= 0 {
		return 0
	}
	return float64(c.FrameWidth*c.FrameHeight) / c.TotalAreaSqm
}

// CellAreaSqm returns the ground area one density-map cell represents.
// Perspective is averaged out; every cell gets the same share.
func (c *Calibration) CellAreaSqm(mapWidth, mapHeight int) float64 {
	cells := mapWidth * mapHeight
	if cells <= 0 {
		return 0
	}
	return c.TotalAreaSqm / float64(cells)
}

// Validate checks the calibration is usable for density computation.
func (c *Calibration) Validate() error {
	if c.FrameWidth <= 0 || c.FrameHeight <= 0 {
		return errorf("frame dimensions %dx%d must be positive", c.FrameWidth, c.FrameHeight)
	}
	if c.TotalAreaSqm <= 0 {
		return errorf("total area %.3f sqm must be positive", c.TotalAreaSqm)
	}
	return nil
}

// Direct builds a calibration from a known covered area.
//
// Arguments:
//   - cameraID: Camera identifier.
//   - frameWidth, frameHeight: Capture dimensions in pixels.
//   - areaSqm: Measured ground coverage in square meters.
//
// Returns:
//   - *Calibration: The calibration.
//   - error: An Error if the area or dimensions are not positive.
func Direct(cameraID string, frameWidth, frameHeight int, areaSqm float64) (*Calibration, error) {
	c := &Calibration{
		CameraID:     cameraID,
		AreaName:     "Direct",
		FrameWidth:   frameWidth,
		FrameHeight:  frameHeight,
		TotalAreaSqm: areaSqm,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// FromReference builds a calibration from a known distance measured both
// in the image and in the world, e.g. a one-meter floor marking that
// spans 100 pixels. The covered area is the frame rectangle scaled by
// meters-per-pixel in both axes, so it is invariant under proportional
// scaling of the frame and the pixel measurement.
func FromReference(
	cameraID string,
	frameWidth, frameHeight int,
	referencePixels, referenceMeters float64,
) (*Calibration, error) {
	if frameWidth <= 0 || frameHeight <= 0 {
		return nil, errorf("frame dimensions %dx%d must be positive", frameWidth, frameHeight)
	}
	if referencePixels <= 0 {
		return nil, errorf("reference distance %.3f px must be positive", referencePixels)
	}
	if referenceMeters <= 0 {
		return nil, errorf("reference distance %.3f m must be positive", referenceMeters)
	}

	metersPerPixel := referenceMeters / referencePixels
	area := (float64(frameWidth) * metersPerPixel) * (float64(frameHeight) * metersPerPixel)

	return &Calibration{
		CameraID:     cameraID,
		AreaName:     "Reference distance",
		FrameWidth:   frameWidth,
		FrameHeight:  frameHeight,
		TotalAreaSqm: area,
	}, nil
}

// FromGeometry estimates the covered ground area from the camera mount:
// height above ground, downward tilt and horizontal field of view. The
// visible ground patch is approximated as a trapezoid between the near
// and far view distances.
//
// Tilt is measured from horizontal; 90 degrees means straight down and
// is rejected along with non-positive height, so the projection never
// degenerates to NaN or infinity.
func FromGeometry(
	cameraID string,
	frameWidth, frameHeight int,
	heightM, tiltDeg, fovDeg float64,
) (*Calibration, error) {
	if frameWidth <= 0 || frameHeight <= 0 {
		return nil, errorf("frame dimensions %dx%d must be positive", frameWidth, frameHeight)
	}
	if heightM <= 0 {
		return nil, errorf("camera height %.3f m must be positive", heightM)
	}
	if tiltDeg <= 0 || tiltDeg >= 90 {
		return nil, errorf("camera tilt %.1f deg must be in (0, 90)", tiltDeg)
	}
	if fovDeg <= 0 || fovDeg >= 180 {
		return nil, errorf("field of view %.1f deg must be in (0, 180)", fovDeg)
	}

	tilt := tiltDeg * math.Pi / 180
	hFOV := fovDeg * math.Pi / 180

	// Vertical FOV from the frame aspect ratio.
	aspect := float64(frameWidth) / float64(frameHeight)
	vFOV := 2 * math.Atan(math.Tan(hFOV/2)/aspect)

	centerDistance := heightM / math.Tan(tilt)

	// Near edge of the view hits the ground at the steepest ray.
	nearAngle := tilt + vFOV/2
	var nearDistance float64
	if nearAngle < math.Pi/2 {
		nearDistance = heightM / math.Tan(nearAngle)
	}

	// Far edge; a ray at or above horizontal never lands, so fall back
	// to a bounded multiple of the center distance.
	farAngle := tilt - vFOV/2
	var farDistance float64
	if farAngle > 0 {
		farDistance = heightM / math.Tan(farAngle)
	} else {
		farDistance = centerDistance * 3
	}

	avgDistance := (nearDistance + farDistance) / 2
	width := 2 * avgDistance * math.Tan(hFOV/2)
	depth := farDistance - nearDistance

	area := width * depth
	area = math.Max(1.0, math.Min(10000.0, area))

	return &Calibration{
		CameraID:      cameraID,
		AreaName:      "Mount geometry",
		FrameWidth:    frameWidth,
		FrameHeight:   frameHeight,
		TotalAreaSqm:  area,
		CameraHeightM: heightM,
		CameraTiltDeg: tiltDeg,
		CameraFOVDeg:  fovDeg,
	}, nil
}
