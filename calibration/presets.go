package calibration

import "sort"

// Preset is a canned calibration for a common camera deployment.
type Preset struct {
	Description   string
	TotalAreaSqm  float64
	CameraHeightM float64
	CameraTiltDeg float64
}

var presets = map[string]Preset{
	"laptop_webcam_desk": {
		Description:   "Laptop webcam viewing a desk area",
		TotalAreaSqm:  1.5,
		CameraHeightM: 0.5,
		CameraTiltDeg: 30,
	},
	"laptop_webcam_room": {
		Description:   "Laptop webcam viewing a small room",
		TotalAreaSqm:  4.0,
		CameraHeightM: 0.5,
		CameraTiltDeg: 15,
	},
	"ceiling_camera_5m": {
		Description:   "Ceiling mount at 5m height, 60 degree tilt",
		TotalAreaSqm:  50.0,
		CameraHeightM: 5.0,
		CameraTiltDeg: 60,
	},
	"cctv_wide_angle": {
		Description:   "Standard CCTV with wide angle lens",
		TotalAreaSqm:  100.0,
		CameraHeightM: 4.0,
		CameraTiltDeg: 45,
	},
	"temple_entrance": {
		Description:   "Temple entrance area camera",
		TotalAreaSqm:  80.0,
		CameraHeightM: 5.0,
		CameraTiltDeg: 50,
	},
	"temple_main_hall": {
		Description:   "Temple main hall or courtyard camera",
		TotalAreaSqm:  200.0,
		CameraHeightM: 8.0,
		CameraTiltDeg: 60,
	},
}

// PresetNames lists the available presets in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FromPreset builds a calibration from a named preset.
//
// Arguments:
//   - name: Preset name, see PresetNames.
//   - cameraID: Camera identifier.
//   - frameWidth, frameHeight: Capture dimensions in pixels.
//
// Returns:
//   - *Calibration: The calibration.
//   - error: An Error naming the unknown preset.
func FromPreset(name, cameraID string, frameWidth, frameHeight int) (*Calibration, error) {
	p, ok := presets[name]
	if !ok {
		return nil, errorf("unknown preset %q, available: %v", name, PresetNames())
	}
	if frameWidth <= 0 || frameHeight <= 0 {
		return nil, errorf("frame dimensions %dx%d must be positive", frameWidth, frameHeight)
	}
	return &Calibration{
		CameraID:      cameraID,
		AreaName:      p.Description,
		FrameWidth:    frameWidth,
		FrameHeight:   frameHeight,
		TotalAreaSqm:  p.TotalAreaSqm,
		CameraHeightM: p.CameraHeightM,
		CameraTiltDeg: p.CameraTiltDeg,
	}, nil
}
