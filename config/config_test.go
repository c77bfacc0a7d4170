package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crowd-ai/go-density/models"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesOverrides(t *testing.T) {
	path := writeConfig(t, "deploy.json", `{
		"listen_addr": ":9090",
		"engine": {
			"model_variant": "lite",
			"weights_path": "weights/lite.bin",
			"scale_factor": 0.25,
			"enable_smoothing": false
		},
		"cameras": [
			{
				"source": {"kind": "rtsp", "source_id": "gate", "url": "rtsp://10.0.0.1/stream"},
				"area_name": "north gate",
				"area_sqm": 80,
				"enabled": true
			}
		]
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr())

	ec := cfg.EngineConfig()
	assert.Equal(t, models.VariantLite, ec.Model.Variant)
	assert.Equal(t, "weights/lite.bin", ec.Model.WeightsPath)
	assert.InDelta(t, 0.25, ec.ScaleFactor, 1e-9)
	assert.False(t, ec.EnableSmoothing)

	require.Len(t, cfg.Cameras, 1)
	assert.Equal(t, "gate", cfg.Cameras[0].Source.SourceID)
	assert.InDelta(t, 80, cfg.Cameras[0].AreaSqm, 1e-9)
}

func TestLoadEmptyConfigKeepsDefaults(t *testing.T) {
	path := writeConfig(t, "empty.json", `{}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultListenAddr, cfg.Addr())

	ec := cfg.EngineConfig()
	assert.Equal(t, models.VariantStandard, ec.Model.Variant)
	assert.True(t, ec.EnableSmoothing)
	assert.InDelta(t, 100, ec.AreaSqm, 1e-9)
}

func TestSceneAreaPrecedence(t *testing.T) {
	path := writeConfig(t, "preset.json", `{
		"engine": {"area_sqm": 42},
		"calibration_preset": "temple_entrance"
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	// The preset wins over the engine override.
	assert.InDelta(t, 80, cfg.SceneArea(), 1e-9)
	assert.InDelta(t, 80, cfg.EngineConfig().AreaSqm, 1e-9)

	cfg.CalibrationPreset = ""
	assert.InDelta(t, 42, cfg.SceneArea(), 1e-9)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{"wrong extension", "deploy.yaml", `{}`},
		{"malformed json", "bad.json", `{not json`},
		{"unknown preset", "preset.json", `{"calibration_preset": "parking_lot"}`},
		{"bad engine override", "engine.json", `{"engine": {"scale_factor": 2.0}}`},
		{"missing camera id", "cam.json", `{"cameras": [{"source": {"kind": "webcam"}}]}`},
		{"duplicate camera id", "dup.json", `{"cameras": [
			{"source": {"kind": "webcam", "source_id": "a"}},
			{"source": {"kind": "file", "source_id": "a", "path": "x.mp4"}}
		]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.file, tt.body)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}
