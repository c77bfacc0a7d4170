// Package visualize renders density heatmaps and zone overlays onto
// frames for dashboards and debugging. Presentation only; nothing here
// feeds back into the pipeline.
package visualize

import (
	"fmt"
	"image"
	"image/color"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/crowd-ai/go-density/analysis"
	"github.com/crowd-ai/go-density/inference"
	"github.com/crowd-ai/go-density/models"
)

// Options controls rendering.
type Options struct {
	// Colormap maps normalized density to color.
	Colormap gocv.ColormapTypes
	// Alpha blends heatmap over frame; 0 shows only the frame, 1 only
	// the heatmap.
	Alpha float64
	// ShowSummary draws the count and level in the top-left corner.
	ShowSummary bool
}

// DefaultOptions renders a half-transparent jet heatmap with a summary
// line.
func DefaultOptions() Options {
	return Options{
		Colormap:    gocv.ColormapJet,
		Alpha:       0.5,
		ShowSummary: true,
	}
}

// Visualizer renders density results. Stateless; safe for concurrent
// use with distinct destination mats.
type Visualizer struct {
	opts Options
}

// New builds a visualizer.
func New(opts Options) *Visualizer {
	if opts.Alpha < 0 {
		opts.Alpha = 0
	}
	if opts.Alpha > 1 {
		opts.Alpha = 1
	}
	return &Visualizer{opts: opts}
}

// Heatmap renders a density map as a colored BGR image scaled to the
// given dimensions. The map is normalized by its own maximum, so an
// empty map renders as the colormap's zero color.
//
// The returned mat is owned by the caller.
func (v *Visualizer) Heatmap(dm *models.DensityMap, width, height int) (gocv.Mat, error) {
	if dm == nil || len(dm.Data) == 0 {
		return gocv.NewMat(), errors.New("empty density map")
	}
	if width <= 0 || height <= 0 {
		return gocv.NewMat(), errors.Errorf("invalid target size %dx%d", width, height)
	}

	norm := dm.Normalized()
	bytes := make([]byte, len(norm.Data))
	for i, val := range norm.Data {
		bytes[i] = uint8(val * 255)
	}

	gray, err := gocv.NewMatFromBytes(dm.Height, dm.Width, gocv.MatTypeCV8U, bytes)
	if err != nil {
		return gocv.NewMat(), errors.Wrap(err, "failed to wrap density map")
	}
	defer gray.Close()

	scaled := gocv.NewMat()
	gocv.Resize(gray, &scaled, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)
	defer scaled.Close()

	colored := gocv.NewMat()
	gocv.ApplyColorMap(scaled, &colored, v.opts.Colormap)
	return colored, nil
}

// Overlay blends the heatmap for a result over its source frame and,
// when enabled, draws the summary line. The frame mat is not modified;
// the returned mat is owned by the caller.
func (v *Visualizer) Overlay(frame gocv.Mat, result *inference.Result) (gocv.Mat, error) {
	if frame.Empty() {
		return gocv.NewMat(), errors.New("empty frame")
	}
	if result == nil || result.DensityMap == nil {
		return gocv.NewMat(), errors.New("result has no density map")
	}

	heatmap, err := v.Heatmap(result.DensityMap, frame.Cols(), frame.Rows())
	if err != nil {
		return gocv.NewMat(), err
	}
	defer heatmap.Close()

	blended := gocv.NewMat()
	gocv.AddWeighted(frame, 1-v.opts.Alpha, heatmap, v.opts.Alpha, 0, &blended)

	if v.opts.ShowSummary {
		text := fmt.Sprintf("Count: %.0f  %.2f/sqm  %s",
			result.CrowdCount, result.DensityPerSqm, result.Level)
		gocv.PutText(&blended, text, image.Pt(10, 30),
			gocv.FontHersheySimplex, 0.8, levelColor(result.Level), 2)
	}
	return blended, nil
}

// DrawZones outlines each analysis zone on the frame in its level color
// and marks hotspots with a thicker border. Zone bounds are in density
// map cells and get scaled to frame pixels.
func (v *Visualizer) DrawZones(frame *gocv.Mat, zones []analysis.Zone, mapWidth, mapHeight int) error {
	if frame.Empty() {
		return errors.New("empty frame")
	}
	if mapWidth <= 0 || mapHeight <= 0 {
		return errors.Errorf("invalid map size %dx%d", mapWidth, mapHeight)
	}

	sx := float64(frame.Cols()) / float64(mapWidth)
	sy := float64(frame.Rows()) / float64(mapHeight)

	for _, z := range zones {
		rect := image.Rect(
			int(float64(z.Bounds.X1)*sx), int(float64(z.Bounds.Y1)*sy),
			int(float64(z.Bounds.X2)*sx), int(float64(z.Bounds.Y2)*sy),
		)
		thickness := 1
		if z.Hotspot {
			thickness = 3
		}
		gocv.Rectangle(frame, rect, levelColor(z.Level), thickness)

		label := fmt.Sprintf("%.0f", z.Count)
		gocv.PutText(frame, label, image.Pt(rect.Min.X+5, rect.Min.Y+20),
			gocv.FontHersheySimplex, 0.5, levelColor(z.Level), 1)
	}
	return nil
}

// levelColor returns the conventional crowd safety color for a level.
func levelColor(l inference.Level) color.RGBA {
	switch l {
	case inference.LevelFreeFlow:
		return color.RGBA{R: 0, G: 200, B: 0, A: 255}
	case inference.LevelLow:
		return color.RGBA{R: 100, G: 200, B: 100, A: 255}
	case inference.LevelMedium:
		return color.RGBA{R: 255, G: 200, B: 0, A: 255}
	case inference.LevelHigh:
		return color.RGBA{R: 255, G: 100, B: 0, A: 255}
	default:
		return color.RGBA{R: 255, G: 0, B: 0, A: 255}
	}
}
