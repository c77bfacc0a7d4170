// Package analysis provides secondary, read-only analysis over density
// maps: distribution statistics, zone-based breakdowns, hotspot
// detection and safety assessments.
package analysis

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"

	"github.com/crowd-ai/go-density/inference"
	"github.com/crowd-ai/go-density/models"
)

// ZoneBounds is a zone's cell rectangle within the density map,
// inclusive of x1/y1 and exclusive of x2/y2.
type ZoneBounds struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Zone is one cell of the analysis grid.
type Zone struct {
	ID            string          `json:"zone_id"`
	Row           int             `json:"row"`
	Col           int             `json:"col"`
	Bounds        ZoneBounds      `json:"bounds"`
	Count         float64         `json:"count"`
	DensityPerSqm float64         `json:"density_per_sqm"`
	Level         inference.Level `json:"level"`
	// Hotspot marks a zone whose local density exceeds the critical
	// breakpoint of the global threshold table.
	Hotspot bool `json:"hotspot"`
}

// Stats is the full analysis of one density map.
type Stats struct {
	TotalCount    float64         `json:"total_count"`
	DensityPerSqm float64         `json:"density_per_sqm"`
	Level         inference.Level `json:"level"`

	MeanDensity float64 `json:"mean_density"`
	MaxDensity  float64 `json:"max_density"`
	MinDensity  float64 `json:"min_density"`
	StdDensity  float64 `json:"std_density"`

	// HotspotCount is the number of hotspot zones; HotspotPercentage is
	// their share of the covered area.
	HotspotCount      int     `json:"hotspot_count"`
	HotspotPercentage float64 `json:"hotspot_percentage"`
	// CriticalAreaPercentage is the share of cells whose local density
	// sits in the critical band.
	CriticalAreaPercentage float64 `json:"critical_area_percentage"`
	// EstimatedFlowRate is a rough people-per-meter-per-second movement
	// estimate; it falls as density rises.
	EstimatedFlowRate float64 `json:"estimated_flow_rate"`

	Zones []Zone `json:"zones,omitempty"`
}

// Analyzer performs stateless analysis for a fixed area and threshold
// table. Safe for concurrent use.
type Analyzer struct {
	areaSqm    float64
	thresholds inference.Thresholds
	gridRows   int
	gridCols   int
}

// New builds an analyzer.
//
// Arguments:
//   - areaSqm: The calibrated ground area in square meters.
//   - thresholds: Classification table; nil selects the defaults.
//   - gridRows, gridCols: Zone grid dimensions; zero for both disables
//     zone analysis in Analyze.
//
// Returns:
//   - *Analyzer: The analyzer.
//   - error: An error for a non-positive area, invalid table or
//     negative grid.
func New(areaSqm float64, thresholds inference.Thresholds, gridRows, gridCols int) (*Analyzer, error) {
	if areaSqm <= 0 {
		return nil, errors.Errorf("area %v sqm must be positive", areaSqm)
	}
	if thresholds == nil {
		thresholds = inference.DefaultThresholds()
	}
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	if gridRows < 0 || gridCols < 0 || (gridRows == 0) != (gridCols == 0) {
		return nil, errors.Errorf("invalid zone grid %dx%d", gridRows, gridCols)
	}
	return &Analyzer{
		areaSqm:    areaSqm,
		thresholds: thresholds,
		gridRows:   gridRows,
		gridCols:   gridCols,
	}, nil
}

// Analyze computes full statistics for a density map.
//
// Arguments:
//   - dm: The density map, expected non-negative (engine output).
//   - count: Pre-computed total; pass a negative value to derive it
//     from the map.
//
// Returns:
//   - *Stats: The analysis.
//   - error: An error for an empty map.
func (a *Analyzer) Analyze(dm *models.DensityMap, count float64) (*Stats, error) {
	if dm == nil || len(dm.Data) == 0 {
		return nil, errors.New("empty density map")
	}

	if count < 0 {
		count = float64(dm.Sum())
	}
	densityPerSqm := count / a.areaSqm

	cells := make([]float64, len(dm.Data))
	minDensity := float64(dm.Data[0])
	for i, v := range dm.Data {
		cells[i] = float64(v)
		if cells[i] < minDensity {
			minDensity = cells[i]
		}
	}

	s := &Stats{
		TotalCount:    count,
		DensityPerSqm: densityPerSqm,
		Level:         a.thresholds.Classify(densityPerSqm),
		MeanDensity:   stat.Mean(cells, nil),
		MaxDensity:    float64(dm.Max()),
		MinDensity:    minDensity,
		StdDensity:    stat.StdDev(cells, nil),
	}

	// Per-cell critical coverage: each cell is its own tiny area.
	cellArea := a.areaSqm / float64(len(dm.Data))
	critical := a.thresholds.CriticalLimit()
	var criticalCells int
	for _, c := range cells {
		if c/cellArea > critical {
			criticalCells++
		}
	}
	s.CriticalAreaPercentage = 100 * float64(criticalCells) / float64(len(cells))

	// Flow rate falls linearly with density, floored at 10% of the
	// free-flow rate of 1.5 people per meter per second.
	s.EstimatedFlowRate = 1.5 * math.Max(0.1, 1-densityPerSqm/5)

	if a.gridRows > 0 {
		zones, err := a.AnalyzeZones(dm, a.gridRows, a.gridCols)
		if err != nil {
			return nil, err
		}
		s.Zones = zones
		for _, z := range zones {
			if z.Hotspot {
				s.HotspotCount++
			}
		}
		s.HotspotPercentage = 100 * float64(s.HotspotCount) / float64(len(zones))
	}

	return s, nil
}

// AnalyzeZones divides the map into a rows x cols grid and analyzes
// each zone independently. Each zone's density uses its fractional
// share of the calibrated area, so zone classification is directly
// comparable to the global one.
func (a *Analyzer) AnalyzeZones(dm *models.DensityMap, rows, cols int) ([]Zone, error) {
	if dm == nil || len(dm.Data) == 0 {
		return nil, errors.New("empty density map")
	}
	if rows <= 0 || cols <= 0 {
		return nil, errors.Errorf("invalid zone grid %dx%d", rows, cols)
	}
	if rows > dm.Height || cols > dm.Width {
		return nil, errors.Errorf("zone grid %dx%d exceeds map %dx%d",
			rows, cols, dm.Width, dm.Height)
	}

	zoneArea := a.areaSqm / float64(rows*cols)
	critical := a.thresholds.CriticalLimit()

	zoneH := dm.Height / rows
	zoneW := dm.Width / cols

	zones := make([]Zone, 0, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			y1, y2 := i*zoneH, (i+1)*zoneH
			x1, x2 := j*zoneW, (j+1)*zoneW
			// Last row/column absorbs the remainder cells.
			if i == rows-1 {
				y2 = dm.Height
			}
			if j == cols-1 {
				x2 = dm.Width
			}

			count := float64(dm.RegionSum(x1, y1, x2, y2))
			density := count / zoneArea

			zones = append(zones, Zone{
				ID:            fmt.Sprintf("zone_%d_%d", i, j),
				Row:           i,
				Col:           j,
				Bounds:        ZoneBounds{X1: x1, Y1: y1, X2: x2, Y2: y2},
				Count:         count,
				DensityPerSqm: density,
				Level:         a.thresholds.Classify(density),
				Hotspot:       density > critical,
			})
		}
	}
	return zones, nil
}
