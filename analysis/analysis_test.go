package analysis

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crowd-ai/go-density/inference"
	"github.com/crowd-ai/go-density/models"
)

// gridMap builds a width x height map with every cell set to fill,
// then applies overrides keyed by cell index.
func gridMap(width, height int, fill float32, overrides map[int]float32) *models.DensityMap {
	dm := &models.DensityMap{
		Data:   make([]float32, width*height),
		Width:  width,
		Height: height,
	}
	for i := range dm.Data {
		dm.Data[i] = fill
	}
	for i, v := range overrides {
		dm.Data[i] = v
	}
	return dm
}

func TestNewValidatesInput(t *testing.T) {
	_, err := New(0, nil, 3, 3)
	assert.Error(t, err)

	_, err = New(100, nil, 3, 0)
	assert.Error(t, err)

	_, err = New(100, inference.Thresholds{
		{Level: inference.LevelMedium, Limit: 2},
		{Level: inference.LevelLow, Limit: 1},
	}, 3, 3)
	assert.Error(t, err)

	a, err := New(100, nil, 0, 0)
	require.NoError(t, err)
	assert.NotNil(t, a)
}

func TestAnalyzeBasicStats(t *testing.T) {
	a, err := New(100, nil, 0, 0)
	require.NoError(t, err)

	dm := gridMap(4, 4, 1.0, nil) // 16 cells of 1.0, total 16
	s, err := a.Analyze(dm, -1)
	require.NoError(t, err)

	assert.InDelta(t, 16.0, s.TotalCount, 1e-6)
	assert.InDelta(t, 0.16, s.DensityPerSqm, 1e-6)
	assert.Equal(t, inference.LevelFreeFlow, s.Level)
	assert.InDelta(t, 1.0, s.MeanDensity, 1e-6)
	assert.InDelta(t, 1.0, s.MaxDensity, 1e-6)
	assert.InDelta(t, 1.0, s.MinDensity, 1e-6)
	assert.InDelta(t, 0.0, s.StdDensity, 1e-6)
	assert.Empty(t, s.Zones)
}

func TestAnalyzeUsesProvidedCount(t *testing.T) {
	a, err := New(10, nil, 0, 0)
	require.NoError(t, err)

	dm := gridMap(4, 4, 0.1, nil)
	s, err := a.Analyze(dm, 60)
	require.NoError(t, err)

	assert.InDelta(t, 60.0, s.TotalCount, 1e-6)
	assert.InDelta(t, 6.0, s.DensityPerSqm, 1e-6)
	assert.Equal(t, inference.LevelCritical, s.Level)
}

func TestAnalyzeZones(t *testing.T) {
	a, err := New(90, nil, 0, 0)
	require.NoError(t, err)

	// 6x6 map, one concentrated corner: the top-left 2x2 zone holds
	// everything.
	overrides := map[int]float32{}
	for _, i := range []int{0, 1, 6, 7} {
		overrides[i] = 25
	}
	dm := gridMap(6, 6, 0, overrides)

	zones, err := a.AnalyzeZones(dm, 3, 3)
	require.NoError(t, err)
	require.Len(t, zones, 9)

	// Zone area is 10 sqm each; the loaded zone holds 100 people.
	assert.Equal(t, "zone_0_0", zones[0].ID)
	assert.InDelta(t, 100.0, zones[0].Count, 1e-6)
	assert.InDelta(t, 10.0, zones[0].DensityPerSqm, 1e-6)
	assert.Equal(t, inference.LevelCritical, zones[0].Level)
	assert.True(t, zones[0].Hotspot)

	for _, z := range zones[1:] {
		assert.Zero(t, z.Count, "zone %s", z.ID)
		assert.False(t, z.Hotspot, "zone %s", z.ID)
	}

	// Zone counts sum to the map total.
	var sum float64
	for _, z := range zones {
		sum += z.Count
	}
	assert.InDelta(t, float64(dm.Sum()), sum, 1e-4)
}

func TestAnalyzeZonesRemainderCells(t *testing.T) {
	a, err := New(100, nil, 0, 0)
	require.NoError(t, err)

	// 7x7 does not divide by 3; the last row and column absorb the
	// remainder so every cell is counted exactly once.
	dm := gridMap(7, 7, 1, nil)
	zones, err := a.AnalyzeZones(dm, 3, 3)
	require.NoError(t, err)

	var sum float64
	for _, z := range zones {
		sum += z.Count
	}
	assert.InDelta(t, 49.0, sum, 1e-6)

	last := zones[len(zones)-1]
	assert.Equal(t, 7, last.Bounds.X2)
	assert.Equal(t, 7, last.Bounds.Y2)
}

func TestAnalyzeZonesErrors(t *testing.T) {
	a, err := New(100, nil, 0, 0)
	require.NoError(t, err)

	dm := gridMap(4, 4, 1, nil)

	_, err = a.AnalyzeZones(dm, 0, 3)
	assert.Error(t, err)

	_, err = a.AnalyzeZones(dm, 5, 5)
	assert.Error(t, err)

	_, err = a.AnalyzeZones(nil, 3, 3)
	assert.Error(t, err)
}

func TestAnalyzeWithGridCountsHotspots(t *testing.T) {
	a, err := New(90, nil, 3, 3)
	require.NoError(t, err)

	overrides := map[int]float32{}
	for _, i := range []int{0, 1, 6, 7} {
		overrides[i] = 25
	}
	dm := gridMap(6, 6, 0, overrides)

	s, err := a.Analyze(dm, -1)
	require.NoError(t, err)

	assert.Equal(t, 1, s.HotspotCount)
	assert.InDelta(t, 100.0/9.0, s.HotspotPercentage, 1e-6)
	assert.Len(t, s.Zones, 9)
	assert.Positive(t, s.CriticalAreaPercentage)
}

func TestAssess(t *testing.T) {
	safe := &Stats{Level: inference.LevelLow, DensityPerSqm: 0.4}
	a := Assess(safe)
	assert.Equal(t, "SAFE", a.OverallStatus)
	assert.Empty(t, a.Alerts)
	assert.Equal(t, 8, a.RiskLevel)

	critical := &Stats{
		Level:                  inference.LevelCritical,
		DensityPerSqm:          6,
		HotspotCount:           2,
		HotspotPercentage:      22,
		CriticalAreaPercentage: 12,
	}
	a = Assess(critical)
	assert.Equal(t, "CRITICAL", a.OverallStatus)
	assert.Equal(t, 100, a.RiskLevel)
	assert.NotEmpty(t, a.Alerts)
	assert.NotEmpty(t, a.Recommendations)
}

func TestNarrative(t *testing.T) {
	s := &Stats{
		TotalCount:    75,
		DensityPerSqm: 0.75,
		Level:         inference.LevelMedium,
	}
	text := Narrative(s)
	assert.True(t, strings.Contains(text, "75 people"))
	assert.True(t, strings.Contains(text, "normal crowd density"))

	s.Level = inference.LevelCritical
	s.HotspotCount = 3
	text = Narrative(s)
	assert.True(t, strings.Contains(text, "crowd control"))
	assert.True(t, strings.Contains(text, "3 zone(s)"))
}
