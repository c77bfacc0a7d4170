package analysis

import (
	"fmt"
	"math"
	"strings"

	"github.com/crowd-ai/go-density/inference"
)

// Assessment is a human-oriented safety readout derived from Stats.
type Assessment struct {
	// OverallStatus is SAFE, WARNING or CRITICAL.
	OverallStatus string `json:"overall_status"`
	// RiskLevel scores risk 0-100.
	RiskLevel       int      `json:"risk_level"`
	Alerts          []string `json:"alerts"`
	Recommendations []string `json:"recommendations"`
}

// Assess derives a safety assessment from analysis statistics.
func Assess(s *Stats) Assessment {
	a := Assessment{OverallStatus: "SAFE"}

	a.RiskLevel = int(math.Round(math.Min(100, s.DensityPerSqm/5*100)))

	switch s.Level {
	case inference.LevelCritical:
		a.OverallStatus = "CRITICAL"
		a.Alerts = append(a.Alerts, "Crowd density exceeds safe limits")
		a.Recommendations = append(a.Recommendations,
			"Initiate crowd control measures",
			"Open additional exit points")
	case inference.LevelHigh:
		a.OverallStatus = "WARNING"
		a.Alerts = append(a.Alerts, "High crowd density detected")
		a.Recommendations = append(a.Recommendations,
			"Monitor situation closely",
			"Prepare crowd control personnel")
	}

	if s.HotspotPercentage > 10 {
		a.Alerts = append(a.Alerts,
			fmt.Sprintf("Hotspots detected in %d zones", s.HotspotCount))
		a.Recommendations = append(a.Recommendations, "Disperse crowd from hotspot areas")
	}
	if s.CriticalAreaPercentage > 5 {
		a.Alerts = append(a.Alerts,
			fmt.Sprintf("%.1f%% of area at critical density", s.CriticalAreaPercentage))
	}

	return a
}

// Narrative renders a one-paragraph summary suitable for API responses
// and dashboards.
func Narrative(s *Stats) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Estimated %.0f people at %.2f per square meter (%s).",
		s.TotalCount, s.DensityPerSqm, levelPhrase(s.Level))

	if s.HotspotCount > 0 {
		fmt.Fprintf(&b, " %d zone(s) exceed the critical density threshold.", s.HotspotCount)
	}
	if s.CriticalAreaPercentage > 0 {
		fmt.Fprintf(&b, " %.1f%% of the covered area is at critical density.",
			s.CriticalAreaPercentage)
	}

	switch s.Level {
	case inference.LevelCritical:
		b.WriteString(" Immediate crowd control is recommended.")
	case inference.LevelHigh:
		b.WriteString(" Close monitoring is recommended.")
	}

	return b.String()
}

func levelPhrase(l inference.Level) string {
	switch l {
	case inference.LevelFreeFlow:
		return "free flow, unrestricted movement"
	case inference.LevelLow:
		return "comfortable walking space"
	case inference.LevelMedium:
		return "normal crowd density"
	case inference.LevelHigh:
		return "dense crowd, limited movement"
	case inference.LevelCritical:
		return "critical density, safety risk"
	default:
		return "unknown density"
	}
}
