package inference

import (
	"math"

	"github.com/pkg/errors"
)

// Level is the crowd density classification, ordered from least to most
// congested.
type Level int

const (
	// LevelFreeFlow means unhindered movement.
	LevelFreeFlow Level = iota
	// LevelLow means a comfortable crowd.
	LevelLow
	// LevelMedium means a normal, noticeable crowd.
	LevelMedium
	// LevelHigh means a dense crowd with limited movement.
	LevelHigh
	// LevelCritical means a crush-risk density requiring intervention.
	LevelCritical
)

// String implements fmt.Stringer.
func (l Level) String() string {
	switch l {
	case LevelFreeFlow:
		return "FREE_FLOW"
	case LevelLow:
		return "LOW"
	case LevelMedium:
		return "MEDIUM"
	case LevelHigh:
		return "HIGH"
	case LevelCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler so levels serialize as
// their names in JSON.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Threshold is one breakpoint of the classification table: densities
// strictly below Limit (people per square meter) classify as Level,
// unless a lower breakpoint already claimed them.
type Threshold struct {
	Level Level   `json:"level"`
	Limit float64 `json:"limit"`
}

// Thresholds is an ascending classification table. A density is assigned
// the level of the first breakpoint it does not reach; a density beyond
// every breakpoint gets the table's highest level.
type Thresholds []Threshold

// DefaultThresholds follows the crowd safety bands commonly used for
// pedestrian areas, in people per square meter.
func DefaultThresholds() Thresholds {
	return Thresholds{
		{Level: LevelFreeFlow, Limit: 0.3},
		{Level: LevelLow, Limit: 0.5},
		{Level: LevelMedium, Limit: 1.5},
		{Level: LevelHigh, Limit: 3.0},
		{Level: LevelCritical, Limit: math.Inf(1)},
	}
}

// Validate rejects empty, unordered or duplicated tables. Limits and
// levels must both be strictly ascending.
func (t Thresholds) Validate() error {
	if len(t) == 0 {
		return errors.Wrap(ErrConfig, "threshold table is empty")
	}
	for i := 1; i < len(t); i++ {
		if t[i].Limit <= t[i-1].Limit {
			return errors.Wrapf(ErrConfig,
				"threshold limits not strictly ascending at %s (%v <= %v)",
				t[i].Level, t[i].Limit, t[i-1].Limit)
		}
		if t[i].Level <= t[i-1].Level {
			return errors.Wrapf(ErrConfig,
				"threshold levels not strictly ascending at %s", t[i].Level)
		}
	}
	for _, b := range t {
		if b.Limit <= 0 {
			return errors.Wrapf(ErrConfig, "threshold %s has non-positive limit %v", b.Level, b.Limit)
		}
	}
	return nil
}

// Classify maps a density to its level by scanning breakpoints from the
// lowest upward.
func (t Thresholds) Classify(densityPerSqm float64) Level {
	for _, b := range t {
		if densityPerSqm < b.Limit {
			return b.Level
		}
	}
	return t[len(t)-1].Level
}

// CriticalLimit returns the breakpoint above which density counts as the
// table's highest band. The analyzer uses it for hotspot detection.
func (t Thresholds) CriticalLimit() float64 {
	if len(t) < 2 {
		return t[len(t)-1].Limit
	}
	// The highest band starts where the second-highest ends.
	return t[len(t)-2].Limit
}
