package estimator

import (
	"fmt"
	"math"
	"strings"
)

// Statistic selects how residuals are aggregated and pruned.
type Statistic int

const (
	// Mean uses the arithmetic mean as error metric and sigma-clips at
	// mean + retention*stddev.
	Mean Statistic = iota
	// Median uses the upper median as error metric and keeps the
	// floor(retention*n) smallest residuals.
	Median
	// Percentile uses the residual at sorted index floor(retention*n) as
	// error metric and keeps residuals at or below it.
	Percentile
)

// String returns the lower-case name used in configuration files.
func (s Statistic) String() string {
	switch s {
	case Mean:
		return "mean"
	case Median:
		return "median"
	case Percentile:
		return "percentile"
	default:
		return fmt.Sprintf("statistic(%d)", int(s))
	}
}

// ParseStatistic parses "mean", "median" or "percentile" (case-insensitive).
func ParseStatistic(name string) (Statistic, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mean":
		return Mean, nil
	case "median":
		return Median, nil
	case "percentile":
		return Percentile, nil
	default:
		return 0, fmt.Errorf("%w: unknown statistic %q", ErrInvalidConfig, name)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Statistic) MarshalText() ([]byte, error) {
	switch s {
	case Mean, Median, Percentile:
		return []byte(s.String()), nil
	default:
		return nil, fmt.Errorf("%w: unknown statistic %d", ErrInvalidConfig, int(s))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler, so the YAML and JSON
// decoders accept the statistic by name.
func (s *Statistic) UnmarshalText(text []byte) error {
	parsed, err := ParseStatistic(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ValidateRetention checks that retention is meaningful for the statistic:
// a finite non-negative sigma multiplier for Mean, a fraction in (0, 1]
// otherwise.
func (s Statistic) ValidateRetention(retention float64) error {
	if math.IsNaN(retention) || math.IsInf(retention, 0) {
		return fmt.Errorf("%w: retention must be finite, got %v", ErrInvalidConfig, retention)
	}
	switch s {
	case Mean:
		if retention < 0 {
			return fmt.Errorf("%w: mean retention is a sigma multiplier and must be >= 0, got %v", ErrInvalidConfig, retention)
		}
	case Median, Percentile:
		if retention <= 0 || retention > 1 {
			return fmt.Errorf("%w: %s retention must be in (0, 1], got %v", ErrInvalidConfig, s, retention)
		}
	default:
		return fmt.Errorf("%w: unknown statistic %d", ErrInvalidConfig, int(s))
	}
	return nil
}

// DefaultRetention is a reasonable retention for s: one sigma for Mean, 90%
// for Median and Percentile.
func DefaultRetention(s Statistic) float64 {
	if s == Mean {
		return 1.0
	}
	return 0.9
}
