package similarity

import (
	"fmt"
	"math"
)

const (
	DefaultMinThreshold = 0.3
	DefaultMaxThreshold = 0.7

	// Output bands of the non-linear remap, in [0,1] before the final [-1,1] shift.
	differentCeiling = 0.1
	similarFloor     = 0.6
)

// Thresholds partition the calibrated remap into "different", "ambiguous" and
// "similar" bands.
type Thresholds struct {
	Min float64
	Max float64
}

// DefaultThresholds returns the 0.3 / 0.7 cut points.
func DefaultThresholds() Thresholds {
	return Thresholds{Min: DefaultMinThreshold, Max: DefaultMaxThreshold}
}

// Validate enforces 0 <= Min < Max <= 1.
func (t Thresholds) Validate() error {
	if math.IsNaN(t.Min) || math.IsNaN(t.Max) || t.Min < 0 || t.Max > 1 || t.Min >= t.Max {
		return fmt.Errorf("%w: thresholds must satisfy 0 <= min < max <= 1, got min=%v max=%v", ErrInvalidParameter, t.Min, t.Max)
	}
	return nil
}

// Calibrate stretches a similarity statistic so that clearly different inputs land
// near 0-10%, clearly similar ones at 60% and above, and the rest in between.
// Higher sensitivity lowers both cut points' leniency: the "different" band grows
// and the bar for "similar" rises. The return value is in [-1,1]. With useNonlinear
// false, raw is returned unchanged.
func Calibrate(raw, sensitivity, minThreshold, maxThreshold float64, useNonlinear bool) float64 {
	if !useNonlinear {
		return raw
	}

	adjMin := clamp(minThreshold/sensitivity, 0.0, 0.5)
	adjMax := clamp(maxThreshold*sensitivity, 0.5, 1.0)

	// Statistics native to [-1,1] (SSIM) arrive negative; cosine and hybrid scores
	// are already in [0,1].
	v := clamp(raw, 0, 1)
	if raw < 0 {
		v = (raw + 1) / 2
	}

	var scaled float64
	switch {
	case v < adjMin:
		if adjMin > 0 {
			scaled = v * (differentCeiling / adjMin)
		}
	case v > adjMax:
		scaled = similarFloor
		if adjMax < 1 {
			scaled += (v - adjMax) * ((1 - similarFloor) / (1 - adjMax))
		}
	default:
		scaled = differentCeiling
		if adjMax > adjMin {
			scaled += (v - adjMin) * ((similarFloor - differentCeiling) / (adjMax - adjMin))
		}
	}

	return scaled*2 - 1
}

// LegacyAdjust is the calibration used before the non-linear remap existed: for
// sensitivity >= 2 the score is divided by it, otherwise raised to 1/sensitivity.
// Sensitivity 1 and non-positive scores pass through. The result is in [0,1]
// for inputs in [0,1].
func LegacyAdjust(combined, sensitivity float64) float64 {
	if sensitivity == 1.0 || combined <= 0 {
		return combined
	}
	if sensitivity >= 2.0 {
		return combined / sensitivity
	}
	return math.Pow(combined, 1.0/sensitivity)
}
