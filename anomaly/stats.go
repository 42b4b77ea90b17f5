package anomaly

import (
	"math"
	"sort"
)

// MADScale converts a median absolute deviation into a standard deviation
// for normally distributed data.
const MADScale = 1.4826

// Median returns the median of values, or 0 for no values.
// values is not modified.
func Median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// MAD returns the median absolute deviation of values around center.
func MAD(values []float64, center float64) float64 {
	deviations := make([]float64, len(values))
	for i, v := range values {
		deviations[i] = math.Abs(v - center)
	}
	return Median(deviations)
}

// RobustSigma returns MAD*MADScale, floored at minSigma.
func RobustSigma(values []float64, center, minSigma float64) float64 {
	return math.Max(MAD(values, center)*MADScale, minSigma)
}
