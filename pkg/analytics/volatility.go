package analytics

import "math"

// CoefficientOfVariation returns sample-stddev / mean. Fewer than two
// points or a zero mean yields 0, so a flat or sparse history reads as
// perfectly stable rather than NaN.
func CoefficientOfVariation(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}

	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	if mean == 0 {
		return 0
	}

	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values) - 1)

	return math.Sqrt(variance) / mean
}

// WindowedVolatility computes the coefficient of variation over the last
// windowDays entries of a daily series ordered oldest first.
func WindowedVolatility(dailyValues []float64, windowDays int) float64 {
	if windowDays <= 0 {
		return 0
	}
	if len(dailyValues) > windowDays {
		dailyValues = dailyValues[len(dailyValues)-windowDays:]
	}
	return CoefficientOfVariation(dailyValues)
}
