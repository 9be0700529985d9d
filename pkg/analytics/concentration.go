package analytics

import "sort"

// HhiBips is the Herfindahl-Hirschman index of the share distribution on a
// 0-10000 basis-point scale: 10000 * sum(p_i^2). A single holder scores
// exactly 10000; an empty or zero distribution scores 0.
func HhiBips(shares []float64) float64 {
	total := 0.0
	for _, s := range shares {
		if s > 0 {
			total += s
		}
	}
	if total <= 0 {
		return 0
	}

	sumSquares := 0.0
	for _, s := range shares {
		if s <= 0 {
			continue
		}
		p := s / total
		sumSquares += p * p
	}
	return 10000 * sumSquares
}

// Gini computes the Gini coefficient over ascending-sorted values using the
// cumulative-area formula 2*sum(i*x_i)/(n*sum(x)) - (n+1)/n. Fewer than two
// holders yields 0.
func Gini(shares []float64) float64 {
	values := make([]float64, 0, len(shares))
	for _, s := range shares {
		if s >= 0 {
			values = append(values, s)
		}
	}
	if len(values) < 2 {
		return 0
	}

	sort.Float64s(values)
	n := float64(len(values))

	total := 0.0
	weighted := 0.0
	for i, v := range values {
		total += v
		weighted += float64(i+1) * v
	}
	if total <= 0 {
		return 0
	}
	return (2*weighted)/(n*total) - (n+1)/n
}

// TopNShare returns the fraction (0-1) of the total held by the n largest
// holders.
func TopNShare(shares []float64, n int) float64 {
	if n <= 0 {
		return 0
	}
	values := make([]float64, 0, len(shares))
	total := 0.0
	for _, s := range shares {
		if s > 0 {
			values = append(values, s)
			total += s
		}
	}
	if total <= 0 {
		return 0
	}

	sort.Sort(sort.Reverse(sort.Float64Slice(values)))
	if n > len(values) {
		n = len(values)
	}
	top := 0.0
	for i := 0; i < n; i++ {
		top += values[i]
	}
	return top / total
}

// EffectiveHolderCount is the inverse Herfindahl index: the number of
// equal-sized holders that would produce the same concentration.
func EffectiveHolderCount(shares []float64) float64 {
	hhi := HhiBips(shares)
	if hhi <= 0 {
		return 0
	}
	return 10000 / hhi
}
