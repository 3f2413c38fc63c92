package offset

import "math"

// Distribution describes how a set of identifiers spreads across bins.
// BinCounts is dense: len(BinCounts) == binCount, empty bins included.
type Distribution struct {
	BinCounts []int
	Min       int
	Max       int
	Mean      float64
	StdDev    float64
	Variance  float64
}

// CV returns the coefficient of variation (StdDev/Mean), the dimensionless
// spread metric used to judge evenness. Defined as 0 when Mean is 0 so an
// empty population is trivially even.
func (d Distribution) CV() float64 {
	if d.Mean == 0 {
		return 0
	}
	return d.StdDev / d.Mean
}

// EmptyBins returns the number of bins with no identifiers.
func (d Distribution) EmptyBins() int {
	n := 0
	for _, c := range d.BinCounts {
		if c == 0 {
			n++
		}
	}
	return n
}

// AnalyzeDistribution hashes every identifier and returns the full per-bin
// histogram plus summary statistics over bin populations. StdDev is the
// population standard deviation: sqrt(mean((count_i - mean)^2)).
func AnalyzeDistribution(identifiers []string, binCount int) (Distribution, error) {
	if binCount <= 0 {
		return Distribution{}, ErrInvalidBinCount
	}

	// Dense accumulation array; no map resizing, and the histogram is fully
	// populated regardless of data.
	counts := make([]int, binCount)
	for _, id := range identifiers {
		off, err := ComputeOffset(id, binCount)
		if err != nil {
			return Distribution{}, err
		}
		counts[off]++
	}

	return FromCounts(counts), nil
}

// FromCounts computes distribution statistics over an existing dense
// histogram, such as the per-bin counts a generation pass already produced.
func FromCounts(counts []int) Distribution {
	d := Distribution{BinCounts: counts}
	if len(counts) == 0 {
		return d
	}

	d.Min = counts[0]
	d.Max = counts[0]
	total := 0
	for _, c := range counts {
		if c < d.Min {
			d.Min = c
		}
		if c > d.Max {
			d.Max = c
		}
		total += c
	}
	d.Mean = float64(total) / float64(len(counts))

	var sumSq float64
	for _, c := range counts {
		diff := float64(c) - d.Mean
		sumSq += diff * diff
	}
	d.Variance = sumSq / float64(len(counts))
	d.StdDev = math.Sqrt(d.Variance)

	return d
}

// IsDistributionAcceptable reports whether the identifiers spread across
// binCount bins with a coefficient of variation no greater than maxCV.
func IsDistributionAcceptable(identifiers []string, binCount int, maxCV float64) (bool, error) {
	d, err := AnalyzeDistribution(identifiers, binCount)
	if err != nil {
		return false, err
	}
	return d.CV() <= maxCV, nil
}
