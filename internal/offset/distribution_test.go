package offset

import (
	"errors"
	"fmt"
	"math"
	"testing"
)

// TestAnalyzeDistribution_Evenness checks the statistical spread for a
// realistic population: 10k distinct identifiers over 300 bins. Mean per-bin
// count is ~33.3; no bin should be empty and no bin should carry more than
// 3x the mean.
func TestAnalyzeDistribution_Evenness(t *testing.T) {
	ids := make([]string, 10000)
	for i := range ids {
		ids[i] = fmt.Sprintf("patient-%08d", i)
	}

	d, err := AnalyzeDistribution(ids, 300)
	if err != nil {
		t.Fatalf("AnalyzeDistribution failed: %v", err)
	}

	if len(d.BinCounts) != 300 {
		t.Fatalf("len(BinCounts) = %d, want 300", len(d.BinCounts))
	}

	wantMean := 10000.0 / 300.0
	if math.Abs(d.Mean-wantMean) > 1e-9 {
		t.Errorf("Mean = %f, want %f", d.Mean, wantMean)
	}
	if d.Min == 0 {
		t.Errorf("found empty bin (Min = 0) for 10k identifiers over 300 bins")
	}
	if float64(d.Max) >= 3*d.Mean {
		t.Errorf("Max = %d, want < 3x mean (%f)", d.Max, 3*d.Mean)
	}

	ok, err := IsDistributionAcceptable(ids, 300, 0.5)
	if err != nil {
		t.Fatalf("IsDistributionAcceptable failed: %v", err)
	}
	if !ok {
		t.Errorf("CV = %f, expected acceptable at maxCV=0.5", d.CV())
	}
}

// TestAnalyzeDistribution_Stats verifies the summary statistics against the
// returned histogram rather than fixed hash values.
func TestAnalyzeDistribution_Stats(t *testing.T) {
	ids := make([]string, 500)
	for i := range ids {
		ids[i] = fmt.Sprintf("device-%04d", i)
	}

	d, err := AnalyzeDistribution(ids, 17)
	if err != nil {
		t.Fatalf("AnalyzeDistribution failed: %v", err)
	}

	total := 0
	min, max := d.BinCounts[0], d.BinCounts[0]
	for _, c := range d.BinCounts {
		total += c
		if c < min {
			min = c
		}
		if c > max {
			max = c
		}
	}
	if total != 500 {
		t.Errorf("histogram sums to %d, want 500", total)
	}
	if d.Min != min || d.Max != max {
		t.Errorf("Min/Max = %d/%d, want %d/%d", d.Min, d.Max, min, max)
	}

	mean := float64(total) / 17.0
	var sumSq float64
	for _, c := range d.BinCounts {
		diff := float64(c) - mean
		sumSq += diff * diff
	}
	variance := sumSq / 17.0

	if math.Abs(d.Mean-mean) > 1e-9 {
		t.Errorf("Mean = %f, want %f", d.Mean, mean)
	}
	if math.Abs(d.Variance-variance) > 1e-9 {
		t.Errorf("Variance = %f, want %f", d.Variance, variance)
	}
	if math.Abs(d.StdDev-math.Sqrt(variance)) > 1e-9 {
		t.Errorf("StdDev = %f, want %f", d.StdDev, math.Sqrt(variance))
	}
}

// TestAnalyzeDistribution_EmptyInput verifies the CV-of-zero guard: an empty
// population is trivially acceptable and the histogram is still dense.
func TestAnalyzeDistribution_EmptyInput(t *testing.T) {
	d, err := AnalyzeDistribution(nil, 10)
	if err != nil {
		t.Fatalf("AnalyzeDistribution(nil) failed: %v", err)
	}
	if len(d.BinCounts) != 10 {
		t.Errorf("len(BinCounts) = %d, want 10", len(d.BinCounts))
	}
	if d.Mean != 0 || d.StdDev != 0 {
		t.Errorf("Mean/StdDev = %f/%f, want 0/0", d.Mean, d.StdDev)
	}
	if d.CV() != 0 {
		t.Errorf("CV() = %f, want 0 for empty input", d.CV())
	}
	if d.EmptyBins() != 10 {
		t.Errorf("EmptyBins() = %d, want 10", d.EmptyBins())
	}

	ok, err := IsDistributionAcceptable(nil, 10, 0.1)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("empty input should be trivially acceptable")
	}
}

// TestAnalyzeDistribution_SingleBin: everything lands in bin 0, CV is 0.
func TestAnalyzeDistribution_SingleBin(t *testing.T) {
	ids := []string{"a", "b", "c"}

	d, err := AnalyzeDistribution(ids, 1)
	if err != nil {
		t.Fatal(err)
	}
	if d.BinCounts[0] != 3 {
		t.Errorf("BinCounts[0] = %d, want 3", d.BinCounts[0])
	}
	if d.CV() != 0 {
		t.Errorf("CV() = %f, want 0 with a single bin", d.CV())
	}
}

func TestAnalyzeDistribution_InvalidArguments(t *testing.T) {
	if _, err := AnalyzeDistribution([]string{"a"}, 0); !errors.Is(err, ErrInvalidBinCount) {
		t.Errorf("binCount=0 error = %v, want ErrInvalidBinCount", err)
	}
	if _, err := AnalyzeDistribution([]string{"a", " "}, 5); !errors.Is(err, ErrEmptyIdentifier) {
		t.Errorf("blank identifier error = %v, want ErrEmptyIdentifier", err)
	}
}
