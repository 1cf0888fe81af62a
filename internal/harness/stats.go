package harness

import (
	"fmt"
	"math"
)

// Stats summarizes a set of per-epoch rates
type Stats struct {
	Mean      float64
	SampleStd float64
}

// RunSummary is one worker's aggregate over a finished run. Only the
// leader's copy feeds the regression gate.
type RunSummary struct {
	Stats
	OverallRate   float64
	PeakMemoryMiB float64
	FinalCost     float64
}

// InsufficientSamplesError is returned when a summary is requested
// over fewer than two samples. The sample standard deviation needs
// n-1 in the denominator, so it surfaces as a typed error instead of
// a NaN.
type InsufficientSamplesError struct {
	Count int
}

func (e *InsufficientSamplesError) Error() string {
	return fmt.Sprintf("need at least 2 samples to summarize, got %d", e.Count)
}

// Summarize computes the mean and the sample standard deviation
// (n-1 denominator) of the rates.
func Summarize(rates []float64) (Stats, error) {
	n := len(rates)
	if n < 2 {
		return Stats{}, &InsufficientSamplesError{Count: n}
	}
	sum := 0.0
	for _, r := range rates {
		sum += r
	}
	mean := sum / float64(n)

	ss := 0.0
	for _, r := range rates {
		d := r - mean
		ss += d * d
	}
	return Stats{
		Mean:      mean,
		SampleStd: math.Sqrt(ss / float64(n-1)),
	}, nil
}
