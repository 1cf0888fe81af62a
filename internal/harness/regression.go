package harness

import "fmt"

// Gate policy defaults. SpeedSigmas is how many standard deviations
// of headroom the speed check grants; MemoryHeadroom is the tolerated
// peak-memory growth factor.
const (
	DefaultSpeedSigmas    = 3.0
	DefaultMemoryHeadroom = 1.05
)

// Gate check dimensions, in evaluation order
const (
	DimSpeed  = "speed"
	DimMemory = "memory"
	DimLoss   = "loss"
)

// Gate compares a run summary against reference thresholds. The zero
// value is unusable; construct through NewGate and override fields to
// change policy.
type Gate struct {
	SpeedSigmas    float64
	MemoryHeadroom float64
}

func NewGate() Gate {
	return Gate{
		SpeedSigmas:    DefaultSpeedSigmas,
		MemoryHeadroom: DefaultMemoryHeadroom,
	}
}

// Check is the outcome of a single gate dimension
type Check struct {
	Dimension string
	Observed  float64
	Threshold float64
	Passed    bool
}

// Report carries the outcome of every dimension, pass or fail
type Report struct {
	Checks []Check
}

// Passed reports whether every dimension held
func (r Report) Passed() bool {
	for _, c := range r.Checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

// RegressionError names the first dimension that failed the gate
type RegressionError struct {
	Dimension string
	Observed  float64
	Threshold float64
}

func (e *RegressionError) Error() string {
	return fmt.Sprintf("%s regression detected: observed %.2f against threshold %.2f", e.Dimension, e.Observed, e.Threshold)
}

// Check runs the three one-sided checks. Speed must clear the
// reference even granting SpeedSigmas deviations of slack; peak
// memory must stay under the reference with headroom; the final cost
// must undercut the reference loss. The report always carries all
// three outcomes; the error names the first failure.
func (g Gate) Check(sum RunSummary, ref Thresholds) (Report, error) {
	checks := []Check{
		{
			Dimension: DimSpeed,
			Observed:  sum.Mean + g.SpeedSigmas*sum.SampleStd,
			Threshold: ref.Speed,
		},
		{
			Dimension: DimMemory,
			Observed:  sum.PeakMemoryMiB,
			Threshold: g.MemoryHeadroom * ref.MemoryMiB,
		},
		{
			Dimension: DimLoss,
			Observed:  sum.FinalCost,
			Threshold: ref.Loss,
		},
	}
	checks[0].Passed = checks[0].Observed > checks[0].Threshold
	checks[1].Passed = checks[1].Observed < checks[1].Threshold
	checks[2].Passed = checks[2].Observed < checks[2].Threshold

	report := Report{Checks: checks}
	for _, c := range checks {
		if !c.Passed {
			return report, &RegressionError{
				Dimension: c.Dimension,
				Observed:  c.Observed,
				Threshold: c.Threshold,
			}
		}
	}
	return report, nil
}
