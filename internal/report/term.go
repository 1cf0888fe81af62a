package report

import (
	"fmt"
	"time"

	"github.com/fatih/color"

	"github.com/shardbench/harness/api"
)

// Term prints the leader's run events to the terminal in the shape a
// human watches during a benchmark.
type Term struct {
	StartedAt time.Time
}

func NewTerm() *Term { return &Term{StartedAt: time.Now()} }

func (t *Term) StartRun(optim string, worldSize, epochs, batchSize, dataSize int) {
	bold := color.New(color.Bold)
	bold.Printf("== Benchmark %s ==\n", optim)
	fmt.Printf("world %d | %d epochs | batch %d | %d samples\n", worldSize, epochs, batchSize, dataSize)
}

func (t *Term) EpochEnd(epoch int, rate, cost float64) {
	fmt.Printf("Epoch %d - processed %.2f items per sec. Loss %.4f\n", epoch, rate, cost)
}

func (t *Term) StateCollected(epoch, stateElems int) {
	fmt.Printf("... optimizer state collected (%d scalars)\n", stateElems)
}

func (t *Term) FinishRun(summary *api.RunSummary) {
	dur := time.Since(t.StartedAt).Round(time.Millisecond)
	fmt.Printf("Training done in %s. %.2f items per sec overall\n", dur, summary.OverallRate)
	fmt.Printf("Peak memory %.1fMiB\n", summary.PeakMemoryMiB)
	fmt.Printf("Mean speed: %.2f +/- %.2f\n", summary.Mean, summary.SampleStd)
}

func (t *Term) InternalError(msg string) {
	color.Red("== Internal error: %s ==", msg)
}

func (t *Term) Verdict(pass bool, checks []api.GateCheck) {
	if pass {
		color.Green("[Regression Test] VALID")
		return
	}
	for _, c := range checks {
		if c.Passed {
			continue
		}
		color.Red("[Regression Test] %s regression: observed %.2f against threshold %.2f", c.Dimension, c.Observed, c.Threshold)
	}
}
