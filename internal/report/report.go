package report

import "github.com/shardbench/harness/api"

// Reporter receives the leader rank's run events. Implementations
// stream them to a terminal, a queue, or nowhere; workers call the
// methods fire-and-forget and never block the training loop on a
// slow sink.
type Reporter interface {
	StartRun(optim string, worldSize, epochs, batchSize, dataSize int)

	EpochEnd(epoch int, rate, cost float64)
	StateCollected(epoch, stateElems int)

	FinishRun(summary *api.RunSummary)
	InternalError(msg string)

	Verdict(pass bool, checks []api.GateCheck)
}

// Multi fans every event out to each reporter in order
type Multi struct {
	reporters []Reporter
}

func NewMulti(reporters ...Reporter) *Multi {
	return &Multi{reporters: reporters}
}

func (m *Multi) StartRun(optim string, worldSize, epochs, batchSize, dataSize int) {
	for _, r := range m.reporters {
		r.StartRun(optim, worldSize, epochs, batchSize, dataSize)
	}
}

func (m *Multi) EpochEnd(epoch int, rate, cost float64) {
	for _, r := range m.reporters {
		r.EpochEnd(epoch, rate, cost)
	}
}

func (m *Multi) StateCollected(epoch, stateElems int) {
	for _, r := range m.reporters {
		r.StateCollected(epoch, stateElems)
	}
}

func (m *Multi) FinishRun(summary *api.RunSummary) {
	for _, r := range m.reporters {
		r.FinishRun(summary)
	}
}

func (m *Multi) InternalError(msg string) {
	for _, r := range m.reporters {
		r.InternalError(msg)
	}
}

func (m *Multi) Verdict(pass bool, checks []api.GateCheck) {
	for _, r := range m.reporters {
		r.Verdict(pass, checks)
	}
}

// Nop swallows every event. Non-leader ranks report into it.
type Nop struct{}

func NewNop() Nop { return Nop{} }

func (Nop) StartRun(string, int, int, int, int) {}
func (Nop) EpochEnd(int, float64, float64)      {}
func (Nop) StateCollected(int, int)             {}
func (Nop) FinishRun(*api.RunSummary)           {}
func (Nop) InternalError(string)                {}
func (Nop) Verdict(bool, []api.GateCheck)       {}
