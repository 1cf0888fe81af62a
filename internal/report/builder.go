package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shardbench/harness/api"
)

// Builder gathers run events and builds a complete api.RunResponse,
// the machine-readable counterpart of the terminal stream. The leader
// rank feeds it alongside the other reporters and writes the response
// out once the run is over.
type Builder struct {
	runUuid string
	optim   string

	started  time.Time
	finished *time.Time

	summary *api.RunSummary
	checks  []api.GateCheck

	status       api.RunStatus
	errorMessage *string
}

func NewBuilder(runUuid string) *Builder {
	return &Builder{
		runUuid: runUuid,
		started: time.Now(),
		status:  api.Success,
	}
}

// StartRun implements Reporter.
func (b *Builder) StartRun(optim string, worldSize, epochs, batchSize, dataSize int) {
	b.optim = optim
}

// EpochEnd implements Reporter. Per-epoch data arrives again inside
// the finish summary, so nothing is kept here.
func (b *Builder) EpochEnd(epoch int, rate, cost float64) {}

// StateCollected implements Reporter.
func (b *Builder) StateCollected(epoch, stateElems int) {}

// FinishRun implements Reporter.
func (b *Builder) FinishRun(summary *api.RunSummary) {
	now := time.Now()
	b.finished = &now
	b.summary = summary
}

// InternalError implements Reporter.
func (b *Builder) InternalError(msg string) {
	now := time.Now()
	b.finished = &now
	b.status = api.InternalError
	b.errorMessage = &msg
}

// Verdict implements Reporter.
func (b *Builder) Verdict(pass bool, checks []api.GateCheck) {
	b.checks = checks
	if !pass {
		b.status = api.Regression
	}
}

// Response builds the api.RunResponse from gathered data.
func (b *Builder) Response() api.RunResponse {
	start := b.started.Format(time.RFC3339)
	finish := start
	total := int64(0)
	if b.finished != nil {
		finish = b.finished.Format(time.RFC3339)
		total = b.finished.Sub(b.started).Milliseconds()
	}
	return api.RunResponse{
		RunUuid: b.runUuid,
		Optim:   b.optim,
		Status:  b.status,
		Summary: b.summary,
		Checks:  b.checks,
		ErrorMessage: func() *string {
			if b.errorMessage == nil {
				return nil
			}
			v := *b.errorMessage
			return &v
		}(),
		StartTime:   start,
		FinishTime:  finish,
		TotalTimeMs: total,
	}
}

// WriteResponse writes the response into dir as <run uuid>.json and
// returns the path.
func WriteResponse(dir string, resp api.RunResponse) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create response dir: %w", err)
	}
	raw, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal run response: %w", err)
	}
	path := filepath.Join(dir, resp.RunUuid+".json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("failed to write run response: %w", err)
	}
	return path, nil
}
