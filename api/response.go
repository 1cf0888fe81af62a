package api

// Simple, non-streaming response types for benchmark results

// RunSummary aggregates the leader's measurements over a full run
type RunSummary struct {
	Mean        float64 `json:"mean"`
	SampleStd   float64 `json:"sample_std"`
	MaxRate     float64 `json:"max_rate"`
	MinRate     float64 `json:"min_rate"`
	OverallRate float64 `json:"overall_rate"`

	PeakMemoryMiB float64 `json:"peak_memory_mib"`
	FinalCost     float64 `json:"final_cost"`

	Epochs []EpochData `json:"epochs,omitempty"`
}

// GateCheck represents the outcome of a single regression-gate dimension
type GateCheck struct {
	Dimension string  `json:"dimension"`
	Observed  float64 `json:"observed"`
	Threshold float64 `json:"threshold"`
	Passed    bool    `json:"passed"`
}

type RunStatus string

const (
	Success       RunStatus = "success"
	Regression    RunStatus = "regression"
	LaunchError   RunStatus = "launch_error"
	InternalError RunStatus = "internal_error"
)

// RunResponse is a simple, complete response for one benchmark run
type RunResponse struct {
	RunUuid string `json:"run_uuid"`

	// Optimizer variant the run exercised
	Optim string `json:"optim,omitempty"`

	// Overall run status
	Status RunStatus `json:"status"`

	// Aggregated measurements (nil if the run failed before finishing)
	Summary *RunSummary `json:"summary,omitempty"`

	// Regression-gate checks (empty unless the gate ran)
	Checks []GateCheck `json:"checks,omitempty"`

	// Overall error message (for launch and internal errors)
	ErrorMessage *string `json:"error_message,omitempty"`

	// Run metadata
	StartTime   string `json:"start_time"`
	FinishTime  string `json:"finish_time"`
	TotalTimeMs int64  `json:"total_time_ms"`
}
