package scenario

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"

	"github.com/shardbench/harness/internal/group"
	"github.com/shardbench/harness/internal/harness"
)

// Expected outcomes a scenario entry may declare
const (
	ExpectPass = "pass"
	ExpectFail = "fail"
)

// SpecReference names a registered baseline by id, or provides the
// thresholds inline
type SpecReference struct {
	RefID     string  `toml:"ref_id"`
	Speed     float64 `toml:"speed"`
	MemoryMiB float64 `toml:"memory_mib"`
	Loss      float64 `toml:"loss"`
}

// SpecRun represents a run block inside a scenario entry
type SpecRun struct {
	Optim           string        `toml:"optim"`
	WorldSize       int           `toml:"world_size"`
	Epochs          int           `toml:"epochs"`
	BatchSize       int           `toml:"batch_size"`
	DataSize        int           `toml:"data_size"`
	CheckRegression bool          `toml:"check_regression"`
	Reference       SpecReference `toml:"reference"`
	Rendezvous      string        `toml:"rendezvous"`
	JoinTimeoutMs   int64         `toml:"join_timeout_ms"`
	Seed            int64         `toml:"seed"`
	SnapshotDir     string        `toml:"snapshot_dir"`
	ResponseDir     string        `toml:"response_dir"`
}

// SpecExpect describes the expected overall outcome
type SpecExpect struct {
	Status string `toml:"status"`
}

// specSuite maps to [[scenarios]] entries. The run is written as an
// array-of-table in the example, so we model it as a slice and use the
// first element.
type specSuite struct {
	Description string     `toml:"description"`
	RunAOT      []SpecRun  `toml:"run"`
	Expect      SpecExpect `toml:"expect"`
}

type specRoot struct {
	Suites []specSuite `toml:"scenarios"`
	// Optional registry of baselines available for reference via ref_id
	References []struct {
		ID        string  `toml:"id"`
		Speed     float64 `toml:"speed"`
		MemoryMiB float64 `toml:"memory_mib"`
		Loss      float64 `toml:"loss"`
	} `toml:"references"`
}

// Case is a runnable benchmark converted from TOML
type Case struct {
	Name   string
	Config harness.RunConfig
	Expect SpecExpect
}

// Parse reads a scenario TOML file and converts it to runnable cases
// using harness.RunConfig
func Parse(path string) ([]Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	var root specRoot
	if err := toml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}

	// Build baseline registry if provided
	refByID := make(map[string]harness.Thresholds)
	for _, r := range root.References {
		if r.ID == "" {
			continue
		}
		refByID[r.ID] = harness.Thresholds{
			Speed:     r.Speed,
			MemoryMiB: r.MemoryMiB,
			Loss:      r.Loss,
		}
	}

	cases := make([]Case, 0, len(root.Suites))
	for _, suite := range root.Suites {
		if len(suite.RunAOT) == 0 {
			return nil, fmt.Errorf("scenario entry is missing run block")
		}
		runSpec := suite.RunAOT[0]

		// Resolve baseline by id and allow inline overrides
		// 1) Start with base from registry if ref_id is set
		// 2) Overlay inline fields when non-zero
		var eff harness.Thresholds
		if runSpec.Reference.RefID != "" {
			base, ok := refByID[runSpec.Reference.RefID]
			if !ok {
				return nil, fmt.Errorf("unknown reference id: %s", runSpec.Reference.RefID)
			}
			eff = base
		}
		if runSpec.Reference.Speed != 0 {
			eff.Speed = runSpec.Reference.Speed
		}
		if runSpec.Reference.MemoryMiB != 0 {
			eff.MemoryMiB = runSpec.Reference.MemoryMiB
		}
		if runSpec.Reference.Loss != 0 {
			eff.Loss = runSpec.Reference.Loss
		}

		// Validate required fields after merge
		if runSpec.CheckRegression && (eff.Speed <= 0 || eff.MemoryMiB <= 0 || eff.Loss <= 0) {
			return nil, fmt.Errorf("reference thresholds incomplete; require speed, memory_mib, loss (ref_id=%q)", runSpec.Reference.RefID)
		}

		cfg := harness.RunConfig{
			RunID:           uuid.NewString(),
			Optim:           harness.OptimKind(runSpec.Optim),
			WorldSize:       runSpec.WorldSize,
			Epochs:          runSpec.Epochs,
			BatchSize:       runSpec.BatchSize,
			DataSize:        runSpec.DataSize,
			CheckRegression: runSpec.CheckRegression,
			Reference:       eff,
			RendezvousAddr:  runSpec.Rendezvous,
			JoinTimeout:     time.Duration(runSpec.JoinTimeoutMs) * time.Millisecond,
			Seed:            runSpec.Seed,
			SnapshotDir:     runSpec.SnapshotDir,
			ResponseDir:     runSpec.ResponseDir,
		}

		// Apply defaults for anything the entry left out
		if cfg.Optim == "" {
			cfg.Optim = harness.OptimSharded
		}
		if cfg.WorldSize == 0 {
			cfg.WorldSize = 2
		}
		if cfg.Epochs == 0 {
			cfg.Epochs = 10
		}
		if cfg.BatchSize == 0 {
			cfg.BatchSize = 32
		}
		if cfg.DataSize == 0 {
			cfg.DataSize = 512
		}
		if cfg.RendezvousAddr == "" {
			cfg.RendezvousAddr = harness.DefaultRendezvous
		}
		if cfg.JoinTimeout == 0 {
			cfg.JoinTimeout = group.DefaultJoinTimeout
		}

		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("scenario %q: %w", suite.Description, err)
		}

		expect := suite.Expect
		if expect.Status == "" {
			expect.Status = ExpectPass
		}
		if expect.Status != ExpectPass && expect.Status != ExpectFail {
			return nil, fmt.Errorf("scenario %q: unknown expected status %q", suite.Description, expect.Status)
		}

		cases = append(cases, Case{
			Name:   suite.Description,
			Config: cfg,
			Expect: expect,
		})
	}

	return cases, nil
}
