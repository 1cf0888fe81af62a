package harness

import (
	"fmt"
	"strings"
	"time"
)

// OptimKind selects which optimizer variant a run benchmarks
type OptimKind string

const (
	OptimVanilla         OptimKind = "vanilla"
	OptimSharded         OptimKind = "sharded"
	OptimShardedParallel OptimKind = "sharded_parallel"
	// OptimAll is a CLI convenience that expands into the three
	// concrete kinds, one run each. Never valid inside a RunConfig.
	OptimAll OptimKind = "all"
)

func (k OptimKind) Valid() bool {
	switch k {
	case OptimVanilla, OptimSharded, OptimShardedParallel:
		return true
	}
	return false
}

// Sharded reports whether the optimizer state is partitioned across
// ranks. The parallel variant is sharded by construction, which is
// why there is no separate flag to get wrong.
func (k OptimKind) Sharded() bool {
	return k == OptimSharded || k == OptimShardedParallel
}

// Thresholds are the reference readings a gated run must hold
type Thresholds struct {
	Speed     float64 `json:"speed"`
	MemoryMiB float64 `json:"memory_mib"`
	Loss      float64 `json:"loss"`
}

// DefaultRendezvous is where the leader hosts the group hub
const DefaultRendezvous = "tcp://127.0.0.1:29501"

// RunConfig is everything one benchmark run needs. The coordinator
// serializes it into the worker environment, so every field carries a
// JSON tag.
type RunConfig struct {
	RunID string    `json:"run_id"`
	Optim OptimKind `json:"optim"`

	WorldSize int `json:"world_size"`
	Epochs    int `json:"epochs"`
	BatchSize int `json:"batch_size"`
	DataSize  int `json:"data_size"`

	CheckRegression bool       `json:"check_regression"`
	Reference       Thresholds `json:"reference"`

	RendezvousAddr string        `json:"rendezvous_addr"`
	JoinTimeout    time.Duration `json:"join_timeout"`
	Seed           int64         `json:"seed"`
	SnapshotDir    string        `json:"snapshot_dir,omitempty"`
	ResponseDir    string        `json:"response_dir,omitempty"`

	// Reporters the leader rank streams run events to. Empty means
	// terminal only.
	Reporters []string `json:"reporters,omitempty"`
}

func (c *RunConfig) Validate() error {
	if c.RunID == "" {
		return fmt.Errorf("run id must be set")
	}
	if !c.Optim.Valid() {
		return fmt.Errorf("invalid optimizer kind %q", c.Optim)
	}
	if c.WorldSize < 1 {
		return fmt.Errorf("world size must be at least 1, got %d", c.WorldSize)
	}
	if c.Epochs < 1 {
		return fmt.Errorf("epochs must be at least 1, got %d", c.Epochs)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1, got %d", c.BatchSize)
	}
	if c.DataSize < 1 {
		return fmt.Errorf("data size must be at least 1, got %d", c.DataSize)
	}
	if c.RendezvousAddr == "" {
		return fmt.Errorf("rendezvous address must be set")
	}
	if strings.Contains(c.RendezvousAddr, "://") && !strings.HasPrefix(c.RendezvousAddr, "tcp://") {
		return fmt.Errorf("unsupported rendezvous scheme in %q", c.RendezvousAddr)
	}
	if c.JoinTimeout <= 0 {
		return fmt.Errorf("join timeout must be positive, got %v", c.JoinTimeout)
	}
	return nil
}

// HostPort returns the rendezvous address without the tcp:// scheme
func (c *RunConfig) HostPort() string {
	return strings.TrimPrefix(c.RendezvousAddr, "tcp://")
}
