package coord

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/shardbench/harness/internal/harness"
)

// Environment variables carrying the run configuration from the
// coordinator to re-exec'd workers.
const (
	EnvRank   = "SHARDBENCH_RANK"
	EnvConfig = "SHARDBENCH_CONFIG"
)

func workerEnv(cfg harness.RunConfig, rank int) ([]string, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode run config: %w", err)
	}
	env := append(os.Environ(),
		fmt.Sprintf("%s=%d", EnvRank, rank),
		fmt.Sprintf("%s=%s", EnvConfig, raw),
	)
	return env, nil
}

// WorkerEnv recovers the run configuration and rank that the
// coordinator passed to this worker process.
func WorkerEnv() (harness.RunConfig, int, error) {
	var cfg harness.RunConfig

	rawRank := os.Getenv(EnvRank)
	if rawRank == "" {
		return cfg, 0, fmt.Errorf("%s is not set, worker must be launched by the coordinator", EnvRank)
	}
	rank, err := strconv.Atoi(rawRank)
	if err != nil {
		return cfg, 0, fmt.Errorf("failed to parse %s: %w", EnvRank, err)
	}

	rawCfg := os.Getenv(EnvConfig)
	if rawCfg == "" {
		return cfg, 0, fmt.Errorf("%s is not set, worker must be launched by the coordinator", EnvConfig)
	}
	if err := json.Unmarshal([]byte(rawCfg), &cfg); err != nil {
		return cfg, 0, fmt.Errorf("failed to decode %s: %w", EnvConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, 0, fmt.Errorf("invalid run config in %s: %w", EnvConfig, err)
	}
	if rank < 0 || rank >= cfg.WorldSize {
		return cfg, 0, fmt.Errorf("rank %d out of range for world size %d", rank, cfg.WorldSize)
	}
	return cfg, rank, nil
}
