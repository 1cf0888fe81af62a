package scenario_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shardbench/harness/internal/harness"
	"github.com/shardbench/harness/internal/scenario"
)

func writeScenarioFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bench.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestParseAppliesDefaults(t *testing.T) {
	path := writeScenarioFile(t, `
[[scenarios]]
description = "smoke run"
[[scenarios.run]]
optim = "vanilla"
`)

	cases, err := scenario.Parse(path)
	require.NoError(t, err)
	require.Len(t, cases, 1)

	c := cases[0]
	require.Equal(t, "smoke run", c.Name)
	require.NotEmpty(t, c.Config.RunID)
	require.Equal(t, harness.OptimVanilla, c.Config.Optim)
	require.Equal(t, 2, c.Config.WorldSize)
	require.Equal(t, 10, c.Config.Epochs)
	require.Equal(t, 32, c.Config.BatchSize)
	require.Equal(t, 512, c.Config.DataSize)
	require.Equal(t, harness.DefaultRendezvous, c.Config.RendezvousAddr)
	require.Equal(t, 30*time.Second, c.Config.JoinTimeout)
	require.False(t, c.Config.CheckRegression)
	require.Equal(t, scenario.ExpectPass, c.Expect.Status)
}

func TestParseAssignsDistinctRunIds(t *testing.T) {
	path := writeScenarioFile(t, `
[[scenarios]]
description = "first"
[[scenarios.run]]

[[scenarios]]
description = "second"
[[scenarios.run]]
`)

	cases, err := scenario.Parse(path)
	require.NoError(t, err)
	require.Len(t, cases, 2)
	require.NotEqual(t, cases[0].Config.RunID, cases[1].Config.RunID)
}

func TestParseResolvesReferenceRegistry(t *testing.T) {
	path := writeScenarioFile(t, `
[[references]]
id = "v100-baseline"
speed = 32.32
memory_mib = 4475.0
loss = 0.67

[[scenarios]]
description = "gated oss run"
[[scenarios.run]]
optim = "sharded"
check_regression = true
world_size = 4
epochs = 5
join_timeout_ms = 5000
[scenarios.run.reference]
ref_id = "v100-baseline"
loss = 0.5
[scenarios.expect]
status = "fail"
`)

	cases, err := scenario.Parse(path)
	require.NoError(t, err)
	require.Len(t, cases, 1)

	c := cases[0]
	require.True(t, c.Config.CheckRegression)
	require.Equal(t, 4, c.Config.WorldSize)
	require.Equal(t, 5, c.Config.Epochs)
	require.Equal(t, 5*time.Second, c.Config.JoinTimeout)
	// Registry values with the inline loss override on top.
	require.Equal(t, harness.Thresholds{Speed: 32.32, MemoryMiB: 4475, Loss: 0.5}, c.Config.Reference)
	require.Equal(t, scenario.ExpectFail, c.Expect.Status)
}

func TestParseRejectsUnknownReference(t *testing.T) {
	path := writeScenarioFile(t, `
[[scenarios]]
description = "bad ref"
[[scenarios.run]]
check_regression = true
[scenarios.run.reference]
ref_id = "nope"
`)

	_, err := scenario.Parse(path)
	require.ErrorContains(t, err, "unknown reference id: nope")
}

func TestParseRejectsIncompleteReference(t *testing.T) {
	path := writeScenarioFile(t, `
[[scenarios]]
description = "no thresholds"
[[scenarios.run]]
check_regression = true
[scenarios.run.reference]
speed = 32.32
`)

	_, err := scenario.Parse(path)
	require.ErrorContains(t, err, "reference thresholds incomplete")
}

func TestParseRejectsMissingRunBlock(t *testing.T) {
	path := writeScenarioFile(t, `
[[scenarios]]
description = "empty"
`)

	_, err := scenario.Parse(path)
	require.ErrorContains(t, err, "missing run block")
}

func TestParseRejectsUnknownStatus(t *testing.T) {
	path := writeScenarioFile(t, `
[[scenarios]]
description = "weird status"
[[scenarios.run]]
[scenarios.expect]
status = "maybe"
`)

	_, err := scenario.Parse(path)
	require.ErrorContains(t, err, `unknown expected status "maybe"`)
}
