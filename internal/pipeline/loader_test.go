package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bld-ci/bld/internal/blderr"
)

func TestLoadSimpleMachineRun(t *testing.T) {
	raw := []byte(`
version: 2
runs_on: machine
steps:
  - exec:
      - echo hello
`)
	p, err := Load(raw)
	require.NoError(t, err)
	assert.Equal(t, V2, p.Version)
	assert.Equal(t, RunsOnMachine, p.RunsOn.Kind)
	require.Len(t, p.Steps, 1)
	require.Len(t, p.Steps[0].Exec, 1)
	assert.True(t, p.Steps[0].Exec[0].IsShell)
	assert.Equal(t, "echo hello", p.Steps[0].Exec[0].Shell)
}

func TestLoadV3Jobs(t *testing.T) {
	raw := []byte(`
version: 3
runs_on: machine
jobs:
  a:
    - exec: ["sleep 10 && true"]
  b:
    - exec: ["sleep 1 && exit 7"]
`)
	p, err := Load(raw)
	require.NoError(t, err)
	assert.True(t, p.IsParallel())
	assert.Equal(t, []string{"a", "b"}, p.JobOrder)
	assert.Len(t, p.Jobs["a"], 1)
	assert.Len(t, p.Jobs["b"], 1)
}

func TestLoadEmptyDocument(t *testing.T) {
	_, err := Load([]byte(""))
	require.Error(t, err)
	var me *blderr.MalformedPipeline
	assert.ErrorAs(t, err, &me)
}

func TestLoadUnknownVersion(t *testing.T) {
	_, err := Load([]byte("version: 9\nruns_on: machine\nsteps: [{exec: [\"x\"]}]\n"))
	require.Error(t, err)
	var me *blderr.MalformedPipeline
	require.ErrorAs(t, err, &me)
	assert.Contains(t, me.Reason, "unknown version")
}

func TestLoadV3RejectsSteps(t *testing.T) {
	_, err := Load([]byte("version: 3\nruns_on: machine\nsteps: [{exec: [\"x\"]}]\n"))
	require.Error(t, err)
}

func TestLoadVerboseLeavesSymbolAndExternalChecksToValidator(t *testing.T) {
	raw := []byte(`
version: 3
runs_on: machine
jobs:
  a:
    - exec: ["${{ missing_input }}"]
external:
  - uses: ghost.yaml
`)
	p, err := LoadVerbose(raw)
	require.NoError(t, err)
	require.NotNil(t, p)
	// Loader-level verbose mode only accumulates schema errors; symbol and
	// external-reference errors are the Validator's concern (internal/validate).
}

func TestNonMappingRoot(t *testing.T) {
	_, err := Load([]byte("- 1\n- 2\n"))
	require.Error(t, err)
	var me *blderr.MalformedPipeline
	require.ErrorAs(t, err, &me)
	assert.Contains(t, me.Reason, "non-mapping root")
}
