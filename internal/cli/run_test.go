package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCommandExecutesMachinePipeline(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "demo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"version: 2\nruns_on: machine\nsteps:\n  - exec:\n      - echo hello\n"), 0o644))

	root := NewRootCommand("dev", "none", "unknown")
	root.SetArgs([]string{"run", path})
	var out bytes.Buffer
	root.SetOut(&out)

	err := root.Execute()
	assert.NoError(t, err)
}

func TestRunCommandFailsOnMissingFile(t *testing.T) {
	cmd := newRunCommand()
	cmd.SetArgs([]string{"/no/such/pipeline.yaml"})

	err := cmd.Execute()
	require.Error(t, err)

	var exitErr *ExitError
	assert.ErrorAs(t, err, &exitErr)
	assert.Equal(t, ExitNotFound, exitErr.Code)
}
