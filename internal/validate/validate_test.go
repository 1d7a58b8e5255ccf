package validate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bld-ci/bld/internal/blderr"
	"github.com/bld-ci/bld/internal/pipeline"
)

type fakeServers struct{ names map[string]bool }

func (f fakeServers) HasServer(name string) bool { return f.names[name] }

type fakeLocal struct{ names map[string]bool }

func (f fakeLocal) HasLocal(name string) bool { return f.names[name] }

func TestValidateMissingRequiredInput(t *testing.T) {
	p := &pipeline.Pipeline{
		Version: pipeline.V2,
		Inputs:  []pipeline.Input{{Name: "env_name", Required: true}},
	}
	v := New(nil, nil, false)
	_, err := v.Validate(p, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "env_name")
}

func TestValidateVerboseAccumulatesBothErrors(t *testing.T) {
	p := &pipeline.Pipeline{
		Version: pipeline.V3,
		Jobs:    map[string][]pipeline.Step{"a": {{Exec: []pipeline.Atom{{IsShell: true, Shell: "echo ${{ missing_input }}"}}}}},
		JobOrder: []string{"a"},
		External: []pipeline.External{{Uses: "ghost.yaml"}},
	}
	v := New(fakeLocal{names: map[string]bool{}}, fakeServers{names: map[string]bool{}}, true)
	_, err := v.Validate(p, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing_input")
	assert.Contains(t, err.Error(), "ghost.yaml")
}

func TestValidateNonVerboseReturnsFirstOnly(t *testing.T) {
	p := &pipeline.Pipeline{
		Version:  pipeline.V2,
		Steps:    []pipeline.Step{{Exec: []pipeline.Atom{{IsShell: true, Shell: "${{ a }} ${{ b }}"}}}},
	}
	v := New(nil, nil, false)
	_, err := v.Validate(p, nil)
	require.Error(t, err)
	var vf *blderr.ValidationFailed
	require.True(t, errors.As(err, &vf))
	assert.Len(t, vf.Errors, 1)
}

func TestValidateExternalServerOK(t *testing.T) {
	p := &pipeline.Pipeline{
		Version:  pipeline.V2,
		External: []pipeline.External{{Uses: "deploy", Server: "prod"}},
	}
	v := New(nil, fakeServers{names: map[string]bool{"prod": true}}, false)
	_, err := v.Validate(p, nil)
	require.NoError(t, err)
}

func TestValidateArtifactAfterExpression(t *testing.T) {
	p := &pipeline.Pipeline{
		Version:  pipeline.V3,
		Jobs:     map[string][]pipeline.Step{"a": {}, "b": {}},
		JobOrder: []string{"a", "b"},
		Artifacts: []pipeline.Artifact{
			{Method: pipeline.ArtifactGet, From: "/out", To: "/local", After: "a && b"},
		},
	}
	v := New(nil, nil, false)
	_, err := v.Validate(p, nil)
	require.NoError(t, err)
}
