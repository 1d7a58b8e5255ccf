package interpreter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bld-ci/bld/internal/blderr"
	"github.com/bld-ci/bld/internal/execctx"
	"github.com/bld-ci/bld/internal/pipeline"
	"github.com/bld-ci/bld/internal/platform"
	"github.com/bld-ci/bld/internal/token"
)

type fakeDriver struct {
	mu       sync.Mutex
	shells   []string
	fail     map[string]bool
	pushed   []string
	keptLive int
}

func (f *fakeDriver) Push(ctx context.Context, from, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, from+"->"+to)
	return nil
}
func (f *fakeDriver) Get(ctx context.Context, from, to string) error { return nil }
func (f *fakeDriver) Shell(ctx context.Context, workingDir, cmd string, stop platform.StopChecker, sink platform.LineSink) error {
	f.mu.Lock()
	f.shells = append(f.shells, cmd)
	fail := f.fail != nil && f.fail[cmd]
	f.mu.Unlock()
	if fail {
		return &blderr.Failed{}
	}
	return nil
}
func (f *fakeDriver) KeepAlive()                                 { f.keptLive++ }
func (f *fakeDriver) Dispose(ctx context.Context, inChild bool) error { return nil }

func newTokens() *token.Context {
	return token.New("/root", "/proj", "r1", time.Time{}, nil, nil)
}

func TestRunSequentialExecutesStepsInOrder(t *testing.T) {
	p := &pipeline.Pipeline{
		Version: pipeline.V1,
		Steps: []pipeline.Step{
			{Name: "one", Exec: []pipeline.Atom{{IsShell: true, Shell: "echo a"}}},
			{Name: "two", Exec: []pipeline.Atom{{IsShell: true, Shell: "echo b"}}},
		},
	}
	drv := &fakeDriver{}
	req := Request{Pipeline: p, Exec: execctx.NewEmpty("r1"), Platform: drv, Tokens: newTokens()}

	outcome, err := Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, Ok, outcome)
	assert.Equal(t, []string{"echo a", "echo b"}, drv.shells)
}

func TestRunSequentialStopsOnFirstFailure(t *testing.T) {
	p := &pipeline.Pipeline{
		Version: pipeline.V1,
		Steps: []pipeline.Step{
			{Name: "one", Exec: []pipeline.Atom{{IsShell: true, Shell: "bad"}}},
			{Name: "two", Exec: []pipeline.Atom{{IsShell: true, Shell: "never"}}},
		},
	}
	drv := &fakeDriver{fail: map[string]bool{"bad": true}}
	req := Request{Pipeline: p, Exec: execctx.NewEmpty("r1"), Platform: drv, Tokens: newTokens()}

	outcome, err := Run(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, Failed, outcome)
	assert.Equal(t, []string{"bad"}, drv.shells)
}

func TestRunParallelFansOutJobs(t *testing.T) {
	p := &pipeline.Pipeline{
		Version: pipeline.V3,
		Jobs: map[string][]pipeline.Step{
			"build": {{Name: "build", Exec: []pipeline.Atom{{IsShell: true, Shell: "echo build"}}}},
			"test":  {{Name: "test", Exec: []pipeline.Atom{{IsShell: true, Shell: "echo test"}}}},
		},
		JobOrder: []string{"build", "test"},
	}
	drv := &fakeDriver{}
	req := Request{Pipeline: p, Exec: execctx.NewEmpty("r1"), Platform: drv, Tokens: newTokens()}

	outcome, err := Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, Ok, outcome)
	assert.ElementsMatch(t, []string{"echo build", "echo test"}, drv.shells)
}

func TestPostJobArtifactGatedOnCompletion(t *testing.T) {
	p := &pipeline.Pipeline{
		Version: pipeline.V1,
		Steps: []pipeline.Step{
			{Name: "build", Exec: []pipeline.Atom{{IsShell: true, Shell: "echo build"}}},
		},
		Artifacts: []pipeline.Artifact{
			{Method: pipeline.ArtifactPush, From: "out.bin", To: "dest/out.bin", After: "build"},
		},
	}
	drv := &fakeDriver{}
	req := Request{Pipeline: p, Exec: execctx.NewEmpty("r1"), Platform: drv, Tokens: newTokens()}

	outcome, err := Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, Ok, outcome)
	assert.Equal(t, []string{"out.bin->dest/out.bin"}, drv.pushed)
}

func TestExternalCycleDetected(t *testing.T) {
	p := &pipeline.Pipeline{
		Version: pipeline.V1,
		Steps: []pipeline.Step{
			{Name: "call", Exec: []pipeline.Atom{{External: &pipeline.External{Uses: "self"}}}},
		},
	}
	drv := &fakeDriver{}
	req := Request{
		Pipeline: p,
		Exec:     execctx.NewEmpty("r1"),
		Platform: drv,
		Tokens:   newTokens(),
		Stack:    []string{"self"},
	}

	_, err := Run(context.Background(), req)
	require.Error(t, err)
	var cyclic *blderr.CyclicExternal
	assert.ErrorAs(t, err, &cyclic)
}

func TestExternalDepthExceeded(t *testing.T) {
	p := &pipeline.Pipeline{
		Version: pipeline.V1,
		Steps: []pipeline.Step{
			{Name: "call", Exec: []pipeline.Atom{{External: &pipeline.External{Uses: "child"}}}},
		},
	}
	drv := &fakeDriver{}
	req := Request{
		Pipeline: p,
		Exec:     execctx.NewEmpty("r1"),
		Platform: drv,
		Tokens:   newTokens(),
		Depth:    MaxExternalDepth,
	}

	_, err := Run(context.Background(), req)
	require.Error(t, err)
	var depthErr *blderr.DepthExceeded
	assert.ErrorAs(t, err, &depthErr)
}
