// Package interpreter implements the Step Interpreter: it walks a
// loaded pipeline's steps (or, for v3, its parallel job groups),
// applies token substitution, drives the platform for each shell atom
// and recursive external-pipeline atom, and runs artifact push/get
// operations gated by their `after` expression.
package interpreter

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"

	"github.com/bld-ci/bld/internal/blderr"
	"github.com/bld-ci/bld/internal/execctx"
	"github.com/bld-ci/bld/internal/pipeline"
	"github.com/bld-ci/bld/internal/platform"
	"github.com/bld-ci/bld/internal/token"
)

// Outcome is the three-way result of interpreting a pipeline.
type Outcome int

const (
	Ok Outcome = iota
	Failed
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Ok:
		return "ok"
	case Cancelled:
		return "cancelled"
	default:
		return "failed"
	}
}

// MaxExternalDepth bounds recursive external-pipeline calls.
const MaxExternalDepth = 32

// Loader resolves the pipeline a local external reference names.
type Loader interface {
	Load(name string) (*pipeline.Pipeline, error)
}

// RemoteRunner dispatches an external reference that names a remote
// server alias instead of a local pipeline.
type RemoteRunner interface {
	RunRemote(ctx context.Context, server, name string, with, env map[string]string) (Outcome, error)
}

// Request bundles everything one interpretation needs. Stack and
// Depth are threaded through recursive external calls; callers
// starting a fresh top-level run leave them nil/0.
type Request struct {
	Pipeline *pipeline.Pipeline
	Exec     execctx.Context
	Platform platform.Driver
	Tokens   *token.Context
	Sink     platform.LineSink
	Loader   Loader
	Remote   RemoteRunner

	Stack []string
	Depth int
}

// Run dispatches to the version-specific entry point SPEC_FULL.md
// calls for: v1 and v2 both execute their step list sequentially
// (the schema difference is in the loader, not the interpreter), v3
// fans its job groups out concurrently.
func Run(ctx context.Context, req Request) (Outcome, error) {
	p := req.Pipeline
	switch p.Version {
	case pipeline.V1, pipeline.V2:
		return runSequential(ctx, req, p.Steps)
	case pipeline.V3:
		return runParallel(ctx, req)
	default:
		return Failed, &blderr.Internal{Cause: fmt.Errorf("interpreter: unknown pipeline version %d", p.Version)}
	}
}

func runSequential(ctx context.Context, req Request, steps []pipeline.Step) (Outcome, error) {
	if err := runPreJobArtifacts(ctx, req); err != nil {
		return outcomeFor(err), err
	}

	completed := map[string]bool{}
	for _, step := range steps {
		if err := req.Exec.CheckStop(ctx); err != nil {
			return Cancelled, err
		}
		if err := runStep(ctx, req, step); err != nil {
			return outcomeFor(err), err
		}
		completed[step.Name] = true
		if err := runPostJobArtifacts(ctx, req, step.Name, completed); err != nil {
			return outcomeFor(err), err
		}
	}
	return Ok, nil
}

// runParallel fans v3's job groups out concurrently, fail-fast: the
// first job to fail or observe cancellation stops the others via
// ctx cancellation rather than waiting for every goroutine to finish
// its own work first.
func runParallel(ctx context.Context, req Request) (Outcome, error) {
	if err := runPreJobArtifacts(ctx, req); err != nil {
		return outcomeFor(err), err
	}

	p := req.Pipeline
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type jobResult struct {
		name string
		err  error
	}

	results := make(chan jobResult, len(p.JobOrder))
	var wg sync.WaitGroup
	wg.Add(len(p.JobOrder))

	for _, name := range p.JobOrder {
		go func(name string) {
			defer wg.Done()
			select {
			case <-ctx.Done():
				results <- jobResult{name: name, err: ctx.Err()}
				return
			default:
			}
			for _, step := range p.Jobs[name] {
				if err := req.Exec.CheckStop(ctx); err != nil {
					cancel()
					results <- jobResult{name: name, err: err}
					return
				}
				if err := runStep(ctx, req, step); err != nil {
					cancel()
					results <- jobResult{name: name, err: err}
					return
				}
			}
			results <- jobResult{name: name, err: nil}
		}(name)
	}

	wg.Wait()
	close(results)

	completed := map[string]bool{}
	var firstErr error
	for r := range results {
		completed[r.name] = r.err == nil
		if r.err != nil && firstErr == nil {
			firstErr = r.err
		}
	}

	for _, name := range p.JobOrder {
		if !completed[name] {
			continue
		}
		if err := runPostJobArtifacts(ctx, req, name, completed); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if firstErr != nil {
		return outcomeFor(firstErr), firstErr
	}
	return Ok, nil
}

func runStep(ctx context.Context, req Request, step pipeline.Step) error {
	for _, atom := range step.Exec {
		if err := req.Exec.CheckStop(ctx); err != nil {
			return err
		}
		if atom.IsShell {
			cmd := req.Tokens.Transform(atom.Shell)
			if err := req.Platform.Shell(ctx, step.WorkingDir, cmd, stopAdapter{req.Exec}, req.Sink); err != nil {
				return err
			}
			continue
		}
		if atom.External != nil {
			if err := runExternal(ctx, req, *atom.External); err != nil {
				return err
			}
		}
	}
	return nil
}

func runExternal(ctx context.Context, req Request, ext pipeline.External) error {
	if ext.Server != "" {
		if req.Remote == nil {
			return &blderr.Internal{Cause: fmt.Errorf("external reference %q: no remote runner configured", ext.Uses)}
		}
		outcome, err := req.Remote.RunRemote(ctx, ext.Server, ext.Uses, ext.With, ext.Env)
		if err != nil {
			return err
		}
		return outcomeErr(outcome)
	}

	for _, seen := range req.Stack {
		if seen == ext.Uses {
			return &blderr.CyclicExternal{Pipeline: ext.Uses, Stack: append(append([]string{}, req.Stack...), ext.Uses)}
		}
	}
	if req.Depth+1 > MaxExternalDepth {
		return &blderr.DepthExceeded{Max: MaxExternalDepth}
	}
	if req.Loader == nil {
		return &blderr.Internal{Cause: fmt.Errorf("external reference %q: no loader configured", ext.Uses)}
	}

	child, err := req.Loader.Load(ext.Uses)
	if err != nil {
		return err
	}

	childReq := req
	childReq.Pipeline = child
	childReq.Stack = append(append([]string{}, req.Stack...), ext.Uses)
	childReq.Depth = req.Depth + 1

	// The child shares our platform driver rather than provisioning its
	// own, so it must not tear it down on exit: mark it kept alive, then
	// dispose in-child ourselves once the child returns. Dispose consumes
	// the mark, leaving the real teardown to the outermost runner's own
	// Dispose(ctx, false).
	req.Platform.KeepAlive()
	defer req.Platform.Dispose(ctx, true)

	outcome, err := Run(ctx, childReq)
	if err != nil {
		return err
	}
	return outcomeErr(outcome)
}

func runPreJobArtifacts(ctx context.Context, req Request) error {
	for _, a := range req.Pipeline.Artifacts {
		if a.After != "" {
			continue
		}
		if err := runArtifact(ctx, req, a); err != nil {
			return err
		}
	}
	return nil
}

func runPostJobArtifacts(ctx context.Context, req Request, justCompleted string, completed map[string]bool) error {
	for _, a := range req.Pipeline.Artifacts {
		if a.After == "" {
			continue
		}
		gated, err := gatePasses(a.After, justCompleted, completed)
		if err != nil {
			return &blderr.Internal{Cause: err}
		}
		if !gated {
			continue
		}
		if err := runArtifact(ctx, req, a); err != nil {
			return err
		}
	}
	return nil
}

// gatePasses reports whether artifact a.After is satisfied now that
// justCompleted has finished. A bare job name is satisfied exactly
// when it equals justCompleted; anything else is an expr-lang boolean
// expression evaluated against the full completion map.
func gatePasses(after, justCompleted string, completed map[string]bool) (bool, error) {
	if isBareIdent(after) {
		return after == justCompleted, nil
	}
	env := make(map[string]interface{}, len(completed))
	for k, v := range completed {
		env[k] = v
	}
	program, err := expr.Compile(after, expr.Env(env), expr.AsBool())
	if err != nil {
		return false, err
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, err
	}
	b, _ := out.(bool)
	return b, nil
}

func isBareIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (i > 0 && r >= '0' && r <= '9') {
			continue
		}
		return false
	}
	return true
}

func runArtifact(ctx context.Context, req Request, a pipeline.Artifact) error {
	from := req.Tokens.Transform(a.From)
	to := req.Tokens.Transform(a.To)

	var err error
	switch a.Method {
	case pipeline.ArtifactPush:
		err = req.Platform.Push(ctx, from, to)
	case pipeline.ArtifactGet:
		err = req.Platform.Get(ctx, from, to)
	}
	if err == nil || a.IgnoreErrors {
		return nil
	}
	return &blderr.Failed{Cause: err}
}

func outcomeFor(err error) Outcome {
	var cancelled *blderr.Cancelled
	if errors.As(err, &cancelled) {
		return Cancelled
	}
	return Failed
}

func outcomeErr(o Outcome) error {
	switch o {
	case Ok:
		return nil
	case Cancelled:
		return &blderr.Cancelled{}
	default:
		return &blderr.Failed{Cause: fmt.Errorf("external pipeline failed")}
	}
}

// stopAdapter narrows execctx.Context down to platform.StopChecker so
// the platform package never imports execctx.
type stopAdapter struct {
	ctx execctx.Context
}

func (s stopAdapter) CheckStop(ctx context.Context) error {
	return s.ctx.CheckStop(ctx)
}
