// Package validate runs the Validator's three passes over a loaded
// pipeline: required inputs, symbol resolution, and external
// reference resolution.
package validate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/expr-lang/expr"

	"github.com/bld-ci/bld/internal/blderr"
	"github.com/bld-ci/bld/internal/pipeline"
	"github.com/bld-ci/bld/internal/token"
)

// ServerResolver reports whether a remote server alias is configured.
type ServerResolver interface {
	HasServer(name string) bool
}

// LocalResolver reports whether a local pipeline file exists, given
// the name used in an `external.uses`/`ext.uses` reference.
type LocalResolver interface {
	HasLocal(name string) bool
}

// FileLocalResolver resolves local pipeline references against a base
// directory on disk, the way the CLI and server proxy do: `name` and
// `name.yaml` are both tried relative to Root.
type FileLocalResolver struct {
	Root string
}

func (r FileLocalResolver) HasLocal(name string) bool {
	for _, candidate := range []string{name, name + ".yaml", name + ".yml"} {
		if _, err := os.Stat(filepath.Join(r.Root, candidate)); err == nil {
			return true
		}
	}
	return false
}

// Validator runs the three validation passes against a pipeline and
// the inputs/env a caller supplied.
type Validator struct {
	Servers ServerResolver
	Local   LocalResolver
	Verbose bool
}

// New builds a Validator. local/servers may be nil, in which case all
// external references fail resolution (safe default).
func New(local LocalResolver, servers ServerResolver, verbose bool) *Validator {
	return &Validator{Local: local, Servers: servers, Verbose: verbose}
}

// Validate runs all three passes. provided holds the inputs the caller
// supplied (before defaults are applied). On success it returns the
// fully-resolved input map (caller value, else default).
func (v *Validator) Validate(p *pipeline.Pipeline, provided map[string]string) (map[string]string, error) {
	var errs []string

	resolved := v.resolveRequiredInputs(p, provided, &errs)
	v.checkSymbols(p, resolved, &errs)
	v.checkExternalReferences(p, &errs)

	if len(errs) == 0 {
		return resolved, nil
	}
	if !v.Verbose {
		return nil, &blderr.ValidationFailed{Errors: errs[:1]}
	}
	return nil, &blderr.ValidationFailed{Errors: errs}
}

// resolveRequiredInputs implements pass 1: every declared input that
// is required and has no default must be supplied by the caller.
// Returns the effective input map (provided value, else default).
func (v *Validator) resolveRequiredInputs(p *pipeline.Pipeline, provided map[string]string, errs *[]string) map[string]string {
	resolved := make(map[string]string, len(p.Inputs))
	for _, in := range p.Inputs {
		val, has := provided[in.Name]
		switch {
		case has:
			resolved[in.Name] = val
		case in.HasDefault:
			resolved[in.Name] = in.Default
		case in.Required:
			*errs = append(*errs, fmt.Sprintf("required input %q not supplied", in.Name))
		default:
			resolved[in.Name] = ""
		}
	}
	return resolved
}

// checkSymbols implements pass 2: every `${{ name }}` in any
// user-supplied string resolves to a keyword, an input, or an
// environment variable.
func (v *Validator) checkSymbols(p *pipeline.Pipeline, resolved map[string]string, errs *[]string) {
	ctx := token.New("", "", "", zeroTime(), resolved, p.Env)
	seen := map[string]bool{}
	check := func(s string) {
		for _, name := range ctx.Unresolved(s) {
			key := "symbol:" + name
			if seen[key] {
				continue
			}
			seen[key] = true
			*errs = append(*errs, fmt.Sprintf("unresolved symbol %q", name))
		}
	}

	walkStrings(p, check)
}

// checkExternalReferences implements pass 3: every local external
// pipeline name resolves to a file on disk; remote references require
// the server alias to exist in configuration.
func (v *Validator) checkExternalReferences(p *pipeline.Pipeline, errs *[]string) {
	check := func(ext pipeline.External) {
		if ext.Server != "" {
			if v.Servers == nil || !v.Servers.HasServer(ext.Server) {
				*errs = append(*errs, fmt.Sprintf("external reference %q: server alias %q not configured", ext.Uses, ext.Server))
			}
			return
		}
		if v.Local == nil || !v.Local.HasLocal(ext.Uses) {
			*errs = append(*errs, fmt.Sprintf("external reference %q: pipeline not found", ext.Uses))
		}
	}

	for _, ext := range p.External {
		check(ext)
	}
	forEachAtom(p, func(a pipeline.Atom) {
		if a.External != nil {
			check(*a.External)
		}
	})

	v.checkArtifactGates(p, errs)
}

// checkArtifactGates validates each artifact's `after` field: either a
// bare job name (v3 only, must name a declared job) or an expr-lang
// boolean expression over job-completion identifiers, which must at
// least compile.
func (v *Validator) checkArtifactGates(p *pipeline.Pipeline, errs *[]string) {
	identRe := regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	for _, a := range p.Artifacts {
		if a.After == "" {
			continue
		}
		if identRe.MatchString(a.After) {
			if p.Version == pipeline.V3 {
				if _, ok := p.Jobs[a.After]; !ok {
					*errs = append(*errs, fmt.Sprintf("artifact after %q: no such job", a.After))
				}
			}
			continue
		}
		env := make(map[string]interface{}, len(p.JobOrder))
		for _, name := range p.JobOrder {
			env[name] = false
		}
		if _, err := expr.Compile(a.After, expr.Env(env), expr.AsBool()); err != nil {
			*errs = append(*errs, fmt.Sprintf("artifact after expression %q: %v", a.After, err))
		}
	}
}

func walkStrings(p *pipeline.Pipeline, check func(string)) {
	for _, in := range p.Inputs {
		check(in.Default)
	}
	for _, v := range p.Env {
		check(v)
	}
	for _, a := range p.Artifacts {
		check(a.From)
		check(a.To)
	}
	for _, ext := range p.External {
		for _, v := range ext.With {
			check(v)
		}
		for _, v := range ext.Env {
			check(v)
		}
	}
	if p.Registry != nil {
		check(p.Registry.Username)
		check(p.Registry.Password)
	}
	if p.RunsOn.Kind == pipeline.RunsOnImage {
		check(p.RunsOn.Image)
	}

	forEachAtom(p, func(a pipeline.Atom) {
		if a.IsShell {
			check(a.Shell)
			return
		}
		if a.External != nil {
			for _, v := range a.External.With {
				check(v)
			}
			for _, v := range a.External.Env {
				check(v)
			}
		}
	})
}

func forEachAtom(p *pipeline.Pipeline, fn func(pipeline.Atom)) {
	walk := func(steps []pipeline.Step) {
		for _, s := range steps {
			for _, a := range s.Exec {
				fn(a)
			}
		}
	}
	walk(p.Steps)
	for _, name := range p.JobOrder {
		walk(p.Jobs[name])
	}
}

func zeroTime() time.Time {
	return time.Time{}
}
