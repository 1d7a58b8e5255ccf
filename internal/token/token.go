// Package token resolves `${{ name }}` substitutions against a
// read-only set of bindings: static engine keywords, caller-supplied
// inputs, and environment variables.
package token

import (
	"regexp"
	"time"
)

// Keyword names recognized regardless of pipeline content.
const (
	KeyRootDir    = "bld_root_dir"
	KeyProjectDir = "bld_project_dir"
	KeyRunID      = "bld_run_id"
	KeyStartTime  = "bld_start_time"
)

var pattern = regexp.MustCompile(`\$\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// Context is a read-only set of bindings used to resolve `${{ name }}`
// markers. A Context is safe for concurrent use once built since
// Transform never mutates it.
type Context struct {
	keywords map[string]string
	inputs   map[string]string
	env      map[string]string
}

// New builds a Context from the engine keywords plus the run's
// resolved inputs and environment maps.
func New(rootDir, projectDir, runID string, start time.Time, inputs, env map[string]string) *Context {
	return &Context{
		keywords: map[string]string{
			KeyRootDir:    rootDir,
			KeyProjectDir: projectDir,
			KeyRunID:      runID,
			KeyStartTime:  start.UTC().Format(time.RFC3339),
		},
		inputs: inputs,
		env:    env,
	}
}

// Lookup resolves a single name against keywords, then inputs, then
// environment, in that order. ok is false if no binding exists.
func (c *Context) Lookup(name string) (string, bool) {
	if v, ok := c.keywords[name]; ok {
		return v, true
	}
	if v, ok := c.inputs[name]; ok {
		return v, true
	}
	if v, ok := c.env[name]; ok {
		return v, true
	}
	return "", false
}

// Unresolved returns every `${{ name }}` reference in text that does
// not resolve against this context. Used by the Validator's symbol
// pass.
func (c *Context) Unresolved(text string) []string {
	var missing []string
	for _, m := range pattern.FindAllStringSubmatch(text, -1) {
		if _, ok := c.Lookup(m[1]); !ok {
			missing = append(missing, m[1])
		}
	}
	return missing
}

// Transform replaces every `${{ name }}` marker in text with its
// resolved binding. A name with no binding is left literal — at
// runtime this is a warning, not an error; validation-time callers
// should consult Unresolved first. Transform is idempotent on strings
// with no markers, satisfying the substitution idempotence property.
func (c *Context) Transform(text string) string {
	return pattern.ReplaceAllStringFunc(text, func(match string) string {
		sub := pattern.FindStringSubmatch(match)
		if sub == nil {
			return match
		}
		if v, ok := c.Lookup(sub[1]); ok {
			return v
		}
		return match
	})
}
