package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bld-ci/bld/internal/blderr"
)

// wire mirrors the on-disk YAML shape before it is resolved into the
// version-tagged in-memory types. All versions share this shape and
// diverge only in which fields are required/meaningful.
type wireDoc struct {
	Version  yaml.Node            `yaml:"version"`
	Name     string                `yaml:"name"`
	Cron     string                `yaml:"cron"`
	RunsOn   yaml.Node             `yaml:"runs_on"`
	Inputs   yaml.Node             `yaml:"inputs"`
	Env      map[string]string     `yaml:"env"`
	Steps    []wireStep            `yaml:"steps"`
	Jobs     map[string][]wireStep `yaml:"jobs"`
	Artifacts []wireArtifact       `yaml:"artifacts"`
	External []wireExternal        `yaml:"external"`
	Registry *wireRegistry         `yaml:"registry"`
}

type wireStep struct {
	Name       string    `yaml:"name"`
	WorkingDir string    `yaml:"working_dir"`
	Exec       []yaml.Node `yaml:"exec"`
}

type wireArtifact struct {
	Method       string `yaml:"method"`
	From         string `yaml:"from"`
	To           string `yaml:"to"`
	IgnoreErrors bool   `yaml:"ignore_errors"`
	After        string `yaml:"after"`
}

type wireExternal struct {
	Uses   string            `yaml:"uses"`
	Server string            `yaml:"server"`
	With   map[string]string `yaml:"with"`
	Env    map[string]string `yaml:"env"`
}

type wireRegistry struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// wireInput is the shape an `inputs:` entry can take: either a bare
// default-string scalar, or a mapping with description/default/required.
type wireInput struct {
	Description string `yaml:"description"`
	Default     string `yaml:"default"`
	Required    bool   `yaml:"required"`
}

// errCollector accumulates errors with source location for the verbose
// loader variant; Load uses it too but stops at the first error.
type errCollector struct {
	errs    []string
	verbose bool
}

func (c *errCollector) add(node *yaml.Node, format string, args ...interface{}) bool {
	msg := fmt.Sprintf(format, args...)
	if node != nil && node.Line > 0 {
		msg = fmt.Sprintf("line %d: %s", node.Line, msg)
	}
	c.errs = append(c.errs, msg)
	return c.verbose
}

func (c *errCollector) fatal() bool {
	return len(c.errs) > 0 && !c.verbose
}

// Load parses raw pipeline YAML and returns the first error encountered.
func Load(raw []byte) (*Pipeline, error) {
	return load(raw, false)
}

// LoadVerbose parses raw pipeline YAML, accumulating all schema errors
// before failing. Symbol and external-reference checks are not done
// here; internal/validate does them.
func LoadVerbose(raw []byte) (*Pipeline, error) {
	return load(raw, true)
}

func load(raw []byte, verbose bool) (*Pipeline, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, &blderr.MalformedPipeline{Reason: "empty document"}
	}

	var root yaml.Node
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return nil, &blderr.MalformedPipeline{Reason: fmt.Sprintf("invalid yaml: %v", err)}
	}
	if len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		return nil, &blderr.MalformedPipeline{Reason: "non-mapping root"}
	}

	var doc wireDoc
	if err := root.Content[0].Decode(&doc); err != nil {
		return nil, &blderr.MalformedPipeline{Reason: fmt.Sprintf("invalid yaml: %v", err)}
	}

	c := &errCollector{verbose: verbose}

	version, ok := parseVersion(&doc.Version, c)
	if !ok && c.fatal() {
		return nil, malformed(c)
	}

	p := &Pipeline{
		Version: version,
		Name:    doc.Name,
		Cron:    doc.Cron,
		Env:     doc.Env,
	}
	if p.Env == nil {
		p.Env = map[string]string{}
	}

	if runsOn, ok := parseRunsOn(&doc.RunsOn, c); ok {
		p.RunsOn = runsOn
	} else if c.fatal() {
		return nil, malformed(c)
	}

	if inputs, ok := parseInputs(&doc.Inputs, c); ok {
		p.Inputs = inputs
	} else if c.fatal() {
		return nil, malformed(c)
	}

	p.Artifacts = parseArtifacts(doc.Artifacts)
	p.External = parseExternal(doc.External)
	if doc.Registry != nil {
		p.Registry = &Registry{URL: doc.Registry.URL, Username: doc.Registry.Username, Password: doc.Registry.Password}
	}

	switch version {
	case V1, V2:
		if len(doc.Steps) == 0 {
			if !c.add(nil, "%s requires a non-empty steps sequence", versionName(version)) {
				return nil, malformed(c)
			}
		}
		if len(doc.Jobs) > 0 {
			if !c.add(nil, "%s does not support jobs; use steps", versionName(version)) {
				return nil, malformed(c)
			}
		}
		steps, ok := parseSteps(doc.Steps, c)
		if !ok && c.fatal() {
			return nil, malformed(c)
		}
		p.Steps = steps
	case V3:
		if len(doc.Jobs) == 0 {
			if !c.add(nil, "v3 requires a non-empty jobs mapping") {
				return nil, malformed(c)
			}
		}
		if len(doc.Steps) > 0 {
			if !c.add(nil, "v3 does not support top-level steps; use jobs") {
				return nil, malformed(c)
			}
		}
		names := make([]string, 0, len(doc.Jobs))
		for name := range doc.Jobs {
			names = append(names, name)
		}
		sort.Strings(names)
		p.Jobs = make(map[string][]Step, len(doc.Jobs))
		p.JobOrder = names
		for _, name := range names {
			steps, ok := parseSteps(doc.Jobs[name], c)
			if !ok && c.fatal() {
				return nil, malformed(c)
			}
			p.Jobs[name] = steps
		}
	default:
		if !c.add(&doc.Version, "unknown version") {
			return nil, malformed(c)
		}
	}

	if len(c.errs) > 0 {
		return nil, malformed(c)
	}
	return p, nil
}

func malformed(c *errCollector) error {
	return &blderr.MalformedPipeline{Reason: strings.Join(c.errs, "; ")}
}

func versionName(v Version) string {
	switch v {
	case V1:
		return "v1"
	case V2:
		return "v2"
	case V3:
		return "v3"
	default:
		return "unknown version"
	}
}

func parseVersion(node *yaml.Node, c *errCollector) (Version, bool) {
	if node == nil || node.Value == "" {
		return 0, c.add(node, "version is required")
	}
	switch strings.TrimSpace(node.Value) {
	case "1":
		return V1, true
	case "2":
		return V2, true
	case "3":
		return V3, true
	default:
		return 0, c.add(node, "unknown version %q", node.Value)
	}
}

func parseRunsOn(node *yaml.Node, c *errCollector) (RunsOn, bool) {
	if node == nil || node.Kind == 0 {
		return RunsOn{}, c.add(node, "runs_on is required")
	}
	if node.Kind == yaml.ScalarNode {
		if node.Value == "machine" {
			return RunsOn{Kind: RunsOnMachine}, true
		}
		if node.Value == "" {
			return RunsOn{}, c.add(node, "runs_on must not be empty")
		}
		return RunsOn{Kind: RunsOnImage, Image: node.Value}, true
	}
	if node.Kind == yaml.MappingNode {
		var df struct {
			Dockerfile string `yaml:"dockerfile"`
			Tag        string `yaml:"tag"`
			Rebuild    bool   `yaml:"rebuild"`
		}
		if err := node.Decode(&df); err != nil {
			return RunsOn{}, c.add(node, "invalid dockerfile-build runs_on: %v", err)
		}
		if df.Dockerfile == "" {
			return RunsOn{}, c.add(node, "dockerfile-build runs_on requires dockerfile")
		}
		return RunsOn{Kind: RunsOnDockerfile, Dockerfile: df.Dockerfile, Tag: df.Tag, Rebuild: df.Rebuild}, true
	}
	return RunsOn{}, c.add(node, "runs_on must be \"machine\", an image string, or a dockerfile-build mapping")
}

func parseInputs(node *yaml.Node, c *errCollector) ([]Input, bool) {
	if node == nil || node.Kind == 0 {
		return nil, true
	}
	if node.Kind != yaml.MappingNode {
		return nil, c.add(node, "inputs must be a mapping")
	}
	var inputs []Input
	ok := true
	for i := 0; i+1 < len(node.Content); i += 2 {
		nameNode := node.Content[i]
		valNode := node.Content[i+1]
		in := Input{Name: nameNode.Value}
		switch valNode.Kind {
		case yaml.ScalarNode:
			in.Default = valNode.Value
			in.HasDefault = true
		case yaml.MappingNode:
			var w wireInput
			hasDefaultKey := false
			for j := 0; j+1 < len(valNode.Content); j += 2 {
				if valNode.Content[j].Value == "default" {
					hasDefaultKey = true
				}
			}
			if err := valNode.Decode(&w); err != nil {
				ok = c.add(valNode, "invalid input %q: %v", in.Name, err) && ok
				continue
			}
			in.Description = w.Description
			in.Default = w.Default
			in.HasDefault = hasDefaultKey
			in.Required = w.Required
		default:
			ok = c.add(valNode, "input %q must be a string or mapping", in.Name) && ok
			continue
		}
		inputs = append(inputs, in)
	}
	return inputs, ok
}

func parseSteps(wsteps []wireStep, c *errCollector) ([]Step, bool) {
	ok := true
	steps := make([]Step, 0, len(wsteps))
	for _, ws := range wsteps {
		atoms, aok := parseAtoms(ws.Exec, c)
		ok = ok && aok
		steps = append(steps, Step{Name: ws.Name, WorkingDir: ws.WorkingDir, Exec: atoms})
	}
	return steps, ok
}

func parseAtoms(nodes []yaml.Node, c *errCollector) ([]Atom, bool) {
	ok := true
	atoms := make([]Atom, 0, len(nodes))
	for i := range nodes {
		n := &nodes[i]
		if n.Kind == yaml.ScalarNode {
			atoms = append(atoms, Atom{IsShell: true, Shell: n.Value})
			continue
		}
		if n.Kind == yaml.MappingNode {
			var we wireExternal
			if err := n.Decode(&we); err != nil {
				ok = c.add(n, "invalid exec entry: %v", err) && ok
				continue
			}
			if we.Uses == "" {
				var alt struct {
					Ext string `yaml:"ext"`
				}
				if n.Decode(&alt) == nil {
					we.Uses = alt.Ext
				}
			}
			if we.Uses == "" {
				ok = c.add(n, "exec mapping entry requires ext/uses") && ok
				continue
			}
			ext := we
			atoms = append(atoms, Atom{External: &External{Uses: ext.Uses, Server: ext.Server, With: ext.With, Env: ext.Env}})
			continue
		}
		ok = c.add(n, "exec entries must be a shell string or a pipeline-call mapping") && ok
	}
	return atoms, ok
}

func parseArtifacts(was []wireArtifact) []Artifact {
	out := make([]Artifact, 0, len(was))
	for _, wa := range was {
		method := ArtifactPush
		if wa.Method == "get" {
			method = ArtifactGet
		}
		out = append(out, Artifact{Method: method, From: wa.From, To: wa.To, IgnoreErrors: wa.IgnoreErrors, After: wa.After})
	}
	return out
}

func parseExternal(wes []wireExternal) []External {
	out := make([]External, 0, len(wes))
	for _, we := range wes {
		out = append(out, External{Uses: we.Uses, Server: we.Server, With: we.With, Env: we.Env})
	}
	return out
}
