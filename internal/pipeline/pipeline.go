// Package pipeline parses pipeline YAML into version-tagged in-memory
// values. All three versions (v1, v2, v3) load into the one Pipeline
// struct, tagged by its Version field; there is no separate Go type
// per version. v1/v2 fill Steps, v3 fills Jobs/JobOrder, and the
// interpreter picks its sequential or parallel path from Version.
package pipeline

// Version identifies which pipeline schema a document follows.
type Version int

const (
	V1 Version = 1
	V2 Version = 2
	V3 Version = 3
)

// RunsOnKind distinguishes the platform substrate a pipeline targets.
type RunsOnKind int

const (
	RunsOnMachine RunsOnKind = iota
	RunsOnImage
	RunsOnDockerfile
)

// RunsOn is the platform spec for a pipeline.
type RunsOn struct {
	Kind RunsOnKind

	// Image is the raw image string when Kind == RunsOnImage.
	Image string

	// Dockerfile build fields, valid when Kind == RunsOnDockerfile.
	Dockerfile string
	Tag        string
	Rebuild    bool
}

// Input declares one caller-suppliable input.
type Input struct {
	Name        string
	Description string
	Default     string
	HasDefault  bool
	Required    bool
}

// Artifact is a push or get file-transfer operation.
type Artifact struct {
	Method       ArtifactMethod
	From         string
	To           string
	IgnoreErrors bool
	// After names the job that must complete before this artifact runs.
	// Empty means the artifact is a pre-job operation.
	After string
}

type ArtifactMethod int

const (
	ArtifactPush ArtifactMethod = iota
	ArtifactGet
)

// External is a reference to another pipeline invoked as a step atom.
type External struct {
	Uses   string
	Server string
	With   map[string]string
	Env    map[string]string
}

// Atom is one element of a step's execution list: either a shell
// command or an external-pipeline call.
type Atom struct {
	Shell    string
	IsShell  bool
	External *External
}

// Step is an ordered group of atoms sharing a working directory.
type Step struct {
	Name       string
	WorkingDir string
	Exec       []Atom
}

// Registry holds optional top-level container-registry credentials.
// The Validator reports unresolved tokens in Username/Password; no
// token substitution is applied to them, and container setup does not
// read these fields.
type Registry struct {
	URL      string
	Username string
	Password string
}

// Pipeline is the version-tagged, fully-parsed in-memory form of a
// pipeline document.
type Pipeline struct {
	Version Version

	Name string
	Cron string

	RunsOn RunsOn

	Inputs []Input
	Env    map[string]string

	Artifacts []Artifact
	External  []External

	// Steps holds the ordered step list for v1/v2.
	Steps []Step

	// Jobs holds the name->steps mapping for v3's parallel job groups.
	// Iteration order for fan-out is the order recorded in JobOrder
	// (job names sorted alphabetically), since Go map iteration order
	// is not stable.
	Jobs     map[string][]Step
	JobOrder []string

	Registry *Registry
}

// IsParallel reports whether this pipeline executes jobs concurrently.
func (p *Pipeline) IsParallel() bool {
	return p.Version == V3
}
