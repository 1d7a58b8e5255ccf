package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileLoader resolves an external reference's `uses:` name to a YAML
// file under Dir and loads it, satisfying interpreter.Loader for the
// CLI's single-host deployment (no pipeline registry service).
type FileLoader struct {
	Dir string
}

// NewFileLoader builds a FileLoader rooted at dir.
func NewFileLoader(dir string) *FileLoader {
	return &FileLoader{Dir: dir}
}

// Load reads "<Dir>/<name>.yaml" (falling back to ".yml") and parses it.
func (l *FileLoader) Load(name string) (*Pipeline, error) {
	raw, err := l.read(name)
	if err != nil {
		return nil, err
	}
	return Load(raw)
}

// Read returns the raw YAML bytes for name without parsing them, used
// by the CLI to resolve the top-level pipeline a run was dispatched
// against before handing it to the interpreter.
func (l *FileLoader) Read(name string) ([]byte, error) {
	return l.read(name)
}

func (l *FileLoader) read(name string) ([]byte, error) {
	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(l.Dir, name+ext)
		raw, err := os.ReadFile(path)
		if err == nil {
			return raw, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading pipeline %s: %w", name, err)
		}
	}
	// name may already be a path (e.g. the CLI's `bld run path.yaml`
	// argument), so fall back to treating it literally.
	raw, err := os.ReadFile(filepath.Join(l.Dir, name))
	if err != nil {
		return nil, fmt.Errorf("pipeline %q not found under %s", name, l.Dir)
	}
	return raw, nil
}
