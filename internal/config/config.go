// Package config loads the configuration shared by the supervisor, the
// worker process, and the CLI: pool size, queue capacity, storage
// location, the IPC socket path, remote server aliases, and registry
// credentials.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// BackendKind selects the run-state store implementation.
type BackendKind string

const (
	// BackendMemory keeps run state in process memory only; used for
	// local/offline runs and tests.
	BackendMemory BackendKind = "memory"
	// BackendSQLite persists run state to a modernc.org/sqlite database.
	BackendSQLite BackendKind = "sqlite"
)

// Server describes a named remote bld server alias, resolved by
// external-pipeline references that set `server:`.
type Server struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
	// Token is loaded from the config file; no component reads it or
	// sends it to the remote server.
	Token string `yaml:"token,omitempty"`
}

// Registry holds optional container-registry credentials. They are
// loaded from the config file only: no token substitution is applied
// to Username/Password and no component reads these fields.
type Registry struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// Config is the top-level engine configuration.
type Config struct {
	// Workers is the fixed size of the active worker-process pool.
	Workers int `yaml:"workers"`

	// QueueCapacity bounds the pending-run FIFO. Enqueue beyond this
	// capacity fails with QueueFull.
	QueueCapacity int `yaml:"queue_capacity"`

	// LogsDir is the directory holding one append-only log file per run.
	LogsDir string `yaml:"logs_dir"`

	// Backend selects the run-state store implementation.
	Backend BackendKind `yaml:"backend"`

	// DBPath is the sqlite database file used when Backend is "sqlite".
	DBPath string `yaml:"db_path,omitempty"`

	// IPCSocket is the filesystem path of the control-channel unix socket.
	IPCSocket string `yaml:"ipc_socket"`

	// ReapInterval is how often the supervisor sweeps active workers for
	// unexpected exits.
	ReapInterval time.Duration `yaml:"reap_interval"`

	// Servers maps a remote alias name to its connection details.
	Servers map[string]Server `yaml:"servers,omitempty"`

	// Registry holds optional container-registry credentials.
	Registry *Registry `yaml:"registry,omitempty"`
}

// Default returns a Config with the engine's documented defaults.
func Default() *Config {
	return &Config{
		Workers:       4,
		QueueCapacity: 4096,
		LogsDir:       "logs",
		Backend:       BackendMemory,
		IPCSocket:     "/tmp/bld-supervisor.sock",
		ReapInterval:  250 * time.Millisecond,
	}
}

// Load reads a YAML config file at path, applying defaults for any
// unset field. An empty path resolves to the XDG default config file
// for this binary (see ConfigPath). A missing file is not an error;
// Default() is returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		xdgPath, err := ConfigPath()
		if err != nil {
			return nil, fmt.Errorf("resolving default config path: %w", err)
		}
		path = xdgPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 4096
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = 250 * time.Millisecond
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv lets a handful of environment variables override file-loaded
// config.
func applyEnv(cfg *Config) {
	if v := os.Getenv("BLD_WORKERS"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			cfg.Workers = n
		}
	}
	if v := os.Getenv("BLD_IPC_SOCKET"); v != "" {
		cfg.IPCSocket = v
	}
	if v := os.Getenv("BLD_LOGS_DIR"); v != "" {
		cfg.LogsDir = v
	}
	if v := os.Getenv("BLD_DB_PATH"); v != "" {
		cfg.DBPath = v
		cfg.Backend = BackendSQLite
	}
}
