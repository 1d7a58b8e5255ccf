// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"os"
	"path"
	"path/filepath"
	"runtime/debug"
)

// appName names the XDG subdirectory config lives under. It defaults to
// this module's own build path basename (so a renamed fork or a `go
// install`-ed binary under a different module path picks up its own
// config directory automatically) and falls back to "bld" when build
// info isn't available, which is the case for `go test` binaries.
var appName = detectAppName()

func detectAppName() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Path == "" {
		return "bld"
	}
	return path.Base(info.Main.Path)
}

// ConfigDir returns the XDG config directory for the running binary,
// creating it if it does not yet exist. Respects XDG_CONFIG_HOME; both
// Unix and macOS fall back to ~/.config, matching the rest of the XDG
// ecosystem rather than macOS's Library/Application Support.
func ConfigDir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}

	dir := filepath.Join(base, appName)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}

// ConfigPath returns the full path to the default config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}
