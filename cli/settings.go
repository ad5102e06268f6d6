// Cdist-ng
// Copyright (C) 2015+ Steven Armstrong and the project contributors
// Written by Steven Armstrong <steven-cdist@armstrong.cc> and the project
// contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cdist-ng/cdng/util/errwrap"

	"github.com/spf13/afero"
	yaml "gopkg.in/yaml.v2"
)

// SettingsFileName is looked for in the home directory when no settings file
// is named explicitly.
const SettingsFileName = ".cdist.yaml"

// Settings is the data structure of the operator settings file. Everything in
// it is optional, a missing file is the same as an empty one.
type Settings struct {
	// ConfDirs are merged into every session in order, entries of later
	// dirs shadow earlier ones. When empty, ~/.cdist is used if present.
	ConfDirs []string `yaml:"conf-dirs"`

	// RemoteCacheBase is where targets keep the session caches.
	RemoteCacheBase string `yaml:"remote-cache-base"`

	// LocalShell and RemoteShell pick the shell scripts run with on each
	// side.
	LocalShell  string `yaml:"local-shell"`
	RemoteShell string `yaml:"remote-shell"`

	// LocalParallelism and RemoteParallelism cap the concurrent processes
	// of each executor.
	LocalParallelism  int `yaml:"local-parallelism"`
	RemoteParallelism int `yaml:"remote-parallelism"`
}

// Parse parses a data stream into the settings structure.
func (obj *Settings) Parse(data []byte) error {
	if err := yaml.Unmarshal(data, obj); err != nil {
		return err
	}
	if obj.LocalParallelism < 0 || obj.RemoteParallelism < 0 {
		return fmt.Errorf("parallelism must not be negative")
	}
	return nil
}

// LoadSettings reads the settings file. An empty path falls back to
// ~/.cdist.yaml, which may be absent. A named file must exist.
func LoadSettings(fs afero.Fs, path string) (*Settings, error) {
	settings := &Settings{}
	named := path != ""
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return settings, nil // no home, no defaults
		}
		path = filepath.Join(home, SettingsFileName)
	}

	exists, err := afero.Exists(fs, path)
	if err != nil {
		return nil, errwrap.Wrapf(err, "could not stat %s", path)
	}
	if !exists {
		if named {
			return nil, fmt.Errorf("no such settings file: %s", path)
		}
		return settings, nil
	}

	b, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errwrap.Wrapf(err, "could not read %s", path)
	}
	if err := settings.Parse(b); err != nil {
		return nil, errwrap.Wrapf(err, "could not parse %s", path)
	}
	return settings, nil
}

// confDirs resolves which conf directories a session should merge. The
// settings win, otherwise ~/.cdist serves as the single default when it
// exists. No conf dirs at all is legal, the session just knows no types.
func confDirs(fs afero.Fs, settings *Settings) []string {
	if len(settings.ConfDirs) > 0 {
		return settings.ConfDirs
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return []string{}
	}
	dir := filepath.Join(home, ".cdist")
	if exists, err := afero.DirExists(fs, dir); err == nil && exists {
		return []string{dir}
	}
	return []string{}
}
