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

//go:build !root

package cli

import (
	"testing"

	"github.com/kylelemons/godebug/pretty"
	"github.com/spf13/afero"
)

func TestSettingsParse(t *testing.T) {
	data := []byte(`conf-dirs:
  - /usr/share/cdist/conf
  - /home/alice/.cdist
remote-cache-base: /var/cache/cdng
local-shell: /bin/bash
local-parallelism: 8
`)
	settings := &Settings{}
	if err := settings.Parse(data); err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}
	expected := &Settings{
		ConfDirs:         []string{"/usr/share/cdist/conf", "/home/alice/.cdist"},
		RemoteCacheBase:  "/var/cache/cdng",
		LocalShell:       "/bin/bash",
		LocalParallelism: 8,
	}
	if diff := pretty.Compare(expected, settings); diff != "" {
		t.Errorf("settings differ: %s", diff)
	}
}

func TestSettingsParseInvalid(t *testing.T) {
	settings := &Settings{}
	if err := settings.Parse([]byte("local-parallelism: -1\n")); err == nil {
		t.Errorf("expected an error for negative parallelism")
	}
	settings = &Settings{}
	if err := settings.Parse([]byte("\t")); err == nil {
		t.Errorf("expected an error for broken yaml")
	}
}

func TestLoadSettings(t *testing.T) {
	fs := afero.NewMemMapFs()

	if _, err := LoadSettings(fs, "/nonexistent.yaml"); err == nil {
		t.Errorf("expected an error for a missing named settings file")
	}

	content := []byte("remote-shell: /bin/dash\nremote-parallelism: 4\n")
	if err := afero.WriteFile(fs, "/settings.yaml", content, 0644); err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}
	settings, err := LoadSettings(fs, "/settings.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}
	if settings.RemoteShell != "/bin/dash" {
		t.Errorf("unexpected remote shell: %s", settings.RemoteShell)
	}
	if settings.RemoteParallelism != 4 {
		t.Errorf("unexpected remote parallelism: %d", settings.RemoteParallelism)
	}

	// the home directory fallback may be absent, that's not an error
	settings, err = LoadSettings(fs, "")
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}
	if diff := pretty.Compare(&Settings{}, settings); diff != "" {
		t.Errorf("settings differ: %s", diff)
	}
}

func TestConfDirs(t *testing.T) {
	fs := afero.NewMemMapFs()

	settings := &Settings{ConfDirs: []string{"/usr/share/cdist/conf", "/opt/conf"}}
	dirs := confDirs(fs, settings)
	if diff := pretty.Compare(settings.ConfDirs, dirs); diff != "" {
		t.Errorf("conf dirs differ: %s", diff)
	}

	// nothing configured and no ~/.cdist on this filesystem
	if dirs := confDirs(fs, &Settings{}); len(dirs) != 0 {
		t.Errorf("unexpected conf dirs: %v", dirs)
	}
}
