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

package cconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kylelemons/godebug/pretty"
	"github.com/spf13/afero"
)

func testSchema() Schema {
	return Schema{
		{Key: "url", Kind: Scalar},
		{Key: "port", Kind: Int},
		{Key: "singleton", Kind: Bool},
		{Key: "messages", Kind: List},
		{Key: "explorer", Kind: Mapping},
		{Key: "parameter", Kind: Mapping, Schema: Schema{
			{Key: "state", Kind: Scalar},
			{Key: "groups", Kind: List},
			{Key: "purge", Kind: Bool},
		}},
	}
}

func TestFromSchema(t *testing.T) {
	values := FromSchema(testSchema())

	if values.Str("url") != "" {
		t.Errorf("expected empty scalar")
	}
	if values.Int("port") != 0 {
		t.Errorf("expected zero int")
	}
	if values.Bool("singleton") {
		t.Errorf("expected false bool")
	}
	if len(values.List("messages")) != 0 {
		t.Errorf("expected empty list")
	}
	if len(values.Map("explorer")) != 0 {
		t.Errorf("expected empty mapping")
	}
	if values.Sub("parameter").Str("state") != "" {
		t.Errorf("expected empty nested scalar")
	}
}

func TestRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	schema := testSchema()

	values := FromSchema(schema)
	values["url"] = "ssh://root@web01"
	values["port"] = 2222
	values["singleton"] = true
	values["messages"] = []string{"__file/etc/motd:created", "__user/backup:added"}
	values["explorer"] = map[string]string{
		"os":     "debian",
		"kernel": "Linux",
	}
	parameter := values.Sub("parameter")
	parameter["state"] = "present"
	parameter["groups"] = []string{"wheel", "adm"}
	parameter["purge"] = true

	if err := ToDir(fs, "/cfg", values, schema); err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	loaded, err := FromDir(fs, "/cfg", schema)
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}
	if diff := pretty.Compare(values, loaded); diff != "" {
		t.Errorf("round trip changed the values: %s", diff)
	}
}

func TestOnDiskFormat(t *testing.T) {
	fs := afero.NewMemMapFs()
	schema := testSchema()

	values := FromSchema(schema)
	values["url"] = "web01"
	values["messages"] = []string{"one", "two"}
	values["singleton"] = true

	if err := ToDir(fs, "/cfg", values, schema); err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	b, err := afero.ReadFile(fs, "/cfg/url")
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}
	if string(b) != "web01\n" {
		t.Errorf("unexpected scalar format: %q", string(b))
	}

	b, err = afero.ReadFile(fs, "/cfg/messages")
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}
	if string(b) != "one\ntwo\n" {
		t.Errorf("unexpected list format: %q", string(b))
	}

	b, err = afero.ReadFile(fs, "/cfg/singleton")
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}
	if string(b) != "" {
		t.Errorf("flag file should be empty, got: %q", string(b))
	}

	// a false bool or empty scalar leaves no file behind
	if exists, _ := afero.Exists(fs, "/cfg/port"); exists {
		t.Errorf("zero int should not be written")
	}
}

func TestAbsentKeys(t *testing.T) {
	fs := afero.NewMemMapFs()
	schema := testSchema()

	if err := fs.MkdirAll("/empty", 0755); err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}
	values, err := FromDir(fs, "/empty", schema)
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}
	if diff := pretty.Compare(FromSchema(schema), values); diff != "" {
		t.Errorf("empty directory should load as zero values: %s", diff)
	}

	if _, err := FromDir(fs, "/nonexistent", schema); err == nil {
		t.Errorf("expected an error for a missing directory")
	}
}

func TestToDirKeys(t *testing.T) {
	fs := afero.NewMemMapFs()
	schema := testSchema()

	values := FromSchema(schema)
	values["url"] = "web01"
	values["messages"] = []string{"one"}

	if err := ToDir(fs, "/cfg", values, schema, "url"); err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}
	if exists, _ := afero.Exists(fs, "/cfg/url"); !exists {
		t.Errorf("selected key should be written")
	}
	if exists, _ := afero.Exists(fs, "/cfg/messages"); exists {
		t.Errorf("unselected key should not be written")
	}
}

func TestScalarWithoutNewline(t *testing.T) {
	fs := afero.NewMemMapFs()
	schema := Schema{{Key: "value", Kind: Scalar}}

	if err := afero.WriteFile(fs, "/cfg/value", []byte("bare"), 0644); err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}
	values, err := FromDir(fs, "/cfg", schema)
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}
	if values.Str("value") != "bare" {
		t.Errorf("unexpected value: %q", values.Str("value"))
	}
}

func TestListDir(t *testing.T) {
	fs := afero.NewMemMapFs()
	schema := Schema{{Key: "explorer", Kind: ListDir}}

	for _, name := range []string{"state", "owner", "group"} {
		if err := afero.WriteFile(fs, "/type/explorer/"+name, []byte("#!/bin/sh\n"), 0755); err != nil {
			t.Fatalf("unexpected error: %+v", err)
		}
	}

	values, err := FromDir(fs, "/type", schema)
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}
	names := values.List("explorer")
	if diff := pretty.Compare([]string{"group", "owner", "state"}, names); diff != "" {
		t.Errorf("unexpected names: %s", diff)
	}
}

func TestSymlinkMap(t *testing.T) {
	fs := afero.NewOsFs()
	tmpdir := t.TempDir()

	source := filepath.Join(tmpdir, "conf", "type", "__file")
	if err := os.MkdirAll(source, 0755); err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	schema := Schema{{Key: "type", Kind: SymlinkMap}}
	values := FromSchema(schema)
	values["type"] = map[string]string{"__file": source}

	dir := filepath.Join(tmpdir, "session", "conf")
	if err := ToDir(fs, dir, values, schema); err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	loaded, err := FromDir(fs, dir, schema)
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}
	if loaded.Map("type")["__file"] != source {
		t.Errorf("unexpected link source: %q", loaded.Map("type")["__file"])
	}

	// repointing an existing link must replace it
	other := filepath.Join(tmpdir, "other", "type", "__file")
	if err := os.MkdirAll(other, 0755); err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}
	values["type"] = map[string]string{"__file": other}
	if err := ToDir(fs, dir, values, schema); err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}
	loaded, err = FromDir(fs, dir, schema)
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}
	if loaded.Map("type")["__file"] != other {
		t.Errorf("link was not repointed: %q", loaded.Map("type")["__file"])
	}
}
