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

package core

import (
	"testing"

	"github.com/kylelemons/godebug/pretty"
	"github.com/spf13/afero"
)

func TestSplitJoinName(t *testing.T) {
	var nameTests = []struct {
		name     string
		typeName string
		objectID string
	}{
		{"__file/etc/hosts", "__file", "etc/hosts"},
		{"__hostname", "__hostname", ""},
		{"__user/backup", "__user", "backup"},
	}

	for _, test := range nameTests {
		typeName, objectID := SplitName(test.name)
		if typeName != test.typeName || objectID != test.objectID {
			t.Errorf("SplitName(%q): expected (%q, %q), actual (%q, %q)", test.name, test.typeName, test.objectID, typeName, objectID)
		}
		if name := JoinName(test.typeName, test.objectID); name != test.name {
			t.Errorf("JoinName(%q, %q): expected %q, actual %q", test.typeName, test.objectID, test.name, name)
		}
	}
}

func TestSanitiseObjectID(t *testing.T) {
	var sanitiseTests = []struct {
		input  string
		result string
	}{
		{"", ""},
		{"etc/hosts", "etc/hosts"},
		{"/etc/hosts", "etc/hosts"},
		{"etc/hosts/", "etc/hosts"},
		{"/etc/hosts/", "etc/hosts"},
		{"/", ""},
	}

	for _, test := range sanitiseTests {
		actual := SanitiseObjectID(test.input)
		if actual != test.result {
			t.Errorf("SanitiseObjectID(%q): expected %q, actual %q", test.input, test.result, actual)
		}
		// sanitising is idempotent
		if again := SanitiseObjectID(actual); again != actual {
			t.Errorf("SanitiseObjectID(%q) is not idempotent: %q", test.input, again)
		}
	}
}

func TestValidateObjectID(t *testing.T) {
	if err := ValidateObjectID("etc/hosts"); err != nil {
		t.Errorf("unexpected error: %+v", err)
	}
	if err := ValidateObjectID(""); err != nil {
		t.Errorf("the empty id belongs to singletons: %+v", err)
	}
	if err := ValidateObjectID("etc//hosts"); err == nil {
		t.Errorf("expected an error for //")
	}
	if err := ValidateObjectID("."); err == nil {
		t.Errorf("expected an error for .")
	}
	if err := ValidateObjectName("__file/etc//hosts"); err == nil {
		t.Errorf("expected an error for // in the name")
	}
}

func TestObjectRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	cdistType := &CdistType{
		Name: "__user",
		Parameter: TypeParameter{
			Required:         []string{"home"},
			OptionalMultiple: []string{"group"},
			Boolean:          []string{"purge"},
		},
	}

	object, err := cdistType.NewObject("backup")
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}
	object.Parameter["home"] = "/home/backup"
	object.Parameter["group"] = []string{"wheel", "adm"}
	object.Parameter["purge"] = true
	object.Explorer["exists"] = "yes"
	object.State = StatePrepared
	object.Source = []string{"/conf/manifest/init"}
	object.Tags = []string{"users"}
	object.CodeRemote = "useradd backup\n"

	if err := object.ToDir(fs, "/object"); err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}
	loaded, err := cdistType.ObjectFromDir(fs, "/object")
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	if loaded.Name() != "__user/backup" {
		t.Errorf("unexpected name: %s", loaded.Name())
	}
	if diff := pretty.Compare(object.Parameter, loaded.Parameter); diff != "" {
		t.Errorf("parameters changed in the round trip: %s", diff)
	}
	if diff := pretty.Compare(object.Explorer, loaded.Explorer); diff != "" {
		t.Errorf("explorer outputs changed in the round trip: %s", diff)
	}
	if loaded.State != StatePrepared {
		t.Errorf("unexpected state: %s", loaded.State)
	}
	if diff := pretty.Compare(object.Source, loaded.Source); diff != "" {
		t.Errorf("sources changed in the round trip: %s", diff)
	}
	if loaded.CodeRemote != object.CodeRemote {
		t.Errorf("unexpected code-remote: %q", loaded.CodeRemote)
	}

	if err := object.Cmp(loaded); err != nil {
		t.Errorf("loaded object differs: %+v", err)
	}
}

func TestObjectCmp(t *testing.T) {
	cdistType := &CdistType{
		Name: "__file",
		Parameter: TypeParameter{
			Optional: []string{"mode"},
		},
	}

	a, err := cdistType.NewObject("etc/hosts")
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}
	b, err := cdistType.NewObject("etc/hosts")
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	if err := a.Cmp(b); err != nil {
		t.Errorf("equal objects should compare clean: %+v", err)
	}

	b.Parameter["mode"] = "0600"
	if err := a.Cmp(b); err == nil {
		t.Errorf("expected an error for differing parameters")
	}
}

func TestObjectWriteKeys(t *testing.T) {
	fs := afero.NewMemMapFs()
	cdistType := &CdistType{Name: "__motd", Singleton: true}

	object, err := cdistType.NewObject("")
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}
	if err := object.ToDir(fs, "/object"); err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	object.State = StateDone
	object.CodeLocal = "echo motd\n"
	if err := object.ToDir(fs, "/object", "state"); err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	loaded, err := cdistType.ObjectFromDir(fs, "/object")
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}
	if loaded.State != StateDone {
		t.Errorf("selected key was not written: %s", loaded.State)
	}
	if loaded.CodeLocal != "" {
		t.Errorf("unselected key was written: %q", loaded.CodeLocal)
	}
}
