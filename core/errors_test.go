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
	"fmt"
	"strings"
	"testing"

	"github.com/cdist-ng/cdng/util/errwrap"
)

func TestIsCdistError(t *testing.T) {
	if IsCdistError(nil) {
		t.Errorf("nil is not an error at all")
	}
	if IsCdistError(fmt.Errorf("some random failure")) {
		t.Errorf("a plain error is not ours")
	}

	err := &RequirementNotFoundError{Requirement: "__nonesuch/*"}
	if !IsCdistError(err) {
		t.Errorf("expected a cdist error")
	}

	// classification must survive wrapping
	wrapped := errwrap.Wrapf(err, "while resolving %s", "__x/q")
	if !IsCdistError(wrapped) {
		t.Errorf("wrapping lost the classification")
	}
}

func TestErrorMessages(t *testing.T) {
	var err error

	err = &IllegalObjectIdError{ObjectID: "etc//hosts", Message: "object id may not contain //"}
	if err.Error() != "object id may not contain //: etc//hosts" {
		t.Errorf("unexpected message: %s", err.Error())
	}

	err = &IllegalObjectIdError{ObjectID: "x"}
	if err.Error() != "illegal object id: x" {
		t.Errorf("unexpected message: %s", err.Error())
	}

	err = &MissingRequiredEnvironmentVariableError{Name: "__cdist_local_session"}
	if !strings.Contains(err.Error(), "'__cdist_local_session'") {
		t.Errorf("unexpected message: %s", err.Error())
	}

	err = &CdistObjectError{
		Name:    "__file/etc/hosts",
		Source:  []string{"/conf/manifest/init", "/conf/type/__base/manifest"},
		Message: "conflicting parameters",
	}
	expected := "__file/etc/hosts: conflicting parameters (defined at /conf/manifest/init /conf/type/__base/manifest)"
	if err.Error() != expected {
		t.Errorf("unexpected message: %s", err.Error())
	}

	err = &RequirementNotFoundError{Requirement: "__nonesuch/*"}
	if err.Error() != "requirement could not be found: __nonesuch/*" {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestCircularReferenceError(t *testing.T) {
	err := &CircularReferenceError{Pending: map[string][]string{
		"__a/x": {"__b/y"},
		"__b/y": {"__a/x"},
	}}
	msg := err.Error()
	if !strings.HasPrefix(msg, "circular reference detected: ") {
		t.Errorf("unexpected message: %s", msg)
	}
	// names are listed deterministically
	if strings.Index(msg, "__a/x") > strings.Index(msg, "__b/y") {
		t.Errorf("expected sorted listing: %s", msg)
	}
	if !IsCdistError(err) {
		t.Errorf("expected a cdist error")
	}
}
