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

	"github.com/cdist-ng/cdng/core"
)

func TestValidateTags(t *testing.T) {
	if err := validateTags(nil, nil, nil); err != nil {
		t.Errorf("unexpected error: %+v", err)
	}
	if err := validateTags([]string{"web"}, nil, []string{"db"}); err != nil {
		t.Errorf("unexpected error: %+v", err)
	}
	if err := validateTags(nil, []string{"web", "db"}, []string{"legacy"}); err != nil {
		t.Errorf("unexpected error: %+v", err)
	}
}

func TestValidateTagsConflicts(t *testing.T) {
	err := validateTags([]string{"web"}, []string{"db"}, nil)
	if err == nil {
		t.Fatalf("expected only and include to conflict")
	}
	if !core.IsCdistError(err) {
		t.Errorf("expected one of our errors, got: %+v", err)
	}

	err = validateTags([]string{"web"}, nil, []string{"web"})
	if err == nil {
		t.Fatalf("expected selected and excluded overlap to conflict")
	}
	if !core.IsCdistError(err) {
		t.Errorf("expected one of our errors, got: %+v", err)
	}

	err = validateTags(nil, []string{"web", "db"}, []string{"db", "legacy"})
	if err == nil {
		t.Fatalf("expected selected and excluded overlap to conflict")
	}
}
