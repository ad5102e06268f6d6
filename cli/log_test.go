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
	"context"
	"testing"

	cliUtil "github.com/cdist-ng/cdng/cli/util"
)

func TestLogOutsideSession(t *testing.T) {
	t.Setenv("CDIST_INTERNAL", "")
	cmd := &LogArgs{
		Level:   "info",
		Message: []string{"hello"},
	}
	if _, err := cmd.Run(context.Background(), &cliUtil.Data{}); err != cliUtil.NotInsideSession {
		t.Errorf("expected the session gate to close, got: %+v", err)
	}
}

func TestLogUnknownLevel(t *testing.T) {
	t.Setenv("CDIST_INTERNAL", "1")
	cmd := &LogArgs{
		Level:   "chatty",
		Message: []string{"hello"},
	}
	if _, err := cmd.Run(context.Background(), &cliUtil.Data{}); err == nil {
		t.Errorf("expected an unknown level to error")
	}
}

func TestLogBelowSessionLevel(t *testing.T) {
	t.Setenv("CDIST_INTERNAL", "1")
	t.Setenv("__cdist_log_level", "error")
	cmd := &LogArgs{
		Level:   "debug",
		Message: []string{"nobody listens"},
	}
	ok, err := cmd.Run(context.Background(), &cliUtil.Data{})
	if err != nil {
		t.Errorf("unexpected error: %+v", err)
	}
	if !ok {
		t.Errorf("the command should still count as handled")
	}
}
