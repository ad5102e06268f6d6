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

package execution

import (
	"fmt"
	"strings"
)

// ExecError is returned when a command that had to succeed exited with a non
// zero status. It carries enough to report the failure without rerunning the
// command.
type ExecError struct {
	// Cmd is the argv of the failed command.
	Cmd []string

	// Returncode is the exit status of the command.
	Returncode int

	// Output is what the command printed, when output was being captured.
	Output []byte
}

func (obj *ExecError) Error() string {
	return fmt.Sprintf("command returned non-zero exit status %d: %s", obj.Returncode, strings.Join(obj.Cmd, " "))
}

func (obj *ExecError) CdistError() {}

// TimeoutError is returned when a command was killed because the deadline of
// its context passed before it exited.
type TimeoutError struct {
	// Cmd is the argv of the killed command.
	Cmd []string

	// Output is whatever the command managed to print before it was
	// killed, when output was being captured.
	Output []byte
}

func (obj *TimeoutError) Error() string {
	return fmt.Sprintf("command timed out: %s", strings.Join(obj.Cmd, " "))
}

func (obj *TimeoutError) CdistError() {}
