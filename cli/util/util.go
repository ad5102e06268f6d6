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

// Package util has some CLI related utility code.
package util

import (
	"os"

	"github.com/cdist-ng/cdng/util/errwrap"
)

// Error is a constant error type that implements error.
type Error string

// Error fulfills the error interface of this type.
func (e Error) Error() string { return string(e) }

const (
	// NotInsideSession is what the session only commands return when they
	// are called from an interactive shell. Scripts we spawn ourselves
	// find CDIST_INTERNAL in their environment and pass the gate.
	NotInsideSession = Error("this command only runs inside a session, see the config command")
)

// CliParseError returns a consistent error if we have a CLI parsing issue.
func CliParseError(err error) error {
	return errwrap.Wrapf(err, "cli parse error")
}

// Flags are some constant flags which are used throughout the program.
type Flags struct {
	Debug   bool // add additional log messages
	Verbose bool // add extra log message output

	// Logf is the logger all commands write through.
	Logf func(format string, v ...interface{})
}

// LogLevel returns the level name the flags map onto. It is what child
// processes receive as __cdist_log_level.
func (obj Flags) LogLevel() string {
	if obj.Debug {
		return "debug"
	}
	if obj.Verbose {
		return "info"
	}
	return "error"
}

// Data is a struct of values that we usually pass to the main CLI function.
type Data struct {
	Program string
	Version string
	Copying string
	Tagline string
	Flags   Flags
	Args    []string // os.Args usually
}

// Internal reports whether we are running inside one of our own sessions.
// The emulator and log commands only exist for scripts we spawned ourselves,
// which find CDIST_INTERNAL in their environment.
func Internal() bool {
	return os.Getenv("CDIST_INTERNAL") != ""
}
