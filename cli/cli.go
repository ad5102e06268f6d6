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

// Package cli handles all of the core command line parsing. It's the first
// entry point after the real main function and dispatches into the session,
// runtime and execution machinery.
package cli

import (
	"context"
	"fmt"
	"os"

	cliUtil "github.com/cdist-ng/cdng/cli/util"
	"github.com/cdist-ng/cdng/util/errwrap"

	"github.com/alexflint/go-arg"
)

// CLI is the entry point for using cdist normally from the CLI.
func CLI(ctx context.Context, data *cliUtil.Data) error {
	// test for sanity
	if data == nil {
		return fmt.Errorf("this CLI was not run correctly")
	}
	if data.Program == "" || data.Version == "" {
		return fmt.Errorf("program was not compiled correctly")
	}
	if data.Copying == "" {
		return fmt.Errorf("program copyrights were removed, can't run")
	}

	// The emulator owns its whole argv: which flags exist is decided by
	// the type definition at runtime, so the static parser never sees it.
	// The real main() rewrites a __type argv[0] into this form.
	if len(data.Args) > 1 && data.Args[1] == "emulator" {
		if !cliUtil.Internal() {
			return cliUtil.NotInsideSession
		}
		emulator := &EmulatorArgs{
			Argv: data.Args[2:],
		}
		return emulator.Main(ctx, data)
	}

	args := Args{}
	args.version = data.Version // copy this in
	args.description = data.Tagline

	config := arg.Config{
		Program: data.Program,
	}
	parser, err := arg.NewParser(config, &args)
	if err != nil {
		// programming error
		return errwrap.Wrapf(err, "cli config error")
	}
	err = parser.Parse(data.Args[1:]) // XXX: args[0] needs to be dropped
	if err == arg.ErrHelp {
		parser.WriteHelp(os.Stdout)
		return nil
	}
	if err == arg.ErrVersion {
		fmt.Printf("%s\n", data.Version) // byon: bring your own newline
		return nil
	}
	if err != nil {
		return cliUtil.CliParseError(err) // consistent errors
	}

	// display the license
	if args.License {
		fmt.Printf("%s", data.Copying) // file comes with a trailing nl
		return nil
	}

	// Scripts we spawn inherit the log level through the environment, so
	// a manifest calling back into us logs like the run it belongs to.
	flags := data.Flags
	switch os.Getenv("__cdist_log_level") {
	case "debug":
		flags.Debug = true
	case "info":
		flags.Verbose = true
	}
	if args.Verbose {
		flags.Verbose = true
	}
	if args.Debug {
		flags.Debug = true
	}
	data = &cliUtil.Data{
		Program: data.Program,
		Version: data.Version,
		Copying: data.Copying,
		Tagline: data.Tagline,
		Flags:   flags,
		Args:    data.Args,
	}

	if ok, err := args.Run(ctx, data); err != nil {
		return err
	} else if ok { // did we activate one of the commands?
		return nil
	}

	// print help if no subcommands are set
	parser.WriteHelp(os.Stdout)

	return nil
}

// Args is the CLI parsing structure and type of the parsed result. This
// particular struct is the top-most one.
type Args struct {
	License bool `arg:"--license" help:"display the license and exit"`

	Verbose bool `arg:"-v,--verbose" help:"log what the run is doing"`
	Debug   bool `arg:"-d,--debug" help:"log everything, including every command started"`

	ConfigCmd *ConfigArgs `arg:"subcommand:config" help:"configure one or more targets"`

	ExploreCmd *ExploreArgs `arg:"subcommand:explore" help:"run explorers against a target"`

	RunCmd *RunArgs `arg:"subcommand:run" help:"run ad hoc commands through the executor"`

	// This only works from inside a session, scripts use it for leveled
	// logging. The emulator never shows up here at all, it gets preempted
	// in the CLI function before static parsing starts.
	LogCmd *LogArgs `arg:"subcommand:log" help:"log a message through the session logger"`

	// version is a private handle for our version string.
	version string `arg:"-"` // ignored from parsing

	// description is a private handle for our description string.
	description string `arg:"-"` // ignored from parsing
}

// Version returns the version string. Implementing this signature is part of
// the API for the cli library.
func (obj *Args) Version() string {
	return obj.version
}

// Description returns a description string. Implementing this signature is
// part of the API for the cli library.
func (obj *Args) Description() string {
	return obj.description
}

// Run executes the correct subcommand. It errors if there's ever an error. It
// returns true if we did activate one of the subcommands. It returns false if
// we did not. This information is used so that the top-level parser can return
// usage or help information if no subcommand activates.
func (obj *Args) Run(ctx context.Context, data *cliUtil.Data) (bool, error) {
	if cmd := obj.ConfigCmd; cmd != nil {
		return cmd.Run(ctx, data)
	}

	if cmd := obj.ExploreCmd; cmd != nil {
		return cmd.Run(ctx, data)
	}

	if cmd := obj.RunCmd; cmd != nil {
		return cmd.Run(ctx, data)
	}

	if cmd := obj.LogCmd; cmd != nil {
		return cmd.Run(ctx, data)
	}

	return false, nil // nobody activated
}
