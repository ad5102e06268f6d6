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

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/cdist-ng/cdng/cli"
	cliUtil "github.com/cdist-ng/cdng/cli/util"
	"github.com/cdist-ng/cdng/core"
)

const (
	// Program is the name of this program, used when it is not set at
	// compile time.
	Program = "cdng"

	// Tagline is a short description of what this program does.
	Tagline = "your system management swiss army knife"
)

// Copying is the license blurb shown by the --license flag.
const Copying = `Cdist-ng
Copyright (C) 2015+ Steven Armstrong and the project contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <http://www.gnu.org/licenses/>.
`

// set at compile time
var (
	program string
	version string
)

func main() {
	os.Exit(run())
}

// run wraps the CLI so that deferred cleanup still happens before the exit
// code is returned.
func run() int {
	if program == "" {
		program = Program
	}
	if version == "" {
		version = "unknown"
	}

	// A manifest declares an object by executing __<type>, a symlink in
	// the session bin directory pointing back at this binary. Fold that
	// spelling into the emulator subcommand before anything else sees it.
	args := os.Args
	if name := filepath.Base(args[0]); strings.HasPrefix(name, "__") {
		args = append([]string{program, "emulator", name}, args[1:]...)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// install the exit signal handler
	var interrupted atomic.Bool
	wg := &sync.WaitGroup{}
	defer wg.Wait()
	exit := make(chan struct{})
	defer close(exit)
	wg.Add(1)
	go func() {
		defer wg.Done()
		// must have buffer for max number of signals
		signals := make(chan os.Signal, 1+1) // 1 * ^C + 1 * SIGTERM
		signal.Notify(signals, os.Interrupt) // catch ^C
		signal.Notify(signals, syscall.SIGTERM)
		select {
		case sig := <-signals: // any signal will do
			if sig == os.Interrupt {
				log.Printf("interrupted by ^C")
			} else {
				log.Printf("interrupted by signal")
			}
			interrupted.Store(true)
			cancel() // unwind the whole run
		case <-exit:
		}
	}()

	data := &cliUtil.Data{
		Program: program,
		Version: version,
		Copying: Copying,
		Tagline: Tagline,
		Flags: cliUtil.Flags{
			Logf: log.Printf,
		},
		Args: args,
	}
	err := cli.CLI(ctx, data)
	if err == nil {
		return 0
	}
	if interrupted.Load() {
		return 2 // the signal handler already logged it
	}
	if core.IsCdistError(err) {
		// one of ours, the message alone tells the user what's wrong
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		return 1
	}
	fmt.Fprintf(os.Stderr, "error: %+v\n", err)
	return 1
}
