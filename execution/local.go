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
	"context"
	"fmt"
	"io"
	"os"

	"github.com/cdist-ng/cdng/util/errwrap"
	"github.com/cdist-ng/cdng/util/semaphore"

	"golang.org/x/time/rate"
)

// Local runs commands on the machine cdist itself runs on. Manifests, gencode
// scripts and the session side of every transfer go through here.
type Local struct {
	// Shell is the program scripts are run with when a command asks for
	// shell mode. It defaults to the CDIST_LOCAL_SHELL environment
	// variable and then to /bin/sh.
	Shell string

	// Env is overlaid onto the environment of every command. The per
	// command overlay from CmdOpts wins over it.
	Env map[string]string

	// Parallelism caps how many subprocesses may run at once. It defaults
	// to the CDIST_LOCAL_PARALLELISM environment variable and then to 20.
	// Exec and copy slots are counted separately.
	Parallelism int

	// Limit is the maximum rate of process spawns. Zero means no limit.
	Limit rate.Limit

	// Burst is the burst size used together with Limit.
	Burst int

	// Debug turns on logging of every command before it runs.
	Debug bool

	// Logf is the logging function for this executor.
	Logf func(format string, v ...interface{})

	executor
}

// Init validates the options and prepares the executor for use.
func (obj *Local) Init() error {
	if obj.Logf == nil {
		return fmt.Errorf("the Logf function is missing")
	}
	if obj.Shell == "" {
		obj.Shell = os.Getenv("CDIST_LOCAL_SHELL")
	}
	if obj.Shell == "" {
		obj.Shell = DefaultShell
	}
	if obj.Parallelism == 0 {
		n, err := parallelismFromEnv("CDIST_LOCAL_PARALLELISM", DefaultLocalParallelism)
		if err != nil {
			return err
		}
		obj.Parallelism = n
	}
	if obj.Parallelism < 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if obj.Limit == 0 {
		obj.Limit = rate.Inf
	}
	if obj.Burst == 0 && !(obj.Limit == rate.Inf) { // blocked
		return fmt.Errorf("permanently limited (rate != Inf, burst = 0)")
	}
	obj.executor = executor{
		sem:     semaphore.NewSemaphore(obj.Parallelism),
		copySem: semaphore.NewSemaphore(obj.Parallelism),
		limiter: rate.NewLimiter(obj.Limit, obj.Burst),
		debug:   obj.Debug,
		logf:    obj.Logf,
	}
	return nil
}

// start builds the final argv for a local command and spawns it.
func (obj *Local) start(ctx context.Context, args []string, opts *CmdOpts, capture bool) (*Process, error) {
	if opts == nil {
		opts = &CmdOpts{}
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("command is empty")
	}
	if opts.Shell {
		args = append([]string{obj.Shell, "-e"}, args...)
	}
	env := mergeEnv(obj.Env, opts.Env)
	return obj.spawn(ctx, obj.sem, args, env, opts.Input, capture)
}

// Exec starts a command and returns a handle on the running process. The
// caller must Wait on the handle.
func (obj *Local) Exec(ctx context.Context, args []string, opts *CmdOpts) (*Process, error) {
	return obj.start(ctx, args, opts, false)
}

// Call runs a command to completion and returns its exit status. A non zero
// exit status is not an error.
func (obj *Local) Call(ctx context.Context, args []string, opts *CmdOpts) (int, error) {
	p, err := obj.Exec(ctx, args, opts)
	if err != nil {
		return -1, err
	}
	return p.Wait()
}

// CheckCall runs a command to completion and errors with an *ExecError when
// it exits non zero.
func (obj *Local) CheckCall(ctx context.Context, args []string, opts *CmdOpts) error {
	p, err := obj.Exec(ctx, args, opts)
	if err != nil {
		return err
	}
	return checkCall(p)
}

// CheckOutput runs a command to completion and returns its captured stdout.
// Stderr passes through untouched. A non zero exit status is an *ExecError
// that carries the partial output.
func (obj *Local) CheckOutput(ctx context.Context, args []string, opts *CmdOpts) ([]byte, error) {
	p, err := obj.start(ctx, args, opts, true)
	if err != nil {
		return nil, err
	}
	if err := checkCall(p); err != nil {
		return nil, err
	}
	return p.Output(), nil
}

// Copy duplicates a local file, preserving the file mode. It takes a copy
// slot so that local file churn is accounted for the same way remote copies
// are.
func (obj *Local) Copy(ctx context.Context, source, destination string) error {
	if err := obj.copySem.P(ctx); err != nil {
		return err
	}
	defer obj.copySem.V()
	if obj.debug {
		obj.logf("copy: %s -> %s", source, destination)
	}

	fi, err := os.Stat(source)
	if err != nil {
		return errwrap.Wrapf(err, "could not stat %s", source)
	}
	in, err := os.Open(source)
	if err != nil {
		return errwrap.Wrapf(err, "could not open %s", source)
	}
	defer in.Close()
	out, err := os.OpenFile(destination, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return errwrap.Wrapf(err, "could not create %s", destination)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errwrap.Wrapf(err, "could not copy to %s", destination)
	}
	return errwrap.Wrapf(out.Close(), "could not close %s", destination)
}
