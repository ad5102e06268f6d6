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
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/cdist-ng/cdng/util/errwrap"
	"github.com/cdist-ng/cdng/util/semaphore"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Remote runs commands on a target through its transport scripts. The
// executor never talks to the target itself, it only ever starts the exec and
// copy scripts of the transport stack and trusts them to bridge the gap.
type Remote struct {
	// ExecScript is the path of the script that runs a command on the
	// target, the way the session resolved it from the target transports.
	ExecScript string

	// CopyScript is the path of the script that moves a file to the
	// target.
	CopyScript string

	// Env is the environment the transport scripts themselves run with.
	// The target description is passed this way, as the __target_url and
	// __target_* variables.
	Env map[string]string

	// Shell is the program used on the remote side when a command asks for
	// shell mode. It defaults to the CDIST_REMOTE_SHELL environment
	// variable and then to /bin/sh.
	Shell string

	// Parallelism caps concurrent transport processes. It defaults to the
	// CDIST_REMOTE_PARALLELISM environment variable and then to 5, which
	// stays under the usual sshd connection limits.
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
func (obj *Remote) Init() error {
	if obj.Logf == nil {
		return fmt.Errorf("the Logf function is missing")
	}
	if obj.ExecScript == "" {
		return fmt.Errorf("the ExecScript path is missing")
	}
	if obj.CopyScript == "" {
		return fmt.Errorf("the CopyScript path is missing")
	}
	if obj.Shell == "" {
		obj.Shell = os.Getenv("CDIST_REMOTE_SHELL")
	}
	if obj.Shell == "" {
		obj.Shell = DefaultShell
	}
	if obj.Parallelism == 0 {
		n, err := parallelismFromEnv("CDIST_REMOTE_PARALLELISM", DefaultRemoteParallelism)
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

// start builds the transport argv for a remote command and spawns it. The
// command environment travels as KEY=VALUE words in front of the command,
// since the process environment of the exec script does not cross over to the
// target.
func (obj *Remote) start(ctx context.Context, args []string, opts *CmdOpts, capture bool) (*Process, error) {
	if opts == nil {
		opts = &CmdOpts{}
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("command is empty")
	}
	cmdArgs := []string{obj.ExecScript}
	cmdArgs = append(cmdArgs, envList(opts.Env)...)
	if opts.Shell {
		cmdArgs = append(cmdArgs, obj.Shell, "-e")
	}
	cmdArgs = append(cmdArgs, args...)
	return obj.spawn(ctx, obj.sem, cmdArgs, mergeEnv(obj.Env), opts.Input, capture)
}

// Exec starts a command on the target and returns a handle on the transport
// process. The caller must Wait on the handle.
func (obj *Remote) Exec(ctx context.Context, args []string, opts *CmdOpts) (*Process, error) {
	return obj.start(ctx, args, opts, false)
}

// Call runs a command on the target to completion and returns the exit status
// reported by the transport. A non zero exit status is not an error.
func (obj *Remote) Call(ctx context.Context, args []string, opts *CmdOpts) (int, error) {
	p, err := obj.Exec(ctx, args, opts)
	if err != nil {
		return -1, err
	}
	return p.Wait()
}

// CheckCall runs a command on the target to completion and errors with an
// *ExecError when it exits non zero.
func (obj *Remote) CheckCall(ctx context.Context, args []string, opts *CmdOpts) error {
	p, err := obj.Exec(ctx, args, opts)
	if err != nil {
		return err
	}
	return checkCall(p)
}

// CheckOutput runs a command on the target to completion and returns its
// captured stdout. Stderr passes through untouched.
func (obj *Remote) CheckOutput(ctx context.Context, args []string, opts *CmdOpts) ([]byte, error) {
	p, err := obj.start(ctx, args, opts, true)
	if err != nil {
		return nil, err
	}
	if err := checkCall(p); err != nil {
		return nil, err
	}
	return p.Output(), nil
}

// Mkdir creates a directory on the target, parents included.
func (obj *Remote) Mkdir(ctx context.Context, p string) error {
	return obj.CheckCall(ctx, []string{"mkdir", "-p", p}, nil)
}

// Rmdir removes a directory tree on the target.
func (obj *Remote) Rmdir(ctx context.Context, p string) error {
	return obj.CheckCall(ctx, []string{"rm", "-rf", p}, nil)
}

// Copy moves a single local file or directory to the target by handing the
// source and destination paths to the transport copy script.
func (obj *Remote) Copy(ctx context.Context, source, destination string) error {
	args := []string{obj.CopyScript, source, destination}
	p, err := obj.spawn(ctx, obj.copySem, args, mergeEnv(obj.Env), nil, false)
	if err != nil {
		return err
	}
	return checkCall(p)
}

// Transfer replaces the destination path on the target with the given local
// file or directory. Directories transfer one level deep, their visible
// entries are copied in parallel, which is where the copy semaphore earns its
// keep.
func (obj *Remote) Transfer(ctx context.Context, source, destination string) error {
	if err := obj.Rmdir(ctx, destination); err != nil {
		return err
	}
	fi, err := os.Stat(source)
	if err != nil {
		return errwrap.Wrapf(err, "could not stat %s", source)
	}
	if !fi.IsDir() {
		return obj.Copy(ctx, source, destination)
	}

	if err := obj.Mkdir(ctx, destination); err != nil {
		return err
	}
	entries, err := os.ReadDir(source)
	if err != nil {
		return errwrap.Wrapf(err, "could not read %s", source)
	}
	wg, ectx := errgroup.WithContext(ctx)
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") { // hidden files stay home
			continue
		}
		wg.Go(func() error {
			return obj.Copy(ectx, filepath.Join(source, name), path.Join(destination, name))
		})
	}
	return wg.Wait()
}
