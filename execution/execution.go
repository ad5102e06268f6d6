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

// Package execution runs the subprocesses that realize a target. Every piece
// of user supplied logic in a session is a script, and the two executors in
// this package decide where such a script runs. The Local executor spawns
// processes on the machine cdist itself runs on. The Remote executor hands
// them to the transport scripts of a target, so that the same call site works
// no matter where the code has to land.
//
// Both executors cap the number of processes they keep in flight with
// semaphores, and both can be slowed down with a rate limit. Commands run in
// their own process group and are killed when the surrounding context is
// cancelled or runs out of time.
package execution

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/cdist-ng/cdng/util"
	"github.com/cdist-ng/cdng/util/errwrap"
	"github.com/cdist-ng/cdng/util/semaphore"

	"golang.org/x/time/rate"
)

const (
	// DefaultShell runs scripts when no shell was configured.
	DefaultShell = "/bin/sh"

	// DefaultLocalParallelism is the local process cap when neither an
	// option nor the environment changed it.
	DefaultLocalParallelism = 20

	// DefaultRemoteParallelism is the transport process cap when neither an
	// option nor the environment changed it.
	DefaultRemoteParallelism = 5
)

// CmdOpts adjusts a single command run by one of the executors.
type CmdOpts struct {
	// Env is overlaid onto the environment a command runs with. The Local
	// executor passes these variables through the process environment. The
	// Remote executor linearizes them into KEY=VALUE words in front of the
	// command, because the transport script is the only channel to the
	// other side.
	Env map[string]string

	// Shell wraps the command in the executor shell with errexit set, so
	// that scripts abort on the first failing line.
	Shell bool

	// Input is fed to the child on stdin when it is not nil. When it is
	// nil, the child inherits our stdin.
	Input []byte
}

// Process is a handle on a started subprocess. It is returned by the Exec
// methods of the executors and must be waited on exactly once, or the
// semaphore slot it holds is never given back.
type Process struct {
	// Args is the final argv the subprocess was started with.
	Args []string

	ctx     context.Context
	cmd     *exec.Cmd
	capture *bytes.Buffer // captured stdout or nil

	releaseOnce *sync.Once
	release     func()
}

// Output returns the captured stdout of the process. It returns nil unless
// the process was started with capturing enabled, and it only holds the
// complete output once Wait returned.
func (obj *Process) Output() []byte {
	if obj.capture == nil {
		return nil
	}
	return obj.capture.Bytes()
}

// Wait blocks until the subprocess exited and returns its exit status. A non
// zero exit is not an error here, the Check variants turn it into one. If the
// context that started the process ran out of time, the process was killed
// and a *TimeoutError with any captured partial output is returned instead.
func (obj *Process) Wait() (int, error) {
	defer obj.releaseOnce.Do(obj.release)
	err := obj.cmd.Wait() // this should block until the process exits

	if ctxErr := obj.ctx.Err(); ctxErr == context.DeadlineExceeded {
		return -1, &TimeoutError{
			Cmd:    obj.Args,
			Output: obj.Output(),
		}
	} else if ctxErr != nil {
		return -1, ctxErr // cancelled, not a failure of the command
	}

	if err == nil {
		return 0, nil
	}
	exitErr, ok := err.(*exec.ExitError) // embeds an os.ProcessState
	if !ok {
		return -1, errwrap.Wrapf(err, "error waiting for cmd")
	}
	wStatus, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return -1, errwrap.Wrapf(err, "error running cmd")
	}
	return wStatus.ExitStatus(), nil
}

// executor holds what the Local and Remote executors have in common, which is
// the process accounting and the actual spawning of children.
type executor struct {
	sem     *semaphore.Semaphore // exec slots
	copySem *semaphore.Semaphore // copy slots
	limiter *rate.Limiter
	debug   bool
	logf    func(format string, v ...interface{})
}

// spawn starts argv as a subprocess in its own process group. It waits for
// the rate limiter and for a slot in the given semaphore, and it transfers
// the held slot into the returned Process.
func (obj *executor) spawn(ctx context.Context, sem *semaphore.Semaphore, args []string, env []string, input []byte, capture bool) (*Process, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("command is empty")
	}
	if err := obj.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if err := sem.P(ctx); err != nil {
		return nil, err
	}
	if obj.debug {
		obj.logf("cmd: %s", strings.Join(args, " "))
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Env = env
	// ignore signals sent to the parent process (we're in our own group)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
		Pgid:    0,
	}
	if input != nil {
		cmd.Stdin = bytes.NewReader(input)
	} else {
		cmd.Stdin = os.Stdin
	}

	p := &Process{
		Args:        args,
		ctx:         ctx,
		cmd:         cmd,
		releaseOnce: &sync.Once{},
		release:     sem.V,
	}
	if capture {
		p.capture = &bytes.Buffer{}
		cmd.Stdout = p.capture
		cmd.Stderr = os.Stderr
	} else {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		p.releaseOnce.Do(p.release)
		return nil, errwrap.Wrapf(err, "error starting cmd")
	}
	return p, nil
}

// checkCall waits for a started process and maps a non zero exit status onto
// an *ExecError the way the Check variants of the executors promise.
func checkCall(p *Process) error {
	code, err := p.Wait()
	if err != nil {
		return err
	}
	if code != 0 {
		return &ExecError{
			Cmd:        p.Args,
			Returncode: code,
			Output:     p.Output(),
		}
	}
	return nil
}

// mergeEnv flattens the environment of the current process with any number of
// overlay maps. Later values win over earlier ones, and the result is sorted
// so that commands run reproducibly.
func mergeEnv(overlays ...map[string]string) []string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		s := strings.SplitN(kv, "=", 2)
		if len(s) != 2 {
			continue
		}
		env[s[0]] = s[1]
	}
	for _, overlay := range overlays {
		for k, v := range overlay {
			env[k] = v
		}
	}
	return envList(env)
}

// envList linearizes an environment map into sorted KEY=VALUE words.
func envList(env map[string]string) []string {
	result := []string{}
	for _, k := range util.StrMapKeys(env) {
		result = append(result, k+"="+env[k])
	}
	return result
}

// parallelismFromEnv reads a process cap from the named environment variable
// and falls back to the given default when it is not set.
func parallelismFromEnv(name string, fallback int) (int, error) {
	s := os.Getenv(name)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errwrap.Wrapf(err, "invalid %s", name)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: %d", name, n)
	}
	return n, nil
}
