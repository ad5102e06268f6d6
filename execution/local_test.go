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

package execution

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cdist-ng/cdng/core"
)

func newTestLocal(t *testing.T) *Local {
	t.Setenv("CDIST_LOCAL_SHELL", "")
	t.Setenv("CDIST_LOCAL_PARALLELISM", "")
	local := &Local{
		Parallelism: 4,
		Logf:        t.Logf,
	}
	if err := local.Init(); err != nil {
		t.Fatalf("init failed: %+v", err)
	}
	return local
}

func TestLocalCheckOutput(t *testing.T) {
	local := newTestLocal(t)
	out, err := local.CheckOutput(context.Background(), []string{"echo", "hello"}, nil)
	if err != nil {
		t.Fatalf("checkoutput failed: %+v", err)
	}
	if s := string(out); s != "hello\n" {
		t.Errorf("unexpected output: %q", s)
	}
}

func TestLocalShellErrexit(t *testing.T) {
	local := newTestLocal(t)
	opts := &CmdOpts{Shell: true}
	out, err := local.CheckOutput(context.Background(), []string{"-c", "false; echo nope"}, opts)
	if err == nil {
		t.Fatalf("expected an error, got output: %q", string(out))
	}
	execErr, ok := err.(*ExecError)
	if !ok {
		t.Fatalf("unexpected error: %+v", err)
	}
	if execErr.Returncode != 1 {
		t.Errorf("unexpected returncode: %d", execErr.Returncode)
	}
	if len(execErr.Output) != 0 {
		t.Errorf("errexit should have stopped the script, got: %q", string(execErr.Output))
	}
}

func TestLocalCall(t *testing.T) {
	local := newTestLocal(t)
	code, err := local.Call(context.Background(), []string{"-c", "exit 42"}, &CmdOpts{Shell: true})
	if err != nil {
		t.Fatalf("call failed: %+v", err)
	}
	if code != 42 {
		t.Errorf("unexpected exit status: expected 42, actual %d", code)
	}
}

func TestLocalEnvOverlay(t *testing.T) {
	local := newTestLocal(t)
	local.Env = map[string]string{
		"CDNG_TEST_BASE":     "base",
		"CDNG_TEST_OVERRIDE": "lost",
	}
	opts := &CmdOpts{
		Shell: true,
		Env: map[string]string{
			"CDNG_TEST_OVERRIDE": "won",
		},
	}
	out, err := local.CheckOutput(context.Background(), []string{"-c", `echo "$CDNG_TEST_BASE $CDNG_TEST_OVERRIDE"`}, opts)
	if err != nil {
		t.Fatalf("checkoutput failed: %+v", err)
	}
	if s := string(out); s != "base won\n" {
		t.Errorf("unexpected output: %q", s)
	}
}

func TestLocalInput(t *testing.T) {
	local := newTestLocal(t)
	opts := &CmdOpts{
		Shell: true,
		Input: []byte("line one\nline two\n"),
	}
	out, err := local.CheckOutput(context.Background(), []string{"-c", "cat"}, opts)
	if err != nil {
		t.Fatalf("checkoutput failed: %+v", err)
	}
	if s := string(out); s != "line one\nline two\n" {
		t.Errorf("unexpected output: %q", s)
	}
}

func TestLocalTimeout(t *testing.T) {
	local := newTestLocal(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := local.CheckOutput(ctx, []string{"-c", "echo partial; exec sleep 30"}, &CmdOpts{Shell: true})
	timeoutErr, ok := err.(*TimeoutError)
	if !ok {
		t.Fatalf("unexpected error: %+v", err)
	}
	if !strings.Contains(string(timeoutErr.Output), "partial") {
		t.Errorf("partial output is missing: %q", string(timeoutErr.Output))
	}
	if !core.IsCdistError(err) {
		t.Errorf("timeouts should be operator facing errors")
	}
	if n := local.sem.InUse(); n != 0 {
		t.Errorf("exec slot leaked: %d in use", n)
	}
}

func TestLocalCancel(t *testing.T) {
	local := newTestLocal(t)
	ctx, cancel := context.WithCancel(context.Background())
	p, err := local.Exec(ctx, []string{"sleep", "30"}, nil)
	if err != nil {
		t.Fatalf("exec failed: %+v", err)
	}
	cancel()
	if _, err := p.Wait(); err != context.Canceled {
		t.Errorf("unexpected error: %+v", err)
	}
	if n := local.sem.InUse(); n != 0 {
		t.Errorf("exec slot leaked: %d in use", n)
	}
}

func TestLocalParallelismCap(t *testing.T) {
	t.Setenv("CDIST_LOCAL_SHELL", "")
	t.Setenv("CDIST_LOCAL_PARALLELISM", "")
	local := &Local{
		Parallelism: 1,
		Logf:        t.Logf,
	}
	if err := local.Init(); err != nil {
		t.Fatalf("init failed: %+v", err)
	}

	execCtx, execCancel := context.WithCancel(context.Background())
	defer execCancel()
	p, err := local.Exec(execCtx, []string{"sleep", "30"}, nil)
	if err != nil {
		t.Fatalf("exec failed: %+v", err)
	}

	// the only slot is taken, so this has to block and then give up
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer waitCancel()
	if _, err := local.Exec(waitCtx, []string{"true"}, nil); err == nil {
		t.Errorf("expected the second exec to block")
	}
	if n := local.sem.InUse(); n != 1 {
		t.Errorf("unexpected slots in use: %d", n)
	}

	execCancel()
	if _, err := p.Wait(); err != context.Canceled {
		t.Errorf("unexpected error: %+v", err)
	}
	if n := local.sem.InUse(); n != 0 {
		t.Errorf("exec slot leaked: %d in use", n)
	}
}

func TestLocalCopy(t *testing.T) {
	local := newTestLocal(t)
	dir := t.TempDir()
	source := filepath.Join(dir, "messages")
	if err := os.WriteFile(source, []byte("payload\n"), 0640); err != nil {
		t.Fatalf("could not write source: %+v", err)
	}
	destination := filepath.Join(dir, "messages.in")
	if err := local.Copy(context.Background(), source, destination); err != nil {
		t.Fatalf("copy failed: %+v", err)
	}
	b, err := os.ReadFile(destination)
	if err != nil {
		t.Fatalf("could not read destination: %+v", err)
	}
	if s := string(b); s != "payload\n" {
		t.Errorf("unexpected content: %q", s)
	}
	fi, err := os.Stat(destination)
	if err != nil {
		t.Fatalf("could not stat destination: %+v", err)
	}
	if m := fi.Mode().Perm(); m != 0640 {
		t.Errorf("unexpected mode: %v", m)
	}
}

func TestLocalInitDefaults(t *testing.T) {
	t.Setenv("CDIST_LOCAL_SHELL", "")
	t.Setenv("CDIST_LOCAL_PARALLELISM", "")
	local := &Local{Logf: t.Logf}
	if err := local.Init(); err != nil {
		t.Fatalf("init failed: %+v", err)
	}
	if local.Shell != "/bin/sh" {
		t.Errorf("unexpected shell: %s", local.Shell)
	}
	if local.Parallelism != 20 {
		t.Errorf("unexpected parallelism: %d", local.Parallelism)
	}
	if n := local.sem.Size(); n != 20 {
		t.Errorf("unexpected semaphore size: %d", n)
	}
}

func TestLocalInitEnv(t *testing.T) {
	t.Setenv("CDIST_LOCAL_SHELL", "/bin/bash")
	t.Setenv("CDIST_LOCAL_PARALLELISM", "3")
	local := &Local{Logf: t.Logf}
	if err := local.Init(); err != nil {
		t.Fatalf("init failed: %+v", err)
	}
	if local.Shell != "/bin/bash" {
		t.Errorf("unexpected shell: %s", local.Shell)
	}
	if n := local.sem.Size(); n != 3 {
		t.Errorf("unexpected semaphore size: %d", n)
	}
}

func TestLocalInitErrors(t *testing.T) {
	if err := (&Local{}).Init(); err == nil {
		t.Errorf("expected an error for the missing Logf")
	}

	t.Setenv("CDIST_LOCAL_PARALLELISM", "banana")
	if err := (&Local{Logf: t.Logf}).Init(); err == nil {
		t.Errorf("expected an error for the bad parallelism")
	}
	t.Setenv("CDIST_LOCAL_PARALLELISM", "0")
	if err := (&Local{Logf: t.Logf}).Init(); err == nil {
		t.Errorf("expected an error for the zero parallelism")
	}

	t.Setenv("CDIST_LOCAL_PARALLELISM", "")
	local := &Local{
		Logf:  t.Logf,
		Limit: 5, // burst left at zero
	}
	if err := local.Init(); err == nil {
		t.Errorf("expected an error for the blocked limiter")
	}
}

func TestExecErrors(t *testing.T) {
	execErr := &ExecError{
		Cmd:        []string{"sh", "-c", "false"},
		Returncode: 1,
	}
	if s := execErr.Error(); s != "command returned non-zero exit status 1: sh -c false" {
		t.Errorf("unexpected message: %q", s)
	}
	if !core.IsCdistError(execErr) {
		t.Errorf("exec errors should be operator facing errors")
	}

	timeoutErr := &TimeoutError{Cmd: []string{"sleep", "9"}}
	if s := timeoutErr.Error(); s != "command timed out: sleep 9" {
		t.Errorf("unexpected message: %q", s)
	}
	if !core.IsCdistError(timeoutErr) {
		t.Errorf("timeout errors should be operator facing errors")
	}
}
