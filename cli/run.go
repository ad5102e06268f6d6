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

package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	cliUtil "github.com/cdist-ng/cdng/cli/util"
	"github.com/cdist-ng/cdng/execution"
	"github.com/cdist-ng/cdng/util"

	"golang.org/x/sync/errgroup"
)

// RunArgs is the CLI parsing structure and type of the parsed result. This
// particular one is the `run` subcommand, a small harness that pushes the
// given code through the local executor a number of times concurrently. It
// exists for poking at executor behaviour, not for configuring anything.
type RunArgs struct {
	Mode  string `arg:"--mode" default:"shell" help:"how to interpret the code, one of: shell, exec"`
	Count int    `arg:"--count" default:"1" help:"number of concurrent runs"`

	Code []string `arg:"positional,required" help:"code to run"`
}

// Run executes this subcommand.
func (obj *RunArgs) Run(ctx context.Context, data *cliUtil.Data) (bool, error) {
	cliUtil.Hello(data.Program, data.Version, data.Flags)

	switch obj.Mode {
	case "shell", "exec":
		// ok
	default:
		return false, cliUtil.CliParseError(fmt.Errorf("unknown mode: %s", obj.Mode))
	}
	if obj.Count < 1 {
		return false, cliUtil.CliParseError(fmt.Errorf("count must be at least one"))
	}

	local := &execution.Local{
		Debug: data.Flags.Debug,
		Logf:  data.Flags.Logf,
	}
	if err := local.Init(); err != nil {
		return false, err
	}

	timeStart := time.Now()
	outputs := make([][]byte, obj.Count)
	wg, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < obj.Count; i++ {
		i := i
		wg.Go(func() error {
			out, err := obj.runCode(groupCtx, local)
			if err != nil {
				return err
			}
			outputs[i] = out
			return nil
		})
	}
	if err := wg.Wait(); err != nil {
		return false, err
	}
	for _, out := range outputs {
		fmt.Println(util.Rstrip(string(out)))
	}
	if data.Flags.Verbose || data.Flags.Debug {
		data.Flags.Logf("total processing time: %s", time.Since(timeStart))
	}
	return true, nil
}

// runCode runs one copy of the code. Shell mode joins the words back into a
// single command line and hands it to the executor shell, exec mode treats
// them as an argv and runs it directly.
func (obj *RunArgs) runCode(ctx context.Context, local *execution.Local) ([]byte, error) {
	if obj.Mode == "exec" {
		return local.CheckOutput(ctx, obj.Code, &execution.CmdOpts{})
	}
	cmd := strings.Join(obj.Code, " ")
	return local.CheckOutput(ctx, []string{"-c", cmd}, &execution.CmdOpts{Shell: true})
}
