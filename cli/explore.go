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
	"path/filepath"
	"sort"
	"strings"
	"sync"

	cliUtil "github.com/cdist-ng/cdng/cli/util"
	"github.com/cdist-ng/cdng/execution"
	"github.com/cdist-ng/cdng/runtime"
	"github.com/cdist-ng/cdng/session"
	"github.com/cdist-ng/cdng/util"
	"github.com/cdist-ng/cdng/util/errwrap"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// LocalTarget is the sentinel which runs the explorers on the machine cdist
// itself runs on, without any transport in between.
const LocalTarget = "__local__"

// ExploreArgs is the CLI parsing structure and type of the parsed result.
// This particular one is the `explore` subcommand: it gathers the facts of a
// target and prints them, without configuring anything.
type ExploreArgs struct {
	Config string `arg:"--config,env:CDIST_CONFIG" help:"path to the settings file"`

	Explorer []string `arg:"-e,--explorer,separate" help:"run the given explorers instead of all of them"`

	Parallel bool `arg:"-j,--parallel" help:"run the explorers concurrently"`

	Target string `arg:"positional" default:"__local__" help:"target URL to explore, the local machine when absent"`
}

// Run executes this subcommand.
func (obj *ExploreArgs) Run(ctx context.Context, data *cliUtil.Data) (bool, error) {
	cliUtil.Hello(data.Program, data.Version, data.Flags)
	names := util.FlattenListWithSplit(obj.Explorer, []string{",", " "})

	fs := afero.NewOsFs()
	settings, err := LoadSettings(fs, obj.Config)
	if err != nil {
		return true, err
	}

	s := &session.Session{
		RemoteCacheBase: settings.RemoteCacheBase,
	}
	if err := s.Init(); err != nil {
		return true, err
	}
	for _, dir := range confDirs(fs, settings) {
		if err := s.AddConfDir(fs, dir); err != nil {
			return true, err
		}
	}

	logf := func(format string, v ...interface{}) {
		data.Flags.Logf("explore: "+format, v...)
	}
	if !data.Flags.Verbose && !data.Flags.Debug {
		logf = func(format string, v ...interface{}) {} // keep the output clean
	}

	if obj.Target != LocalTarget {
		return true, obj.exploreTarget(ctx, data, s, settings, names, logf)
	}
	return true, obj.exploreLocal(ctx, data, s, settings, names, logf)
}

// exploreTarget gathers the facts over the transport stack, exactly the way
// a config run starts out.
func (obj *ExploreArgs) exploreTarget(ctx context.Context, data *cliUtil.Data, s *session.Session, settings *Settings, names []string, logf func(format string, v ...interface{})) error {
	fs := afero.NewOsFs()
	t, err := s.AddTarget(obj.Target)
	if err != nil {
		return err
	}
	sessionDir, err := afero.TempDir(fs, "", "cdist-session-")
	if err != nil {
		return err
	}
	if err := s.ToDir(fs, sessionDir); err != nil {
		return err
	}
	logf("session: %s", sessionDir)

	rt := &runtime.Runtime{
		SessionDir:        sessionDir,
		RemoteDir:         s.RemoteCacheDir(),
		Target:            t,
		TargetDir:         filepath.Join(sessionDir, "targets", t.Identifier()),
		LogLevel:          data.Flags.LogLevel(),
		LocalShell:        settings.LocalShell,
		RemoteShell:       settings.RemoteShell,
		LocalParallelism:  settings.LocalParallelism,
		RemoteParallelism: settings.RemoteParallelism,
		Debug:             data.Flags.Debug,
		Logf:              logf,
	}
	if err := rt.Init(); err != nil {
		return err
	}
	if err := rt.Initialize(ctx); err != nil {
		return err
	}
	if err := rt.TransferGlobalExplorers(ctx); err != nil {
		return err
	}
	if err := rt.RunGlobalExplorers(ctx, names); err != nil {
		return err
	}
	for _, name := range util.StrMapKeys(t.Explorer) {
		printExplorer(name, t.Explorer[name])
	}
	return nil
}

// exploreLocal runs the merged explorers directly through the local shell.
func (obj *ExploreArgs) exploreLocal(ctx context.Context, data *cliUtil.Data, s *session.Session, settings *Settings, names []string, logf func(format string, v ...interface{})) error {
	fs := afero.NewOsFs()
	sessionDir, err := afero.TempDir(fs, "", "cdist-session-")
	if err != nil {
		return err
	}
	if err := s.ToDir(fs, sessionDir); err != nil {
		return err
	}
	logf("session: %s", sessionDir)
	explorerDir := filepath.Join(sessionDir, "conf", "explorer")

	available := s.Explorers()
	if len(names) == 0 {
		names = available
	}
	for _, name := range names {
		if !util.StrInList(name, available) {
			return fmt.Errorf("no such explorer: %s", name)
		}
	}
	sort.Strings(names)

	local := &execution.Local{
		Shell:       settings.LocalShell,
		Parallelism: settings.LocalParallelism,
		Debug:       data.Flags.Debug,
		Logf: func(format string, v ...interface{}) {
			logf("local: "+format, v...)
		},
	}
	if err := local.Init(); err != nil {
		return err
	}

	run := func(ctx context.Context, name string) (string, error) {
		opts := &execution.CmdOpts{
			Env: map[string]string{
				"__explorer": explorerDir,
			},
			Shell: true,
		}
		out, err := local.CheckOutput(ctx, []string{filepath.Join(explorerDir, name)}, opts)
		if err != nil {
			return "", errwrap.Wrapf(err, "explorer %s failed", name)
		}
		return util.Rstrip(string(out)), nil
	}

	if !obj.Parallel {
		for _, name := range names {
			value, err := run(ctx, name)
			if err != nil {
				return err
			}
			printExplorer(name, value)
		}
		return nil
	}

	var mutex sync.Mutex
	values := map[string]string{}
	wg, ectx := errgroup.WithContext(ctx)
	for _, name := range names {
		name := name // copy
		wg.Go(func() error {
			value, err := run(ectx, name)
			if err != nil {
				return err
			}
			mutex.Lock()
			values[name] = value
			mutex.Unlock()
			return nil
		})
	}
	if err := wg.Wait(); err != nil {
		return err
	}
	for _, name := range names {
		printExplorer(name, values[name])
	}
	return nil
}

// printExplorer prints one explorer result. Every line carries the explorer
// name so multi line output stays attributable.
func printExplorer(name, value string) {
	for _, line := range strings.Split(value, "\n") {
		fmt.Printf("%s: %s\n", name, line)
	}
}
