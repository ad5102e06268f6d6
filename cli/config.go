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
	"os"
	"path/filepath"
	"strings"

	cliUtil "github.com/cdist-ng/cdng/cli/util"
	"github.com/cdist-ng/cdng/core"
	"github.com/cdist-ng/cdng/runtime"
	"github.com/cdist-ng/cdng/session"
	"github.com/cdist-ng/cdng/target"
	"github.com/cdist-ng/cdng/util"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// ConfigArgs is the CLI parsing structure and type of the parsed result. This
// particular one is the `config` subcommand, the one everything else exists
// for: it realizes what the manifests declare on every given target.
type ConfigArgs struct {
	Config string `arg:"--config,env:CDIST_CONFIG" help:"path to the settings file"`

	Manifest string `arg:"-m,--manifest" help:"path to the initial manifest, - reads it from stdin"`

	OnlyTag    []string `arg:"--only-tag,separate" help:"realize only objects carrying this tag"`
	IncludeTag []string `arg:"--include-tag,separate" help:"realize untagged objects plus objects carrying this tag"`
	ExcludeTag []string `arg:"--exclude-tag,separate" help:"never realize objects carrying this tag"`

	DryRun bool `arg:"-n,--dry-run" help:"generate all code but do not transfer or execute it"`

	Sequential bool `arg:"-s,--sequential" help:"work on the targets one after another (default)"`
	Parallel   bool `arg:"-p,--parallel" help:"work on all targets at the same time"`

	Targets []string `arg:"positional" help:"target URLs to configure"`
}

// Run executes this subcommand. It returns true as soon as the command
// activated, even when it then fails, so the caller knows not to print usage.
func (obj *ConfigArgs) Run(ctx context.Context, data *cliUtil.Data) (bool, error) {
	cliUtil.Hello(data.Program, data.Version, data.Flags)
	if len(obj.Targets) == 0 {
		return true, nil // nothing to do is a successful run
	}
	if obj.Sequential && obj.Parallel {
		return true, cliUtil.CliParseError(fmt.Errorf("use either --sequential or --parallel"))
	}

	// tags may come one per flag or comma separated within one
	only := util.FlattenListWithSplit(obj.OnlyTag, []string{",", " "})
	include := util.FlattenListWithSplit(obj.IncludeTag, []string{",", " "})
	exclude := util.FlattenListWithSplit(obj.ExcludeTag, []string{",", " "})
	if err := validateTags(only, include, exclude); err != nil {
		return true, err
	}

	fs := afero.NewOsFs()
	settings, err := LoadSettings(fs, obj.Config)
	if err != nil {
		return true, err
	}

	s := &session.Session{
		Manifest:        obj.Manifest,
		Stdin:           os.Stdin,
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
	for _, targetURL := range obj.Targets {
		if _, err := s.AddTarget(targetURL); err != nil {
			return true, err
		}
	}

	sessionDir, err := afero.TempDir(fs, "", "cdist-session-")
	if err != nil {
		return true, err
	}
	if err := s.ToDir(fs, sessionDir); err != nil {
		return true, err
	}
	data.Flags.Logf("config: session: %s", sessionDir)

	runTarget := func(ctx context.Context, t *target.Target) error {
		logf := func(format string, v ...interface{}) {
			data.Flags.Logf(t.Host+": "+format, v...)
		}
		if !data.Flags.Verbose && !data.Flags.Debug {
			logf = func(format string, v ...interface{}) {} // quiet run
		}
		rt := &runtime.Runtime{
			SessionDir:        sessionDir,
			RemoteDir:         s.RemoteCacheDir(),
			Target:            t,
			TargetDir:         filepath.Join(sessionDir, "targets", t.Identifier()),
			DryRun:            obj.DryRun,
			OnlyTags:          only,
			IncludeTags:       include,
			ExcludeTags:       exclude,
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
		return rt.Configure(ctx)
	}

	if !obj.Parallel {
		for _, t := range s.Targets {
			if err := runTarget(ctx, t); err != nil {
				return true, err
			}
		}
		return true, nil
	}

	wg, ectx := errgroup.WithContext(ctx)
	for _, t := range s.Targets {
		t := t // copy
		wg.Go(func() error {
			return runTarget(ectx, t)
		})
	}
	return true, wg.Wait()
}

// validateTags checks the tag selection for contradictions. Asking for only
// some tags and additionally including others makes no sense, and a tag can
// not be selected and excluded at the same time.
func validateTags(only, include, exclude []string) error {
	if len(only) > 0 && len(include) > 0 {
		return &core.ConflictingTagsError{
			Message: "--only-tag and --include-tag are mutually exclusive",
		}
	}
	selected := append(append([]string{}, only...), include...)
	if overlap := util.StrListIntersection(selected, exclude); len(overlap) > 0 {
		return &core.ConflictingTagsError{
			Message: fmt.Sprintf("tags both selected and excluded: %s", strings.Join(overlap, ", ")),
		}
	}
	return nil
}
