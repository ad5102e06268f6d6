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
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cdist-ng/cdng/cconfig"
	cliUtil "github.com/cdist-ng/cdng/cli/util"
	"github.com/cdist-ng/cdng/core"
	"github.com/cdist-ng/cdng/runtime"
	"github.com/cdist-ng/cdng/target"
	"github.com/cdist-ng/cdng/util"
	"github.com/cdist-ng/cdng/util/errwrap"

	"github.com/spf13/afero"
)

// EmulatorArgs is the emulator side of the CLI. It deliberately does not go
// through the static argument parser: a manifest line like
//
//	__file /etc/motd --source - --mode 0644
//
// resolves __file through the session bin directory back into this binary,
// and which flags exist is decided by the parameter declaration of the type,
// at runtime. So the emulator parses its argv itself, against the type.
type EmulatorArgs struct {
	// Argv is the raw argument vector after the subcommand name: the
	// type, then whatever the manifest passed.
	Argv []string
}

// requiredEnv is what a manifest run provides and the emulator cannot live
// without.
var requiredEnv = []string{
	"__cdist_local_session",
	"__cdist_remote_session",
	"__cdist_local_target",
	"__cdist_manifest",
}

// Main runs the emulator. Anything it returns makes the calling manifest
// fail, which is how a broken declaration aborts the run.
func (obj *EmulatorArgs) Main(ctx context.Context, data *cliUtil.Data) error {
	if len(obj.Argv) == 0 {
		return fmt.Errorf("the emulator needs a type to emulate")
	}
	typeName := filepath.Base(obj.Argv[0]) // tolerate a full path in argv[0]
	typeArgs := obj.Argv[1:]

	for _, name := range requiredEnv {
		if os.Getenv(name) == "" {
			return &core.MissingRequiredEnvironmentVariableError{Name: name}
		}
	}
	sessionDir := os.Getenv("__cdist_local_session")
	remoteDir := os.Getenv("__cdist_remote_session")
	targetDir := os.Getenv("__cdist_local_target")
	manifest := os.Getenv("__cdist_manifest")

	flags := data.Flags
	switch os.Getenv("__cdist_log_level") {
	case "debug":
		flags.Debug = true
	case "info":
		flags.Verbose = true
	}
	logf := func(format string, v ...interface{}) {}
	if flags.Verbose || flags.Debug {
		logf = func(format string, v ...interface{}) {
			flags.Logf(typeName+": "+format, v...)
		}
	}

	fs := afero.NewOsFs()
	t, err := target.FromDir(fs, targetDir)
	if err != nil {
		return err
	}
	rt := &runtime.Runtime{
		SessionDir: sessionDir,
		RemoteDir:  remoteDir,
		Target:     t,
		TargetDir:  targetDir,
		LogLevel:   flags.LogLevel(),
		Debug:      flags.Debug,
		Logf:       logf,
	}
	if err := rt.Init(); err != nil {
		return err
	}

	cdistType, err := rt.GetType(typeName)
	if err != nil {
		return err
	}
	objectID, parameter, err := parseTypeArgs(cdistType, typeArgs)
	if err != nil {
		return err
	}
	cdistObject, err := cdistType.NewObject(objectID)
	if err != nil {
		return err
	}
	for key, value := range parameter {
		cdistObject.Parameter[key] = value
	}
	if tags := os.Getenv("__cdist_tags"); tags != "" {
		cdistObject.Tags = util.FlattenListWithSplit([]string{tags}, []string{",", " "})
	}

	created, err := rt.CreateObject(cdistObject, manifest)
	if err != nil {
		return err
	}
	if err := captureStdin(fs, rt, created); err != nil {
		return err
	}

	// Our own edges come first: the auto guard below looks at them to
	// break the loop of a child explicitly ordering after its parent.
	deps := rt.Deps()
	me := created.Name()
	for _, pattern := range strings.Fields(os.Getenv("__cdist_require")) {
		if err := deps.Require(me, pattern); err != nil {
			return err
		}
	}
	for _, pattern := range strings.Fields(os.Getenv("__cdist_after")) {
		if err := deps.After(me, pattern); err != nil {
			return err
		}
	}
	for _, pattern := range strings.Fields(os.Getenv("__cdist_before")) {
		if err := deps.Before(me, pattern); err != nil {
			return err
		}
	}
	if parent := os.Getenv("__object_name"); parent != "" {
		if err := deps.Auto(parent, me); err != nil {
			return err
		}
	}
	return nil
}

// parseTypeArgs parses the argv of a type invocation against the parameter
// declaration of the type. It returns the object id and the parameter
// values, with defaults applied.
func parseTypeArgs(cdistType *core.CdistType, args []string) (string, cconfig.Values, error) {
	parameter := cdistType.Parameter
	values := cconfig.Values{}
	positionals := []string{}

	i := 0
	for i < len(args) {
		arg := args[i]
		i++
		if !strings.HasPrefix(arg, "--") {
			positionals = append(positionals, arg)
			continue
		}
		name := strings.TrimPrefix(arg, "--")
		value := ""
		hasValue := false
		if j := strings.Index(name, "="); j >= 0 {
			value = name[j+1:]
			name = name[:j]
			hasValue = true
		}
		takeValue := func() error {
			if hasValue {
				return nil
			}
			if i >= len(args) {
				return fmt.Errorf("%s: --%s needs a value", cdistType.Name, name)
			}
			value = args[i]
			i++
			return nil
		}

		switch {
		case util.StrInList(name, parameter.Boolean):
			if hasValue {
				return "", nil, fmt.Errorf("%s: --%s takes no value", cdistType.Name, name)
			}
			values[name] = true

		case util.StrInList(name, parameter.Required), util.StrInList(name, parameter.Optional):
			if err := takeValue(); err != nil {
				return "", nil, err
			}
			if _, exists := values[name]; exists {
				return "", nil, fmt.Errorf("%s: --%s given more than once", cdistType.Name, name)
			}
			values[name] = value

		case util.StrInList(name, parameter.RequiredMultiple), util.StrInList(name, parameter.OptionalMultiple):
			if err := takeValue(); err != nil {
				return "", nil, err
			}
			list, _ := values[name].([]string)
			values[name] = append(list, value)

		default:
			return "", nil, fmt.Errorf("%s: unknown parameter --%s", cdistType.Name, name)
		}
	}

	for _, name := range parameter.Required {
		if _, exists := values[name]; exists {
			continue
		}
		def, exists := parameter.Default[name]
		if !exists {
			return "", nil, fmt.Errorf("%s: required parameter --%s is missing", cdistType.Name, name)
		}
		values[name] = def
	}
	for _, name := range parameter.RequiredMultiple {
		if _, exists := values[name]; exists {
			continue
		}
		def, exists := parameter.Default[name]
		if !exists {
			return "", nil, fmt.Errorf("%s: required parameter --%s is missing", cdistType.Name, name)
		}
		values[name] = []string{def}
	}
	for _, name := range parameter.Optional {
		if _, exists := values[name]; exists {
			continue
		}
		if def, exists := parameter.Default[name]; exists {
			values[name] = def
		}
	}
	for _, name := range parameter.OptionalMultiple {
		if _, exists := values[name]; exists {
			continue
		}
		if def, exists := parameter.Default[name]; exists {
			values[name] = []string{def}
		}
	}

	if len(positionals) > 1 {
		return "", nil, fmt.Errorf("%s: unexpected argument: %s", cdistType.Name, positionals[1])
	}
	objectID := ""
	if len(positionals) == 1 {
		objectID = positionals[0]
	}
	return objectID, values, nil
}

// captureStdin persists piped stdin under the object, so that types can
// consume a stream the way __file does for --source -. An interactive run
// has nothing piped and captures nothing.
func captureStdin(fs afero.Fs, rt *runtime.Runtime, cdistObject *core.CdistObject) error {
	fi, err := os.Stdin.Stat()
	if err != nil {
		return nil // no stdin at all
	}
	if fi.Mode()&os.ModeCharDevice != 0 {
		return nil
	}
	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		return errwrap.Wrapf(err, "could not read stdin")
	}
	if len(b) == 0 {
		return nil
	}
	p := filepath.Join(rt.ObjectDir(cdistObject.Name()), "stdin")
	if err := afero.WriteFile(fs, p, b, 0600); err != nil {
		return errwrap.Wrapf(err, "could not write %s", p)
	}
	return nil
}
