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
	"strings"

	cliUtil "github.com/cdist-ng/cdng/cli/util"
)

// logLevels orders the levels a script may log at. A message shows when its
// level is at least the session level from __cdist_log_level, which defaults
// to error so that an unconfigured session stays quiet.
var logLevels = map[string]int{
	"debug":   0,
	"info":    1,
	"warning": 2,
	"error":   3,
}

// LogArgs is the CLI parsing structure and type of the parsed result. This
// particular one is the `log` subcommand, which manifests and scripts call
// to log through the session instead of scribbling on stderr themselves.
// The output format, LEVEL: message, is part of the contract scripts see.
type LogArgs struct {
	Level string `arg:"positional,required" help:"level to log at, one of: debug, info, warning, error"`

	Message []string `arg:"positional" help:"message to log"`
}

// Run executes this subcommand.
func (obj *LogArgs) Run(ctx context.Context, data *cliUtil.Data) (bool, error) {
	if !cliUtil.Internal() {
		return false, cliUtil.NotInsideSession
	}

	msgLevel, exists := logLevels[obj.Level]
	if !exists {
		return false, cliUtil.CliParseError(fmt.Errorf("unknown log level: %s", obj.Level))
	}
	sessionLevel, exists := logLevels[os.Getenv("__cdist_log_level")]
	if !exists {
		sessionLevel = logLevels["error"]
	}
	if msgLevel < sessionLevel {
		return true, nil // below the session level, swallow it
	}

	fmt.Fprintf(os.Stderr, "%s: %s\n", strings.ToUpper(obj.Level), strings.Join(obj.Message, " "))
	return true, nil
}
