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

// Package session assembles the working directory one cdist invocation runs
// out of. Any number of conf directories are merged into a single view, later
// additions shadowing earlier ones, and the merged view is materialized as a
// farm of symlinks so that every shell script sees one consistent tree no
// matter how many sources it came from. The session also carries the targets
// to work on and the initial manifest that seeds them.
package session

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cdist-ng/cdng/cconfig"
	"github.com/cdist-ng/cdng/target"
	"github.com/cdist-ng/cdng/util"
	"github.com/cdist-ng/cdng/util/errwrap"

	"github.com/spf13/afero"
)

// DefaultRemoteCacheBase is where targets keep their session directories.
const DefaultRemoteCacheBase = "/var/cache/cdist"

// confSubdirs are the parts of a conf directory that take part in the merge.
var confSubdirs = []string{"explorer", "file", "manifest", "transport", "type"}

var sessionSchema = cconfig.Schema{
	{Key: "conf-dirs", Kind: cconfig.List},
	{Key: "exec-path", Kind: cconfig.Scalar},
	{Key: "session-id", Kind: cconfig.Scalar},
}

var confSchema = cconfig.Schema{
	{Key: "explorer", Kind: cconfig.SymlinkMap},
	{Key: "file", Kind: cconfig.SymlinkMap},
	{Key: "manifest", Kind: cconfig.SymlinkMap},
	{Key: "transport", Kind: cconfig.SymlinkMap},
	{Key: "type", Kind: cconfig.SymlinkMap},
}

// Session is one invocation of cdist. It is built up in memory with
// AddConfDir and AddTarget and then written out with ToDir, after which
// everything in it is plain files that shell scripts can work with.
type Session struct {
	// SessionID names this invocation. Init generates one from the time,
	// the machine and the pid when it is empty.
	SessionID string

	// ExecPath is the executable the emulator symlinks in bin point at.
	// Init defaults it to the running binary.
	ExecPath string

	// Manifest selects the initial manifest. Empty means the merged
	// conf/manifest/init, and "-" reads it from Stdin.
	Manifest string

	// Stdin supplies the initial manifest when Manifest is "-".
	Stdin io.Reader

	// RemoteCacheBase is the directory on a target under which its session
	// directory lives.
	RemoteCacheBase string

	// ConfDirs are the merged conf directories, in the order they were
	// added.
	ConfDirs []string

	// Targets are the targets this session works on.
	Targets []*target.Target

	conf map[string]map[string]string // subdir -> entry -> source path
}

// Init prepares the session for use.
func (obj *Session) Init() error {
	if obj.SessionID == "" {
		obj.SessionID = fmt.Sprintf("%s-%s-%d", time.Now().Format("2006-01-02-15:04:05"), fqdn(), os.Getpid())
	}
	if obj.ExecPath == "" {
		p, err := os.Executable()
		if err != nil {
			return errwrap.Wrapf(err, "could not determine the executable path")
		}
		obj.ExecPath = p
	}
	if obj.RemoteCacheBase == "" {
		obj.RemoteCacheBase = DefaultRemoteCacheBase
	}
	if obj.ConfDirs == nil {
		obj.ConfDirs = []string{}
	}
	if obj.Targets == nil {
		obj.Targets = []*target.Target{}
	}
	if obj.conf == nil {
		obj.conf = map[string]map[string]string{}
		for _, sub := range confSubdirs {
			obj.conf[sub] = map[string]string{}
		}
	}
	return nil
}

// RemoteCacheDir returns the session directory used on every target.
func (obj *Session) RemoteCacheDir() string {
	return path.Join(obj.RemoteCacheBase, obj.SessionID)
}

// AddConfDir merges a conf directory into the session. Entries shadow any
// earlier ones of the same name, so the last added conf dir wins. Adding the
// same directory twice is a no-op.
func (obj *Session) AddConfDir(fs afero.Fs, dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return errwrap.Wrapf(err, "could not resolve %s", dir)
	}
	if util.StrInList(abs, obj.ConfDirs) {
		return nil
	}
	if exists, err := afero.DirExists(fs, abs); err != nil {
		return errwrap.Wrapf(err, "could not stat %s", abs)
	} else if !exists {
		return fmt.Errorf("no such conf directory: %s", abs)
	}
	obj.ConfDirs = append(obj.ConfDirs, abs)

	for _, sub := range confSubdirs {
		subDir := filepath.Join(abs, sub)
		if exists, err := afero.DirExists(fs, subDir); err != nil {
			return errwrap.Wrapf(err, "could not stat %s", subDir)
		} else if !exists {
			continue
		}
		infos, err := afero.ReadDir(fs, subDir)
		if err != nil {
			return errwrap.Wrapf(err, "could not read %s", subDir)
		}
		for _, info := range infos {
			obj.conf[sub][info.Name()] = filepath.Join(subDir, info.Name())
		}
	}
	return nil
}

// AddTarget adds a target to work on. Its transport schemes must all be
// available in the merged conf view.
func (obj *Session) AddTarget(targetURL string) (*target.Target, error) {
	t, err := target.New(targetURL, obj.conf["transport"])
	if err != nil {
		return nil, err
	}
	obj.Targets = append(obj.Targets, t)
	return t, nil
}

// Types returns the names of all types in the merged conf view.
func (obj *Session) Types() []string {
	return util.StrMapKeys(obj.conf["type"])
}

// Explorers returns the names of all global explorers in the merged view.
func (obj *Session) Explorers() []string {
	return util.StrMapKeys(obj.conf["explorer"])
}

// initialManifest resolves the content of the initial manifest. A session
// without one gets an empty manifest, which is a valid run that realizes
// nothing.
func (obj *Session) initialManifest(fs afero.Fs) ([]byte, error) {
	if obj.Manifest == "-" {
		if obj.Stdin == nil {
			return nil, fmt.Errorf("no stdin to read the initial manifest from")
		}
		b, err := io.ReadAll(obj.Stdin)
		if err != nil {
			return nil, errwrap.Wrapf(err, "could not read the initial manifest from stdin")
		}
		return b, nil
	}
	if obj.Manifest != "" {
		b, err := afero.ReadFile(fs, obj.Manifest)
		if err != nil {
			return nil, errwrap.Wrapf(err, "could not read the initial manifest %s", obj.Manifest)
		}
		return b, nil
	}
	if source, exists := obj.conf["manifest"]["init"]; exists {
		b, err := afero.ReadFile(fs, source)
		if err != nil {
			return nil, errwrap.Wrapf(err, "could not read the initial manifest %s", source)
		}
		return b, nil
	}
	return []byte{}, nil
}

// ToDir stores this session in a directory for use by shell scripts. The
// merged conf view becomes a symlink farm, bin fills up with one emulator
// link per type, and each target gets a directory of its own.
func (obj *Session) ToDir(fs afero.Fs, dir string) error {
	if err := fs.MkdirAll(dir, 0700); err != nil {
		return errwrap.Wrapf(err, "could not create %s", dir)
	}
	values := cconfig.Values{
		"conf-dirs":  obj.ConfDirs,
		"exec-path":  obj.ExecPath,
		"session-id": obj.SessionID,
	}
	if err := cconfig.ToDir(fs, dir, values, sessionSchema); err != nil {
		return err
	}

	confValues := cconfig.Values{}
	for _, sub := range confSubdirs {
		confValues[sub] = obj.conf[sub]
	}
	if err := cconfig.ToDir(fs, filepath.Join(dir, "conf"), confValues, confSchema); err != nil {
		return err
	}

	if err := obj.writeBinDir(fs, filepath.Join(dir, "bin")); err != nil {
		return err
	}

	manifest, err := obj.initialManifest(fs)
	if err != nil {
		return err
	}
	if err := afero.WriteFile(fs, filepath.Join(dir, "manifest"), manifest, 0700); err != nil {
		return errwrap.Wrapf(err, "could not write the initial manifest")
	}

	targetsDir := filepath.Join(dir, "targets")
	if err := fs.MkdirAll(targetsDir, 0700); err != nil {
		return errwrap.Wrapf(err, "could not create %s", targetsDir)
	}
	for _, t := range obj.Targets {
		if err := t.ToDir(fs, filepath.Join(targetsDir, t.Identifier())); err != nil {
			return err
		}
	}
	return nil
}

// writeBinDir links every merged type name to the cdist executable, which is
// how manifests reach the emulator through PATH.
func (obj *Session) writeBinDir(fs afero.Fs, dir string) error {
	linkfs, ok := fs.(afero.Symlinker)
	if !ok {
		return fmt.Errorf("filesystem does not support symlinks")
	}
	if err := fs.MkdirAll(dir, 0700); err != nil {
		return errwrap.Wrapf(err, "could not create %s", dir)
	}
	for _, name := range obj.Types() {
		destination := filepath.Join(dir, name)
		if _, _, err := linkfs.LstatIfPossible(destination); err == nil {
			if err := fs.Remove(destination); err != nil {
				return errwrap.Wrapf(err, "could not remove %s", destination)
			}
		}
		if err := linkfs.SymlinkIfPossible(obj.ExecPath, destination); err != nil {
			return errwrap.Wrapf(err, "could not symlink %s", destination)
		}
	}
	return nil
}

// FromDir loads a stored session from a directory.
func FromDir(fs afero.Fs, dir string) (*Session, error) {
	values, err := cconfig.FromDir(fs, dir, sessionSchema)
	if err != nil {
		return nil, err
	}
	obj := &Session{
		SessionID: values.Str("session-id"),
		ExecPath:  values.Str("exec-path"),
		ConfDirs:  values.List("conf-dirs"),
	}
	if err := obj.Init(); err != nil {
		return nil, err
	}

	confValues, err := cconfig.FromDir(fs, filepath.Join(dir, "conf"), confSchema)
	if err != nil {
		return nil, err
	}
	for _, sub := range confSubdirs {
		obj.conf[sub] = confValues.Map(sub)
	}

	targetsDir := filepath.Join(dir, "targets")
	if exists, err := afero.DirExists(fs, targetsDir); err != nil {
		return nil, errwrap.Wrapf(err, "could not stat %s", targetsDir)
	} else if exists {
		infos, err := afero.ReadDir(fs, targetsDir)
		if err != nil {
			return nil, errwrap.Wrapf(err, "could not read %s", targetsDir)
		}
		for _, info := range infos {
			t, err := target.FromDir(fs, filepath.Join(targetsDir, info.Name()))
			if err != nil {
				return nil, err
			}
			obj.Targets = append(obj.Targets, t)
		}
	}
	return obj, nil
}

// fqdn returns the best fully qualified name for this machine. DNS gets one
// quick chance, a plain hostname is good enough when it stays quiet.
func fqdn() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	if strings.Contains(hostname, ".") {
		return hostname
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	addrs, err := net.DefaultResolver.LookupHost(ctx, hostname)
	if err != nil {
		return hostname
	}
	for _, addr := range addrs {
		names, err := net.DefaultResolver.LookupAddr(ctx, addr)
		if err != nil {
			continue
		}
		for _, name := range names {
			name = strings.TrimSuffix(name, ".")
			if name != "" && name != "localhost" {
				return name
			}
		}
	}
	return hostname
}
