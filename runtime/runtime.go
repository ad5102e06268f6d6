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

// Package runtime drives a single target through a configuration run. It
// owns the two executors, the type cache and the dependency store of the
// target, and implements the primitives objects are realized with: running
// explorers, manifests and gencode scripts, moving files over the
// local/remote boundary, and persisting state. The object manager in this
// package schedules the objects themselves.
package runtime

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cdist-ng/cdng/core"
	"github.com/cdist-ng/cdng/dependency"
	"github.com/cdist-ng/cdng/execution"
	"github.com/cdist-ng/cdng/target"
	"github.com/cdist-ng/cdng/util"
	"github.com/cdist-ng/cdng/util/errwrap"

	multierror "github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

// Runtime is the per target workhorse of a run. Every script a run starts,
// every file it moves and every piece of state it records for one target
// goes through here. A runtime is built once per target and is safe for use
// by the many goroutines which realize objects concurrently.
type Runtime struct {
	// SessionDir is the local session directory this run works out of.
	SessionDir string

	// RemoteDir is the session cache directory on the target.
	RemoteDir string

	// Target is the host being configured.
	Target *target.Target

	// TargetDir is the local state directory of the target, inside the
	// session tree.
	TargetDir string

	// DryRun stops every object after code generation, the generated
	// code is recorded but neither transferred nor executed.
	DryRun bool

	// OnlyTags, IncludeTags and ExcludeTags select which objects are
	// realized, see the object manager for the exact semantics.
	OnlyTags    []string
	IncludeTags []string
	ExcludeTags []string

	// Watch discovers freshly written objects with a filesystem watcher
	// on top of the regular collect points.
	Watch bool

	// LogLevel travels to every spawned script as __cdist_log_level.
	LogLevel string

	// LocalShell and RemoteShell override the shell of each executor.
	// Empty values keep the executor defaults.
	LocalShell  string
	RemoteShell string

	// LocalParallelism and RemoteParallelism override the process caps of
	// each executor. Zero keeps the executor defaults.
	LocalParallelism  int
	RemoteParallelism int

	// Debug also logs every command before the executors run it.
	Debug bool

	// Logf is the logging function for this runtime.
	Logf func(format string, v ...interface{})

	fs afero.Fs

	local  *execution.Local
	remote *execution.Remote

	deps    *dependency.Manager
	manager *ObjectManager

	typesMutex sync.Mutex
	types      map[string]*core.CdistType

	transferMutex sync.Mutex
	transferred   map[string]*transferOnce

	// targetMutex guards the mutable parts of Target, explorer values
	// and messages arrive from concurrent scripts.
	targetMutex sync.Mutex
}

// transferOnce latches the outcome of a one shot transfer. Whoever comes
// second waits for the first and shares its error.
type transferOnce struct {
	once sync.Once
	err  error
}

// Init validates the options and prepares the runtime for use.
func (obj *Runtime) Init() error {
	if obj.SessionDir == "" {
		return fmt.Errorf("the SessionDir is missing")
	}
	if obj.RemoteDir == "" {
		return fmt.Errorf("the RemoteDir is missing")
	}
	if obj.Target == nil {
		return fmt.Errorf("the Target is missing")
	}
	if obj.TargetDir == "" {
		return fmt.Errorf("the TargetDir is missing")
	}
	if obj.Logf == nil {
		return fmt.Errorf("the Logf function is missing")
	}
	if obj.LogLevel == "" {
		obj.LogLevel = "info"
	}

	obj.fs = afero.NewOsFs()

	obj.local = &execution.Local{
		Shell:       obj.LocalShell,
		Parallelism: obj.LocalParallelism,
		Debug:       obj.Debug,
		Logf: func(format string, v ...interface{}) {
			obj.Logf("local: "+format, v...)
		},
	}
	if err := obj.local.Init(); err != nil {
		return errwrap.Wrapf(err, "could not initialize the local executor")
	}

	obj.remote = &execution.Remote{
		ExecScript:  filepath.Join(obj.TargetDir, obj.Target.RemoteExec()),
		CopyScript:  filepath.Join(obj.TargetDir, obj.Target.RemoteCopy()),
		Env:         obj.Target.Env(),
		Shell:       obj.RemoteShell,
		Parallelism: obj.RemoteParallelism,
		Debug:       obj.Debug,
		Logf: func(format string, v ...interface{}) {
			obj.Logf("remote: "+format, v...)
		},
	}
	if err := obj.remote.Init(); err != nil {
		return errwrap.Wrapf(err, "could not initialize the remote executor")
	}

	obj.deps = dependency.New(obj.fs, filepath.Join(obj.TargetDir, "dependency"))
	obj.types = make(map[string]*core.CdistType)
	obj.transferred = make(map[string]*transferOnce)
	return nil
}

// Configure runs the full flow against the target: initialize both sides,
// gather the facts, run the initial manifest and realize every object it
// produced, directly or transitively.
func (obj *Runtime) Configure(ctx context.Context) error {
	if err := obj.Initialize(ctx); err != nil {
		return err
	}
	if err := obj.TransferGlobalExplorers(ctx); err != nil {
		return err
	}
	if err := obj.RunGlobalExplorers(ctx, nil); err != nil {
		return err
	}
	if err := obj.RunInitialManifest(ctx); err != nil {
		return err
	}
	if err := obj.ProcessObjects(ctx); err != nil {
		return err
	}
	return obj.Finalize()
}

// Initialize prepares both sides for the run: locally the object tree of
// the target, remotely the session skeleton. Everything a run creates is
// private to the invoking user.
func (obj *Runtime) Initialize(ctx context.Context) error {
	unix.Umask(0077)

	if err := obj.fs.MkdirAll(obj.objectBase(), 0700); err != nil {
		return errwrap.Wrapf(err, "could not create %s", obj.objectBase())
	}
	if err := obj.remote.Mkdir(ctx, obj.RemoteDir); err != nil {
		return err
	}
	if err := obj.remote.CheckCall(ctx, []string{"chmod", "0700", obj.RemoteDir}, nil); err != nil {
		return err
	}
	if err := obj.remote.Mkdir(ctx, path.Join(obj.RemoteDir, "conf")); err != nil {
		return err
	}
	return obj.remote.Mkdir(ctx, path.Join(obj.RemoteDir, "object"))
}

// TransferGlobalExplorers uploads the merged global explorers to the
// target. They only ever run over there.
func (obj *Runtime) TransferGlobalExplorers(ctx context.Context) error {
	source := filepath.Join(obj.SessionDir, "conf", "explorer")
	destination := path.Join(obj.RemoteDir, "conf", "explorer")
	if err := obj.remote.Transfer(ctx, source, destination); err != nil {
		return errwrap.Wrapf(err, "could not transfer the global explorers")
	}
	return obj.remote.CheckCall(ctx, []string{"chmod", "-R", "0700", destination}, nil)
}

// RunGlobalExplorers runs the named global explorers on the target, all of
// them when names is empty, and stores their output on the target record.
// The explorers are independent of each other and run concurrently, bounded
// by the parallelism of the remote executor.
func (obj *Runtime) RunGlobalExplorers(ctx context.Context, names []string) error {
	available, err := obj.explorerNames()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		names = available
	}
	for _, name := range names {
		if !util.StrInList(name, available) {
			return fmt.Errorf("no such explorer: %s", name)
		}
	}
	obj.Logf("running %d global explorers", len(names))

	remoteDir := path.Join(obj.RemoteDir, "conf", "explorer")
	wg, ectx := errgroup.WithContext(ctx)
	for _, name := range names {
		name := name
		wg.Go(func() error {
			opts := &execution.CmdOpts{
				Env: map[string]string{
					"__explorer": remoteDir,
				},
			}
			out, err := obj.remote.CheckOutput(ectx, []string{path.Join(remoteDir, name)}, opts)
			if err != nil {
				return errwrap.Wrapf(err, "explorer %s failed", name)
			}
			obj.targetMutex.Lock()
			obj.Target.Explorer[name] = util.Rstrip(string(out))
			obj.targetMutex.Unlock()
			return nil
		})
	}
	if err := wg.Wait(); err != nil {
		return err
	}
	return obj.syncTarget("explorer")
}

// RunInitialManifest runs the entry point manifest of the session for this
// target. Whatever objects it creates through the emulator are picked up by
// ProcessObjects afterwards.
func (obj *Runtime) RunInitialManifest(ctx context.Context) error {
	manifest := filepath.Join(obj.SessionDir, "manifest")
	exists, err := afero.Exists(obj.fs, manifest)
	if err != nil {
		return errwrap.Wrapf(err, "could not stat %s", manifest)
	}
	if !exists {
		return fmt.Errorf("the initial manifest is missing: %s", manifest)
	}
	obj.Logf("running the initial manifest")

	env := obj.baseEnv()
	env["__cdist_manifest"] = manifest
	opts := &execution.CmdOpts{
		Env:   env,
		Shell: true,
	}
	return obj.local.CheckCall(ctx, []string{manifest}, opts)
}

// ProcessObjects realizes every object the initial manifest created, plus
// everything those objects create while they run.
func (obj *Runtime) ProcessObjects(ctx context.Context) error {
	manager := &ObjectManager{
		Realizer:    obj,
		Deps:        obj.deps,
		OnlyTags:    obj.OnlyTags,
		IncludeTags: obj.IncludeTags,
		ExcludeTags: obj.ExcludeTags,
		DryRun:      obj.DryRun,
		Debug:       obj.Debug,
		Logf: func(format string, v ...interface{}) {
			obj.Logf("manager: "+format, v...)
		},
	}
	if err := manager.Init(); err != nil {
		return err
	}
	obj.manager = manager

	if obj.Watch {
		watcher := &ObjectWatcher{
			Runtime: obj,
			Manager: manager,
			Logf: func(format string, v ...interface{}) {
				obj.Logf("watch: "+format, v...)
			},
		}
		if err := watcher.Init(); err != nil {
			return errwrap.Wrapf(err, "could not watch the object tree")
		}
		defer watcher.Close()
	}

	return manager.Process(ctx)
}

// Finalize persists what the run accumulated on the target record, the
// explorer values and the message log.
func (obj *Runtime) Finalize() error {
	if obj.manager != nil {
		obj.Logf("realized %d objects", len(obj.manager.Realized()))
	}
	return obj.syncTarget("explorer", "messages")
}

// CollectObjects walks the object tree of the target and loads every object
// in it. The marker directory is what makes a directory an object, anything
// above it is just the type and object id path.
func (obj *Runtime) CollectObjects() ([]*core.CdistObject, error) {
	base := obj.objectBase()
	result := []*core.CdistObject{}
	exists, err := afero.DirExists(obj.fs, base)
	if err != nil {
		return nil, errwrap.Wrapf(err, "could not stat %s", base)
	}
	if !exists {
		return result, nil
	}

	marker := obj.Target.ObjectMarker
	err = afero.Walk(obj.fs, base, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() || info.Name() != marker {
			return nil
		}
		name, err := filepath.Rel(base, filepath.Dir(p))
		if err != nil {
			return errwrap.Wrapf(err, "could not derive the object name of %s", p)
		}
		cdistObject, err := obj.loadObject(name)
		if err != nil {
			return err
		}
		result = append(result, cdistObject)
		return filepath.SkipDir // nothing below the marker is an object
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RunTypeExplorers runs the explorers of the object's type on the target
// and stores their output on the object. The type explorers and the object
// parameters are uploaded first, the explorers of a type only once per run.
func (obj *Runtime) RunTypeExplorers(ctx context.Context, cdistObject *core.CdistObject) error {
	cdistType, err := obj.GetType(cdistObject.Type)
	if err != nil {
		return err
	}
	if len(cdistType.Explorer) == 0 {
		return nil
	}
	if err := obj.transferTypeExplorers(ctx, cdistType); err != nil {
		return err
	}
	if err := obj.transferObjectParameters(ctx, cdistObject); err != nil {
		return err
	}

	name := cdistObject.Name()
	explorerDir := path.Join(obj.RemoteDir, "conf", "type", cdistType.Name, "explorer")
	env := map[string]string{
		"__object":        obj.remoteObjectDir(name),
		"__object_name":   name,
		"__type_explorer": explorerDir,
		"__explorer":      path.Join(obj.RemoteDir, "conf", "explorer"),
	}
	if !cdistType.Singleton {
		env["__object_id"] = cdistObject.ObjectID
	}

	mutex := &sync.Mutex{}
	wg, ectx := errgroup.WithContext(ctx)
	for _, explorer := range cdistType.Explorer {
		explorer := explorer
		wg.Go(func() error {
			opts := &execution.CmdOpts{
				Env: env,
			}
			out, err := obj.remote.CheckOutput(ectx, []string{path.Join(explorerDir, explorer)}, opts)
			if err != nil {
				return errwrap.Wrapf(err, "explorer %s failed for %s", explorer, name)
			}
			mutex.Lock()
			cdistObject.Explorer[explorer] = util.Rstrip(string(out))
			mutex.Unlock()
			return nil
		})
	}
	if err := wg.Wait(); err != nil {
		return err
	}
	return obj.PersistObject(cdistObject, "explorer")
}

// RunTypeManifest runs the manifest of the object's type, which may create
// further objects through the emulator. A type without a manifest is fine.
func (obj *Runtime) RunTypeManifest(ctx context.Context, cdistObject *core.CdistObject) error {
	cdistType, err := obj.GetType(cdistObject.Type)
	if err != nil {
		return err
	}
	manifest := filepath.Join(obj.typeDir(cdistType.Name), "manifest")
	exists, err := afero.Exists(obj.fs, manifest)
	if err != nil {
		return errwrap.Wrapf(err, "could not stat %s", manifest)
	}
	if !exists {
		return nil
	}

	name := cdistObject.Name()
	obj.Logf("running the manifest of %s", name)
	env := obj.baseEnv()
	env["__cdist_manifest"] = manifest
	env["__object"] = obj.objectDir(name)
	env["__object_name"] = name
	env["__type"] = obj.typeDir(cdistType.Name)
	if !cdistType.Singleton {
		env["__object_id"] = cdistObject.ObjectID
	}
	return obj.messagesScope(name, env, func() error {
		opts := &execution.CmdOpts{
			Env:   env,
			Shell: true,
		}
		return obj.local.CheckCall(ctx, []string{manifest}, opts)
	})
}

// RunGencodeLocal generates the code the object wants to run on the local
// side and stores it on the object.
func (obj *Runtime) RunGencodeLocal(ctx context.Context, cdistObject *core.CdistObject) error {
	code, err := obj.runGencode(ctx, cdistObject, "local")
	if err != nil {
		return err
	}
	cdistObject.CodeLocal = code
	if code != "" {
		cdistObject.Changed = true
	}
	return nil
}

// RunGencodeRemote generates the code the object wants to run on the target
// and stores it on the object.
func (obj *Runtime) RunGencodeRemote(ctx context.Context, cdistObject *core.CdistObject) error {
	code, err := obj.runGencode(ctx, cdistObject, "remote")
	if err != nil {
		return err
	}
	cdistObject.CodeRemote = code
	if code != "" {
		cdistObject.Changed = true
	}
	return nil
}

// runGencode runs one of the two gencode scripts of the object's type and
// returns the emitted code. A type without the script generates nothing.
func (obj *Runtime) runGencode(ctx context.Context, cdistObject *core.CdistObject, kind string) (string, error) {
	cdistType, err := obj.GetType(cdistObject.Type)
	if err != nil {
		return "", err
	}
	script := filepath.Join(obj.typeDir(cdistType.Name), "gencode-"+kind)
	exists, err := afero.Exists(obj.fs, script)
	if err != nil {
		return "", errwrap.Wrapf(err, "could not stat %s", script)
	}
	if !exists {
		return "", nil
	}

	name := cdistObject.Name()
	env := map[string]string{
		"__global":      obj.TargetDir,
		"__object":      obj.objectDir(name),
		"__object_name": name,
		"__type":        obj.typeDir(cdistType.Name),
	}
	if !cdistType.Singleton {
		env["__object_id"] = cdistObject.ObjectID
	}

	var out []byte
	err = obj.messagesScope(name, env, func() error {
		opts := &execution.CmdOpts{
			Env:   env,
			Shell: true,
		}
		var err error
		out, err = obj.local.CheckOutput(ctx, []string{script}, opts)
		return err
	})
	if err != nil {
		return "", errwrap.Wrapf(err, "gencode-%s failed for %s", kind, name)
	}
	return util.Rstrip(string(out)), nil
}

// RunCodeLocal executes the generated local code of the object.
func (obj *Runtime) RunCodeLocal(ctx context.Context, cdistObject *core.CdistObject) error {
	name := cdistObject.Name()
	obj.Logf("executing code-local of %s", name)
	script := filepath.Join(obj.objectDir(name), "code-local")
	opts := &execution.CmdOpts{
		Shell: true,
	}
	return obj.local.CheckCall(ctx, []string{script}, opts)
}

// TransferCodeRemote uploads the generated remote code of the object into
// its remote object directory.
func (obj *Runtime) TransferCodeRemote(ctx context.Context, cdistObject *core.CdistObject) error {
	name := cdistObject.Name()
	source := filepath.Join(obj.objectDir(name), "code-remote")
	destination := path.Join(obj.remoteObjectDir(name), "code-remote")
	if err := obj.remote.Mkdir(ctx, obj.remoteObjectDir(name)); err != nil {
		return err
	}
	if err := obj.remote.Copy(ctx, source, destination); err != nil {
		return errwrap.Wrapf(err, "could not transfer code-remote of %s", name)
	}
	return obj.remote.CheckCall(ctx, []string{"chmod", "0700", destination}, nil)
}

// RunCodeRemote executes the previously transferred remote code of the
// object on the target.
func (obj *Runtime) RunCodeRemote(ctx context.Context, cdistObject *core.CdistObject) error {
	name := cdistObject.Name()
	obj.Logf("executing code-remote of %s", name)
	script := path.Join(obj.remoteObjectDir(name), "code-remote")
	opts := &execution.CmdOpts{
		Shell: true,
	}
	return obj.remote.CheckCall(ctx, []string{script}, opts)
}

// PersistObject flushes the named attributes of the object to its
// directory, everything when no keys are given.
func (obj *Runtime) PersistObject(cdistObject *core.CdistObject, keys ...string) error {
	return cdistObject.ToDir(obj.fs, obj.objectDir(cdistObject.Name()), keys...)
}

// GetType loads a type from the merged configuration. Types are immutable
// for the duration of a run and are cached.
func (obj *Runtime) GetType(name string) (*core.CdistType, error) {
	obj.typesMutex.Lock()
	defer obj.typesMutex.Unlock()
	if cdistType, ok := obj.types[name]; ok {
		return cdistType, nil
	}
	dir := obj.typeDir(name)
	exists, err := afero.DirExists(obj.fs, dir)
	if err != nil {
		return nil, errwrap.Wrapf(err, "could not stat %s", dir)
	}
	if !exists {
		return nil, fmt.Errorf("no such type: %s", name)
	}
	cdistType, err := core.TypeFromDir(obj.fs, dir, name)
	if err != nil {
		return nil, errwrap.Wrapf(err, "could not load type %s", name)
	}
	obj.types[name] = cdistType
	return cdistType, nil
}

// CreateObject writes a new object into the object tree of the target, or
// merges the request into the existing object when the same name was
// requested before with the same parameters. Requesting the same name with
// different parameters is fatal.
func (obj *Runtime) CreateObject(cdistObject *core.CdistObject, source string) (*core.CdistObject, error) {
	name := cdistObject.Name()
	dir := obj.objectDir(name)
	exists, err := afero.DirExists(obj.fs, dir)
	if err != nil {
		return nil, errwrap.Wrapf(err, "could not stat %s", dir)
	}
	if !exists {
		cdistObject.Source = []string{source}
		if err := cdistObject.ToDir(obj.fs, dir); err != nil {
			return nil, errwrap.Wrapf(err, "could not write %s", name)
		}
		obj.Logf("created object %s", name)
		return cdistObject, nil
	}

	existing, err := obj.loadObject(name)
	if err != nil {
		return nil, err
	}
	if err := existing.Cmp(cdistObject); err != nil {
		return nil, &core.CdistObjectError{
			Name:    name,
			Source:  append(existing.Source, source),
			Message: fmt.Sprintf("requested multiple times with conflicting parameters: %v", err),
		}
	}
	existing.Source = append(existing.Source, source)
	for _, tag := range cdistObject.Tags {
		existing.Tags = util.StrAppendUnique(existing.Tags, tag)
	}
	if err := existing.ToDir(obj.fs, dir, "source", "tags"); err != nil {
		return nil, errwrap.Wrapf(err, "could not update %s", name)
	}
	obj.Logf("reusing object %s", name)
	return existing, nil
}

// Deps exposes the dependency store of the target. The emulator records
// the edges its environment describes through it.
func (obj *Runtime) Deps() *dependency.Manager {
	return obj.deps
}

// ObjectDir returns the local directory holding the metadata of the named
// object.
func (obj *Runtime) ObjectDir(objectName string) string {
	return obj.objectDir(objectName)
}

// loadObject loads one object by name from the object tree of the target.
func (obj *Runtime) loadObject(objectName string) (*core.CdistObject, error) {
	typeName, _ := core.SplitName(objectName)
	cdistType, err := obj.GetType(typeName)
	if err != nil {
		return nil, err
	}
	cdistObject, err := cdistType.ObjectFromDir(obj.fs, obj.objectDir(objectName))
	if err != nil {
		return nil, errwrap.Wrapf(err, "could not load object %s", objectName)
	}
	return cdistObject, nil
}

// transferTypeExplorers uploads the explorers of a type once per run. The
// first object of the type does the work, everyone else shares the outcome.
func (obj *Runtime) transferTypeExplorers(ctx context.Context, cdistType *core.CdistType) error {
	obj.transferMutex.Lock()
	once, ok := obj.transferred[cdistType.Name]
	if !ok {
		once = &transferOnce{}
		obj.transferred[cdistType.Name] = once
	}
	obj.transferMutex.Unlock()

	once.once.Do(func() {
		source := filepath.Join(obj.typeDir(cdistType.Name), "explorer")
		destination := path.Join(obj.RemoteDir, "conf", "type", cdistType.Name, "explorer")
		obj.Logf("transferring the explorers of %s", cdistType.Name)
		if err := obj.remote.Transfer(ctx, source, destination); err != nil {
			once.err = errwrap.Wrapf(err, "could not transfer the explorers of %s", cdistType.Name)
			return
		}
		once.err = obj.remote.CheckCall(ctx, []string{"chmod", "-R", "0700", destination}, nil)
	})
	return once.err
}

// transferObjectParameters uploads the parameters of the object so that its
// explorers can read them on the target.
func (obj *Runtime) transferObjectParameters(ctx context.Context, cdistObject *core.CdistObject) error {
	name := cdistObject.Name()
	source := filepath.Join(obj.objectDir(name), "parameter")
	destination := path.Join(obj.remoteObjectDir(name), "parameter")
	if err := obj.remote.Transfer(ctx, source, destination); err != nil {
		return errwrap.Wrapf(err, "could not transfer the parameters of %s", name)
	}
	return nil
}

// messagesScope wraps one script invocation with the message exchange: the
// script reads what ran before it from the file named in __messages_in and
// may append to the file named in __messages_out. Lines it emitted are
// prefixed with the object name and added to the message log of the target,
// even when the script itself failed.
func (obj *Runtime) messagesScope(objectName string, env map[string]string, fn func() error) error {
	in, err := afero.TempFile(obj.fs, "", "cdist-messages-in-")
	if err != nil {
		return errwrap.Wrapf(err, "could not create the messages-in file")
	}
	defer obj.fs.Remove(in.Name())
	out, err := afero.TempFile(obj.fs, "", "cdist-messages-out-")
	if err != nil {
		in.Close()
		return errwrap.Wrapf(err, "could not create the messages-out file")
	}
	defer obj.fs.Remove(out.Name())
	out.Close()

	obj.targetMutex.Lock()
	messages := strings.Join(obj.Target.Messages, "\n")
	obj.targetMutex.Unlock()
	if messages != "" {
		messages += "\n"
	}
	if _, err := in.WriteString(messages); err != nil {
		in.Close()
		return errwrap.Wrapf(err, "could not write %s", in.Name())
	}
	if err := in.Close(); err != nil {
		return errwrap.Wrapf(err, "could not close %s", in.Name())
	}

	env["__messages_in"] = in.Name()
	env["__messages_out"] = out.Name()
	runErr := fn()

	b, err := afero.ReadFile(obj.fs, out.Name())
	if err != nil {
		err = errwrap.Wrapf(err, "could not read %s", out.Name())
		return multierror.Append(runErr, err).ErrorOrNil()
	}
	obj.targetMutex.Lock()
	for _, line := range strings.Split(string(b), "\n") {
		if line == "" {
			continue
		}
		obj.Target.Messages = append(obj.Target.Messages, fmt.Sprintf("%s:%s", objectName, line))
	}
	obj.targetMutex.Unlock()
	return runErr
}

// baseEnv builds the environment shared by the initial manifest and every
// type manifest. The bin directory of the session comes first on the PATH
// so that manifests resolve __sometype straight into the emulator.
func (obj *Runtime) baseEnv() map[string]string {
	return map[string]string{
		"PATH":                   filepath.Join(obj.SessionDir, "bin") + ":" + os.Getenv("PATH"),
		"__cdist_local_session":  obj.SessionDir,
		"__cdist_remote_session": obj.RemoteDir,
		"__cdist_local_target":   obj.TargetDir,
		"__cdist_log_level":      obj.LogLevel,
		"__manifest":             filepath.Join(obj.SessionDir, "conf", "manifest"),
		"__global":               obj.TargetDir,
		"__explorer":             filepath.Join(obj.TargetDir, "explorer"),
		"CDIST_INTERNAL":         "1",
	}
}

// explorerNames lists the global explorers the merged configuration ships.
func (obj *Runtime) explorerNames() ([]string, error) {
	dir := filepath.Join(obj.SessionDir, "conf", "explorer")
	infos, err := afero.ReadDir(obj.fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, errwrap.Wrapf(err, "could not read %s", dir)
	}
	names := []string{}
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		names = append(names, info.Name())
	}
	return names, nil
}

// syncTarget persists the named attributes of the target record.
func (obj *Runtime) syncTarget(keys ...string) error {
	obj.targetMutex.Lock()
	defer obj.targetMutex.Unlock()
	return obj.Target.ToDir(obj.fs, obj.TargetDir, keys...)
}

// objectBase returns the root of the local object tree of the target.
func (obj *Runtime) objectBase() string {
	return filepath.Join(obj.TargetDir, "object")
}

// objectDir returns the local directory holding the metadata of an object.
// The marker directory sits between the object id and the metadata so that
// nested object ids cannot collide with metadata files.
func (obj *Runtime) objectDir(objectName string) string {
	return filepath.Join(obj.objectBase(), objectName, obj.Target.ObjectMarker)
}

// remoteObjectDir returns the remote counterpart of an object directory.
func (obj *Runtime) remoteObjectDir(objectName string) string {
	return path.Join(obj.RemoteDir, "object", objectName, obj.Target.ObjectMarker)
}

// typeDir returns the directory of a type in the merged configuration.
func (obj *Runtime) typeDir(name string) string {
	return filepath.Join(obj.SessionDir, "conf", "type", name)
}
