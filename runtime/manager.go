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

package runtime

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cdist-ng/cdng/core"
	"github.com/cdist-ng/cdng/dependency"
	"github.com/cdist-ng/cdng/util"
	"github.com/cdist-ng/cdng/util/errwrap"

	"github.com/davecgh/go-spew/spew"
)

// cycleCheckInterval is how often the watchdog inspects the pending objects
// for a dependency deadlock.
const cycleCheckInterval = 500 * time.Millisecond

// Realizer runs the per object lifecycle stages. The runtime implements it
// on top of the two executors, tests may substitute something lighter.
type Realizer interface {
	// CollectObjects walks the object tree of the target and loads every
	// valid object found there.
	CollectObjects() ([]*core.CdistObject, error)

	// RunTypeExplorers runs the explorers of the object's type on the
	// target and stores their output on the object.
	RunTypeExplorers(ctx context.Context, cdistObject *core.CdistObject) error

	// RunTypeManifest runs the manifest of the object's type locally. The
	// manifest may create new objects through the emulator.
	RunTypeManifest(ctx context.Context, cdistObject *core.CdistObject) error

	// RunGencodeLocal runs the gencode-local script of the object's type
	// and stores the generated code on the object.
	RunGencodeLocal(ctx context.Context, cdistObject *core.CdistObject) error

	// RunGencodeRemote runs the gencode-remote script of the object's
	// type and stores the generated code on the object.
	RunGencodeRemote(ctx context.Context, cdistObject *core.CdistObject) error

	// RunCodeLocal executes the generated code-local script.
	RunCodeLocal(ctx context.Context, cdistObject *core.CdistObject) error

	// TransferCodeRemote uploads the generated code-remote script to the
	// target.
	TransferCodeRemote(ctx context.Context, cdistObject *core.CdistObject) error

	// RunCodeRemote executes the uploaded code-remote script on the
	// target.
	RunCodeRemote(ctx context.Context, cdistObject *core.CdistObject) error

	// PersistObject flushes the named attributes of the object to disk.
	PersistObject(cdistObject *core.CdistObject, keys ...string) error
}

// ObjectManager schedules the objects of one target. Objects appear on disk
// while manifests run, the manager discovers them at well defined collect
// points, translates their dependency records into per object events and
// realizes each object in a goroutine of its own once its events fire. The
// object set grows while it is being processed: type manifests invoke the
// emulator which writes more objects, so completion means the moment no
// realize task is left and none of them produced new work.
type ObjectManager struct {
	// Realizer executes the lifecycle stages for the objects.
	Realizer Realizer

	// Deps is the dependency store of the target.
	Deps *dependency.Manager

	// OnlyTags keeps only objects carrying at least one of these tags.
	OnlyTags []string

	// IncludeTags keeps untagged objects and objects carrying at least
	// one of these tags.
	IncludeTags []string

	// ExcludeTags drops objects carrying at least one of these tags. It
	// is applied after OnlyTags and IncludeTags.
	ExcludeTags []string

	// DryRun stops after code generation, nothing is executed or
	// transferred anymore.
	DryRun bool

	// Debug turns on full dumps of the resolved dependency state.
	Debug bool

	// Logf is the logging function for this manager.
	Logf func(format string, v ...interface{})

	// mutex guards all of the book keeping below, events excluded. Event
	// mutations happen under it too, waiting on them never does.
	mutex        sync.Mutex
	objects      map[string]*core.CdistObject
	pending      map[string]struct{}
	realized     map[string]struct{}
	scheduled    map[string]struct{}
	filtered     map[string]struct{}
	prepare      map[string]*util.Event
	apply        map[string]*util.Event
	dependencies map[string][]string
	unresolved   map[string][]string

	wg sync.WaitGroup

	errMutex sync.Mutex
	reterr   error
	cancel   context.CancelFunc
}

// Init validates the manager and builds the internal state. It must be
// called before any other method.
func (obj *ObjectManager) Init() error {
	if obj.Realizer == nil {
		return fmt.Errorf("the Realizer is missing")
	}
	if obj.Deps == nil {
		return fmt.Errorf("the Deps store is missing")
	}
	if obj.Logf == nil {
		return fmt.Errorf("the Logf function is missing")
	}
	obj.objects = make(map[string]*core.CdistObject)
	obj.pending = make(map[string]struct{})
	obj.realized = make(map[string]struct{})
	obj.scheduled = make(map[string]struct{})
	obj.filtered = make(map[string]struct{})
	obj.prepare = make(map[string]*util.Event)
	obj.apply = make(map[string]*util.Event)
	obj.dependencies = make(map[string][]string)
	obj.unresolved = make(map[string][]string)
	return nil
}

// Process realizes every object of the target. It discovers what the
// initial manifest created, realizes those objects concurrently gated by
// their dependency events, and keeps going until the growing object set is
// exhausted. The first failing task cancels all the others and its error is
// what gets returned.
func (obj *ObjectManager) Process(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	obj.errMutex.Lock()
	obj.reterr = nil
	obj.cancel = cancel
	obj.errMutex.Unlock()

	fresh, err := obj.collect()
	if err != nil {
		return err
	}
	for _, name := range fresh {
		obj.spawn(ctx, name)
	}

	// the watchdog turns a dependency deadlock into an error, without it
	// a circular reference would hang the run forever
	wg := &sync.WaitGroup{}
	done := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		obj.watchdog(ctx, done)
	}()

	obj.wg.Wait() // wait for all realize tasks
	close(done)
	wg.Wait()

	obj.errMutex.Lock()
	defer obj.errMutex.Unlock()
	return obj.reterr
}

// Register makes an object visible to dependency resolution before its
// collect point arrives. The object tree watcher feeds just written objects
// through here so that patterns can match them early, realization still
// only starts at the collect points.
func (obj *ObjectManager) Register(cdistObject *core.CdistObject) {
	obj.mutex.Lock()
	defer obj.mutex.Unlock()
	obj.register(cdistObject)
}

// Realized returns the sorted names of the objects which were fully
// applied.
func (obj *ObjectManager) Realized() []string {
	obj.mutex.Lock()
	defer obj.mutex.Unlock()
	return util.StrSetKeys(obj.realized)
}

// collect discovers objects which appeared on disk since the last scan. New
// objects are registered immediately so that dependency patterns can match
// them. The returned names have not been started yet, that is left to the
// caller so that a parent can finish its own bookkeeping first.
func (obj *ObjectManager) collect() ([]string, error) {
	cdistObjects, err := obj.Realizer.CollectObjects()
	if err != nil {
		return nil, err
	}
	obj.mutex.Lock()
	defer obj.mutex.Unlock()
	fresh := []string{}
	for _, cdistObject := range cdistObjects {
		name := cdistObject.Name()
		obj.register(cdistObject)
		if _, ok := obj.objects[name]; !ok {
			continue // filtered out
		}
		if _, ok := obj.scheduled[name]; ok {
			continue
		}
		// an early registration through the watcher may have stored a
		// partially written copy, the freshest read wins until it runs
		obj.objects[name] = cdistObject
		obj.scheduled[name] = struct{}{}
		fresh = append(fresh, name)
	}
	return fresh, nil
}

// register adds an object to the books unless it is already known or tag
// filtering hides it. A hidden object does not exist as far as the run is
// concerned, dependency patterns cannot see it either. The caller must hold
// the mutex.
func (obj *ObjectManager) register(cdistObject *core.CdistObject) {
	name := cdistObject.Name()
	if _, ok := obj.objects[name]; ok {
		return
	}
	if _, ok := obj.filtered[name]; ok {
		return
	}
	if obj.skip(cdistObject.Tags) {
		obj.Logf("filtered by tags: %s", name)
		obj.filtered[name] = struct{}{}
		return
	}
	obj.Logf("add: %s", name)
	obj.objects[name] = cdistObject
	obj.pending[name] = struct{}{}
	obj.prepare[name] = &util.Event{}
	obj.apply[name] = &util.Event{}
}

// skip applies the tag selection to one object. Only and include pick
// objects in, exclude throws them out afterwards.
func (obj *ObjectManager) skip(tags []string) bool {
	if len(obj.OnlyTags) > 0 && len(util.StrListIntersection(tags, obj.OnlyTags)) == 0 {
		return true
	}
	if len(obj.IncludeTags) > 0 && len(tags) > 0 && len(util.StrListIntersection(tags, obj.IncludeTags)) == 0 {
		return true
	}
	return len(util.StrListIntersection(tags, obj.ExcludeTags)) > 0
}

// spawn starts the realize task of one object. Anything it fails with takes
// down the whole run.
func (obj *ObjectManager) spawn(ctx context.Context, name string) {
	obj.wg.Add(1)
	go func() {
		defer obj.wg.Done()
		if err := obj.realize(ctx, name); err != nil {
			obj.fail(err)
		}
	}()
}

// fail records the first error and cancels every other task. Later errors
// are usually just the cancellation echoing back, so they are dropped.
func (obj *ObjectManager) fail(err error) {
	obj.errMutex.Lock()
	if obj.reterr == nil {
		obj.reterr = err
	}
	cancel := obj.cancel
	obj.errMutex.Unlock()
	if cancel != nil {
		cancel()
	}
}

// realize runs one object through its full lifecycle. The two stages each
// wait for their event: prepare runs the type explorers and the type
// manifest, apply generates the code and executes it. In between, children
// the manifest created are collected, and the dependencies are resolved a
// second time so that auto edges recorded during the manifest take effect
// before any child starts.
func (obj *ObjectManager) realize(ctx context.Context, name string) error {
	obj.Logf("realize: %s", name)
	obj.mutex.Lock()
	cdistObject := obj.objects[name]
	prepare := obj.prepare[name]
	apply := obj.apply[name]
	obj.mutex.Unlock()

	if err := obj.resolve(name); err != nil {
		return errwrap.Wrapf(err, "could not resolve %s", name)
	}
	if err := prepare.Wait(ctx); err != nil {
		return err
	}
	obj.Logf("prepare: %s", name)
	if err := obj.Realizer.RunTypeExplorers(ctx, cdistObject); err != nil {
		return err
	}
	if err := obj.Realizer.RunTypeManifest(ctx, cdistObject); err != nil {
		return err
	}
	// register the children before resolving again so that the new auto
	// edges match and propagate, but only start them afterwards so that
	// each child observes the after edges it just inherited
	fresh, err := obj.collect()
	if err != nil {
		return err
	}
	if err := obj.resolve(name); err != nil {
		return errwrap.Wrapf(err, "could not resolve %s", name)
	}
	for _, child := range fresh {
		obj.spawn(ctx, child)
	}
	cdistObject.State = core.StatePrepared
	if err := obj.Realizer.PersistObject(cdistObject, "state"); err != nil {
		return err
	}

	if err := apply.Wait(ctx); err != nil {
		return err
	}
	obj.Logf("apply: %s", name)
	if err := obj.Realizer.RunGencodeLocal(ctx, cdistObject); err != nil {
		return err
	}
	if err := obj.Realizer.RunGencodeRemote(ctx, cdistObject); err != nil {
		return err
	}
	if err := obj.Realizer.PersistObject(cdistObject, "changed", "code-local", "code-remote"); err != nil {
		return err
	}
	if !obj.DryRun {
		if cdistObject.CodeLocal != "" {
			if err := obj.Realizer.RunCodeLocal(ctx, cdistObject); err != nil {
				return err
			}
		}
		if cdistObject.CodeRemote != "" {
			if err := obj.Realizer.TransferCodeRemote(ctx, cdistObject); err != nil {
				return err
			}
			if err := obj.Realizer.RunCodeRemote(ctx, cdistObject); err != nil {
				return err
			}
		}
	}
	cdistObject.State = core.StateDone
	if err := obj.Realizer.PersistObject(cdistObject, "state"); err != nil {
		return err
	}

	obj.finish(name)
	return nil
}

// resolve loads the dependency record of one object and translates it into
// event state. It runs once when the realize task starts and once more
// after the type manifest, when newly created children may have appeared in
// the record.
func (obj *ObjectManager) resolve(name string) error {
	obj.mutex.Lock()
	defer obj.mutex.Unlock()

	record, err := obj.Deps.Load(name)
	if err != nil {
		return err
	}
	if err := obj.propagate(record); err != nil {
		return err
	}

	patterns := []string{}
	patterns = append(patterns, record.Require...)
	patterns = append(patterns, record.After...)
	patterns = append(patterns, record.Auto...)
	resolved, err := obj.findRequirements(patterns)
	if err != nil {
		return err
	}
	unresolved := []string{}
	for _, dep := range resolved {
		if _, ok := obj.realized[dep]; ok {
			continue
		}
		unresolved = append(unresolved, dep)
	}
	obj.dependencies[name] = resolved
	obj.unresolved[name] = unresolved
	if obj.Debug {
		obj.Logf("resolve: %s: record:\n%s", name, spew.Sdump(record))
		obj.Logf("resolve: %s: unresolved:\n%s", name, spew.Sdump(unresolved))
	}

	// ready rules: without unresolved dependencies the object is free to
	// run both stages, without require edges it may at least prepare
	// while its soft dependencies are still pending
	if len(unresolved) == 0 {
		obj.prepare[name].Set()
		obj.apply[name].Set()
	} else if len(record.Require) == 0 {
		obj.prepare[name].Set()
		obj.apply[name].Clear()
	} else {
		obj.prepare[name].Clear()
		obj.apply[name].Clear()
	}
	return nil
}

// propagate copies the after edges of a parent onto the children its
// manifest created, so that ordering the user declared around the parent
// wraps around the whole family. A copy is skipped when it would close a
// loop. The caller must hold the mutex.
func (obj *ObjectManager) propagate(record *dependency.Record) error {
	if len(record.Auto) == 0 {
		return nil
	}
	children, err := obj.findRequirements(record.Auto)
	if err != nil {
		return err
	}
	requirements, err := obj.findRequirements(record.After)
	if err != nil {
		return err
	}
	for _, child := range children {
		childRecord, err := obj.Deps.Load(child)
		if err != nil {
			return err
		}
		for _, requirement := range requirements {
			if util.StrInList(requirement, childRecord.After) {
				continue
			}
			requirementRecord, err := obj.Deps.Load(requirement)
			if err != nil {
				return err
			}
			if util.StrInList(child, append(requirementRecord.After, requirementRecord.Auto...)) {
				continue // the requirement already waits for the child
			}
			obj.Logf("propagate: %s waits for %s", child, requirement)
			if err := obj.Deps.After(child, requirement); err != nil {
				return err
			}
			childRecord.After = append(childRecord.After, requirement)
		}
	}
	return nil
}

// findRequirements expands a list of dependency patterns against the known
// object names. Patterns are shell wildcards where * crosses the slashes of
// object names too. A pattern matching nothing is an error. The caller must
// hold the mutex.
func (obj *ObjectManager) findRequirements(patterns []string) ([]string, error) {
	names := []string{}
	for name := range obj.objects {
		names = append(names, name)
	}
	sort.Strings(names) // deterministic order
	result := []string{}
	for _, pattern := range patterns {
		found := util.FnFilter(pattern, names)
		if len(found) == 0 {
			return nil, &core.RequirementNotFoundError{Requirement: pattern}
		}
		result = append(result, found...)
	}
	return util.StrRemoveDuplicatesInList(result), nil
}

// finish marks an object realized and releases everyone waiting for it. An
// object whose unresolved set drains empty has nothing to wait for anymore
// and both of its events fire.
func (obj *ObjectManager) finish(name string) {
	obj.Logf("finish: %s", name)
	obj.mutex.Lock()
	defer obj.mutex.Unlock()
	for other, unresolved := range obj.unresolved {
		if !util.StrInList(name, unresolved) {
			continue
		}
		remaining := util.StrFilterElementsInList([]string{name}, unresolved)
		obj.unresolved[other] = remaining
		if len(remaining) == 0 {
			obj.prepare[other].Set()
			obj.apply[other].Set()
		}
	}
	delete(obj.pending, name)
	obj.realized[name] = struct{}{}
}

// watchdog periodically checks whether the remaining objects can still make
// progress. It runs until the realize tasks drain or the run is canceled.
func (obj *ObjectManager) watchdog(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(cycleCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
		case <-done:
			return
		case <-ctx.Done():
			return
		}
		if err := obj.deadlocked(); err != nil {
			obj.fail(err)
			return
		}
	}
}

// deadlocked reports a circular reference when every pending object is
// waiting and all of them wait only for other pending objects. From such a
// state no event can ever fire again, the involved objects wait for each
// other in at least one loop.
func (obj *ObjectManager) deadlocked() error {
	obj.mutex.Lock()
	defer obj.mutex.Unlock()
	if len(obj.pending) == 0 {
		return nil
	}
	pending := map[string][]string{}
	for name := range obj.pending {
		unresolved := obj.unresolved[name]
		if len(unresolved) == 0 {
			return nil // this one can still run
		}
		for _, dep := range unresolved {
			if _, ok := obj.pending[dep]; !ok {
				return nil // waiting on someone who is still moving
			}
		}
		pending[name] = unresolved
	}
	return &core.CircularReferenceError{Pending: pending}
}
