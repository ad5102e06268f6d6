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
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/fsnotify/fsnotify"
)

// ObjectWatcher announces freshly written objects to the object manager as
// soon as they appear on disk, instead of waiting for the next collect
// point. It only ever registers objects, scheduling stays with the manager.
// Objects are recognized by their marker directory, so an object whose
// metadata is still being written is at worst registered with a partial
// copy, which the collect of the creating manifest then refreshes before
// anything runs with it.
type ObjectWatcher struct {
	// Runtime is the runtime whose object tree is watched.
	Runtime *Runtime

	// Manager receives the discovered objects.
	Manager *ObjectManager

	// Logf is the logging function for this watcher.
	Logf func(format string, v ...interface{})

	watcher *fsnotify.Watcher
	watches map[string]struct{}
	exit    chan struct{}
	wg      sync.WaitGroup
}

// Init hooks the watcher into the object tree and starts the event loop.
// The object tree must already exist.
func (obj *ObjectWatcher) Init() error {
	if obj.Runtime == nil {
		return fmt.Errorf("the Runtime is missing")
	}
	if obj.Manager == nil {
		return fmt.Errorf("the Manager is missing")
	}
	if obj.Logf == nil {
		return fmt.Errorf("the Logf function is missing")
	}
	obj.watches = make(map[string]struct{})
	obj.exit = make(chan struct{})

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	obj.watcher = watcher

	if err := obj.addBelow(obj.Runtime.objectBase()); err != nil {
		obj.watcher.Close()
		return err
	}

	obj.wg.Add(1)
	go func() {
		defer obj.wg.Done()
		obj.loop()
	}()
	return nil
}

// Close stops the event loop and releases the watches.
func (obj *ObjectWatcher) Close() error {
	close(obj.exit)
	err := obj.watcher.Close()
	obj.wg.Wait()
	return err
}

// loop pumps filesystem events until Close. Watch errors are advisory, the
// collect points of the manager discover everything the watcher misses.
func (obj *ObjectWatcher) loop() {
	for {
		select {
		case event, ok := <-obj.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create == fsnotify.Create {
				obj.created(event.Name)
			}

		case err, ok := <-obj.watcher.Errors:
			if !ok {
				return
			}
			obj.Logf("error: %v", err)

		case <-obj.exit:
			return
		}
	}
}

// created handles one Create event. A new marker directory is a new object,
// any other new directory is part of an object name and needs a watch of
// its own.
func (obj *ObjectWatcher) created(p string) {
	fi, err := os.Stat(p)
	if err != nil {
		return // gone again, or not ours to worry about
	}
	if !fi.IsDir() {
		return
	}
	if filepath.Base(p) == obj.Runtime.Target.ObjectMarker {
		obj.announce(p)
		return
	}
	// the directory may have been populated before our watch landed, so
	// scan it for anything we would otherwise only hear about from events
	if err := obj.addBelow(p); err != nil {
		obj.Logf("error: %v", err)
	}
}

// addBelow watches the given directory and everything below it, announcing
// any marker directories it runs into on the way.
func (obj *ObjectWatcher) addBelow(dir string) error {
	marker := obj.Runtime.Target.ObjectMarker
	return afero.Walk(obj.Runtime.fs, dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil // lost a race with the creator, events cover the rest
			}
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if info.Name() == marker {
			obj.announce(p)
			return filepath.SkipDir // metadata writes below are not events we need
		}
		if _, exists := obj.watches[p]; exists {
			return nil
		}
		if err := obj.watcher.Add(p); err != nil {
			return err
		}
		obj.watches[p] = struct{}{}
		return nil
	})
}

// announce loads the object behind a marker directory and registers it with
// the manager. A load failure usually means the creator is not done writing
// yet, the next collect point picks the object up instead.
func (obj *ObjectWatcher) announce(markerDir string) {
	name, err := filepath.Rel(obj.Runtime.objectBase(), filepath.Dir(markerDir))
	if err != nil {
		obj.Logf("error: %v", err)
		return
	}
	cdistObject, err := obj.Runtime.loadObject(name)
	if err != nil {
		obj.Logf("not ready yet: %s", name)
		return
	}
	obj.Logf("discovered: %s", name)
	obj.Manager.Register(cdistObject)
}
