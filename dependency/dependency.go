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

// Package dependency is the on disk store for the edges between objects.
// Both the engine and the emulator subprocesses write to it, so nothing is
// cached in memory: every mutation is a load, modify, save transaction and
// every save replaces the record file atomically via a rename.
package dependency

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"path"
	"sync"

	"github.com/cdist-ng/cdng/util"
	"github.com/cdist-ng/cdng/util/errwrap"

	"github.com/spf13/afero"
)

// Record is the persisted dependency state of one object. The edge lists
// hold object name patterns, which may contain shell globs.
type Record struct {
	// Object is the canonical name of the object this record belongs to.
	Object string `json:"object"`

	// Require names the objects which must be fully applied before this
	// one may even prepare.
	Require []string `json:"require"`

	// After names the objects which must be fully applied before this
	// one may apply. Preparing is not constrained.
	After []string `json:"after"`

	// Before is bookkeeping only: a before edge is canonicalized into
	// the after list of the other object at record time.
	Before []string `json:"before"`

	// Auto names the child objects created by this object's manifest.
	Auto []string `json:"auto"`
}

// newRecord returns an empty record for the given object name.
func newRecord(name string) *Record {
	return &Record{
		Object:  name,
		Require: []string{},
		After:   []string{},
		Before:  []string{},
		Auto:    []string{},
	}
}

// Manager stores one record per object under a base directory. Record files
// are named by the md5 digest of the object name since object names contain
// slashes.
type Manager struct {
	fs  afero.Fs
	dir string

	// mutex serializes transactions inside this process. Between
	// processes the atomic rename keeps records consistent.
	mutex sync.Mutex
}

// New creates a manager which stores its records in the given directory.
func New(fs afero.Fs, dir string) *Manager {
	return &Manager{
		fs:  fs,
		dir: dir,
	}
}

// path returns the record file for the given object name.
func (obj *Manager) path(name string) string {
	digest := md5.Sum([]byte(name))
	return path.Join(obj.dir, hex.EncodeToString(digest[:]))
}

// Load reads the record of the given object. A missing record loads as an
// empty one.
func (obj *Manager) Load(name string) (*Record, error) {
	obj.mutex.Lock()
	defer obj.mutex.Unlock()
	return obj.load(name)
}

func (obj *Manager) load(name string) (*Record, error) {
	record := newRecord(name)
	p := obj.path(name)
	exists, err := afero.Exists(obj.fs, p)
	if err != nil {
		return nil, errwrap.Wrapf(err, "could not stat %s", p)
	}
	if !exists {
		return record, nil
	}
	b, err := afero.ReadFile(obj.fs, p)
	if err != nil {
		return nil, errwrap.Wrapf(err, "could not read %s", p)
	}
	if err := json.Unmarshal(b, record); err != nil {
		return nil, errwrap.Wrapf(err, "could not decode %s", p)
	}
	return record, nil
}

// save stores a record atomically: it writes a tempfile next to the record
// and renames it into place.
func (obj *Manager) save(record *Record) error {
	if err := obj.fs.MkdirAll(obj.dir, 0755); err != nil {
		return errwrap.Wrapf(err, "could not create %s", obj.dir)
	}
	b, err := json.Marshal(record)
	if err != nil {
		return errwrap.Wrapf(err, "could not encode record for %s", record.Object)
	}
	f, err := afero.TempFile(obj.fs, obj.dir, ".record-*")
	if err != nil {
		return errwrap.Wrapf(err, "could not create tempfile in %s", obj.dir)
	}
	tmp := f.Name()
	if _, err := f.Write(b); err != nil {
		f.Close()
		obj.fs.Remove(tmp)
		return errwrap.Wrapf(err, "could not write %s", tmp)
	}
	if err := f.Close(); err != nil {
		obj.fs.Remove(tmp)
		return errwrap.Wrapf(err, "could not close %s", tmp)
	}
	if err := obj.fs.Rename(tmp, obj.path(record.Object)); err != nil {
		obj.fs.Remove(tmp)
		return errwrap.Wrapf(err, "could not rename %s", tmp)
	}
	return nil
}

// transact runs fn on the named record inside a load, modify, save cycle.
// The record is only saved if fn reports a change.
func (obj *Manager) transact(name string, fn func(*Record) bool) error {
	obj.mutex.Lock()
	defer obj.mutex.Unlock()
	record, err := obj.load(name)
	if err != nil {
		return err
	}
	if !fn(record) {
		return nil
	}
	return obj.save(record)
}

// Require records a hard dependency: me --require other.
func (obj *Manager) Require(me, other string) error {
	return obj.transact(me, func(record *Record) bool {
		if util.StrInList(other, record.Require) {
			return false
		}
		record.Require = append(record.Require, other)
		return true
	})
}

// After records a soft dependency: me --after other.
func (obj *Manager) After(me, other string) error {
	return obj.transact(me, func(record *Record) bool {
		if util.StrInList(other, record.After) {
			return false
		}
		record.After = append(record.After, other)
		return true
	})
}

// Before records an inverse soft dependency: me --before other. It is
// canonicalized into the after list of the other object, the engine only
// ever honors after edges.
func (obj *Manager) Before(me, other string) error {
	if err := obj.transact(other, func(record *Record) bool {
		if util.StrInList(me, record.After) {
			return false
		}
		record.After = append(record.After, me)
		return true
	}); err != nil {
		return err
	}
	return obj.transact(me, func(record *Record) bool {
		if util.StrInList(other, record.Before) {
			return false
		}
		record.Before = append(record.Before, other)
		return true
	})
}

// Auto records a child created by the manifest of parent. A child which
// already waits for its parent through an after edge keeps that direction,
// recording the auto edge too would close a loop.
func (obj *Manager) Auto(parent, child string) error {
	childRecord, err := obj.Load(child)
	if err != nil {
		return err
	}
	if util.StrInList(parent, childRecord.After) {
		return nil
	}
	return obj.transact(parent, func(record *Record) bool {
		if util.StrInList(child, record.Auto) {
			return false
		}
		record.Auto = append(record.Auto, child)
		return true
	})
}

// Contains reports whether a record exists for the given object name.
func (obj *Manager) Contains(name string) (bool, error) {
	exists, err := afero.Exists(obj.fs, obj.path(name))
	if err != nil {
		return false, errwrap.Wrapf(err, "could not stat %s", obj.path(name))
	}
	return exists, nil
}
