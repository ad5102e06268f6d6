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

// Package cconfig persists structured values as plain directory trees so that
// shell scripts can read and write them with cat, echo and test. A Schema
// describes how each key of a value maps onto the filesystem: as a one line
// file, a flag file, a line oriented list, a sub directory, or a farm of
// symlinks. The same schema drives both directions, so a value survives a
// round trip through the filesystem unchanged.
package cconfig

import (
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/cdist-ng/cdng/util"
	"github.com/cdist-ng/cdng/util/errwrap"

	"github.com/spf13/afero"
)

// Kind describes how a single schema entry is stored on disk.
type Kind int

const (
	// Scalar is a file holding a single string. An empty value means the
	// file is absent.
	Scalar Kind = iota

	// Int is a file holding a decimal integer. A zero value means the file
	// is absent.
	Int

	// Bool is an empty flag file. Presence is true, absence is false.
	Bool

	// List is a file holding one item per line. An empty list means the
	// file is absent.
	List

	// Mapping is a directory holding one entry per key. Without a sub
	// schema every entry is a scalar file, with one the entries follow it.
	Mapping

	// ListDir is a directory whose entry names are the value. The entry
	// contents are not interpreted.
	ListDir

	// SymlinkMap is a directory where every entry is a symlink to an
	// absolute source path outside of the tree.
	SymlinkMap
)

// Type is a custom codec for a single schema entry. It is consulted instead
// of the built in kinds when set on an Entry.
type Type interface {
	// FromPath reads the value stored at path.
	FromPath(fs afero.Fs, path string) (interface{}, error)

	// ToPath stores value at path.
	ToPath(fs afero.Fs, path string, value interface{}) error
}

// Entry describes one key of a schema.
type Entry struct {
	// Key is the name of the file or directory inside the value directory.
	Key string

	// Kind selects the on disk representation.
	Kind Kind

	// Schema is the optional sub schema for Mapping entries.
	Schema Schema

	// Type is an optional custom codec which overrides Kind.
	Type Type
}

// Schema is an ordered list of entries describing a directory backed value.
type Schema []Entry

// Lookup returns the entry for the given key if one exists.
func (obj Schema) Lookup(key string) (Entry, bool) {
	for _, entry := range obj {
		if entry.Key == key {
			return entry, true
		}
	}
	return Entry{}, false
}

// Values is the in memory form of a directory backed value. The concrete type
// stored under each key depends on the kind of the corresponding schema
// entry: string, int, bool, []string, map[string]string or a nested Values.
type Values map[string]interface{}

// Str returns the string stored under key or the empty string.
func (obj Values) Str(key string) string {
	if v, ok := obj[key].(string); ok {
		return v
	}
	return ""
}

// Int returns the integer stored under key or zero.
func (obj Values) Int(key string) int {
	if v, ok := obj[key].(int); ok {
		return v
	}
	return 0
}

// Bool returns the bool stored under key or false.
func (obj Values) Bool(key string) bool {
	if v, ok := obj[key].(bool); ok {
		return v
	}
	return false
}

// List returns the string list stored under key or an empty list.
func (obj Values) List(key string) []string {
	if v, ok := obj[key].([]string); ok {
		return v
	}
	return []string{}
}

// Map returns the string mapping stored under key or an empty mapping.
func (obj Values) Map(key string) map[string]string {
	if v, ok := obj[key].(map[string]string); ok {
		return v
	}
	return map[string]string{}
}

// Sub returns the nested values stored under key or an empty set.
func (obj Values) Sub(key string) Values {
	if v, ok := obj[key].(Values); ok {
		return v
	}
	return Values{}
}

// FromSchema returns a set of values holding the zero value of every entry of
// the given schema.
func FromSchema(schema Schema) Values {
	values := make(Values)
	for _, entry := range schema {
		if entry.Type != nil {
			values[entry.Key] = nil
			continue
		}
		switch entry.Kind {
		case Scalar:
			values[entry.Key] = ""
		case Int:
			values[entry.Key] = 0
		case Bool:
			values[entry.Key] = false
		case List:
			values[entry.Key] = []string{}
		case Mapping:
			if entry.Schema != nil {
				values[entry.Key] = FromSchema(entry.Schema)
			} else {
				values[entry.Key] = map[string]string{}
			}
		case ListDir:
			values[entry.Key] = []string{}
		case SymlinkMap:
			values[entry.Key] = map[string]string{}
		}
	}
	return values
}

// FromDir loads a set of values from the given directory. The directory must
// exist, individual keys which are absent on disk load as their zero value.
func FromDir(fs afero.Fs, dir string, schema Schema) (Values, error) {
	if exists, err := afero.DirExists(fs, dir); err != nil {
		return nil, errwrap.Wrapf(err, "could not stat %s", dir)
	} else if !exists {
		return nil, fmt.Errorf("no such directory: %s", dir)
	}

	values := FromSchema(schema)
	for _, entry := range schema {
		p := path.Join(dir, entry.Key)
		if entry.Type != nil {
			v, err := entry.Type.FromPath(fs, p)
			if err != nil {
				return nil, errwrap.Wrapf(err, "could not read %s", p)
			}
			values[entry.Key] = v
			continue
		}
		v, err := readEntry(fs, p, entry)
		if err != nil {
			return nil, err
		}
		if v != nil {
			values[entry.Key] = v
		}
	}
	return values, nil
}

// ToDir stores a set of values in the given directory, creating it if needed.
// If keys are given, only the named schema entries are written. Entries are
// only ever added or overwritten, existing files of other keys are left
// alone, which lets concurrent writers own disjoint keys of one directory.
func ToDir(fs afero.Fs, dir string, values Values, schema Schema, keys ...string) error {
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return errwrap.Wrapf(err, "could not create %s", dir)
	}

	for _, entry := range schema {
		if len(keys) > 0 && !util.StrInList(entry.Key, keys) {
			continue
		}
		p := path.Join(dir, entry.Key)
		if entry.Type != nil {
			if err := entry.Type.ToPath(fs, p, values[entry.Key]); err != nil {
				return errwrap.Wrapf(err, "could not write %s", p)
			}
			continue
		}
		if err := writeEntry(fs, p, entry, values); err != nil {
			return err
		}
	}
	return nil
}

// readEntry loads a single schema entry. A nil result with a nil error means
// the entry is absent and the zero value from FromSchema stands.
func readEntry(fs afero.Fs, p string, entry Entry) (interface{}, error) {
	switch entry.Kind {
	case Scalar:
		s, err := readFile(fs, p)
		if err != nil {
			return nil, err
		}
		if s == nil {
			return nil, nil
		}
		return strings.TrimRight(string(s), "\n"), nil

	case Int:
		s, err := readFile(fs, p)
		if err != nil {
			return nil, err
		}
		if s == nil {
			return nil, nil
		}
		trimmed := strings.TrimSpace(string(s))
		if trimmed == "" {
			return nil, nil
		}
		i, err := strconv.Atoi(trimmed)
		if err != nil {
			return nil, errwrap.Wrapf(err, "invalid integer in %s", p)
		}
		return i, nil

	case Bool:
		exists, err := afero.Exists(fs, p)
		if err != nil {
			return nil, errwrap.Wrapf(err, "could not stat %s", p)
		}
		return exists, nil

	case List:
		s, err := readFile(fs, p)
		if err != nil {
			return nil, err
		}
		if s == nil {
			return nil, nil
		}
		return splitLines(string(s)), nil

	case Mapping:
		exists, err := afero.DirExists(fs, p)
		if err != nil {
			return nil, errwrap.Wrapf(err, "could not stat %s", p)
		}
		if !exists {
			return nil, nil
		}
		if entry.Schema != nil {
			return FromDir(fs, p, entry.Schema)
		}
		return readMapping(fs, p)

	case ListDir:
		exists, err := afero.DirExists(fs, p)
		if err != nil {
			return nil, errwrap.Wrapf(err, "could not stat %s", p)
		}
		if !exists {
			return nil, nil
		}
		infos, err := afero.ReadDir(fs, p)
		if err != nil {
			return nil, errwrap.Wrapf(err, "could not read %s", p)
		}
		names := []string{}
		for _, info := range infos {
			names = append(names, info.Name())
		}
		return names, nil

	case SymlinkMap:
		return readSymlinkMap(fs, p)
	}
	return nil, fmt.Errorf("unknown kind: %d", entry.Kind)
}

func writeEntry(fs afero.Fs, p string, entry Entry, values Values) error {
	switch entry.Kind {
	case Scalar:
		v := values.Str(entry.Key)
		if v == "" {
			return removeFile(fs, p)
		}
		return writeFile(fs, p, v+"\n")

	case Int:
		v := values.Int(entry.Key)
		if v == 0 {
			return removeFile(fs, p)
		}
		return writeFile(fs, p, strconv.Itoa(v)+"\n")

	case Bool:
		if !values.Bool(entry.Key) {
			return removeFile(fs, p)
		}
		return writeFile(fs, p, "")

	case List:
		v := values.List(entry.Key)
		if len(v) == 0 {
			return removeFile(fs, p)
		}
		return writeFile(fs, p, strings.Join(v, "\n")+"\n")

	case Mapping:
		if entry.Schema != nil {
			return ToDir(fs, p, values.Sub(entry.Key), entry.Schema)
		}
		return writeMapping(fs, p, values.Map(entry.Key))

	case ListDir:
		if err := fs.MkdirAll(p, 0755); err != nil {
			return errwrap.Wrapf(err, "could not create %s", p)
		}
		for _, name := range values.List(entry.Key) {
			fp := path.Join(p, name)
			if exists, err := afero.Exists(fs, fp); err != nil {
				return errwrap.Wrapf(err, "could not stat %s", fp)
			} else if exists {
				continue
			}
			if err := writeFile(fs, fp, ""); err != nil {
				return err
			}
		}
		return nil

	case SymlinkMap:
		return writeSymlinkMap(fs, p, values.Map(entry.Key))
	}
	return fmt.Errorf("unknown kind: %d", entry.Kind)
}

// readFile returns the file contents or nil if the file does not exist.
func readFile(fs afero.Fs, p string) ([]byte, error) {
	exists, err := afero.Exists(fs, p)
	if err != nil {
		return nil, errwrap.Wrapf(err, "could not stat %s", p)
	}
	if !exists {
		return nil, nil
	}
	b, err := afero.ReadFile(fs, p)
	if err != nil {
		return nil, errwrap.Wrapf(err, "could not read %s", p)
	}
	if b == nil {
		b = []byte{}
	}
	return b, nil
}

func writeFile(fs afero.Fs, p, content string) error {
	if err := afero.WriteFile(fs, p, []byte(content), 0644); err != nil {
		return errwrap.Wrapf(err, "could not write %s", p)
	}
	return nil
}

func removeFile(fs afero.Fs, p string) error {
	err := fs.Remove(p)
	if err == nil {
		return nil
	}
	if exists, serr := afero.Exists(fs, p); serr == nil && !exists {
		return nil
	}
	return errwrap.Wrapf(err, "could not remove %s", p)
}

// readMapping loads a free form mapping directory. Every regular file is one
// key, sub directories are not part of the mapping and are skipped.
func readMapping(fs afero.Fs, dir string) (map[string]string, error) {
	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, errwrap.Wrapf(err, "could not read %s", dir)
	}
	mapping := map[string]string{}
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		b, err := afero.ReadFile(fs, path.Join(dir, info.Name()))
		if err != nil {
			return nil, errwrap.Wrapf(err, "could not read %s", path.Join(dir, info.Name()))
		}
		mapping[info.Name()] = strings.TrimRight(string(b), "\n")
	}
	return mapping, nil
}

func writeMapping(fs afero.Fs, dir string, mapping map[string]string) error {
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return errwrap.Wrapf(err, "could not create %s", dir)
	}
	keys := []string{}
	for k := range mapping {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := writeFile(fs, path.Join(dir, k), mapping[k]+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// readSymlinkMap loads a directory of symlinks as a mapping from entry name
// to absolute link source.
func readSymlinkMap(fs afero.Fs, dir string) (map[string]string, error) {
	linkfs, ok := fs.(afero.Symlinker)
	if !ok {
		return nil, fmt.Errorf("filesystem does not support symlinks")
	}
	exists, err := afero.DirExists(fs, dir)
	if err != nil {
		return nil, errwrap.Wrapf(err, "could not stat %s", dir)
	}
	if !exists {
		return nil, nil
	}
	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, errwrap.Wrapf(err, "could not read %s", dir)
	}
	mapping := map[string]string{}
	for _, info := range infos {
		name := path.Join(dir, info.Name())
		source, err := linkfs.ReadlinkIfPossible(name)
		if err != nil {
			continue // not a symlink, not part of the mapping
		}
		mapping[info.Name()] = source
	}
	return mapping, nil
}

// writeSymlinkMap replaces the symlinks in dir so that they match the given
// mapping. Existing links with the same name are repointed, foreign entries
// are left alone.
func writeSymlinkMap(fs afero.Fs, dir string, mapping map[string]string) error {
	linkfs, ok := fs.(afero.Symlinker)
	if !ok {
		return fmt.Errorf("filesystem does not support symlinks")
	}
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return errwrap.Wrapf(err, "could not create %s", dir)
	}
	names := []string{}
	for name := range mapping {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		destination := path.Join(dir, name)
		if _, _, err := linkfs.LstatIfPossible(destination); err == nil {
			if err := fs.Remove(destination); err != nil {
				return errwrap.Wrapf(err, "could not remove %s", destination)
			}
		}
		if err := linkfs.SymlinkIfPossible(mapping[name], destination); err != nil {
			return errwrap.Wrapf(err, "could not symlink %s", destination)
		}
	}
	return nil
}

func splitLines(s string) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return []string{}
	}
	return strings.Split(s, "\n")
}
