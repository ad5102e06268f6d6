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

package core

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/cdist-ng/cdng/cconfig"

	"github.com/spf13/afero"
)

// Object lifecycle states. An object is created by the emulator, prepared
// once its explorers and manifest ran, and done once its code ran.
const (
	StateCreated  = "created"
	StatePrepared = "prepared"
	StateDone     = "done"
)

// CdistObject is one instance of a type. It mirrors an object directory on
// disk, the canonical copy always lives in the filesystem so the emulator
// subprocesses and the engine share one view.
type CdistObject struct {
	Type     string
	ObjectID string

	// Parameter holds the flag values this object was created with, keyed
	// by parameter name. Values are string, []string or bool per the type
	// schema.
	Parameter cconfig.Values

	// Explorer maps explorer names to their captured output.
	Explorer map[string]string

	State  string
	Source []string
	Tags   []string

	// CodeLocal and CodeRemote are the generated scripts, empty until
	// gencode ran.
	CodeLocal  string
	CodeRemote string

	// Changed is set once gencode produced code for this object.
	Changed bool

	schema cconfig.Schema
}

// Name returns the canonical object name, the type name joined with the
// object id.
func (obj *CdistObject) Name() string {
	return JoinName(obj.Type, obj.ObjectID)
}

func (obj *CdistObject) String() string {
	return obj.Name()
}

// ToDir stores the object in the given directory. If keys are given only
// those attributes are written, which lets different phases of the run
// flush what they own without clobbering the rest.
func (obj *CdistObject) ToDir(fs afero.Fs, dir string, keys ...string) error {
	values := cconfig.Values{
		"changed":     obj.Changed,
		"code-local":  obj.CodeLocal,
		"code-remote": obj.CodeRemote,
		"explorer":    obj.Explorer,
		"object-id":   obj.ObjectID,
		"parameter":   obj.Parameter,
		"source":      obj.Source,
		"state":       obj.State,
		"tags":        obj.Tags,
		"type":        obj.Type,
	}
	return cconfig.ToDir(fs, dir, values, obj.schema, keys...)
}

// Cmp compares this object with another and errors with the first
// difference. Only identity and parameters take part, the mutable run state
// does not.
func (obj *CdistObject) Cmp(other *CdistObject) error {
	if obj.Type != other.Type {
		return fmt.Errorf("the Type differs: %s vs %s", obj.Type, other.Type)
	}
	if obj.ObjectID != other.ObjectID {
		return fmt.Errorf("the ObjectID differs: %s vs %s", obj.ObjectID, other.ObjectID)
	}
	if !reflect.DeepEqual(obj.Parameter, other.Parameter) {
		return fmt.Errorf("the Parameter values differ")
	}
	return nil
}

// SplitName splits a canonical object name into its type name and object id
// parts.
func SplitName(objectName string) (string, string) {
	parts := strings.SplitN(objectName, "/", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

// JoinName joins a type name and an object id into a canonical object name.
// Singletons have an empty object id and their name is just the type name.
func JoinName(typeName, objectID string) string {
	if objectID == "" {
		return typeName
	}
	return typeName + "/" + objectID
}

// SanitiseObjectID removes a single leading and a single trailing slash.
// The empty id of a singleton passes through unchanged.
func SanitiseObjectID(objectID string) string {
	if objectID == "" {
		return objectID
	}
	if objectID[0] == '/' {
		objectID = objectID[1:]
	}
	if objectID != "" && objectID[len(objectID)-1] == '/' {
		objectID = objectID[:len(objectID)-1]
	}
	return objectID
}

// ValidateObjectID checks the naming rules for object ids. The empty id is
// allowed here since singletons have none.
func ValidateObjectID(objectID string) error {
	if objectID == "" {
		return nil
	}
	if strings.Contains(objectID, "//") {
		return &IllegalObjectIdError{
			ObjectID: objectID,
			Message:  "object id may not contain //",
		}
	}
	if objectID == "." {
		return &IllegalObjectIdError{
			ObjectID: objectID,
			Message:  "object id may not be a .",
		}
	}
	return nil
}

// SanitiseObjectName applies the object id sanitising rules to the id part
// of a canonical object name.
func SanitiseObjectName(objectName string) string {
	typeName, objectID := SplitName(objectName)
	return JoinName(typeName, SanitiseObjectID(objectID))
}

// ValidateObjectName checks the naming rules for the id part of a canonical
// object name.
func ValidateObjectName(objectName string) error {
	_, objectID := SplitName(objectName)
	return ValidateObjectID(objectID)
}
