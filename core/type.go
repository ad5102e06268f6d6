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

// Package core holds the domain model: cdist types, the objects instantiated
// from them, and the error taxonomy shared by all layers. Everything here is
// backed by directory trees via the cconfig package so that the shell side
// of a run sees the same data the engine does.
package core

import (
	"fmt"
	"path"

	"github.com/cdist-ng/cdng/cconfig"

	"github.com/spf13/afero"
)

// typeSchema describes how a type definition is laid out inside its conf
// directory.
var typeSchema = cconfig.Schema{
	{Key: "explorer", Kind: cconfig.ListDir},
	{Key: "install", Kind: cconfig.Bool},
	{Key: "parameter", Kind: cconfig.Mapping, Schema: cconfig.Schema{
		{Key: "required", Kind: cconfig.List},
		{Key: "required_multiple", Kind: cconfig.List},
		{Key: "optional", Kind: cconfig.List},
		{Key: "optional_multiple", Kind: cconfig.List},
		{Key: "boolean", Kind: cconfig.List},
		{Key: "default", Kind: cconfig.Mapping},
	}},
	{Key: "singleton", Kind: cconfig.Bool},
}

// TypeParameter is the parameter schema of a type, telling the emulator
// which flags exist and how each one behaves.
type TypeParameter struct {
	Required         []string
	RequiredMultiple []string
	Optional         []string
	OptionalMultiple []string
	Boolean          []string

	// Default maps parameter names to the value used when the flag is
	// not given.
	Default map[string]string
}

// Names returns all declared parameter names.
func (obj *TypeParameter) Names() []string {
	names := []string{}
	names = append(names, obj.Required...)
	names = append(names, obj.RequiredMultiple...)
	names = append(names, obj.Optional...)
	names = append(names, obj.OptionalMultiple...)
	names = append(names, obj.Boolean...)
	return names
}

// CdistType represents a type as shipped in a conf directory. It is
// immutable after load, the runtime caches one instance per name.
type CdistType struct {
	Name string

	// Explorer lists the names of the explorers this type ships.
	Explorer []string

	// Install marks the type as belonging to the install stage.
	Install bool

	// Singleton types have at most one instance per target and take no
	// object id.
	Singleton bool

	Parameter TypeParameter
}

// TypeFromDir loads a type from the given directory. If no explicit name is
// given the last segment of the path is taken to be the name of the type.
func TypeFromDir(fs afero.Fs, dir, name string) (*CdistType, error) {
	if name == "" {
		name = path.Base(dir)
	}
	values, err := cconfig.FromDir(fs, dir, typeSchema)
	if err != nil {
		return nil, err
	}
	parameter := values.Sub("parameter")
	return &CdistType{
		Name:      name,
		Explorer:  values.List("explorer"),
		Install:   values.Bool("install"),
		Singleton: values.Bool("singleton"),
		Parameter: TypeParameter{
			Required:         parameter.List("required"),
			RequiredMultiple: parameter.List("required_multiple"),
			Optional:         parameter.List("optional"),
			OptionalMultiple: parameter.List("optional_multiple"),
			Boolean:          parameter.List("boolean"),
			Default:          parameter.Map("default"),
		},
	}, nil
}

// parameterSchema returns the directory schema for the parameters of one
// object of this type: boolean parameters are flag files, multiple
// parameters are line lists, everything else is a one line scalar.
func (obj *CdistType) parameterSchema() cconfig.Schema {
	parameter := cconfig.Schema{}
	for _, name := range obj.Parameter.Required {
		parameter = append(parameter, cconfig.Entry{Key: name, Kind: cconfig.Scalar})
	}
	for _, name := range obj.Parameter.RequiredMultiple {
		parameter = append(parameter, cconfig.Entry{Key: name, Kind: cconfig.List})
	}
	for _, name := range obj.Parameter.Optional {
		parameter = append(parameter, cconfig.Entry{Key: name, Kind: cconfig.Scalar})
	}
	for _, name := range obj.Parameter.OptionalMultiple {
		parameter = append(parameter, cconfig.Entry{Key: name, Kind: cconfig.List})
	}
	for _, name := range obj.Parameter.Boolean {
		parameter = append(parameter, cconfig.Entry{Key: name, Kind: cconfig.Bool})
	}
	return parameter
}

// objectSchema returns the directory schema for objects of this type.
func (obj *CdistType) objectSchema() cconfig.Schema {
	parameter := obj.parameterSchema()
	return cconfig.Schema{
		{Key: "changed", Kind: cconfig.Bool},
		{Key: "code-local", Kind: cconfig.Scalar},
		{Key: "code-remote", Kind: cconfig.Scalar},
		{Key: "explorer", Kind: cconfig.Mapping},
		{Key: "object-id", Kind: cconfig.Scalar},
		{Key: "parameter", Kind: cconfig.Mapping, Schema: parameter},
		{Key: "source", Kind: cconfig.List},
		{Key: "state", Kind: cconfig.Scalar},
		{Key: "tags", Kind: cconfig.List},
		{Key: "type", Kind: cconfig.Scalar},
	}
}

// NewObject creates a fresh object of this type. The object id is sanitised
// and validated, singletons must be created without one.
func (obj *CdistType) NewObject(objectID string) (*CdistObject, error) {
	objectID = SanitiseObjectID(objectID)
	if err := ValidateObjectID(objectID); err != nil {
		return nil, err
	}
	if obj.Singleton && objectID != "" {
		return nil, &IllegalObjectIdError{
			ObjectID: objectID,
			Message:  fmt.Sprintf("%s is a singleton, it takes no object id", obj.Name),
		}
	}
	if !obj.Singleton && objectID == "" {
		return nil, &IllegalObjectIdError{
			ObjectID: objectID,
			Message:  fmt.Sprintf("%s requires an object id", obj.Name),
		}
	}
	return &CdistObject{
		Type:      obj.Name,
		ObjectID:  objectID,
		Parameter: cconfig.FromSchema(obj.parameterSchema()),
		Explorer:  map[string]string{},
		State:     StateCreated,
		Source:    []string{},
		Tags:      []string{},
		schema:    obj.objectSchema(),
	}, nil
}

// ObjectFromDir loads an existing object of this type from the given
// directory.
func (obj *CdistType) ObjectFromDir(fs afero.Fs, dir string) (*CdistObject, error) {
	schema := obj.objectSchema()
	values, err := cconfig.FromDir(fs, dir, schema)
	if err != nil {
		return nil, err
	}
	return &CdistObject{
		Type:       obj.Name,
		ObjectID:   values.Str("object-id"),
		Parameter:  values.Sub("parameter"),
		Explorer:   values.Map("explorer"),
		State:      values.Str("state"),
		Source:     values.List("source"),
		Tags:       values.List("tags"),
		CodeLocal:  values.Str("code-local"),
		CodeRemote: values.Str("code-remote"),
		Changed:    values.Bool("changed"),
		schema:     schema,
	}, nil
}
