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
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Error is implemented by every failure this tool owns and can present to
// the user as a plain message. Anything else reaching the top level is
// reported verbosely since it is probably a bug.
type Error interface {
	error

	// CdistError is a marker method without behavior.
	CdistError()
}

// IsCdistError reports whether err or anything in its chain is a failure we
// own. Wrapping through errwrap keeps the chain intact.
func IsCdistError(err error) bool {
	var e Error
	return errors.As(err, &e)
}

// ConflictingTagsError is returned when mutually exclusive tag selection
// options are given together.
type ConflictingTagsError struct {
	Message string
}

func (obj *ConflictingTagsError) Error() string {
	return obj.Message
}

func (obj *ConflictingTagsError) CdistError() {}

// IllegalObjectIdError is returned when an object id does not satisfy the
// naming rules.
type IllegalObjectIdError struct {
	ObjectID string

	// Message may override the generic description.
	Message string
}

func (obj *IllegalObjectIdError) Error() string {
	message := obj.Message
	if message == "" {
		message = "illegal object id"
	}
	return fmt.Sprintf("%s: %s", message, obj.ObjectID)
}

func (obj *IllegalObjectIdError) CdistError() {}

// CdistObjectError is returned when something is wrong with a particular
// object. It carries the manifests which defined the object so the user can
// find the offending declarations.
type CdistObjectError struct {
	Name    string
	Source  []string
	Message string
}

func (obj *CdistObjectError) Error() string {
	return fmt.Sprintf("%s: %s (defined at %s)", obj.Name, obj.Message, strings.Join(obj.Source, " "))
}

func (obj *CdistObjectError) CdistError() {}

// MissingRequiredEnvironmentVariableError is returned by the emulator when it
// is started outside of the environment a manifest run provides.
type MissingRequiredEnvironmentVariableError struct {
	Name string
}

func (obj *MissingRequiredEnvironmentVariableError) Error() string {
	return fmt.Sprintf("the required environment variable '%s' is not defined", obj.Name)
}

func (obj *MissingRequiredEnvironmentVariableError) CdistError() {}

// RequirementNotFoundError is returned when a dependency pattern matches no
// known object.
type RequirementNotFoundError struct {
	Requirement string
}

func (obj *RequirementNotFoundError) Error() string {
	return fmt.Sprintf("requirement could not be found: %s", obj.Requirement)
}

func (obj *RequirementNotFoundError) CdistError() {}

// CircularReferenceError is returned when the scheduler stalls with objects
// that still wait for each other. Pending maps each stalled object to the
// names it is waiting for.
type CircularReferenceError struct {
	Pending map[string][]string
}

func (obj *CircularReferenceError) Error() string {
	names := []string{}
	for name := range obj.Pending {
		names = append(names, name)
	}
	sort.Strings(names)
	edges := []string{}
	for _, name := range names {
		edges = append(edges, fmt.Sprintf("%s -> %s", name, obj.Pending[name]))
	}
	return fmt.Sprintf("circular reference detected: %s", strings.Join(edges, "; "))
}

func (obj *CircularReferenceError) CdistError() {}
