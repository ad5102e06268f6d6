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

//go:build !root

package util

import (
	"reflect"
	"testing"
)

func TestFnMatch(t *testing.T) {
	var matchTests = []struct {
		pattern string
		name    string
		result  bool
	}{
		{"__file/etc/hosts", "__file/etc/hosts", true},
		{"__file/*", "__file/etc/hosts", true}, // star crosses slashes
		{"__directory/*", "__directory/a/b/c", true},
		{"*", "__anything/at/all", true},
		{"__file/etc/?osts", "__file/etc/hosts", true},
		{"__file/etc/[gh]osts", "__file/etc/hosts", true},
		{"__file/etc/[!gh]osts", "__file/etc/hosts", false},
		{"__file/*", "__directory/etc", false},
		{"__file/etc/hosts", "__file/etc/host", false},
		{"", "", true},
		{"", "x", false},
	}

	for _, test := range matchTests {
		actual := FnMatch(test.pattern, test.name)
		if actual != test.result {
			t.Errorf("FnMatch(%q, %q): expected %t, actual %t", test.pattern, test.name, actual, test.result)
		}
	}
}

func TestFnFilter(t *testing.T) {
	names := []string{
		"__file/etc/hosts",
		"__file/etc/motd",
		"__directory/etc",
	}

	var filterTests = []struct {
		pattern string
		result  []string
	}{
		{"__file/*", []string{"__file/etc/hosts", "__file/etc/motd"}},
		{"__directory/*", []string{"__directory/etc"}},
		{"__link/*", []string{}},
		{"__file/etc/hosts", []string{"__file/etc/hosts"}},
	}

	for _, test := range filterTests {
		actual := FnFilter(test.pattern, names)
		if !reflect.DeepEqual(actual, test.result) {
			t.Errorf("FnFilter(%q): expected %v, actual %v", test.pattern, test.result, actual)
		}
	}
}
