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

func TestStrInList(t *testing.T) {
	if !StrInList("b", []string{"a", "b", "c"}) {
		t.Errorf("expected b to be in the list")
	}
	if StrInList("d", []string{"a", "b", "c"}) {
		t.Errorf("did not expect d to be in the list")
	}
	if StrInList("a", []string{}) {
		t.Errorf("nothing is in the empty list")
	}
}

func TestStrAppendUnique(t *testing.T) {
	list := []string{"a", "b"}
	list = StrAppendUnique(list, "b")
	if len(list) != 2 {
		t.Errorf("duplicate append should not grow the list: %v", list)
	}
	list = StrAppendUnique(list, "c")
	if !reflect.DeepEqual(list, []string{"a", "b", "c"}) {
		t.Errorf("unexpected list: %v", list)
	}
}

func TestStrRemoveDuplicatesInList(t *testing.T) {
	in := []string{"x", "y", "x", "z", "y"}
	out := StrRemoveDuplicatesInList(in)
	if !reflect.DeepEqual(out, []string{"x", "y", "z"}) {
		t.Errorf("unexpected result: %v", out)
	}
}

func TestFlattenListWithSplit(t *testing.T) {
	var flattenTests = []struct {
		input  []string
		result []string
	}{
		{[]string{}, []string{}},
		{[]string{"foo"}, []string{"foo"}},
		{[]string{"foo", "bar,baz"}, []string{"foo", "bar", "baz"}},
		{[]string{"a,b", "c"}, []string{"a", "b", "c"}},
		{[]string{"a,,b", ""}, []string{"a", "b"}},
	}

	for _, test := range flattenTests {
		actual := FlattenListWithSplit(test.input, []string{","})
		if !reflect.DeepEqual(actual, test.result) {
			t.Errorf("FlattenListWithSplit(%v): expected %v, actual %v", test.input, test.result, actual)
		}
	}
}

func TestRstrip(t *testing.T) {
	if Rstrip("foo\n") != "foo" {
		t.Errorf("trailing newline should be removed")
	}
	if Rstrip("foo \t\r\n") != "foo" {
		t.Errorf("all trailing whitespace should be removed")
	}
	if Rstrip("  foo") != "  foo" {
		t.Errorf("leading whitespace should be kept")
	}
	if Rstrip("") != "" {
		t.Errorf("empty input should stay empty")
	}
}
