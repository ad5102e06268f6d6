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

package util

import (
	"regexp"
	"strings"
)

// FnMatch matches a name against a shell wildcard pattern. Unlike path.Match
// the `*` and `?` wildcards also match the path separator, since dependency
// patterns like `__directory/*` are expected to match nested object ids such
// as `__directory/srv/www/data` as a whole. This is the classic fnmatch
// behaviour that manifests rely on.
func FnMatch(pattern, name string) bool {
	re, err := regexp.Compile(fnTranslate(pattern))
	if err != nil {
		return false // an unparseable pattern matches nothing
	}
	return re.MatchString(name)
}

// FnFilter returns the subset of names that match the pattern, preserving the
// input order.
func FnFilter(pattern string, names []string) []string {
	re, err := regexp.Compile(fnTranslate(pattern))
	if err != nil {
		return nil
	}
	result := []string{}
	for _, name := range names {
		if re.MatchString(name) {
			result = append(result, name)
		}
	}
	return result
}

// fnTranslate converts a shell wildcard pattern into an anchored regexp.
func fnTranslate(pattern string) string {
	var b strings.Builder
	b.WriteString(`\A`)
	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch c {
		case '*':
			b.WriteString(`.*`)
		case '?':
			b.WriteString(`.`)
		case '[':
			j := i + 1
			if j < len(runes) && (runes[j] == '!' || runes[j] == '^') {
				j++
			}
			if j < len(runes) && runes[j] == ']' {
				j++
			}
			for j < len(runes) && runes[j] != ']' {
				j++
			}
			if j >= len(runes) { // no closing bracket, literal [
				b.WriteString(`\[`)
				continue
			}
			set := string(runes[i+1 : j])
			i = j
			set = strings.Replace(set, `\`, `\\`, -1)
			if strings.HasPrefix(set, "!") {
				set = "^" + set[1:]
			}
			b.WriteString("[" + set + "]")
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString(`\z`)
	return b.String()
}
