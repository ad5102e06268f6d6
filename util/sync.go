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
	"context"
	"sync"
)

// Event is a level triggered latch. Set wakes every current and future
// waiter, Clear rearms it so that future waiters block again. The zero
// value is a cleared event which is ready for use. It must not be copied
// after first use.
type Event struct {
	mutex sync.Mutex
	set   bool
	done  chan struct{}
}

// signal returns the channel waiters block on. It is built on first use,
// which is safe because every caller holds the mutex.
func (obj *Event) signal() chan struct{} {
	if obj.done == nil {
		obj.done = make(chan struct{}) // initialize
	}
	return obj.done
}

// Set latches the event and releases everyone waiting on it. Setting an
// already set event does nothing.
func (obj *Event) Set() {
	obj.mutex.Lock()
	defer obj.mutex.Unlock()
	if obj.set {
		return
	}
	obj.set = true
	close(obj.signal())
}

// Clear rearms the event. Clearing an unset event does nothing.
func (obj *Event) Clear() {
	obj.mutex.Lock()
	defer obj.mutex.Unlock()
	if !obj.set {
		return
	}
	obj.set = false
	obj.done = make(chan struct{}) // build a fresh signal for new waiters
}

// IsSet reports whether the event is currently set.
func (obj *Event) IsSet() bool {
	obj.mutex.Lock()
	defer obj.mutex.Unlock()
	return obj.set
}

// Wait blocks until the event is observed in the set state, or until the
// context ends, whichever happens first.
func (obj *Event) Wait(ctx context.Context) error {
	for {
		obj.mutex.Lock()
		if obj.set {
			obj.mutex.Unlock()
			return nil
		}
		done := obj.signal()
		obj.mutex.Unlock()

		select {
		case <-done:
			// woken up, loop around and check again
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
