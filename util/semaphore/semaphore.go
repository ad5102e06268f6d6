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

// Package semaphore contains an implementation of a counting semaphore. It
// caps the number of concurrently running subprocesses per executor, which is
// the backpressure that keeps us under the transport connection limits.
package semaphore

import (
	"context"
)

// Semaphore is a counting semaphore. It must be initialized before use.
type Semaphore struct {
	c chan struct{}
}

// NewSemaphore creates a new semaphore of the given size.
func NewSemaphore(size int) *Semaphore {
	obj := &Semaphore{}
	obj.Init(size)
	return obj
}

// Init initializes the semaphore.
func (obj *Semaphore) Init(size int) {
	obj.c = make(chan struct{}, size)
}

// Size returns the capacity of the semaphore.
func (obj *Semaphore) Size() int {
	return cap(obj.c)
}

// InUse returns the number of currently held permits. It is inherently racy
// and is only useful for reporting.
func (obj *Semaphore) InUse() int {
	return len(obj.c)
}

// P acquires one permit. It blocks until a permit is available or the context
// is cancelled. A cancelled acquire does not leak a permit, so a caller that
// got an error must not V.
func (obj *Semaphore) P(ctx context.Context) error {
	select {
	case obj.c <- struct{}{}: // acquire one
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// V releases one permit. Releasing more than was acquired is a programming
// error.
func (obj *Semaphore) V() {
	select {
	case <-obj.c: // release one
	default: // trying to release something that isn't locked
		panic("semaphore: V > P")
	}
}
