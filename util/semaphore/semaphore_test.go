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

package semaphore

import (
	"context"
	"testing"
	"time"
)

func TestSemaphore1(t *testing.T) {
	sem := NewSemaphore(2)
	if sem.Size() != 2 {
		t.Errorf("expected size 2, got %d", sem.Size())
	}

	ctx := context.Background()
	if err := sem.P(ctx); err != nil {
		t.Errorf("unexpected error: %+v", err)
	}
	if err := sem.P(ctx); err != nil {
		t.Errorf("unexpected error: %+v", err)
	}
	if sem.InUse() != 2 {
		t.Errorf("expected 2 in use, got %d", sem.InUse())
	}

	sem.V()
	if sem.InUse() != 1 {
		t.Errorf("expected 1 in use, got %d", sem.InUse())
	}
	sem.V()
}

func TestSemaphoreBlock(t *testing.T) {
	sem := NewSemaphore(1)
	ctx := context.Background()
	if err := sem.P(ctx); err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	// a second P must wait for the V
	done := make(chan struct{})
	go func() {
		if err := sem.P(context.Background()); err != nil {
			t.Errorf("unexpected error: %+v", err)
		}
		close(done)
	}()

	select {
	case <-done:
		t.Errorf("P succeeded while the semaphore was full")
	case <-time.After(10 * time.Millisecond):
	}

	sem.V()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Errorf("P did not wake up after V")
	}
	sem.V()
}

func TestSemaphoreCancel(t *testing.T) {
	sem := NewSemaphore(1)
	if err := sem.P(context.Background()); err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sem.P(ctx); err == nil {
		t.Errorf("expected an error from the cancelled context")
	}
	if sem.InUse() != 1 { // the failed P must not leak a permit
		t.Errorf("expected 1 in use, got %d", sem.InUse())
	}
	sem.V()
}

func TestSemaphorePanic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("expected a panic from V without P")
		}
	}()
	sem := NewSemaphore(1)
	sem.V()
}
