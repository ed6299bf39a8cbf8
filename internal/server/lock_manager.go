// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package server

import (
	"sync"

	"github.com/westerndigitalcorporation/tabletboot/internal/core"
)

// LockManager provides exclusive access to a given tablet, guarding against
// two bootstrap attempts (or a bootstrap and some other local operation)
// against the same tablet running concurrently within one process.
type LockManager interface {
	// LockTablet acquires a lock of exclusive access to a given tablet.
	LockTablet(core.TabletID)

	// UnlockTablet releases the lock on a given tablet.
	UnlockTablet(core.TabletID)
}

// FineGrainedLock implements LockManager.
type FineGrainedLock struct {
	// Protects cond and things.
	lock sync.Mutex

	// Signals when something is unlocked.
	cond sync.Cond

	// Holds lock state for tablets. If present, the tablet is locked.
	things map[core.TabletID]bool
}

// NewFineGrainedLock creates a new FineGrainedLock.
func NewFineGrainedLock() LockManager {
	f := new(FineGrainedLock)
	f.cond.L = &f.lock
	f.things = make(map[core.TabletID]bool)
	return f
}

// LockTablet implements LockManager.
func (f *FineGrainedLock) LockTablet(id core.TabletID) {
	f.lock.Lock()
	defer f.lock.Unlock()
	for f.things[id] {
		f.cond.Wait()
	}
	f.things[id] = true
}

// UnlockTablet implements LockManager.
func (f *FineGrainedLock) UnlockTablet(id core.TabletID) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if !f.things[id] {
		panic("wasn't locked!")
	}
	delete(f.things, id)
	f.cond.Broadcast()
}
