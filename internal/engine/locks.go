package engine

import (
	"sync/atomic"

	"github.com/moby/locker"
)

// lockMap hands out one mutex per instance id on top of locker.Locker,
// which drops an id's entry once no goroutine holds or waits for it.
type lockMap struct {
	ids     *locker.Locker
	pending atomic.Int64
}

func newLockMap() *lockMap {
	return &lockMap{ids: locker.New()}
}

// Lock blocks until id is held and returns the matching unlock.
func (m *lockMap) Lock(id string) func() {
	m.pending.Add(1)
	m.ids.Lock(id)
	return func() {
		_ = m.ids.Unlock(id)
		m.pending.Add(-1)
	}
}

// Len returns the number of lock calls currently held or waiting.
func (m *lockMap) Len() int {
	return int(m.pending.Load())
}
