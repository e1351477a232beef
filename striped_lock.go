package cloudblob

import (
	"hash/fnv"
	"sync"
)

// StripedLocks spreads per-key locking over a fixed set of RWMutexes.
// The same key always hashes to the same stripe; unrelated keys rarely contend.
type StripedLocks struct {
	stripes []sync.RWMutex
	count   uint32
}

// NewStripedLocks creates a striped lock set. Non-positive counts fall back
// to DefaultLockStripes.
func NewStripedLocks(stripeCount int) *StripedLocks {
	if stripeCount <= 0 {
		stripeCount = DefaultLockStripes
	}
	return &StripedLocks{
		stripes: make([]sync.RWMutex, stripeCount),
		count:   uint32(stripeCount),
	}
}

// Lock acquires an exclusive lock for key and returns its release function.
//
//	unlock := locks.Lock(key)
//	defer unlock()
func (sl *StripedLocks) Lock(key string) func() {
	idx := sl.stripe(key)
	sl.stripes[idx].Lock()
	return sl.stripes[idx].Unlock
}

// RLock acquires a shared lock for key and returns its release function
func (sl *StripedLocks) RLock(key string) func() {
	idx := sl.stripe(key)
	sl.stripes[idx].RLock()
	return sl.stripes[idx].RUnlock
}

// stripe hashes key with FNV-1a
func (sl *StripedLocks) stripe(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32() % sl.count
}
