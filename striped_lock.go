package gridbase

import (
	"hash/maphash"
	"sync"
)

// StripedLocks maps keys onto a fixed pool of RWMutexes. ObjectGrid takes
// one per sheet name and LocalLocker one per collection lock key; a key
// always lands on the same stripe.
type StripedLocks struct {
	seed    maphash.Seed
	stripes []sync.RWMutex
}

// NewStripedLocks creates stripeCount stripes, or 32 when stripeCount is not
// positive.
func NewStripedLocks(stripeCount int) *StripedLocks {
	if stripeCount <= 0 {
		stripeCount = 32
	}
	return &StripedLocks{
		seed:    maphash.MakeSeed(),
		stripes: make([]sync.RWMutex, stripeCount),
	}
}

// Lock takes key's stripe exclusively and returns the unlock function.
func (sl *StripedLocks) Lock(key string) func() {
	mu := sl.stripe(key)
	mu.Lock()
	return mu.Unlock
}

// RLock takes key's stripe shared and returns the unlock function.
func (sl *StripedLocks) RLock(key string) func() {
	mu := sl.stripe(key)
	mu.RLock()
	return mu.RUnlock
}

func (sl *StripedLocks) stripe(key string) *sync.RWMutex {
	return &sl.stripes[maphash.String(sl.seed, key)%uint64(len(sl.stripes))]
}
