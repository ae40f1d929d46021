package layerfs

import (
	"sync"
	"sync/atomic"
)

// mutex is a plain alias so fields like allocatorLock.mu read the same way
// spec.md names them ("a mutex guarding...") without importing sync at
// every call site.
type mutex = sync.Mutex

func newMutex() *sync.Mutex { return &sync.Mutex{} }

func addInt64(addr *int64, delta int64) int64 { return atomic.AddInt64(addr, delta) }
func loadInt64(addr *int64) int64             { return atomic.LoadInt64(addr) }

func (a *allocatorLock) Lock()   { a.mu.Lock() }
func (a *allocatorLock) Unlock() { a.mu.Unlock() }
