package sync

import (
	"sync"
	"time"
)

// Leases is the set of keys with a mutation in flight. A notification for a
// leased key is treated as the echo of our own write and discarded.
//
// Leases are reference counted, so two overlapping operations on one key do
// not clear each other's guard.
type Leases struct {
	mu   sync.Mutex
	held map[string]int
}

// NewLeases returns an empty set.
func NewLeases() *Leases {
	return &Leases{held: make(map[string]int)}
}

// Acquire adds one reference to id.
func (l *Leases) Acquire(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held[id]++
}

// Release drops one reference to id. Releasing an unheld key is a no-op.
func (l *Leases) Release(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch n := l.held[id]; {
	case n <= 1:
		delete(l.held, id)
	default:
		l.held[id] = n - 1
	}
}

// ReleaseAfter drops one reference to id once d has elapsed. A non-positive d
// releases immediately.
func (l *Leases) ReleaseAfter(id string, d time.Duration) {
	if d <= 0 {
		l.Release(id)
		return
	}
	time.AfterFunc(d, func() { l.Release(id) })
}

// Held reports whether id has at least one reference.
func (l *Leases) Held(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[id] > 0
}

// Len returns the number of leased keys.
func (l *Leases) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}

// keyLocks serializes work on a single key. Entries are dropped once no
// goroutine holds or waits on them.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// lock blocks until id is free and returns the matching unlock.
func (k *keyLocks) lock(id string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyLock)
	}
	l, ok := k.locks[id]
	if !ok {
		l = &keyLock{}
		k.locks[id] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
