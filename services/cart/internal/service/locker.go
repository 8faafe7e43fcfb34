package service

import (
	"slices"
	"sync"

	"github.com/Aayuv360/Moha-sub001/services/cart/internal/domain"
)

// keyLocker serializes mutations per owner key. Entries are reference
// counted and removed once no goroutine holds or waits for them.
type keyLocker struct {
	mu    sync.Mutex
	locks map[domain.OwnerKey]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocker() *keyLocker {
	return &keyLocker{locks: make(map[domain.OwnerKey]*refLock)}
}

// Lock acquires the locks for keys in sorted order, so two callers locking
// overlapping sets cannot deadlock. The returned func releases them.
func (l *keyLocker) Lock(keys ...domain.OwnerKey) func() {
	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	held := make([]*refLock, 0, len(sorted))
	for _, key := range sorted {
		rl := l.acquire(key)
		rl.mu.Lock()
		held = append(held, rl)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			l.release(sorted[i])
		}
	}
}

func (l *keyLocker) acquire(key domain.OwnerKey) *refLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	rl, ok := l.locks[key]
	if !ok {
		rl = &refLock{}
		l.locks[key] = rl
	}
	rl.refs++
	return rl
}

func (l *keyLocker) release(key domain.OwnerKey) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rl := l.locks[key]
	rl.refs--
	if rl.refs == 0 {
		delete(l.locks, key)
	}
}

func (l *keyLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
