package service

import "sync"

// keyedLocks is a set of non-blocking per-key locks.
type keyedLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{held: make(map[string]struct{})}
}

// TryLock acquires key and reports whether it was free.
func (l *keyedLocks) TryLock(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return false
	}
	l.held[key] = struct{}{}
	return true
}

func (l *keyedLocks) Unlock(key string) {
	l.mu.Lock()
	delete(l.held, key)
	l.mu.Unlock()
}
