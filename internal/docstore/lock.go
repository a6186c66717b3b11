package docstore

import "sync"

type lockKey struct {
	store Store
	key   string
}

var docLocks sync.Map // lockKey -> *sync.Mutex

// DocLock returns the mutex that serializes read-modify-write cycles on key
// of s inside this process. Every caller rewriting the same document through
// the same store gets the same mutex, no matter how many queue, manager or
// aggregator values point at it. Stores must be comparable (pointer types).
func DocLock(s Store, key string) *sync.Mutex {
	k := lockKey{store: s, key: key}
	if mu, ok := docLocks.Load(k); ok {
		return mu.(*sync.Mutex)
	}
	mu, _ := docLocks.LoadOrStore(k, &sync.Mutex{})
	return mu.(*sync.Mutex)
}
