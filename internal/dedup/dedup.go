// Package dedup remembers which item ids this process has already handled.
//
// The set lives in memory only. A restarted process starts empty, so an id
// handled before a crash can be handled again afterwards; consumers of
// anything guarded here must tolerate duplicates.
package dedup

import (
	"time"

	cache "github.com/patrickmn/go-cache"
)

// Guard is a process-local set of handled ids, safe for concurrent use.
type Guard struct {
	ids *cache.Cache
}

// New returns a Guard. A positive ttl forgets ids after that long, which
// bounds memory in long-running daemons; ttl <= 0 keeps ids for the whole
// process lifetime.
func New(ttl time.Duration) *Guard {
	if ttl <= 0 {
		return &Guard{ids: cache.New(cache.NoExpiration, 0)}
	}
	return &Guard{ids: cache.New(ttl, ttl)}
}

// Seen reports whether id was marked and has not expired.
func (g *Guard) Seen(id string) bool {
	_, ok := g.ids.Get(id)
	return ok
}

// MarkSeen records id.
func (g *Guard) MarkSeen(id string) {
	g.ids.SetDefault(id, struct{}{})
}

// TryMark marks id and reports true only for the caller that marked it first.
func (g *Guard) TryMark(id string) bool {
	return g.ids.Add(id, struct{}{}, cache.DefaultExpiration) == nil
}

// Forget removes id so the next poll handles it again.
func (g *Guard) Forget(id string) {
	g.ids.Delete(id)
}

// Len returns the number of remembered ids.
func (g *Guard) Len() int {
	return g.ids.ItemCount()
}
