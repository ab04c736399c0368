package executor

import (
	"sync"
	"time"
)

// dedupCache remembers recently executed signal ids so a re-delivered signal
// is refused instead of trading twice. Entries expire after the configured
// TTL; expired entries are swept lazily on insert.
type dedupCache struct {
	ttl time.Duration

	mu   sync.Mutex
	seen map[string]time.Time
}

func newDedupCache(ttl time.Duration) *dedupCache {
	return &dedupCache{
		ttl:  ttl,
		seen: make(map[string]time.Time),
	}
}

// markSeen records the id and reports whether it was already present and
// unexpired. The check and the insert are one atomic step.
func (d *dedupCache) markSeen(id string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := now.Add(-d.ttl)
	for k, t := range d.seen {
		if t.Before(cutoff) {
			delete(d.seen, k)
		}
	}

	if t, ok := d.seen[id]; ok && !t.Before(cutoff) {
		return true
	}
	d.seen[id] = now
	return false
}
