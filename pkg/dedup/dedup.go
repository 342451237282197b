// Package dedup suppresses repeats of the same key inside a time window.
package dedup

import (
	"sync"
	"time"
)

type Deduper struct {
	mu   sync.Mutex
	ttl  time.Duration
	max  int
	seen map[string]time.Time // key -> scadenza
	now  func() time.Time
}

func New(ttl time.Duration, max int) *Deduper {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if max <= 0 {
		max = 10000
	}
	return &Deduper{ttl: ttl, max: max, seen: make(map[string]time.Time), now: time.Now}
}

// ShouldProcess is true the first time a key shows up and again once its window expired.
// Empty keys always pass.
func (d *Deduper) ShouldProcess(key string) bool {
	if key == "" {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if exp, ok := d.seen[key]; ok && now.Before(exp) {
		return false
	}
	d.seen[key] = now.Add(d.ttl)
	if len(d.seen) > d.max {
		d.evict(now)
	}
	return true
}

// Forget clears a key so its next occurrence passes (es. fault rientrato).
func (d *Deduper) Forget(key string) {
	d.mu.Lock()
	delete(d.seen, key)
	d.mu.Unlock()
}

func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

func (d *Deduper) evict(now time.Time) {
	for k, exp := range d.seen {
		if !now.Before(exp) {
			delete(d.seen, k)
		}
	}
	// ancora pieno: via le chiavi più vicine alla scadenza
	for len(d.seen) > d.max {
		var oldest string
		var at time.Time
		for k, exp := range d.seen {
			if oldest == "" || exp.Before(at) {
				oldest, at = k, exp
			}
		}
		delete(d.seen, oldest)
	}
}
