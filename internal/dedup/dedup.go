// Package dedup suppresses request floods: a fingerprint seen again within a
// short window is rejected without waking the engine. The window is fixed from
// the first sighting and a duplicate does not extend it, so rapid retries
// cannot keep a fingerprint suppressed forever.
//
// This is flood suppression, not an idempotency cache; entries expire
// independently of whether the original request completed.
package dedup

import (
	"sync"
	"time"
)

// Result of admitting a fingerprint.
type Result int

const (
	ResultNew Result = iota
	ResultDuplicate
)

func (r Result) String() string {
	if r == ResultDuplicate {
		return "duplicate"
	}
	return "new"
}

// Deduplicator tracks first-seen times for request fingerprints.
type Deduplicator struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

func New(window time.Duration) *Deduplicator {
	if window <= 0 {
		window = 5 * time.Second
	}
	return &Deduplicator{
		window: window,
		now:    time.Now,
		seen:   make(map[string]time.Time),
	}
}

// Admit reports whether fp is a duplicate within the suppression window. It
// does not record the sighting; Mark does, once the request has passed the
// permission check. Splitting the two keeps denied requests out of the seen
// state.
func (d *Deduplicator) Admit(fp string) Result {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	d.sweepLocked(now)

	if first, ok := d.seen[fp]; ok && now.Sub(first) < d.window {
		return ResultDuplicate
	}
	return ResultNew
}

// Mark records the first sighting of fp. A fingerprint already present keeps
// its original first-seen time.
func (d *Deduplicator) Mark(fp string) {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if first, ok := d.seen[fp]; ok && now.Sub(first) < d.window {
		return
	}
	d.seen[fp] = now
}

// Len returns the number of tracked fingerprints, expired entries included
// until the next sweep.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

func (d *Deduplicator) sweepLocked(now time.Time) {
	for fp, first := range d.seen {
		if now.Sub(first) >= d.window {
			delete(d.seen, fp)
		}
	}
}
