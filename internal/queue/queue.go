// Package queue holds requests that cannot be dispatched immediately, in
// three priority bands. HIGH releases at once; NORMAL and LOW accumulate and
// release in batches so background traffic wakes the engine once per window
// instead of once per request.
package queue

import (
	"sync"
	"time"

	"github.com/frostr/iglood/internal/protocol"
)

// Config carries the band windows and capacity from the service config.
type Config struct {
	Capacity            int
	NormalReleaseEvery  time.Duration
	LowReleaseEvery     time.Duration
	LowReleaseThreshold int
}

// Queue is a concurrent-safe three-band priority queue. FIFO within a band.
type Queue struct {
	cfg Config
	now func() time.Time

	mu        sync.Mutex
	bands     map[protocol.Priority][]protocol.Request
	releaseAt map[protocol.Priority]time.Time
	size      int

	wake chan struct{}
}

func New(cfg Config) *Queue {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1000
	}
	return &Queue{
		cfg: cfg,
		now: time.Now,
		bands: map[protocol.Priority][]protocol.Request{
			protocol.PriorityHigh:   nil,
			protocol.PriorityNormal: nil,
			protocol.PriorityLow:    nil,
		},
		releaseAt: make(map[protocol.Priority]time.Time),
		wake:      make(chan struct{}, 1),
	}
}

// Enqueue accepts a request unless the queue is at hard capacity. A false
// return means the caller gets a busy outcome immediately; nothing is dropped
// silently.
func (q *Queue) Enqueue(req protocol.Request) bool {
	q.mu.Lock()

	if q.size >= q.cfg.Capacity {
		q.mu.Unlock()
		return false
	}

	band := req.Priority
	wasEmpty := len(q.bands[band]) == 0
	q.bands[band] = append(q.bands[band], req)
	q.size++

	now := q.now()
	if wasEmpty {
		q.releaseAt[band] = now.Add(q.windowFor(band))
	}
	// A full LOW band releases early regardless of its window.
	if band == protocol.PriorityLow && q.cfg.LowReleaseThreshold > 0 &&
		len(q.bands[band]) >= q.cfg.LowReleaseThreshold {
		q.releaseAt[band] = now
	}

	q.mu.Unlock()

	q.signal()
	return true
}

// Remove withdraws a request by id, typically on deadline expiry. Returns
// false if the request is no longer queued.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for band, items := range q.bands {
		for i, req := range items {
			if req.ID != id {
				continue
			}
			q.bands[band] = append(items[:i:i], items[i+1:]...)
			q.size--
			if len(q.bands[band]) == 0 {
				delete(q.releaseAt, band)
			}
			return true
		}
	}
	return false
}

// DrainAll empties every band, highest first. Used once the engine has become
// ready: everything waiting dispatches, batching windows notwithstanding.
func (q *Queue) DrainAll() []protocol.Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []protocol.Request
	for _, band := range []protocol.Priority{protocol.PriorityHigh, protocol.PriorityNormal, protocol.PriorityLow} {
		out = append(out, q.bands[band]...)
		q.bands[band] = nil
		delete(q.releaseAt, band)
	}
	q.size = 0
	return out
}

// DrainBand empties a single band regardless of its window. Used when an
// engine start fails: the interactive band learns immediately, batched bands
// stay queued for the next attempt.
func (q *Queue) DrainBand(band protocol.Priority) []protocol.Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.bands[band]
	q.size -= len(out)
	q.bands[band] = nil
	delete(q.releaseAt, band)
	return out
}

// Rearm pushes each non-empty band's release time a full window into the
// future. Called after a failed engine start so the release loop waits out
// the next window instead of spinning against a dead engine.
func (q *Queue) Rearm() {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	for band, items := range q.bands {
		if len(items) == 0 {
			continue
		}
		q.releaseAt[band] = now.Add(q.windowFor(band))
	}
}

// NextRelease returns the earliest pending release time, if any band holds
// requests.
func (q *Queue) NextRelease() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var (
		earliest time.Time
		found    bool
	)
	for _, at := range q.releaseAt {
		if !found || at.Before(earliest) {
			earliest = at
			found = true
		}
	}
	return earliest, found
}

// Wake returns a channel that receives a token whenever the release schedule
// may have changed. Tokens are coalesced.
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}

// Len returns the number of queued requests across all bands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// LenBand returns the number of queued requests in one band.
func (q *Queue) LenBand(band protocol.Priority) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.bands[band])
}

func (q *Queue) windowFor(band protocol.Priority) time.Duration {
	switch band {
	case protocol.PriorityHigh:
		return 0
	case protocol.PriorityNormal:
		return q.cfg.NormalReleaseEvery
	default:
		return q.cfg.LowReleaseEvery
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
