package engine

import (
	"sync"
	"time"
)

// RateLimiter bounds how many reports one reporter may create per rolling window.
// A slot is taken by Reserve and given back by Reservation.Cancel, so a
// report that fails validation or insertion does not consume quota.
type RateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	now    func() time.Time
	seq    uint64
	hits   map[string][]hit
}

type hit struct {
	at  time.Time
	seq uint64
}

// NewRateLimiter creates a limiter allowing limit reports per window.
func NewRateLimiter(limit int, window time.Duration, now func() time.Time) *RateLimiter {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &RateLimiter{
		limit:  limit,
		window: window,
		now:    now,
		hits:   make(map[string][]hit),
	}
}

// Allow reports whether reporterID may create another report right now,
// without consuming anything.
func (l *RateLimiter) Allow(reporterID string) bool {
	return l.Remaining(reporterID) > 0
}

// Remaining returns how many reports reporterID may still create in the current window.
func (l *RateLimiter) Remaining(reporterID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.limit - len(l.validLocked(reporterID, l.now()))
	if n < 0 {
		return 0
	}
	return n
}

// Reservation is a consumed slot that can be handed back.
type Reservation struct {
	l          *RateLimiter
	reporterID string
	seq        uint64
	once       sync.Once
}

// Reserve takes a slot for reporterID if the window has room.
func (l *RateLimiter) Reserve(reporterID string) (*Reservation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	valid := l.validLocked(reporterID, now)
	if len(valid) >= l.limit {
		return nil, false
	}
	l.seq++
	l.hits[reporterID] = append(valid, hit{at: now, seq: l.seq})
	return &Reservation{l: l, reporterID: reporterID, seq: l.seq}, true
}

// Cancel returns the slot. Calling it more than once is harmless.
func (r *Reservation) Cancel() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		r.l.mu.Lock()
		defer r.l.mu.Unlock()
		hits := r.l.hits[r.reporterID]
		for i, h := range hits {
			if h.seq == r.seq {
				hits = append(hits[:i], hits[i+1:]...)
				break
			}
		}
		if len(hits) == 0 {
			delete(r.l.hits, r.reporterID)
		} else {
			r.l.hits[r.reporterID] = hits
		}
	})
}

// Seed records past report times for reporterID, e.g. reloaded from durable storage.
func (l *RateLimiter) Seed(reporterID string, times []time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, at := range times {
		l.seq++
		l.hits[reporterID] = append(l.hits[reporterID], hit{at: at, seq: l.seq})
	}
	l.validLocked(reporterID, l.now())
}

// Prune drops reporters with no hits inside the window.
func (l *RateLimiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	removed := 0
	for id := range l.hits {
		if l.validLocked(id, now) == nil {
			removed++
		}
	}
	return removed
}

// validLocked drops hits for id that fell out of the window, stores the
// remainder back and returns it.
func (l *RateLimiter) validLocked(id string, now time.Time) []hit {
	hits, ok := l.hits[id]
	if !ok {
		return nil
	}
	valid := hits[:0]
	for _, h := range hits {
		if now.Sub(h.at) < l.window {
			valid = append(valid, h)
		}
	}
	if len(valid) == 0 {
		delete(l.hits, id)
		return nil
	}
	l.hits[id] = valid
	return valid
}
