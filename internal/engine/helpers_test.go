package engine

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	return c.t
}

type memArchive struct {
	mu      sync.Mutex
	saved   map[string]AlertRecord
	expired map[string]time.Time
}

func newMemArchive() *memArchive {
	return &memArchive{saved: make(map[string]AlertRecord), expired: make(map[string]time.Time)}
}

func (m *memArchive) SaveAlert(_ context.Context, rec AlertRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[rec.ID] = rec
	return nil
}

func (m *memArchive) MarkExpired(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expired[id] = at
	return nil
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	e, err := New(DefaultConfig(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(e.Stop)
	return e, clock
}

// drain returns every event currently queued without blocking.
func drain(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

// connect opens a connection and discards its welcome events.
func connect(t *testing.T, e *Engine, handle, userID string) (Identity, <-chan Event) {
	t.Helper()
	id, ch := e.Connect(handle, Claim{UserID: userID, DisplayName: userID})
	drain(ch)
	return id, ch
}

func ptr(f float64) *float64 { return &f }

func report(lat, lng float64, kind string) AlertReport {
	return AlertReport{Latitude: ptr(lat), Longitude: ptr(lng), ReportType: kind}
}

func countNamed(events []Event, name string) int {
	n := 0
	for _, ev := range events {
		if ev.Name() == name {
			n++
		}
	}
	return n
}
