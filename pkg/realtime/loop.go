package realtime

import (
	"context"
	"log"
	"sync"
	"time"
)

// TickFunc is called by a Loop on every interval, and again whenever the loop is woken.
type TickFunc func(now time.Time)

// Loop runs a TickFunc periodically for the lifetime of its owner.
// Start and Stop are idempotent; a panic inside one tick is logged and the
// loop carries on with the next one.
type Loop struct {
	name     string
	interval time.Duration
	tick     TickFunc
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	wake   chan struct{}
}

// NewLoop creates a stopped loop.
func NewLoop(name string, interval time.Duration, tick TickFunc) *Loop {
	return &Loop{
		name:     name,
		interval: interval,
		tick:     tick,
		now:      func() time.Time { return time.Now().UTC() },
		wake:     make(chan struct{}, 1),
	}
}

// SetClock replaces the time source passed to the tick function.
func (l *Loop) SetClock(now func() time.Time) {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
}

// Start launches the loop goroutine. If it is already running, Start does nothing.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	if l.cancel != nil {
		l.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.cancel = cancel
	l.done = done
	now := l.now
	l.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case <-l.wake:
			}
			l.runTick(now())
		}
	}()
	log.Printf("[%s] loop started interval=%s", l.name, l.interval)
}

// Stop cancels the loop and waits for the goroutine to exit.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	log.Printf("[%s] loop stopped", l.name)
}

// Running reports whether the loop goroutine is active.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel != nil
}

// Wake asks a running loop to tick now instead of waiting for the interval.
func (l *Loop) Wake() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) runTick(now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[%s] tick panic recovered: %v", l.name, r)
		}
	}()
	l.tick(now)
}
