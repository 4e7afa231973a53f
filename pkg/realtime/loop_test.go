package realtime

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestLoop_WakeRunsTick(t *testing.T) {
	ticks := make(chan time.Time, 4)
	l := NewLoop("test", time.Hour, func(now time.Time) { ticks <- now })
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l.SetClock(func() time.Time { return fixed })
	l.Start(context.Background())
	defer l.Stop()

	l.Wake()
	select {
	case got := <-ticks:
		if !got.Equal(fixed) {
			t.Errorf("tick time %v, want %v", got, fixed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tick did not run after Wake")
	}
}

func TestLoop_IntervalTicks(t *testing.T) {
	var n atomic.Int32
	l := NewLoop("test", 10*time.Millisecond, func(time.Time) { n.Add(1) })
	l.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for n.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	l.Stop()
	if n.Load() < 3 {
		t.Errorf("ticks %d, want at least 3", n.Load())
	}
}

func TestLoop_PanicDoesNotStopLoop(t *testing.T) {
	var n atomic.Int32
	l := NewLoop("test", time.Hour, func(time.Time) {
		if n.Add(1) == 1 {
			panic("first tick fails")
		}
	})
	l.Start(context.Background())
	defer l.Stop()

	l.Wake()
	deadline := time.Now().Add(2 * time.Second)
	for n.Load() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	l.Wake()
	for n.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n.Load() < 2 {
		t.Errorf("ticks %d, want 2 (loop should survive a panic)", n.Load())
	}
}

func TestLoop_StartStopIdempotent(t *testing.T) {
	l := NewLoop("test", time.Hour, func(time.Time) {})
	l.Stop()
	l.Start(context.Background())
	l.Start(context.Background())
	if !l.Running() {
		t.Error("loop should be running")
	}
	l.Stop()
	l.Stop()
	if l.Running() {
		t.Error("loop should be stopped")
	}
}
