package timectrl

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestFrameClockStepCallsListeners(t *testing.T) {
	fc := NewFrameClock(10*time.Millisecond, Accelerated)

	var got time.Duration
	fc.AddListener(func(d time.Duration) { got += d })

	fc.Step(25 * time.Millisecond)
	fc.Step(5 * time.Millisecond)

	if got != 30*time.Millisecond {
		t.Fatalf("accumulated delta = %v, want %v", got, 30*time.Millisecond)
	}
	if fc.Frames() != 2 {
		t.Fatalf("Frames() = %d, want 2", fc.Frames())
	}
}

func TestFrameClockRemoveListener(t *testing.T) {
	fc := NewFrameClock(time.Millisecond, Accelerated)

	var calls int
	remove := fc.AddListener(func(time.Duration) { calls++ })
	fc.Step(time.Millisecond)
	remove()
	remove() // idempotent
	fc.Step(time.Millisecond)

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if n := fc.Listeners(); n != 0 {
		t.Fatalf("Listeners() = %d, want 0", n)
	}
}

func TestFrameClockListenerMayRemoveItself(t *testing.T) {
	fc := NewFrameClock(time.Millisecond, Accelerated)

	var remove func()
	var calls int
	remove = fc.AddListener(func(time.Duration) {
		calls++
		remove()
	})

	fc.Step(time.Millisecond)
	fc.Step(time.Millisecond)

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestFrameClockAcceleratedRunDuration(t *testing.T) {
	fc := NewFrameClock(5*time.Millisecond, Accelerated)

	var total atomic.Int64
	fc.AddListener(func(d time.Duration) { total.Add(int64(d)) })

	<-fc.Run(context.Background(), 15*time.Millisecond)

	if got := time.Duration(total.Load()); got != 15*time.Millisecond {
		t.Fatalf("total delta = %v, want %v", got, 15*time.Millisecond)
	}
	if fc.Frames() != 3 {
		t.Fatalf("Frames() = %d, want 3", fc.Frames())
	}
}

func TestFrameClockRunStopsOnCancel(t *testing.T) {
	fc := NewFrameClock(time.Millisecond, RealTime)
	ctx, cancel := context.WithCancel(context.Background())

	done := fc.Run(ctx, 0)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not exit after cancel")
	}
}

func TestNewFrameClockDefaultInterval(t *testing.T) {
	fc := NewFrameClock(0, RealTime)
	if fc.Interval != time.Second/60 {
		t.Fatalf("Interval = %v, want %v", fc.Interval, time.Second/60)
	}
}
