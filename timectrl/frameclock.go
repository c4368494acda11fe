package timectrl

import (
	"context"
	"sync"
	"time"
)

// TickSource delivers frame ticks to registered listeners. Each listener is
// called with the wall time elapsed since the previous frame.
type TickSource interface {
	// AddListener registers fn and returns a function that removes it.
	// After remove returns, fn is never invoked for a frame that starts later.
	AddListener(fn func(delta time.Duration)) (remove func())
}

// Mode describes how a FrameClock paces frames.
type Mode int

const (
	// RealTime emits one frame per Interval of wall-clock time.
	RealTime Mode = iota
	// Accelerated emits frames back to back, each reporting Interval as its
	// delta. Useful for headless runs and tests.
	Accelerated
)

// FrameClock stands in for a render engine's frame loop: it fires every
// registered listener once per frame, sequentially, on its own goroutine.
type FrameClock struct {
	mu       sync.RWMutex
	Interval time.Duration
	Mode     Mode

	listeners map[uint64]func(time.Duration)
	nextID    uint64
	frames    uint64
}

// NewFrameClock constructs a clock; interval defaults to 1/60 s.
func NewFrameClock(interval time.Duration, mode Mode) *FrameClock {
	if interval <= 0 {
		interval = time.Second / 60
	}
	return &FrameClock{
		Interval:  interval,
		Mode:      mode,
		listeners: make(map[uint64]func(time.Duration)),
	}
}

// AddListener implements TickSource.
func (fc *FrameClock) AddListener(fn func(time.Duration)) (remove func()) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	id := fc.nextID
	fc.nextID++
	fc.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			fc.mu.Lock()
			delete(fc.listeners, id)
			fc.mu.Unlock()
		})
	}
}

// Listeners returns the number of registered listeners.
func (fc *FrameClock) Listeners() int {
	fc.mu.RLock()
	defer fc.mu.RUnlock()
	return len(fc.listeners)
}

// Frames returns how many frames have been emitted.
func (fc *FrameClock) Frames() uint64 {
	fc.mu.RLock()
	defer fc.mu.RUnlock()
	return fc.frames
}

// Step emits a single frame with the given delta.
func (fc *FrameClock) Step(delta time.Duration) {
	fc.mu.Lock()
	fc.frames++
	fns := make([]func(time.Duration), 0, len(fc.listeners))
	for _, fn := range fc.listeners {
		fns = append(fns, fn)
	}
	fc.mu.Unlock()

	// Listeners run outside the lock so they may add or remove listeners.
	for _, fn := range fns {
		fn(delta)
	}
}

// Run emits frames on a separate goroutine until ctx is done or, when
// duration is positive, until that much frame time has elapsed. The returned
// channel is closed when the loop exits.
func (fc *FrameClock) Run(ctx context.Context, duration time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if fc.Mode == Accelerated {
			fc.runAccelerated(ctx, duration)
			return
		}
		fc.runRealTime(ctx, duration)
	}()
	return done
}

func (fc *FrameClock) runAccelerated(ctx context.Context, duration time.Duration) {
	var elapsed time.Duration
	for {
		if duration > 0 && elapsed >= duration {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		fc.Step(fc.Interval)
		elapsed += fc.Interval
	}
}

func (fc *FrameClock) runRealTime(ctx context.Context, duration time.Duration) {
	ticker := time.NewTicker(fc.Interval)
	defer ticker.Stop()

	var elapsed time.Duration
	last := time.Now()
	for {
		if duration > 0 && elapsed >= duration {
			return
		}
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			delta := now.Sub(last)
			last = now
			elapsed += delta
			fc.Step(delta)
		}
	}
}
