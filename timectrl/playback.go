package timectrl

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

// State is the run state of a PlaybackClock.
type State int

const (
	Stopped State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

// LoopPolicy decides what happens when playback reaches a bound.
type LoopPolicy int

const (
	// LoopStop plays once, then holds at the bound and stops.
	LoopStop LoopPolicy = iota
	// LoopRepeat wraps around to the opposite bound and keeps running.
	LoopRepeat
)

func (p LoopPolicy) String() string {
	if p == LoopRepeat {
		return "repeat"
	}
	return "stop"
}

// ParseLoopPolicy accepts "stop" (also "once", "hold") and "repeat" (also "loop").
func ParseLoopPolicy(s string) (LoopPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "stop", "once", "hold":
		return LoopStop, nil
	case "repeat", "loop":
		return LoopRepeat, nil
	default:
		return LoopStop, fmt.Errorf("unknown loop policy %q", s)
	}
}

// ErrInvalidRate is returned for NaN or infinite playback rates.
var ErrInvalidRate = errors.New("invalid playback rate")

// Bounds are the playable range of a session. Start and Stop are time
// offsets in seconds from Epoch.
type Bounds struct {
	Epoch time.Time
	Start float64
	Stop  float64
}

// StartTime returns the absolute instant of the start bound.
func (b Bounds) StartTime() time.Time { return b.Epoch.Add(seconds(b.Start)) }

// StopTime returns the absolute instant of the stop bound.
func (b Bounds) StopTime() time.Time { return b.Epoch.Add(seconds(b.Stop)) }

// Span is the length of the playable range in seconds.
func (b Bounds) Span() float64 { return b.Stop - b.Start }

// Reading is the clock position after a tick.
type Reading struct {
	Offset float64
	Time   time.Time
	State  State
	// Wrapped is set when a LoopRepeat tick crossed a bound.
	Wrapped bool
}

// PlaybackClock tracks the current playback time of one session. It is
// advanced explicitly by Tick; it owns no goroutine.
type PlaybackClock struct {
	mu      sync.RWMutex
	bounds  Bounds
	current float64
	rate    float64
	policy  LoopPolicy
	state   State
}

// NewPlaybackClock constructs a stopped clock. A zero rate means 1x.
func NewPlaybackClock(policy LoopPolicy, rate float64) *PlaybackClock {
	if rate == 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		rate = 1
	}
	return &PlaybackClock{policy: policy, rate: rate}
}

// Start sets the bounds, moves to the start bound and enters Running.
func (c *PlaybackClock) Start(b Bounds) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b.Stop < b.Start {
		b.Stop = b.Start
	}
	c.bounds = b
	c.current = b.Start
	c.state = Running
}

// Tick advances the clock by delta scaled by the rate. Under LoopStop the
// clock never moves past a bound: it clamps there and stops. Under
// LoopRepeat it wraps. A stopped clock does not move.
func (c *PlaybackClock) Tick(delta time.Duration) Reading {
	c.mu.Lock()
	defer c.mu.Unlock()

	wrapped := false
	if c.state == Running {
		next := c.current + delta.Seconds()*c.rate
		span := c.bounds.Span()
		switch {
		case next > c.bounds.Stop || (next == c.bounds.Stop && c.policy == LoopStop):
			if c.policy == LoopRepeat && span > 0 {
				next = c.bounds.Start + math.Mod(next-c.bounds.Start, span)
				wrapped = true
			} else {
				next = c.bounds.Stop
				c.state = Stopped
			}
		case next < c.bounds.Start || (next == c.bounds.Start && c.rate < 0 && c.policy == LoopStop):
			if c.policy == LoopRepeat && span > 0 {
				next = c.bounds.Stop - math.Mod(c.bounds.Start-next, span)
				wrapped = true
			} else {
				next = c.bounds.Start
				c.state = Stopped
			}
		}
		c.current = next
	}
	return Reading{Offset: c.current, Time: c.nowLocked(), State: c.state, Wrapped: wrapped}
}

// Reset returns to the start bound without changing the run state.
func (c *PlaybackClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.bounds.Start
}

// Pause stops the clock where it is.
func (c *PlaybackClock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = Stopped
}

// Play resumes a stopped clock. A clock held at the bound it was playing
// towards under LoopStop restarts from the opposite bound.
func (c *PlaybackClock) Play() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.policy == LoopStop {
		switch {
		case c.rate > 0 && c.current >= c.bounds.Stop:
			c.current = c.bounds.Start
		case c.rate < 0 && c.current <= c.bounds.Start:
			c.current = c.bounds.Stop
		}
	}
	c.state = Running
}

// Seek moves to offset, clamped to the bounds, and returns the new offset.
func (c *PlaybackClock) Seek(offset float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if math.IsNaN(offset) {
		return c.current
	}
	c.current = math.Max(c.bounds.Start, math.Min(c.bounds.Stop, offset))
	return c.current
}

// SetRate changes the playback multiplier. Negative rates play backwards and
// zero holds the current position while Running.
func (c *PlaybackClock) SetRate(rate float64) error {
	if math.IsNaN(rate) || math.IsInf(rate, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidRate, rate)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rate = rate
	return nil
}

// SetPolicy changes the loop policy.
func (c *PlaybackClock) SetPolicy(p LoopPolicy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policy = p
}

// Rate returns the playback multiplier.
func (c *PlaybackClock) Rate() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rate
}

// Policy returns the loop policy.
func (c *PlaybackClock) Policy() LoopPolicy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.policy
}

// State returns the run state.
func (c *PlaybackClock) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Bounds returns the playable range.
func (c *PlaybackClock) Bounds() Bounds {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bounds
}

// Offset returns the current time offset in seconds.
func (c *PlaybackClock) Offset() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Now returns the current absolute playback time.
func (c *PlaybackClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nowLocked()
}

// Reading returns the current position without advancing.
func (c *PlaybackClock) Reading() Reading {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Reading{Offset: c.current, Time: c.nowLocked(), State: c.state}
}

func (c *PlaybackClock) nowLocked() time.Time {
	return c.bounds.Epoch.Add(seconds(c.current))
}

func seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}
