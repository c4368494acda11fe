package timectrl

import (
	"errors"
	"math"
	"testing"
	"time"
)

var epoch = time.Date(2026, time.February, 1, 10, 0, 0, 0, time.UTC)

func startedClock(policy LoopPolicy, rate float64, start, stop float64) *PlaybackClock {
	c := NewPlaybackClock(policy, rate)
	c.Start(Bounds{Epoch: epoch, Start: start, Stop: stop})
	return c
}

func TestPlaybackClockStartAtStartBound(t *testing.T) {
	c := startedClock(LoopStop, 1, 2, 12)

	if got := c.Offset(); got != 2 {
		t.Fatalf("Offset() = %v, want 2", got)
	}
	if got := c.State(); got != Running {
		t.Fatalf("State() = %v, want %v", got, Running)
	}
	if want := epoch.Add(2 * time.Second); !c.Now().Equal(want) {
		t.Fatalf("Now() = %v, want %v", c.Now(), want)
	}
	b := c.Bounds()
	if !b.StopTime().Equal(epoch.Add(12 * time.Second)) {
		t.Fatalf("StopTime() = %v, want %v", b.StopTime(), epoch.Add(12*time.Second))
	}
}

func TestPlaybackClockTickAdvancesByRate(t *testing.T) {
	c := startedClock(LoopStop, 2, 0, 100)

	r := c.Tick(1500 * time.Millisecond)
	if r.Offset != 3 {
		t.Fatalf("Offset = %v, want 3", r.Offset)
	}
	if !r.Time.Equal(epoch.Add(3 * time.Second)) {
		t.Fatalf("Time = %v, want %v", r.Time, epoch.Add(3*time.Second))
	}
}

func TestPlaybackClockStopPolicyClampsAtStop(t *testing.T) {
	c := startedClock(LoopStop, 1, 0, 10)

	for i := 0; i < 30; i++ {
		r := c.Tick(time.Second)
		if r.Offset > 10 {
			t.Fatalf("tick %d: Offset = %v, past stop bound", i, r.Offset)
		}
	}
	if got := c.Offset(); got != 10 {
		t.Fatalf("Offset() = %v, want 10", got)
	}
	if got := c.State(); got != Stopped {
		t.Fatalf("State() = %v, want %v", got, Stopped)
	}
}

func TestPlaybackClockStopPolicyOvershoot(t *testing.T) {
	c := startedClock(LoopStop, 1, 0, 10)
	c.Tick(9 * time.Second)

	r := c.Tick(5 * time.Second)
	if r.Offset != 10 || r.State != Stopped {
		t.Fatalf("Tick() = (%v, %v), want (10, stopped)", r.Offset, r.State)
	}
}

func TestPlaybackClockRepeatWraps(t *testing.T) {
	c := startedClock(LoopRepeat, 1, 0, 10)
	c.Tick(8 * time.Second)

	r := c.Tick(5 * time.Second)
	if !r.Wrapped {
		t.Fatalf("Wrapped = false, want true")
	}
	if math.Abs(r.Offset-3) > 1e-9 {
		t.Fatalf("Offset = %v, want 3", r.Offset)
	}
	if r.State != Running {
		t.Fatalf("State = %v, want %v", r.State, Running)
	}
}

func TestPlaybackClockReverse(t *testing.T) {
	c := startedClock(LoopStop, 1, 0, 10)
	c.Seek(6)
	if err := c.SetRate(-2); err != nil {
		t.Fatalf("SetRate() error = %v", err)
	}

	r := c.Tick(time.Second)
	if r.Offset != 4 {
		t.Fatalf("Offset = %v, want 4", r.Offset)
	}
	r = c.Tick(10 * time.Second)
	if r.Offset != 0 || r.State != Stopped {
		t.Fatalf("Tick() = (%v, %v), want (0, stopped)", r.Offset, r.State)
	}
}

func TestPlaybackClockReverseRepeatWraps(t *testing.T) {
	c := startedClock(LoopRepeat, -1, 0, 10)
	c.Seek(2)

	r := c.Tick(3 * time.Second)
	if !r.Wrapped || math.Abs(r.Offset-9) > 1e-9 {
		t.Fatalf("Tick() = (%v, wrapped=%v), want (9, true)", r.Offset, r.Wrapped)
	}
}

func TestPlaybackClockResetKeepsState(t *testing.T) {
	c := startedClock(LoopStop, 1, 1, 10)
	c.Tick(4 * time.Second)

	c.Reset()
	if c.Offset() != 1 || c.State() != Running {
		t.Fatalf("after Reset: (%v, %v), want (1, running)", c.Offset(), c.State())
	}

	c.Tick(2 * time.Second)
	c.Pause()
	c.Reset()
	if c.Offset() != 1 || c.State() != Stopped {
		t.Fatalf("after paused Reset: (%v, %v), want (1, stopped)", c.Offset(), c.State())
	}
}

func TestPlaybackClockPauseHolds(t *testing.T) {
	c := startedClock(LoopStop, 1, 0, 10)
	c.Tick(2 * time.Second)
	c.Pause()

	r := c.Tick(5 * time.Second)
	if r.Offset != 2 {
		t.Fatalf("Offset = %v, want 2", r.Offset)
	}

	c.Play()
	r = c.Tick(time.Second)
	if r.Offset != 3 {
		t.Fatalf("Offset after Play = %v, want 3", r.Offset)
	}
}

func TestPlaybackClockPlayAtEndRewinds(t *testing.T) {
	c := startedClock(LoopStop, 1, 0, 10)
	c.Tick(20 * time.Second)

	c.Play()
	if c.Offset() != 0 || c.State() != Running {
		t.Fatalf("after Play: (%v, %v), want (0, running)", c.Offset(), c.State())
	}
}

func TestPlaybackClockSeekClamps(t *testing.T) {
	c := startedClock(LoopStop, 1, 5, 10)

	tests := []struct {
		in, want float64
	}{
		{in: 7, want: 7},
		{in: -3, want: 5},
		{in: 99, want: 10},
	}
	for _, tt := range tests {
		if got := c.Seek(tt.in); got != tt.want {
			t.Fatalf("Seek(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPlaybackClockSetRateRejectsNaN(t *testing.T) {
	c := NewPlaybackClock(LoopStop, 1)
	if err := c.SetRate(math.NaN()); !errors.Is(err, ErrInvalidRate) {
		t.Fatalf("SetRate(NaN) error = %v, want ErrInvalidRate", err)
	}
	if err := c.SetRate(math.Inf(1)); !errors.Is(err, ErrInvalidRate) {
		t.Fatalf("SetRate(+Inf) error = %v, want ErrInvalidRate", err)
	}
	if c.Rate() != 1 {
		t.Fatalf("Rate() = %v, want 1", c.Rate())
	}
}

func TestPlaybackClockSingleInstantBounds(t *testing.T) {
	c := startedClock(LoopRepeat, 1, 4, 4)

	r := c.Tick(time.Second)
	if r.Offset != 4 || r.State != Stopped {
		t.Fatalf("Tick() = (%v, %v), want (4, stopped)", r.Offset, r.State)
	}
}

func TestParseLoopPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    LoopPolicy
		wantErr bool
	}{
		{in: "", want: LoopStop},
		{in: "stop", want: LoopStop},
		{in: " Repeat ", want: LoopRepeat},
		{in: "loop", want: LoopRepeat},
		{in: "bounce", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseLoopPolicy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseLoopPolicy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if err == nil && got != tt.want {
			t.Fatalf("ParseLoopPolicy(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
