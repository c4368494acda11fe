package core

import (
	"testing"

	"github.com/signalsfoundry/flight-replay/model"
)

func mustTrack(t *testing.T, raw []model.RawSample) *Track {
	t.Helper()
	track, err := LoadTrack(testMeta, raw)
	if err != nil {
		t.Fatalf("LoadTrack error: %v", err)
	}
	return track
}

func TestNearestExactOffsets(t *testing.T) {
	track := mustTrack(t, rawAt(0, 0.5, 1, 2.25, 7, 7.5, 30))
	r := NewResolver(track)
	for i := 0; i < track.Len(); i++ {
		want := track.At(i)
		if got := r.Nearest(want.TimeOffset); got != want {
			t.Fatalf("Nearest(%v) = %+v, want %+v", want.TimeOffset, got, want)
		}
	}
}

func TestNearestTieBreaksEarlier(t *testing.T) {
	r := NewResolver(mustTrack(t, rawAt(10, 20)))
	if got := r.Nearest(15).TimeOffset; got != 10 {
		t.Fatalf("Nearest(15).TimeOffset = %v, want 10", got)
	}
	if got := r.Nearest(15.0001).TimeOffset; got != 20 {
		t.Fatalf("Nearest(15.0001).TimeOffset = %v, want 20", got)
	}
}

func TestNearestClampsOutsideRange(t *testing.T) {
	r := NewResolver(mustTrack(t, rawAt(3, 4, 5)))
	cases := []struct {
		offset float64
		want   int
	}{
		{-100, 0},
		{0, 0},
		{3.4, 0},
		{3.6, 1},
		{4.5, 1},
		{5, 2},
		{1e9, 2},
	}
	for _, tc := range cases {
		if got := r.NearestIndex(tc.offset); got != tc.want {
			t.Fatalf("NearestIndex(%v) = %d, want %d", tc.offset, got, tc.want)
		}
	}
}

func TestNearestSingleSample(t *testing.T) {
	r := NewResolver(mustTrack(t, rawAt(2)))
	for _, off := range []float64{0, 2, 50} {
		if got := r.NearestIndex(off); got != 0 {
			t.Fatalf("NearestIndex(%v) = %d, want 0", off, got)
		}
	}
}

func TestNearestMatchesLinearScan(t *testing.T) {
	offsets := make([]float64, 0, 200)
	for i := 0; i < 200; i++ {
		offsets = append(offsets, float64(i)*0.7+float64(i%3)*0.1)
	}
	track := mustTrack(t, rawAt(offsets...))
	r := NewResolver(track)

	linear := func(off float64) int {
		best := 0
		for i := 1; i < track.Len(); i++ {
			d := track.At(i).TimeOffset - off
			if d < 0 {
				d = -d
			}
			bd := track.At(best).TimeOffset - off
			if bd < 0 {
				bd = -bd
			}
			if d < bd {
				best = i
			}
		}
		return best
	}

	for off := -1.0; off < 150; off += 0.37 {
		if got, want := r.NearestIndex(off), linear(off); got != want {
			t.Fatalf("NearestIndex(%v) = %d, linear scan = %d", off, got, want)
		}
	}
}
