package core

import (
	"math"
	"testing"
	"time"

	"github.com/signalsfoundry/flight-replay/model"
)

func TestPositionAtSamplesIsExact(t *testing.T) {
	track := mustTrack(t, rawAt(0, 1, 2, 5))
	curves := BuildCurves(track)
	for i := 0; i < track.Len(); i++ {
		s := track.At(i)
		got := curves.Position.At(track.InstantAt(s.TimeOffset))
		want := Position{Lat: s.Lat, Lon: s.Lon, Alt: s.Alt}
		if got != want {
			t.Fatalf("Position at sample %d = %+v, want %+v", i, got, want)
		}
	}
}

func TestPositionStaysOnBracketingSegment(t *testing.T) {
	raw := []model.RawSample{
		{TimeOffset: 0, Lat: 41.0, Lon: 41.0, Alt: 0},
		{TimeOffset: 10, Lat: 41.5, Lon: 40.0, Alt: 3000},
		{TimeOffset: 20, Lat: 41.2, Lon: 40.5, Alt: 1000},
	}
	track := mustTrack(t, raw)
	curves := BuildCurves(track)

	between := func(v, a, b float64) bool {
		lo, hi := math.Min(a, b), math.Max(a, b)
		return v >= lo-1e-12 && v <= hi+1e-12
	}
	for off := 0.0; off <= 20; off += 0.25 {
		lo, hi, u := bracket(track.samples, off)
		if u < 0 || u >= 1 {
			t.Fatalf("bracket(%v) u = %v out of [0,1)", off, u)
		}
		p := curves.Position.AtOffset(off)
		a, b := track.At(lo), track.At(hi)
		if !between(p.Lat, a.Lat, b.Lat) || !between(p.Lon, a.Lon, b.Lon) || !between(p.Alt, a.Alt, b.Alt) {
			t.Fatalf("Position(%v) = %+v overshoots segment %d-%d", off, p, lo, hi)
		}
	}

	mid := curves.Position.AtOffset(5)
	if math.Abs(mid.Lat-41.25) > 1e-12 || math.Abs(mid.Lon-40.5) > 1e-12 || math.Abs(mid.Alt-1500) > 1e-9 {
		t.Fatalf("Position(5) = %+v, want (41.25, 40.5, 1500)", mid)
	}
}

func TestPositionClampsOutsideRecording(t *testing.T) {
	track := mustTrack(t, rawAt(2, 4))
	curves := BuildCurves(track)
	first, last := track.At(0), track.At(1)

	if got := curves.Position.At(track.Start().Add(-time.Hour)); got.Alt != first.Alt || got.Lon != first.Lon {
		t.Fatalf("Position before start = %+v, want first sample", got)
	}
	if got := curves.Position.AtOffset(100); got.Alt != last.Alt || got.Lon != last.Lon {
		t.Fatalf("Position after end = %+v, want last sample", got)
	}
}

func TestPositionAcrossAntimeridian(t *testing.T) {
	raw := []model.RawSample{
		{TimeOffset: 0, Lat: 0, Lon: 179},
		{TimeOffset: 2, Lat: 0, Lon: -179},
	}
	curves := BuildCurves(mustTrack(t, raw))
	got := curves.Position.AtOffset(1).Lon
	if math.Abs(math.Abs(got)-180) > 1e-9 {
		t.Fatalf("Lon at antimeridian midpoint = %v, want ±180", got)
	}
	if q := curves.Position.AtOffset(0.5).Lon; math.Abs(q-179.5) > 1e-9 {
		t.Fatalf("Lon at quarter = %v, want 179.5", q)
	}
}

func TestPositionOnAntimeridianSample(t *testing.T) {
	raw := []model.RawSample{
		{TimeOffset: 0, Lat: 0, Lon: 179},
		{TimeOffset: 1, Lat: 0, Lon: 180},
		{TimeOffset: 2, Lat: 0, Lon: -179},
	}
	curves := BuildCurves(mustTrack(t, raw))

	at := curves.Position.AtOffset(1).Lon
	after := curves.Position.AtOffset(1.001).Lon
	if at != -180 {
		t.Fatalf("Lon at the 180 sample = %v, want -180", at)
	}
	if math.Abs(after-at) > 0.01 {
		t.Fatalf("Lon jumps from %v to %v just after the sample", at, after)
	}
	if p := curves.Position.Path()[1].Lon; p != -180 {
		t.Fatalf("Path()[1].Lon = %v, want -180", p)
	}
}

func TestCurveBounds(t *testing.T) {
	track := mustTrack(t, rawAt(3, 4, 9))
	start, stop := BuildCurves(track).Bounds()
	if !start.Equal(track.Start().Add(3 * time.Second)) {
		t.Fatalf("start bound = %v", start)
	}
	if !stop.Equal(track.Start().Add(9 * time.Second)) {
		t.Fatalf("stop bound = %v", stop)
	}
}

func TestOrientationUsesAttitudeWhenPresent(t *testing.T) {
	raw := rawAt(0, 10)
	raw[0].Yaw = model.Float64(130)
	raw[1].Yaw = model.Float64(130)
	raw[1].Roll = model.Float64(30)

	curves := BuildCurves(mustTrack(t, raw))
	if got := curves.Orientation.Source(); got != OrientationFromAttitude {
		t.Fatalf("Source() = %v, want attitude", got)
	}
	o := curves.Orientation.AtOffset(5)
	if math.Abs(o.Heading-130) > 1e-6 || math.Abs(o.Roll-15) > 1e-6 {
		t.Fatalf("Orientation(5) = %+v, want heading 130 roll 15", o)
	}
	if end := curves.Orientation.AtOffset(1000); math.Abs(end.Roll-30) > 1e-9 {
		t.Fatalf("Orientation after end roll = %v, want 30", end.Roll)
	}
}

func TestOrientationFromVelocity(t *testing.T) {
	// Flying due east, then due north.
	raw := []model.RawSample{
		{TimeOffset: 0, Lat: 10, Lon: 20.00, Alt: 1000},
		{TimeOffset: 10, Lat: 10, Lon: 20.01, Alt: 1000},
		{TimeOffset: 20, Lat: 10, Lon: 20.02, Alt: 1000},
		{TimeOffset: 30, Lat: 10.01, Lon: 20.02, Alt: 1000},
		{TimeOffset: 40, Lat: 10.02, Lon: 20.02, Alt: 1000},
	}
	curves := BuildCurves(mustTrack(t, raw))
	if got := curves.Orientation.Source(); got != OrientationFromVelocity {
		t.Fatalf("Source() = %v, want velocity", got)
	}
	if h := curves.Orientation.AtOffset(5).Heading; angleDiff(h, 90) > 0.1 {
		t.Fatalf("heading at 5s = %v, want 90", h)
	}
	if h := curves.Orientation.AtOffset(35).Heading; angleDiff(h, 0) > 0.1 {
		t.Fatalf("heading at 35s = %v, want 0", h)
	}
	if h := curves.Orientation.AtOffset(0).Heading; angleDiff(h, 90) > 0.1 {
		t.Fatalf("heading at start = %v, want 90", h)
	}
	if r := curves.Orientation.AtOffset(12).Roll; r != 0 {
		t.Fatalf("velocity roll = %v, want 0", r)
	}
}

func TestOrientationStationarySegmentsInheritDirection(t *testing.T) {
	raw := []model.RawSample{
		{TimeOffset: 0, Lat: 10, Lon: 20, Alt: 0},
		{TimeOffset: 10, Lat: 10, Lon: 20, Alt: 0},
		{TimeOffset: 20, Lat: 10, Lon: 20.01, Alt: 0},
		{TimeOffset: 30, Lat: 10, Lon: 20.01, Alt: 0},
	}
	curves := BuildCurves(mustTrack(t, raw))
	// Parked before the taxi: faces the direction it will move.
	if h := curves.Orientation.AtOffset(3).Heading; angleDiff(h, 90) > 0.1 {
		t.Fatalf("heading while parked = %v, want 90", h)
	}
	// Stopped after the taxi: keeps the last heading.
	if h := curves.Orientation.AtOffset(27).Heading; angleDiff(h, 90) > 0.1 {
		t.Fatalf("heading after stop = %v, want 90", h)
	}
}

func TestOrientationNeverMoving(t *testing.T) {
	raw := []model.RawSample{{TimeOffset: 0, Lat: 1, Lon: 1}, {TimeOffset: 1, Lat: 1, Lon: 1}}
	o := BuildCurves(mustTrack(t, raw)).Orientation.AtOffset(0.5)
	if o.Heading != 0 || o.Pitch != 0 || o.Roll != 0 {
		t.Fatalf("stationary orientation = %+v, want level north", o)
	}
}
