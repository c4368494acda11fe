package core

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/num/quat"

	"github.com/signalsfoundry/flight-replay/model"
)

// OrientationSource says where an OrientationCurve takes attitude from.
type OrientationSource int

const (
	// OrientationFromAttitude slerps between recorded yaw/pitch/roll.
	OrientationFromAttitude OrientationSource = iota
	// OrientationFromVelocity points the aircraft along its direction of
	// travel; used when the recording carries no attitude at all.
	OrientationFromVelocity
)

func (s OrientationSource) String() string {
	switch s {
	case OrientationFromAttitude:
		return "attitude"
	case OrientationFromVelocity:
		return "velocity"
	default:
		return "unknown"
	}
}

// velocityStep is the half-width, in seconds, of the central difference used
// to estimate the direction of travel.
const velocityStep = 0.5

// Curves are the continuous functions of absolute time built from a Track.
// Both curves are immutable and safe for concurrent use.
type Curves struct {
	Position    *PositionCurve
	Orientation *OrientationCurve
}

// BuildCurves constructs the position and orientation curves for track.
func BuildCurves(track *Track) *Curves {
	pos := &PositionCurve{track: track}
	return &Curves{
		Position:    pos,
		Orientation: newOrientationCurve(track, pos),
	}
}

// Bounds returns the absolute instants of the first and last sample.
func (c *Curves) Bounds() (start, stop time.Time) {
	t := c.Position.track
	return t.InstantAt(t.FirstOffset()), t.InstantAt(t.LastOffset())
}

// bracket locates offset among samples. It returns the bracketing pair
// (lo, hi) and the fraction u in [0, 1) of the way from lo to hi. Offsets
// outside the recorded range clamp to the boundary sample with lo == hi.
func bracket(samples []model.TelemetrySample, offset float64) (lo, hi int, u float64) {
	n := len(samples)
	if offset <= samples[0].TimeOffset {
		return 0, 0, 0
	}
	if offset >= samples[n-1].TimeOffset {
		return n - 1, n - 1, 0
	}
	// First sample strictly after offset; 1 <= j <= n-1 given the checks above.
	j := sort.Search(n, func(k int) bool { return samples[k].TimeOffset > offset })
	lo, hi = j-1, j
	u = (offset - samples[lo].TimeOffset) / (samples[hi].TimeOffset - samples[lo].TimeOffset)
	return lo, hi, u
}

// PositionCurve interpolates latitude, longitude and altitude linearly
// between bracketing samples and holds the boundary sample outside the
// recorded range.
type PositionCurve struct {
	track *Track
}

// At evaluates the curve at absolute time t.
func (c *PositionCurve) At(t time.Time) Position {
	return c.AtOffset(c.track.OffsetAt(t))
}

// AtOffset evaluates the curve at a time offset in seconds.
func (c *PositionCurve) AtOffset(offset float64) Position {
	lo, hi, u := bracket(c.track.samples, offset)
	a := c.track.samples[lo]
	if lo == hi || u == 0 {
		return Position{Lat: a.Lat, Lon: wrapLongitude(a.Lon), Alt: a.Alt}
	}
	b := c.track.samples[hi]
	return Position{
		Lat: a.Lat + u*(b.Lat-a.Lat),
		// Take the short way round across the antimeridian.
		Lon: wrapLongitude(a.Lon + u*wrapLongitude(b.Lon-a.Lon)),
		Alt: a.Alt + u*(b.Alt-a.Alt),
	}
}

// Path returns the recorded sample positions in time order, for drawing the
// track trail.
func (c *PositionCurve) Path() []Position {
	out := make([]Position, len(c.track.samples))
	for i, s := range c.track.samples {
		out[i] = Position{Lat: s.Lat, Lon: wrapLongitude(s.Lon), Alt: s.Alt}
	}
	return out
}

// OrientationCurve yields the aircraft attitude at any time within the
// recording, clamped like PositionCurve outside it.
type OrientationCurve struct {
	track    *Track
	position *PositionCurve
	source   OrientationSource

	// attitude mode
	quats []quat.Number

	// velocity mode: direction of each segment [i, i+1], with stationary
	// segments inheriting their neighbour's direction.
	segments []Orientation
}

func newOrientationCurve(track *Track, pos *PositionCurve) *OrientationCurve {
	c := &OrientationCurve{track: track, position: pos, source: OrientationFromVelocity}
	for _, s := range track.samples {
		if s.HasAttitude() {
			c.source = OrientationFromAttitude
			break
		}
	}

	if c.source == OrientationFromAttitude {
		c.quats = make([]quat.Number, len(track.samples))
		for i, s := range track.samples {
			c.quats[i] = AttitudeQuaternion(s.Yaw, s.Pitch, s.Roll)
		}
		return c
	}

	c.segments = segmentDirections(track)
	return c
}

// segmentDirections computes the direction of travel of every segment.
// Segments without displacement copy the previous moving segment; leading
// stationary segments copy the first moving one. A track that never moves
// faces north, level.
func segmentDirections(track *Track) []Orientation {
	n := len(track.samples)
	if n < 2 {
		return []Orientation{OrientationFromAngles(0, 0, 0)}
	}
	segs := make([]Orientation, n-1)
	valid := make([]bool, n-1)
	firstValid := -1
	for i := 0; i < n-1; i++ {
		a, b := track.samples[i], track.samples[i+1]
		h, p, ok := HeadingPitch(
			Position{Lat: a.Lat, Lon: a.Lon, Alt: a.Alt},
			Position{Lat: b.Lat, Lon: b.Lon, Alt: b.Alt},
			track.start,
		)
		if ok {
			segs[i] = OrientationFromAngles(h, p, 0)
			valid[i] = true
			if firstValid < 0 {
				firstValid = i
			}
		}
	}
	if firstValid < 0 {
		for i := range segs {
			segs[i] = OrientationFromAngles(0, 0, 0)
		}
		return segs
	}
	for i := 0; i < firstValid; i++ {
		segs[i] = segs[firstValid]
	}
	for i := firstValid + 1; i < len(segs); i++ {
		if !valid[i] {
			segs[i] = segs[i-1]
		}
	}
	return segs
}

// Source reports which orientation strategy the curve uses.
func (c *OrientationCurve) Source() OrientationSource { return c.source }

// At evaluates the curve at absolute time t.
func (c *OrientationCurve) At(t time.Time) Orientation {
	return c.AtOffset(c.track.OffsetAt(t))
}

// AtOffset evaluates the curve at a time offset in seconds.
func (c *OrientationCurve) AtOffset(offset float64) Orientation {
	if c.source == OrientationFromAttitude {
		return c.attitudeAt(offset)
	}
	return c.velocityAt(offset)
}

func (c *OrientationCurve) attitudeAt(offset float64) Orientation {
	lo, hi, u := bracket(c.track.samples, offset)
	if lo == hi || u == 0 {
		s := c.track.samples[lo]
		return OrientationFromAngles(s.Yaw, s.Pitch, s.Roll)
	}
	return OrientationFromQuaternion(Slerp(c.quats[lo], c.quats[hi], u))
}

func (c *OrientationCurve) velocityAt(offset float64) Orientation {
	first, last := c.track.FirstOffset(), c.track.LastOffset()
	from := clamp(offset-velocityStep, first, last)
	to := clamp(offset+velocityStep, first, last)
	if to > from {
		h, p, ok := HeadingPitch(c.position.AtOffset(from), c.position.AtOffset(to), c.track.start)
		if ok {
			return OrientationFromAngles(h, p, 0)
		}
	}
	lo, _, _ := bracket(c.track.samples, offset)
	if lo >= len(c.segments) {
		lo = len(c.segments) - 1
	}
	return c.segments[lo]
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
