package core

import (
	"sort"

	"github.com/signalsfoundry/flight-replay/model"
)

// Resolver maps a time offset to the closest recorded sample. Instrument
// channels such as airspeed and g-load are step values between telemetry
// frames, so the HUD shows the nearest frame rather than an interpolation.
type Resolver struct {
	samples []model.TelemetrySample
}

// NewResolver indexes the samples of track. The track's ordering guarantee
// is what makes binary search valid.
func NewResolver(track *Track) *Resolver {
	return &Resolver{samples: track.samples}
}

// Nearest returns the sample closest to offset.
func (r *Resolver) Nearest(offset float64) model.TelemetrySample {
	return r.samples[r.NearestIndex(offset)]
}

// NearestIndex returns the index of the sample closest to offset in
// O(log n). When offset is exactly halfway between two samples the earlier
// one wins. Offsets outside the recording resolve to the boundary sample.
func (r *Resolver) NearestIndex(offset float64) int {
	n := len(r.samples)
	i := sort.Search(n, func(k int) bool { return r.samples[k].TimeOffset >= offset })
	switch {
	case i == 0:
		return 0
	case i == n:
		return n - 1
	}
	before := offset - r.samples[i-1].TimeOffset
	after := r.samples[i].TimeOffset - offset
	if before <= after {
		return i - 1
	}
	return i
}
