package core

import (
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/signalsfoundry/flight-replay/model"
)

// AssumedZoneDesignator is appended to start times that arrive without any
// zone information. Recorders in the field log UTC reference times and some
// upstream stores drop the trailing "Z"; every zone-less timestamp is
// therefore read as UTC. This is a fixed policy, not a per-call guess.
const AssumedZoneDesignator = "Z"

// zoneSuffix matches a trailing RFC 3339 zone: "Z", "+hh:mm", "-hhmm" or "+hh".
var zoneSuffix = regexp.MustCompile(`(?i)(z|[+-]\d{2}(:?\d{2})?)$`)

var numericOffset = regexp.MustCompile(`([+-]\d{2})(\d{2})$`)

// ParseStartTime turns a recorded start time into an absolute instant.
//
// Accepted inputs are RFC 3339 timestamps, optionally with a space instead of
// the "T" separator (SQLite CURRENT_TIMESTAMP style), optional fractional
// seconds and a zone written as "Z", "+hh:mm", "+hhmm" or "+hh". A timestamp
// with no zone is normalized per AssumedZoneDesignator.
func ParseStartTime(raw string) (time.Time, error) {
	s := NormalizeStartTime(raw)
	if s == "" {
		return time.Time{}, malformed(-1, "start time is empty")
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, malformed(-1, "unparseable start time %q: %v", raw, err)
	}
	return ts.UTC(), nil
}

// NormalizeStartTime rewrites raw into strict RFC 3339 form without parsing
// it. Zone-less input gets AssumedZoneDesignator appended.
func NormalizeStartTime(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if len(s) > 10 && s[10] == ' ' {
		s = s[:10] + "T" + s[11:]
	}
	// Only the clock part can carry a zone; the date's dashes must not match.
	i := strings.IndexByte(s, 'T')
	if i < 0 {
		return s + "T00:00:00" + AssumedZoneDesignator
	}
	clock := s[i+1:]
	switch {
	case !zoneSuffix.MatchString(clock):
		s += AssumedZoneDesignator
	case strings.HasSuffix(s, "z"):
		s = s[:len(s)-1] + "Z"
	case numericOffset.MatchString(clock):
		s = numericOffset.ReplaceAllString(s, "$1:$2")
	case len(clock) >= 3 && (clock[len(clock)-3] == '+' || clock[len(clock)-3] == '-'):
		s += ":00"
	}
	return s
}

// Track is the immutable output of the sample store: one sortie's validated
// samples plus its absolute start instant. A Track is safe for concurrent
// readers.
type Track struct {
	meta    model.SortieMeta
	start   time.Time
	samples []model.TelemetrySample
}

// LoadTrack validates and normalizes raw samples for one sortie.
//
// The sequence must be non-empty with finite, non-negative, strictly
// increasing time offsets; out-of-order input is rejected rather than sorted.
// Missing yaw/pitch/roll become 0. Failures are *MalformedDataError.
func LoadTrack(meta model.SortieMeta, raw []model.RawSample) (*Track, error) {
	meta = meta.Normalize()
	start, err := ParseStartTime(meta.StartTime)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, malformed(-1, "sample sequence is empty")
	}

	samples := make([]model.TelemetrySample, len(raw))
	for i, r := range raw {
		if err := validateRaw(i, r); err != nil {
			return nil, err
		}
		if i > 0 && !(r.TimeOffset > raw[i-1].TimeOffset) {
			return nil, malformed(i, "time_offset %g does not increase past %g", r.TimeOffset, raw[i-1].TimeOffset)
		}
		samples[i] = model.TelemetrySample{
			TimeOffset:    r.TimeOffset,
			Lat:           r.Lat,
			Lon:           r.Lon,
			Alt:           r.Alt,
			IAS:           r.IAS,
			GForce:        r.GForce,
			Yaw:           valueOrZero(r.Yaw),
			Pitch:         valueOrZero(r.Pitch),
			Roll:          valueOrZero(r.Roll),
			Mach:          valueOrZero(r.Mach),
			FuelRemaining: valueOrZero(r.FuelRemaining),
		}
	}

	return &Track{meta: meta, start: start, samples: samples}, nil
}

func validateRaw(i int, r model.RawSample) error {
	if !finite(r.TimeOffset) || r.TimeOffset < 0 {
		return malformed(i, "time_offset %g is not a finite non-negative number", r.TimeOffset)
	}
	if !finite(r.Lat) || r.Lat < -90 || r.Lat > 90 {
		return malformed(i, "latitude %g out of range", r.Lat)
	}
	if !finite(r.Lon) || r.Lon < -180 || r.Lon > 180 {
		return malformed(i, "longitude %g out of range", r.Lon)
	}
	if !finite(r.Alt) {
		return malformed(i, "altitude is not finite")
	}
	for _, a := range []struct {
		name string
		v    *float64
	}{{"yaw", r.Yaw}, {"pitch", r.Pitch}, {"roll", r.Roll}} {
		if a.v != nil && !finite(*a.v) {
			return malformed(i, "%s is not finite", a.name)
		}
	}
	return nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func valueOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// Meta returns the normalized sortie metadata.
func (t *Track) Meta() model.SortieMeta { return t.meta }

// Start returns the absolute instant that time offsets are measured from.
func (t *Track) Start() time.Time { return t.start }

// Len returns the number of samples.
func (t *Track) Len() int { return len(t.samples) }

// At returns sample i.
func (t *Track) At(i int) model.TelemetrySample { return t.samples[i] }

// Samples returns a copy of the sample sequence.
func (t *Track) Samples() []model.TelemetrySample {
	out := make([]model.TelemetrySample, len(t.samples))
	copy(out, t.samples)
	return out
}

// FirstOffset and LastOffset bound the recorded time range.
func (t *Track) FirstOffset() float64 { return t.samples[0].TimeOffset }
func (t *Track) LastOffset() float64  { return t.samples[len(t.samples)-1].TimeOffset }

// Duration is the recorded span between first and last sample.
func (t *Track) Duration() time.Duration {
	return OffsetDuration(t.LastOffset() - t.FirstOffset())
}

// InstantAt converts a time offset into an absolute instant.
func (t *Track) InstantAt(offset float64) time.Time {
	return t.start.Add(OffsetDuration(offset))
}

// OffsetAt converts an absolute instant into a time offset in seconds.
func (t *Track) OffsetAt(ts time.Time) float64 {
	return ts.Sub(t.start).Seconds()
}

// OffsetDuration converts fractional seconds into a Duration, rounding to the
// nearest nanosecond.
func OffsetDuration(seconds float64) time.Duration {
	return time.Duration(math.Round(seconds * float64(time.Second)))
}
