package core

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/signalsfoundry/flight-replay/model"
)

func rawAt(offsets ...float64) []model.RawSample {
	out := make([]model.RawSample, len(offsets))
	for i, off := range offsets {
		out[i] = model.RawSample{
			TimeOffset: off,
			Lat:        41.61,
			Lon:        41.60 + off*0.001,
			Alt:        100 * off,
			IAS:        200 + off,
			GForce:     1.0,
		}
	}
	return out
}

var testMeta = model.SortieMeta{
	ID:          "42",
	MissionName: "Full_Cycle_Test",
	StartTime:   "2026-02-01T10:00:00Z",
}

func TestParseStartTimeZoneless(t *testing.T) {
	withZ, err := ParseStartTime("2026-02-01T10:00:00Z")
	if err != nil {
		t.Fatalf("ParseStartTime(Z) error: %v", err)
	}
	without, err := ParseStartTime("2026-02-01T10:00:00")
	if err != nil {
		t.Fatalf("ParseStartTime(no zone) error: %v", err)
	}
	if !withZ.Equal(without) {
		t.Fatalf("zone-less start = %v, want %v", without, withZ)
	}
	want := time.Date(2026, time.February, 1, 10, 0, 0, 0, time.UTC)
	if !without.Equal(want) {
		t.Fatalf("ParseStartTime() = %v, want %v", without, want)
	}
}

func TestParseStartTimeFormats(t *testing.T) {
	base := time.Date(2026, time.February, 1, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		in   string
		want time.Time
	}{
		{"2026-02-01T10:00:00Z", base},
		{"2026-02-01T10:00:00z", base},
		{"2026-02-01 10:00:00", base},
		{"  2026-02-01T10:00:00  ", base},
		{"2026-02-01T10:00:00.250", base.Add(250 * time.Millisecond)},
		{"2026-02-01T12:00:00+02:00", base},
		{"2026-02-01T12:00:00+0200", base},
		{"2026-02-01T07:00:00-03", base},
		{"2026-02-01", base.Add(-10 * time.Hour)},
	}
	for _, tc := range cases {
		got, err := ParseStartTime(tc.in)
		if err != nil {
			t.Fatalf("ParseStartTime(%q) error: %v", tc.in, err)
		}
		if !got.Equal(tc.want) {
			t.Fatalf("ParseStartTime(%q) = %v, want %v", tc.in, got, tc.want)
		}
		if got.Location() != time.UTC {
			t.Fatalf("ParseStartTime(%q) location = %v, want UTC", tc.in, got.Location())
		}
	}
}

func TestParseStartTimeRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "   ", "yesterday", "2026-13-01T10:00:00"} {
		_, err := ParseStartTime(in)
		if !errors.Is(err, ErrMalformedData) {
			t.Fatalf("ParseStartTime(%q) error = %v, want ErrMalformedData", in, err)
		}
	}
}

func TestLoadTrackNormalizesAttitudeAndMeta(t *testing.T) {
	raw := rawAt(0, 1, 2)
	raw[1].Roll = model.Float64(15)

	track, err := LoadTrack(testMeta, raw)
	if err != nil {
		t.Fatalf("LoadTrack error: %v", err)
	}
	if track.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", track.Len())
	}
	if s := track.At(0); s.Yaw != 0 || s.Pitch != 0 || s.Roll != 0 {
		t.Fatalf("missing attitude not zeroed: %+v", s)
	}
	if got := track.At(1).Roll; got != 15 {
		t.Fatalf("At(1).Roll = %v, want 15", got)
	}
	if got := track.Meta().AircraftType; got != model.DefaultAircraftType {
		t.Fatalf("AircraftType = %q, want %q", got, model.DefaultAircraftType)
	}
	if got, want := track.Duration(), 2*time.Second; got != want {
		t.Fatalf("Duration() = %v, want %v", got, want)
	}
	if got, want := track.InstantAt(1.5), track.Start().Add(1500*time.Millisecond); !got.Equal(want) {
		t.Fatalf("InstantAt(1.5) = %v, want %v", got, want)
	}
}

func TestLoadTrackSamplesAreCopies(t *testing.T) {
	track, err := LoadTrack(testMeta, rawAt(0, 1))
	if err != nil {
		t.Fatalf("LoadTrack error: %v", err)
	}
	s := track.Samples()
	s[0].Alt = 99999
	if track.At(0).Alt == 99999 {
		t.Fatalf("Samples() exposed internal storage")
	}
}

func TestLoadTrackMalformed(t *testing.T) {
	nan := rawAt(0, 1)
	nan[1].Lat = math.NaN()
	badYaw := rawAt(0, 1)
	badYaw[0].Yaw = model.Float64(math.Inf(1))

	cases := []struct {
		name      string
		meta      model.SortieMeta
		raw       []model.RawSample
		wantIndex int
	}{
		{"empty", testMeta, nil, -1},
		{"decreasing", testMeta, rawAt(0, 5, 3), 2},
		{"duplicate", testMeta, rawAt(0, 5, 5), 2},
		{"negative", testMeta, rawAt(-1, 5), 0},
		{"nan latitude", testMeta, nan, 1},
		{"infinite yaw", testMeta, badYaw, 0},
		{"bad start", model.SortieMeta{ID: "x", StartTime: "not a time"}, rawAt(0, 1), -1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadTrack(tc.meta, tc.raw)
			if !errors.Is(err, ErrMalformedData) {
				t.Fatalf("LoadTrack error = %v, want ErrMalformedData", err)
			}
			var mde *MalformedDataError
			if !errors.As(err, &mde) {
				t.Fatalf("error %T is not *MalformedDataError", err)
			}
			if mde.Index != tc.wantIndex {
				t.Fatalf("Index = %d, want %d", mde.Index, tc.wantIndex)
			}
		})
	}
}

func TestWrapSourceError(t *testing.T) {
	base := errors.New("connection refused")
	err := WrapSourceError("fetch telemetry", "7", base)
	if !errors.Is(err, ErrDataSource) || !errors.Is(err, base) {
		t.Fatalf("WrapSourceError() = %v, want DataSourceError wrapping base", err)
	}
	if again := WrapSourceError("fetch telemetry", "7", err); again != err {
		t.Fatalf("WrapSourceError double-wrapped: %v", again)
	}
	mal := malformed(0, "x")
	if got := WrapSourceError("op", "", mal); got != error(mal) {
		t.Fatalf("WrapSourceError wrapped a malformed error: %v", got)
	}
}
