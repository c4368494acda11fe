package playback

import (
	"time"

	"github.com/signalsfoundry/flight-replay/core"
	"github.com/signalsfoundry/flight-replay/model"
	"github.com/signalsfoundry/flight-replay/timectrl"
)

// RenderFrame is what a renderer needs to draw the aircraft for one tick:
// the interpolated pose at Time plus the clock bounds and loop policy.
type RenderFrame struct {
	Generation  uint64
	SortieID    string
	Time        time.Time
	Offset      float64
	Position    core.Position
	Orientation core.Orientation
	Start       time.Time
	Stop        time.Time
	Loop        timectrl.LoopPolicy
	State       timectrl.State
	Wrapped     bool
}

// HUDFrame carries the nearest recorded sample for instrument readouts.
// Values are raw; formatting belongs to the display.
type HUDFrame struct {
	Generation uint64
	SortieID   string
	Sample     model.TelemetrySample
}

// Frame is everything published for one tick.
type Frame struct {
	Render RenderFrame
	HUD    HUDFrame
}

// Sink consumes frames.
type Sink interface {
	Publish(Frame)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Frame)

// Publish implements Sink.
func (f SinkFunc) Publish(fr Frame) { f(fr) }

// RenderFunc adapts a function that only wants the render half.
type RenderFunc func(RenderFrame)

// Publish implements Sink.
func (f RenderFunc) Publish(fr Frame) { f(fr.Render) }

// HUDFunc adapts a function that only wants the instrument half.
type HUDFunc func(HUDFrame)

// Publish implements Sink.
func (f HUDFunc) Publish(fr Frame) { f(fr.HUD) }

// Status describes the active session and its clock.
type Status struct {
	Active      bool
	Generation  uint64
	Sortie      model.SortieMeta
	Samples     int
	State       timectrl.State
	Offset      float64
	Time        time.Time
	Start       time.Time
	Stop        time.Time
	Rate        float64
	Loop        timectrl.LoopPolicy
	Orientation core.OrientationSource
}

func buildFrame(s *session, r timectrl.Reading) Frame {
	b := s.clock.Bounds()
	id := s.track.Meta().ID
	return Frame{
		Render: RenderFrame{
			Generation:  s.gen,
			SortieID:    id,
			Time:        r.Time,
			Offset:      r.Offset,
			Position:    s.curves.Position.AtOffset(r.Offset),
			Orientation: s.curves.Orientation.AtOffset(r.Offset),
			Start:       b.StartTime(),
			Stop:        b.StopTime(),
			Loop:        s.clock.Policy(),
			State:       r.State,
			Wrapped:     r.Wrapped,
		},
		HUD: HUDFrame{
			Generation: s.gen,
			SortieID:   id,
			Sample:     s.resolver.Nearest(r.Offset),
		},
	}
}
