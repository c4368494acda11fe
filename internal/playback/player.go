// Package playback owns the active replay session: it loads a sortie, builds
// its curves and resolver, and drives its clock from an external tick source.
package playback

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/flight-replay/core"
	"github.com/signalsfoundry/flight-replay/internal/logging"
	"github.com/signalsfoundry/flight-replay/internal/observability"
	"github.com/signalsfoundry/flight-replay/model"
	"github.com/signalsfoundry/flight-replay/timectrl"
)

const tracerName = "github.com/signalsfoundry/flight-replay/internal/playback"

var (
	// ErrSuperseded is returned by a select whose result was discarded
	// because a newer select was issued while it was loading.
	ErrSuperseded = errors.New("select superseded by a newer request")
	// ErrNoSession is returned by control calls when nothing is loaded.
	ErrNoSession = errors.New("no active session")
	// ErrClosed is returned once the player has been closed.
	ErrClosed = errors.New("player closed")
)

// TelemetrySource retrieves the ordered telemetry of one sortie.
type TelemetrySource interface {
	Telemetry(ctx context.Context, sortieID string) ([]model.RawSample, error)
}

// Recorder receives playback metrics. *observability.PlaybackCollector
// satisfies it.
type Recorder interface {
	IncTicks()
	IncStaleTicks()
	ObserveSelect(outcome string, d time.Duration)
	SetActiveSession(generation uint64, samples int)
	SetOffset(offset float64)
}

type noopRecorder struct{}

func (noopRecorder) IncTicks()                           {}
func (noopRecorder) IncStaleTicks()                      {}
func (noopRecorder) ObserveSelect(string, time.Duration) {}
func (noopRecorder) SetActiveSession(uint64, int)        {}
func (noopRecorder) SetOffset(float64)                   {}

// Option customises Player construction.
type Option func(*Player)

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(p *Player) {
		if l != nil {
			p.log = l
		}
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(r Recorder) Option {
	return func(p *Player) {
		if r != nil {
			p.metrics = r
		}
	}
}

// WithSinks registers frame consumers. Sinks are called with the player
// lock held, in tick order, and must neither block nor call back into the
// Player.
func WithSinks(sinks ...Sink) Option {
	return func(p *Player) {
		for _, s := range sinks {
			if s != nil {
				p.sinks = append(p.sinks, s)
			}
		}
	}
}

// WithLoopPolicy sets the loop policy applied to every session.
func WithLoopPolicy(policy timectrl.LoopPolicy) Option {
	return func(p *Player) { p.policy = policy }
}

// WithRate sets the initial playback multiplier.
func WithRate(rate float64) Option {
	return func(p *Player) { p.rate = rate }
}

// session is one loaded sortie. Everything but clock is immutable.
type session struct {
	gen      uint64
	track    *core.Track
	curves   *core.Curves
	resolver *core.Resolver
	clock    *timectrl.PlaybackClock
	remove   func()
}

// Player holds the single active-session slot.
//
// Every select takes a new generation number. Only the select holding the
// latest generation may install its session; anything older is discarded
// with ErrSuperseded. Each session's tick listener carries its generation,
// and ticks whose generation is not the active one are ignored.
type Player struct {
	mu sync.Mutex

	source  TelemetrySource
	ticks   timectrl.TickSource
	log     logging.Logger
	metrics Recorder
	sinks   []Sink
	policy  timectrl.LoopPolicy
	rate    float64

	requested  uint64
	cancelLoad context.CancelFunc
	active     *session
	closed     bool
}

// NewPlayer constructs a Player. source may be nil when sessions are only
// ever supplied through SelectSamples.
func NewPlayer(source TelemetrySource, ticks timectrl.TickSource, opts ...Option) *Player {
	p := &Player{
		source:  source,
		ticks:   ticks,
		log:     logging.Noop(),
		metrics: noopRecorder{},
		policy:  timectrl.LoopStop,
		rate:    1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Select fetches the telemetry for meta from the data source and installs
// it as the active session. A previous in-flight select is cancelled and
// will return ErrSuperseded. On any failure the previous session stays
// active and untouched.
func (p *Player) Select(ctx context.Context, meta model.SortieMeta) (Status, error) {
	if p.source == nil {
		return Status{}, fmt.Errorf("select %q: no data source configured", meta.ID)
	}
	ctx, gen, err := p.begin(ctx)
	if err != nil {
		return Status{}, err
	}
	defer p.finish(gen)

	ctx, span := otel.Tracer(tracerName).Start(ctx, "playback.Select",
		trace.WithAttributes(
			attribute.String("sortie_id", meta.ID),
			attribute.Int64("generation", int64(gen)),
		))
	defer span.End()

	started := time.Now()
	raw, err := p.source.Telemetry(ctx, meta.ID)
	if err != nil {
		if p.superseded(gen) {
			return p.discard(ctx, gen, meta, started)
		}
		err = core.WrapSourceError("fetch telemetry", meta.ID, err)
		span.RecordError(err)
		return p.reject(ctx, meta, started, err)
	}
	st, err := p.install(ctx, gen, meta, raw, started)
	if err != nil {
		span.RecordError(err)
	}
	return st, err
}

// SelectSamples installs an already retrieved sample sequence under the
// same ordering rules as Select.
func (p *Player) SelectSamples(ctx context.Context, meta model.SortieMeta, raw []model.RawSample) (Status, error) {
	ctx, gen, err := p.begin(ctx)
	if err != nil {
		return Status{}, err
	}
	defer p.finish(gen)
	return p.install(ctx, gen, meta, raw, time.Now())
}

func (p *Player) begin(ctx context.Context) (context.Context, uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ctx, 0, ErrClosed
	}
	if p.cancelLoad != nil {
		p.cancelLoad()
	}
	p.requested++
	ctx, cancel := context.WithCancel(ctx)
	p.cancelLoad = cancel
	return ctx, p.requested, nil
}

func (p *Player) finish(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.requested == gen && p.cancelLoad != nil {
		p.cancelLoad()
		p.cancelLoad = nil
	}
}

func (p *Player) superseded(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed || p.requested != gen
}

func (p *Player) install(ctx context.Context, gen uint64, meta model.SortieMeta, raw []model.RawSample, started time.Time) (Status, error) {
	// Build outside the lock; nothing here touches player state.
	track, err := core.LoadTrack(meta, raw)
	if err != nil {
		if p.superseded(gen) {
			return p.discard(ctx, gen, meta, started)
		}
		return p.reject(ctx, meta, started, err)
	}
	next := &session{
		gen:      gen,
		track:    track,
		curves:   core.BuildCurves(track),
		resolver: core.NewResolver(track),
	}

	p.mu.Lock()
	if p.closed || p.requested != gen {
		p.mu.Unlock()
		return p.discard(ctx, gen, meta, started)
	}
	defer p.mu.Unlock()

	// The outgoing listener goes first so no tick can reach both sessions.
	if old := p.active; old != nil && old.remove != nil {
		old.remove()
		old.remove = nil
	}

	next.clock = timectrl.NewPlaybackClock(p.policy, p.rate)
	next.clock.Start(timectrl.Bounds{
		Epoch: track.Start(),
		Start: track.FirstOffset(),
		Stop:  track.LastOffset(),
	})
	if p.ticks != nil {
		next.remove = p.ticks.AddListener(func(delta time.Duration) {
			p.onTick(gen, delta)
		})
	}
	p.active = next

	p.metrics.ObserveSelect(observability.SelectLoaded, time.Since(started))
	p.metrics.SetActiveSession(gen, track.Len())
	p.log.Info(ctx, "session installed",
		logging.String("sortie_id", track.Meta().ID),
		logging.Uint64("generation", gen),
		logging.Int("samples", track.Len()),
		logging.String("orientation", next.curves.Orientation.Source().String()),
	)

	reading := next.clock.Reading()
	p.emitLocked(next, reading)
	return p.statusLocked(), nil
}

func (p *Player) discard(ctx context.Context, gen uint64, meta model.SortieMeta, started time.Time) (Status, error) {
	p.metrics.ObserveSelect(observability.SelectSuperseded, time.Since(started))
	p.log.Debug(ctx, "select superseded",
		logging.String("sortie_id", meta.ID),
		logging.Uint64("generation", gen),
	)
	if p.isClosed() {
		return Status{}, ErrClosed
	}
	return Status{}, fmt.Errorf("select %q: %w", meta.ID, ErrSuperseded)
}

func (p *Player) reject(ctx context.Context, meta model.SortieMeta, started time.Time, err error) (Status, error) {
	p.metrics.ObserveSelect(observability.SelectFailed, time.Since(started))
	p.log.Warn(ctx, "select failed",
		logging.String("sortie_id", meta.ID),
		logging.Err(err),
	)
	return Status{}, err
}

func (p *Player) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// onTick advances the session of generation gen by one frame.
func (p *Player) onTick(gen uint64, delta time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.active
	if s == nil || s.gen != gen {
		p.metrics.IncStaleTicks()
		return
	}
	reading := s.clock.Tick(delta)
	p.metrics.IncTicks()
	p.metrics.SetOffset(reading.Offset)
	p.emitLocked(s, reading)
}

func (p *Player) emitLocked(s *session, r timectrl.Reading) {
	if len(p.sinks) == 0 {
		return
	}
	f := buildFrame(s, r)
	for _, sink := range p.sinks {
		sink.Publish(f)
	}
}

// control runs fn against the active clock and republishes the frame so
// consumers see seeks and resets while paused.
func (p *Player) control(fn func(c *timectrl.PlaybackClock) error) (Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return Status{}, ErrClosed
	}
	s := p.active
	if s == nil {
		return Status{}, ErrNoSession
	}
	if err := fn(s.clock); err != nil {
		return p.statusLocked(), err
	}
	reading := s.clock.Reading()
	p.metrics.SetOffset(reading.Offset)
	p.emitLocked(s, reading)
	return p.statusLocked(), nil
}

// Pause stops the clock where it is.
func (p *Player) Pause() (Status, error) {
	return p.control(func(c *timectrl.PlaybackClock) error { c.Pause(); return nil })
}

// Play resumes playback.
func (p *Player) Play() (Status, error) {
	return p.control(func(c *timectrl.PlaybackClock) error { c.Play(); return nil })
}

// Reset rewinds to the first sample without changing the run state.
func (p *Player) Reset() (Status, error) {
	return p.control(func(c *timectrl.PlaybackClock) error { c.Reset(); return nil })
}

// Seek moves to offset seconds, clamped to the recording.
func (p *Player) Seek(offset float64) (Status, error) {
	return p.control(func(c *timectrl.PlaybackClock) error { c.Seek(offset); return nil })
}

// SetRate changes the playback multiplier of the active session and of
// sessions selected later. NaN and infinite rates are rejected.
func (p *Player) SetRate(rate float64) (Status, error) {
	if math.IsNaN(rate) || math.IsInf(rate, 0) {
		return p.Status(), fmt.Errorf("%w: %v", timectrl.ErrInvalidRate, rate)
	}
	p.mu.Lock()
	p.rate = rate
	p.mu.Unlock()
	return p.control(func(c *timectrl.PlaybackClock) error { return c.SetRate(rate) })
}

// SetLoopPolicy changes the loop policy of the active session and of
// sessions selected later.
func (p *Player) SetLoopPolicy(policy timectrl.LoopPolicy) Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.policy = policy
	if p.active != nil {
		p.active.clock.SetPolicy(policy)
	}
	return p.statusLocked()
}

// Status reports the active session. Status.Active is false when nothing
// is loaded.
func (p *Player) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statusLocked()
}

// Frame returns the frame for the current clock position without
// advancing it.
func (p *Player) Frame() (Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == nil {
		return Frame{}, ErrNoSession
	}
	return buildFrame(p.active, p.active.clock.Reading()), nil
}

// Path returns the recorded positions of the active session for drawing
// its trail.
func (p *Player) Path() ([]core.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == nil {
		return nil, ErrNoSession
	}
	return p.active.curves.Position.Path(), nil
}

// Close unsubscribes the active session from the tick source and cancels
// any in-flight select. It is safe to call more than once.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.cancelLoad != nil {
		p.cancelLoad()
		p.cancelLoad = nil
	}
	if p.active != nil && p.active.remove != nil {
		p.active.remove()
		p.active.remove = nil
	}
	return nil
}

func (p *Player) statusLocked() Status {
	st := Status{Rate: p.rate, Loop: p.policy}
	s := p.active
	if s == nil {
		return st
	}
	r := s.clock.Reading()
	b := s.clock.Bounds()
	st.Active = true
	st.Generation = s.gen
	st.Sortie = s.track.Meta()
	st.Samples = s.track.Len()
	st.State = r.State
	st.Offset = r.Offset
	st.Time = r.Time
	st.Start = b.StartTime()
	st.Stop = b.StopTime()
	st.Rate = s.clock.Rate()
	st.Loop = s.clock.Policy()
	st.Orientation = s.curves.Orientation.Source()
	return st
}
