package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Select outcomes used as the "outcome" label of playback_selects_total.
const (
	SelectLoaded     = "loaded"
	SelectSuperseded = "superseded"
	SelectFailed     = "failed"
)

// PlaybackCollector exposes playback session metrics.
type PlaybackCollector struct {
	gatherer prometheus.Gatherer

	Ticks            prometheus.Counter
	StaleTicks       prometheus.Counter
	DroppedFrames    prometheus.Counter
	Selects          *prometheus.CounterVec
	LoadDuration     prometheus.Histogram
	ActiveGeneration prometheus.Gauge
	Offset           prometheus.Gauge
	SessionSamples   prometheus.Gauge
}

// NewPlaybackCollector registers playback metrics against the provided registerer.
func NewPlaybackCollector(reg prometheus.Registerer) (*PlaybackCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	ticks, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "playback_ticks_total",
		Help: "Frame ticks applied to the active playback session.",
	}), "playback_ticks_total")
	if err != nil {
		return nil, err
	}

	stale, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "playback_stale_ticks_total",
		Help: "Frame ticks ignored because they belonged to a replaced session.",
	}), "playback_stale_ticks_total")
	if err != nil {
		return nil, err
	}

	dropped, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "playback_frames_dropped_total",
		Help: "Frames dropped because a subscriber fell behind.",
	}), "playback_frames_dropped_total")
	if err != nil {
		return nil, err
	}

	selects := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "playback_selects_total",
		Help: "Sortie selections, labeled by outcome (loaded, superseded, failed).",
	}, []string{"outcome"})
	selects, err = registerCounterVec(reg, selects, "playback_selects_total")
	if err != nil {
		return nil, err
	}

	load, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "playback_load_duration_seconds",
		Help:    "Time from a sortie selection to its session becoming active or being discarded.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}), "playback_load_duration_seconds")
	if err != nil {
		return nil, err
	}

	generation, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "playback_active_generation",
		Help: "Generation id of the active playback session.",
	}), "playback_active_generation")
	if err != nil {
		return nil, err
	}

	offset, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "playback_offset_seconds",
		Help: "Current playback time offset of the active session.",
	}), "playback_offset_seconds")
	if err != nil {
		return nil, err
	}

	samples, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "playback_session_samples",
		Help: "Number of telemetry samples in the active session.",
	}), "playback_session_samples")
	if err != nil {
		return nil, err
	}

	return &PlaybackCollector{
		gatherer:         gatherer,
		Ticks:            ticks,
		StaleTicks:       stale,
		DroppedFrames:    dropped,
		Selects:          selects,
		LoadDuration:     load,
		ActiveGeneration: generation,
		Offset:           offset,
		SessionSamples:   samples,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *PlaybackCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *PlaybackCollector) Handler() http.Handler {
	return handlerFor(c.Gatherer())
}

// IncTicks counts an applied frame tick.
func (c *PlaybackCollector) IncTicks() {
	if c == nil || c.Ticks == nil {
		return
	}
	c.Ticks.Inc()
}

// IncStaleTicks counts a tick discarded for a replaced session.
func (c *PlaybackCollector) IncStaleTicks() {
	if c == nil || c.StaleTicks == nil {
		return
	}
	c.StaleTicks.Inc()
}

// IncDroppedFrames counts a frame a slow subscriber never saw.
func (c *PlaybackCollector) IncDroppedFrames() {
	if c == nil || c.DroppedFrames == nil {
		return
	}
	c.DroppedFrames.Inc()
}

// ObserveSelect records the outcome and duration of a sortie selection.
func (c *PlaybackCollector) ObserveSelect(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	if c.Selects != nil {
		c.Selects.WithLabelValues(outcome).Inc()
	}
	if c.LoadDuration != nil {
		c.LoadDuration.Observe(d.Seconds())
	}
}

// SetActiveSession publishes the generation and size of the new session.
func (c *PlaybackCollector) SetActiveSession(generation uint64, samples int) {
	if c == nil {
		return
	}
	if c.ActiveGeneration != nil {
		c.ActiveGeneration.Set(float64(generation))
	}
	if c.SessionSamples != nil {
		c.SessionSamples.Set(float64(samples))
	}
}

// SetOffset publishes the current playback offset in seconds.
func (c *PlaybackCollector) SetOffset(offset float64) {
	if c == nil || c.Offset == nil {
		return
	}
	c.Offset.Set(offset)
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
