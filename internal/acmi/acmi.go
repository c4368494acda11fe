// Package acmi reads Tacview ACMI text recordings and extracts the telemetry
// of one aircraft.
//
// Only the text flavour is understood. Coordinates in T= are offsets from the
// global ReferenceLongitude/ReferenceLatitude when those are present.
package acmi

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/signalsfoundry/flight-replay/core"
	"github.com/signalsfoundry/flight-replay/model"
)

const (
	// metresPerSecondToKnots converts IAS written in m/s to knots.
	metresPerSecondToKnots = 1.9438444924406

	// defaultGForce is reported until the recording carries a G value.
	defaultGForce = 1.0

	globalObjectID = "0"
)

// ParseError locates a problem in the input.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("acmi line %d: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Is lets a ParseError match core.ErrMalformedData.
func (e *ParseError) Is(target error) bool { return target == core.ErrMalformedData }

// ErrNoTelemetry is returned when no object in the recording has a position.
var ErrNoTelemetry = errors.New("recording has no object with a position")

// Recording is the result of parsing one ACMI file.
type Recording struct {
	ReferenceTime string
	MissionTitle  string
	PilotName     string

	ObjectID     string
	AircraftType string
	Pilot        string
	Coalition    string

	Samples []model.RawSample
}

// Meta builds the sortie metadata for this recording under the given id.
func (r *Recording) Meta(id string) model.SortieMeta {
	pilot := r.PilotName
	if pilot == "" {
		pilot = r.Pilot
	}
	return model.SortieMeta{
		ID:           id,
		AircraftType: r.AircraftType,
		MissionName:  r.MissionTitle,
		PilotName:    pilot,
		StartTime:    r.ReferenceTime,
	}.Normalize()
}

// Option configures Parse.
type Option func(*parser)

// WithObject tracks the given object id instead of the first one that
// reports a position.
func WithObject(id string) Option {
	return func(p *parser) { p.want = strings.TrimSpace(id) }
}

// WithIASInMetresPerSecond converts IAS values from m/s to knots. By default
// IAS is kept as recorded, in knots.
func WithIASInMetresPerSecond() Option {
	return func(p *parser) { p.iasScale = metresPerSecondToKnots }
}

// ParseFile opens and parses path.
func ParseFile(path string, opts ...Option) (*Recording, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f, opts...)
}

// Parse reads an ACMI text stream.
func Parse(r io.Reader, opts ...Option) (*Recording, error) {
	p := &parser{
		rec:      &Recording{},
		props:    make(map[string]map[string]string),
		state:    objectState{g: defaultGForce},
		iasScale: 1,
	}
	for _, opt := range opts {
		opt(p)
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var (
		lineNo  int
		pending strings.Builder
		startAt int
	)
	for sc.Scan() {
		lineNo++
		text := sc.Text()
		if lineNo == 1 {
			text = strings.TrimPrefix(text, "\ufeff")
		}
		if pending.Len() == 0 {
			startAt = lineNo
		}
		// A trailing backslash continues the value on the next line.
		if strings.HasSuffix(text, `\`) && !strings.HasSuffix(text, `\\`) {
			pending.WriteString(strings.TrimSuffix(text, `\`))
			pending.WriteString("\n")
			continue
		}
		pending.WriteString(text)
		line := pending.String()
		pending.Reset()

		if err := p.line(strings.TrimSpace(line)); err != nil {
			return nil, &ParseError{Line: startAt, Err: err}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if pending.Len() > 0 {
		if err := p.line(strings.TrimSpace(pending.String())); err != nil {
			return nil, &ParseError{Line: startAt, Err: err}
		}
	}
	if len(p.rec.Samples) == 0 {
		return nil, &ParseError{Line: lineNo, Err: ErrNoTelemetry}
	}
	return p.rec, nil
}

type objectState struct {
	lon, lat, alt    float64
	roll, pitch, yaw float64
	hasPos, hasAtt   bool
	ias, g           float64
	mach, fuel       *float64
}

type parser struct {
	rec  *Recording
	want string

	refLon, refLat float64
	frame          float64

	props    map[string]map[string]string
	state    objectState
	iasScale float64
}

func (p *parser) line(line string) error {
	switch {
	case line == "", strings.HasPrefix(line, "//"):
		return nil
	case strings.HasPrefix(line, "FileType="), strings.HasPrefix(line, "FileVersion="):
		return nil
	case strings.HasPrefix(line, "#"):
		t, err := strconv.ParseFloat(strings.TrimSpace(line[1:]), 64)
		if err != nil {
			return fmt.Errorf("frame time %q: %w", line, err)
		}
		p.frame = t
		return nil
	case strings.HasPrefix(line, "-"):
		// Object removal; the tracked object's samples stay as recorded.
		return nil
	}

	fields := splitEscaped(line)
	id := strings.TrimSpace(fields[0])
	if id == "" {
		return fmt.Errorf("missing object id")
	}
	kv := make(map[string]string, len(fields)-1)
	for _, f := range fields[1:] {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			continue
		}
		kv[strings.TrimSpace(k)] = v
	}

	if id == globalObjectID {
		return p.global(kv)
	}
	return p.object(id, kv)
}

func (p *parser) global(kv map[string]string) error {
	for k, v := range kv {
		switch k {
		case "ReferenceTime":
			p.rec.ReferenceTime = strings.TrimSpace(v)
		case "MissionTitle", "Title":
			if p.rec.MissionTitle == "" || k == "MissionTitle" {
				p.rec.MissionTitle = strings.TrimSpace(v)
			}
		case "RecordingPlayerName", "Author":
			if p.rec.PilotName == "" || k == "RecordingPlayerName" {
				p.rec.PilotName = strings.TrimSpace(v)
			}
		case "ReferenceLongitude":
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return fmt.Errorf("ReferenceLongitude %q: %w", v, err)
			}
			p.refLon = f
		case "ReferenceLatitude":
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return fmt.Errorf("ReferenceLatitude %q: %w", v, err)
			}
			p.refLat = f
		}
	}
	return nil
}

func (p *parser) object(id string, kv map[string]string) error {
	known := p.props[id]
	if known == nil {
		known = make(map[string]string)
		p.props[id] = known
	}
	for k, v := range kv {
		if k != "T" {
			known[k] = v
		}
	}

	if p.rec.ObjectID == "" {
		_, hasT := kv["T"]
		if !hasT || (p.want != "" && p.want != id) {
			return nil
		}
		p.rec.ObjectID = id
	}
	if id != p.rec.ObjectID {
		return nil
	}

	if err := p.apply(kv); err != nil {
		return err
	}
	p.rec.AircraftType = strings.TrimSpace(known["Name"])
	p.rec.Pilot = strings.TrimSpace(known["Pilot"])
	p.rec.Coalition = strings.TrimSpace(known["Coalition"])

	if p.state.hasPos {
		p.record()
	}
	return nil
}

func (p *parser) apply(kv map[string]string) error {
	if t, ok := kv["T"]; ok {
		if err := p.transform(t); err != nil {
			return err
		}
	}
	for k, v := range kv {
		var dst *float64
		scale := 1.0
		switch k {
		case "IAS":
			dst, scale = &p.state.ias, p.iasScale
		case "G", "VerticalGForce":
			dst = &p.state.g
		case "Mach":
			if p.state.mach == nil {
				p.state.mach = new(float64)
			}
			dst = p.state.mach
		case "FuelWeight":
			if p.state.fuel == nil {
				p.state.fuel = new(float64)
			}
			dst = p.state.fuel
		default:
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("%s %q: %w", k, v, err)
		}
		*dst = f * scale
	}
	return nil
}

// transform applies a T= value. The component count selects the layout:
//
//	3: lon|lat|alt
//	5: lon|lat|alt|u|v
//	6: lon|lat|alt|roll|pitch|yaw
//	9: lon|lat|alt|roll|pitch|yaw|u|v|heading
//
// Empty components keep their previous value.
func (p *parser) transform(raw string) error {
	parts := strings.Split(raw, "|")
	vals := make([]*float64, len(parts))
	for i, s := range parts {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("T component %d %q: %w", i, s, err)
		}
		vals[i] = &f
	}

	set := func(dst *float64, i int) bool {
		if i < len(vals) && vals[i] != nil {
			*dst = *vals[i]
			return true
		}
		return false
	}

	switch len(parts) {
	case 3, 5, 6, 9:
	default:
		return fmt.Errorf("T has %d components, want 3, 5, 6 or 9", len(parts))
	}

	var lon, lat float64
	gotLon, gotLat := set(&lon, 0), set(&lat, 1)
	if gotLon {
		p.state.lon = p.refLon + lon
	}
	if gotLat {
		p.state.lat = p.refLat + lat
	}
	set(&p.state.alt, 2)
	if !p.state.hasPos && !(gotLon && gotLat) {
		return fmt.Errorf("first position of object is incomplete")
	}
	p.state.hasPos = true

	if len(parts) == 6 || len(parts) == 9 {
		r, pi, y := set(&p.state.roll, 3), set(&p.state.pitch, 4), set(&p.state.yaw, 5)
		if r || pi || y {
			p.state.hasAtt = true
		}
	}
	return nil
}

// record stores the tracked object's state for the current frame. Several
// updates within one frame collapse into one sample.
func (p *parser) record() {
	s := model.RawSample{
		ObjectID:   p.rec.ObjectID,
		TimeOffset: p.frame,
		Lat:        p.state.lat,
		Lon:        p.state.lon,
		Alt:        p.state.alt,
		IAS:        p.state.ias,
		GForce:     p.state.g,
	}
	if p.state.hasAtt {
		s.Roll = model.Float64(p.state.roll)
		s.Pitch = model.Float64(p.state.pitch)
		s.Yaw = model.Float64(p.state.yaw)
	}
	if p.state.mach != nil {
		s.Mach = model.Float64(*p.state.mach)
	}
	if p.state.fuel != nil {
		s.FuelRemaining = model.Float64(*p.state.fuel)
	}

	n := len(p.rec.Samples)
	if n > 0 && p.rec.Samples[n-1].TimeOffset == p.frame {
		p.rec.Samples[n-1] = s
		return
	}
	p.rec.Samples = append(p.rec.Samples, s)
}

// splitEscaped splits on commas not preceded by a backslash and unescapes
// "\," inside values.
func splitEscaped(line string) []string {
	var (
		out []string
		cur strings.Builder
	)
	for i := 0; i < len(line); i++ {
		c := line[i]
		if c == '\\' && i+1 < len(line) && line[i+1] == ',' {
			cur.WriteByte(',')
			i++
			continue
		}
		if c == ',' {
			out = append(out, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteByte(c)
	}
	return append(out, cur.String())
}
