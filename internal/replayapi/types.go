package replayapi

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/flight-replay/internal/playback"
	"github.com/signalsfoundry/flight-replay/model"
)

// StatusView is the wire form of playback.Status.
type StatusView struct {
	Active      bool      `json:"active"`
	Generation  uint64    `json:"generation"`
	SortieID    string    `json:"sortie_id,omitempty"`
	Mission     string    `json:"mission_name,omitempty"`
	Aircraft    string    `json:"aircraft_type,omitempty"`
	Samples     int       `json:"samples"`
	State       string    `json:"state"`
	Offset      float64   `json:"offset"`
	Time        time.Time `json:"time,omitzero"`
	Start       time.Time `json:"start,omitzero"`
	Stop        time.Time `json:"stop,omitzero"`
	Rate        float64   `json:"rate"`
	Loop        string    `json:"loop"`
	Orientation string    `json:"orientation,omitempty"`
}

// FrameView is the wire form of playback.Frame.
type FrameView struct {
	Generation uint64    `json:"generation"`
	SortieID   string    `json:"sortie_id"`
	Time       time.Time `json:"time"`
	Offset     float64   `json:"offset"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	Alt        float64   `json:"alt"`
	Heading    float64   `json:"heading"`
	Pitch      float64   `json:"pitch"`
	Roll       float64   `json:"roll"`
	Start      time.Time `json:"start"`
	Stop       time.Time `json:"stop"`
	Loop       string    `json:"loop"`
	State      string    `json:"state"`
	Wrapped    bool      `json:"wrapped,omitempty"`

	HUD model.TelemetrySample `json:"hud"`
}

// StatusToView converts a playback status to its wire form.
func StatusToView(st playback.Status) StatusView {
	v := StatusView{
		Active:     st.Active,
		Generation: st.Generation,
		Samples:    st.Samples,
		State:      st.State.String(),
		Offset:     st.Offset,
		Rate:       st.Rate,
		Loop:       st.Loop.String(),
	}
	if st.Active {
		v.SortieID = st.Sortie.ID
		v.Mission = st.Sortie.MissionName
		v.Aircraft = st.Sortie.AircraftType
		v.Time = st.Time.UTC()
		v.Start = st.Start.UTC()
		v.Stop = st.Stop.UTC()
		v.Orientation = st.Orientation.String()
	}
	return v
}

// FrameToView converts a published frame to its wire form.
func FrameToView(f playback.Frame) FrameView {
	r := f.Render
	return FrameView{
		Generation: r.Generation,
		SortieID:   r.SortieID,
		Time:       r.Time.UTC(),
		Offset:     r.Offset,
		Lat:        r.Position.Lat,
		Lon:        r.Position.Lon,
		Alt:        r.Position.Alt,
		Heading:    r.Orientation.Heading,
		Pitch:      r.Orientation.Pitch,
		Roll:       r.Orientation.Roll,
		Start:      r.Start.UTC(),
		Stop:       r.Stop.UTC(),
		Loop:       r.Loop.String(),
		State:      r.State.String(),
		Wrapped:    r.Wrapped,
		HUD:        f.HUD.Sample,
	}
}

// ToStruct encodes v, a JSON-serialisable value, as a protobuf Struct.
func ToStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return out, nil
}

// FromStruct decodes s into v.
func FromStruct(s *structpb.Struct, v any) error {
	if s == nil {
		s = &structpb.Struct{}
	}
	b, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}

func sortiesToList(list []model.SortieMeta) (*structpb.ListValue, error) {
	out := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(list))}
	for _, m := range list {
		s, err := ToStruct(m)
		if err != nil {
			return nil, err
		}
		out.Values = append(out.Values, structpb.NewStructValue(s))
	}
	return out, nil
}

func sortiesFromList(lv *structpb.ListValue) ([]model.SortieMeta, error) {
	out := make([]model.SortieMeta, 0, len(lv.GetValues()))
	for i, v := range lv.GetValues() {
		s := v.GetStructValue()
		if s == nil {
			return nil, fmt.Errorf("sortie %d is not an object", i)
		}
		var m model.SortieMeta
		if err := FromStruct(s, &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
