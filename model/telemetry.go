package model

// RawSample is one telemetry record as delivered by a data source. Attitude
// and a few instrument channels are optional on the wire.
type RawSample struct {
	ObjectID      string   `json:"obj_id,omitempty"`
	TimeOffset    float64  `json:"time_offset"`
	Lat           float64  `json:"lat"`
	Lon           float64  `json:"lon"`
	Alt           float64  `json:"alt"`
	IAS           float64  `json:"ias"`
	GForce        float64  `json:"g_force"`
	Yaw           *float64 `json:"yaw,omitempty"`
	Pitch         *float64 `json:"pitch,omitempty"`
	Roll          *float64 `json:"roll,omitempty"`
	Mach          *float64 `json:"mach,omitempty"`
	FuelRemaining *float64 `json:"fuel_remaining,omitempty"`
}

// TelemetrySample is a validated, normalized aircraft state at TimeOffset
// seconds after the sortie start. Angles are degrees, Alt is metres, IAS is
// knots.
type TelemetrySample struct {
	TimeOffset    float64 `json:"time_offset"`
	Lat           float64 `json:"lat"`
	Lon           float64 `json:"lon"`
	Alt           float64 `json:"alt"`
	IAS           float64 `json:"ias"`
	GForce        float64 `json:"g_force"`
	Yaw           float64 `json:"yaw"`
	Pitch         float64 `json:"pitch"`
	Roll          float64 `json:"roll"`
	Mach          float64 `json:"mach"`
	FuelRemaining float64 `json:"fuel_remaining"`
}

// HasAttitude reports whether any attitude channel carries a non-default value.
func (s TelemetrySample) HasAttitude() bool {
	return s.Yaw != 0 || s.Pitch != 0 || s.Roll != 0
}

// Float64 returns a pointer to v; handy for filling optional RawSample fields.
func Float64(v float64) *float64 { return &v }
