package model

import "strings"

// DefaultAircraftType is used when a sortie record carries no airframe.
const DefaultAircraftType = "Unknown"

// SortieMeta identifies one recorded flight.
//
// StartTime is kept exactly as the data source delivered it; the sample store
// turns it into an absolute instant when a session is built.
type SortieMeta struct {
	ID           string `json:"id"`
	AircraftType string `json:"aircraft_type,omitempty"`
	MissionName  string `json:"mission_name"`
	PilotName    string `json:"pilot_name,omitempty"`
	MapName      string `json:"map_name,omitempty"`
	StartTime    string `json:"start_time"`
}

// Normalize returns a copy with defaults applied and whitespace trimmed.
func (m SortieMeta) Normalize() SortieMeta {
	m.ID = strings.TrimSpace(m.ID)
	m.AircraftType = strings.TrimSpace(m.AircraftType)
	if m.AircraftType == "" {
		m.AircraftType = DefaultAircraftType
	}
	m.MissionName = strings.TrimSpace(m.MissionName)
	m.StartTime = strings.TrimSpace(m.StartTime)
	return m
}
